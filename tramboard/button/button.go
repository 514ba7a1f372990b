// Package button turns a physical push button into NextScreen commands.
package button

import (
	"machine"
	"time"

	"github.com/harveysanders/picotram/tramboard/board"
)

// Input is a debounced, active-low push button. A press is accepted only
// when the level is still low after the debounce window, and produces
// exactly one NextScreen per physical press (the release is waited out).
type Input struct {
	pin      machine.Pin
	debounce time.Duration
	poll     time.Duration
}

func New(pin machine.Pin) *Input {
	pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return &Input{
		pin:      pin,
		debounce: 50 * time.Millisecond,
		poll:     10 * time.Millisecond,
	}
}

// Watch polls the pin forever, sending one NextScreen per confirmed press.
// The send blocks while the command queue is full. Run in its own goroutine.
func (in *Input) Watch(commands chan<- board.Command) {
	for {
		if !in.pin.Get() {
			time.Sleep(in.debounce)
			// Second sampling confirms the level before accepting.
			if !in.pin.Get() {
				commands <- board.NextScreen{}
				for !in.pin.Get() {
					time.Sleep(in.poll)
				}
			}
		}
		time.Sleep(in.poll)
	}
}
