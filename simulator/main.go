// Command simulator runs the tram display core on the host: the same
// decoder, model and renderer as the firmware, drawing into an ANSI terminal
// instead of an LCD. Press Enter for the next screen, Ctrl-C to quit.
//
// Useful for eyeballing render behavior (partial updates, stale-row
// overwrite, status wrap) without flashing a board.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/harveysanders/picotram/tramboard/board"
	"github.com/harveysanders/picotram/tramboard/lcd"
	"github.com/harveysanders/picotram/tramboard/wire"
)

const (
	width  = 20
	height = 4
)

// termDevice draws LCD rows into the terminal with ANSI cursor addressing,
// so row writes land exactly where SetCursor pointed, like the real panel.
type termDevice struct {
	row, col int
}

func (d *termDevice) ClearDisplay() error {
	fmt.Print("\x1b[2J")
	d.row, d.col = 0, 0
	return nil
}

func (d *termDevice) SetCursor(col, row uint8) error {
	d.row, d.col = int(row), int(col)
	return nil
}

func (d *termDevice) Print(data []byte) error {
	// +2 offset leaves room for the frame drawn around the "panel".
	fmt.Printf("\x1b[%d;%dH%s", d.row+2, d.col+2, data)
	fmt.Printf("\x1b[%d;1H", height+3)
	return nil
}

func drawFrame() {
	top := "+"
	for i := 0; i < width; i++ {
		top += "-"
	}
	top += "+"
	fmt.Printf("\x1b[1;1H%s", top)
	for r := 0; r < height; r++ {
		fmt.Printf("\x1b[%d;1H|", r+2)
		fmt.Printf("\x1b[%d;%dH|", r+2, width+2)
	}
	fmt.Printf("\x1b[%d;1H%s", height+2, top)
}

// feed is a canned message sequence exercising the interesting paths:
// multiple lines and directions, refreshes, a shrink to zero passages.
var feed = []struct {
	topic   string
	payload string
}{
	{"next-tramway/line/Tram A/0", "Echirolles|3|R\nPont de Claix|11|S\n08:15:02"},
	{"next-tramway/line/Tram A/1", "Fontaine|5|R\n08:15:02"},
	{"next-tramway/line/Tram B/0", "Gieres|2|R\nOxford|9|R\nPlaine des Sports|18|S\n08:15:04"},
	{"next-tramway/line/Tram A/0", "Echirolles|1|R\nPont de Claix|9|S\n08:15:22"},
	{"next-tramway/line/Tram B/0", "08:15:24"},
	{"next-tramway/line/Tram A/0", "Echirolles|1|R\nPont de Claix|9|S\n08:15:22"},
}

func main() {
	logFile, err := os.Create("simulator.log")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := slog.New(slog.NewTextHandler(logFile, nil))

	dev := &termDevice{}
	renderer := lcd.New(dev, lcd.Config{Width: width, Height: height, Logger: logger})
	renderer.Clear()
	drawFrame()

	commands := make(chan board.Command, 8)

	// Enter -> NextScreen, same role as the hardware button.
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			commands <- board.NextScreen{}
		}
	}()

	go func() {
		var dec wire.Decoder
		commands <- board.UpdateMessage{Text: "Simulator: waiting for first update..."}
		time.Sleep(2 * time.Second)
		for i := 0; ; i++ {
			msg := feed[i%len(feed)]
			cmd, err := dec.Decode(msg.topic, []byte(msg.payload))
			if err != nil {
				logger.Warn("drop-malformed", slog.String("topic", msg.topic), slog.String("err", err.Error()))
				continue
			}
			commands <- cmd
			time.Sleep(3 * time.Second)
		}
	}()

	var model board.Model
	for cmd := range commands {
		model.Apply(cmd)
		renderer.Render(&model)
	}
}
