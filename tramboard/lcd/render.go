// Package lcd renders the board model onto a character display with the
// minimum number of device writes.
//
// Writes to the HD44780 over I2C dominate frame time, so two optimizations
// stack: a whole render is skipped when the selected direction is unchanged
// since the last pass, and otherwise only the rows that differ from a shadow
// copy of the physical screen are sent.
package lcd

import (
	"bytes"
	"io"
	"log/slog"
	"sync"

	"github.com/harveysanders/picotram/tramboard/board"
)

// Device is the surface the renderer needs from a character display.
// tinygo.org/x/drivers/hd44780i2c.Device provides it in production; tests
// substitute a recording double.
type Device interface {
	ClearDisplay() error
	SetCursor(col, row uint8) error
	Print(data []byte) error
}

// Config describes the panel geometry and shared-bus access.
type Config struct {
	Width  int // columns, default 20
	Height int // rows, default 4
	// Bus serializes access to the I2C bus when other peripherals share it.
	// Held per row write, never across a whole render pass.
	Bus    *sync.Mutex
	Logger *slog.Logger
}

// Renderer owns the display device and the shadow copy of its contents.
type Renderer struct {
	dev    Device
	bus    *sync.Mutex
	log    *slog.Logger
	width  int
	height int

	frame  [][]byte // rows composed for the pending pass
	shadow [][]byte // rows the device currently shows

	// Single-slot cache of the last fully rendered selection. Kept as one
	// slot, matching the original appliance; keying it per direction would
	// avoid thrash when flipping between two screens but is not needed.
	lastLine  string
	lastDir   board.Direction
	lastValid bool
}

func New(dev Device, cfg Config) *Renderer {
	if cfg.Width <= 0 {
		cfg.Width = 20
	}
	if cfg.Height <= 0 {
		cfg.Height = 4
	}
	if cfg.Bus == nil {
		cfg.Bus = &sync.Mutex{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Renderer{
		dev:    dev,
		bus:    cfg.Bus,
		log:    cfg.Logger,
		width:  cfg.Width,
		height: cfg.Height,
		frame:  make([][]byte, cfg.Height),
		shadow: make([][]byte, cfg.Height),
	}
	for i := 0; i < cfg.Height; i++ {
		r.frame[i] = make([]byte, cfg.Width)
		// NUL is never part of a composed row (rows are space padded), so
		// the first real frame always differs and forces a full paint.
		r.shadow[i] = make([]byte, cfg.Width)
	}
	return r
}

// Clear blanks the device and records the blank screen in the shadow buffer.
func (r *Renderer) Clear() {
	r.bus.Lock()
	err := r.dev.ClearDisplay()
	r.bus.Unlock()
	if err != nil {
		r.log.Error("lcd:clear-failed", slog.String("err", err.Error()))
		return
	}
	for i := range r.shadow {
		fill(r.shadow[i], ' ')
	}
	r.lastValid = false
}

// Render brings the device in sync with the model, writing only rows that
// changed. It never mutates the model.
func (r *Renderer) Render(m *board.Model) {
	if m.NumLines == 0 {
		if !m.HasMessage {
			return
		}
		r.composeMessage(m.Message)
		r.lastValid = false
		r.flush()
		return
	}

	line, dir, ok := m.Selected()
	if !ok {
		return
	}
	if r.lastValid && r.lastLine == line.Name && r.lastDir == *dir {
		// Nothing on this screen changed; skip all device traffic.
		return
	}

	r.composeDirection(line, dir)
	if r.flush() {
		r.lastLine = line.Name
		r.lastDir = *dir
		r.lastValid = true
	} else {
		// A row write failed and will be retried; do not let the skip
		// check hide the retry.
		r.lastValid = false
	}
}

// composeDirection fills the frame for one (line, direction) screen:
// row 0 the line name, middle rows one passage each, last row the update
// timestamp right aligned. Every row is space padded to full width so new
// content fully overwrites longer stale content.
func (r *Renderer) composeDirection(line *board.Line, dir *board.Direction) {
	for i := range r.frame {
		fill(r.frame[i], ' ')
	}
	copyClipped(r.frame[0], line.Name)

	passageRows := r.height - 2
	if dir.NumPassages == 0 {
		copyClipped(r.frame[1], "No upcoming")
		if r.height > 3 {
			copyClipped(r.frame[2], "passage")
		}
	} else {
		for i := 0; i < passageRows && i < dir.NumPassages; i++ {
			r.composePassage(r.frame[1+i], dir.Passages[i])
		}
	}

	last := r.frame[r.height-1]
	if n := len(dir.UpdateAt); n > 0 {
		if n > r.width {
			n = r.width
		}
		copy(last[r.width-n:], dir.UpdateAt[:n])
	}
}

// composePassage writes destination then a right-aligned two-digit minute
// count into row. The destination gets width-3 columns and is clipped, never
// wrapped.
func (r *Renderer) composePassage(row []byte, p board.Passage) {
	destWidth := r.width - 3
	if destWidth < 0 {
		destWidth = 0
	}
	copyClipped(row[:destWidth], p.Destination)

	n := int(p.RelativeArrival)
	if n > 99 {
		n = 99
	}
	if r.width >= 2 {
		if n >= 10 {
			row[r.width-2] = byte('0' + n/10)
		}
		row[r.width-1] = byte('0' + n%10)
	}
}

// composeMessage word-wraps the status text greedily: a break whenever the
// running column count reaches the width, no word-boundary awareness.
func (r *Renderer) composeMessage(msg string) {
	for i := range r.frame {
		fill(r.frame[i], ' ')
	}
	row, col := 0, 0
	for i := 0; i < len(msg) && row < r.height; i++ {
		r.frame[row][col] = msg[i]
		col++
		if col == r.width {
			col = 0
			row++
		}
	}
}

// flush sends every frame row that differs from the shadow buffer and
// records what was written. A failed row leaves its shadow entry stale so
// the next pass retries it; reporting false tells the caller the screen is
// not fully in sync.
func (r *Renderer) flush() bool {
	ok := true
	for i := range r.frame {
		if bytes.Equal(r.frame[i], r.shadow[i]) {
			continue
		}
		if err := r.writeRow(i); err != nil {
			r.log.Error("lcd:row-write-failed",
				slog.Int("row", i),
				slog.String("err", err.Error()),
			)
			ok = false
			continue
		}
		copy(r.shadow[i], r.frame[i])
	}
	return ok
}

func (r *Renderer) writeRow(i int) error {
	r.bus.Lock()
	defer r.bus.Unlock()
	if err := r.dev.SetCursor(0, uint8(i)); err != nil {
		return err
	}
	return r.dev.Print(r.frame[i])
}

func fill(b []byte, c byte) {
	for i := range b {
		b[i] = c
	}
}

// copyClipped copies s into b, clipping to len(b). b is assumed space filled.
func copyClipped(b []byte, s string) {
	n := len(s)
	if n > len(b) {
		n = len(b)
	}
	copy(b, s[:n])
}
