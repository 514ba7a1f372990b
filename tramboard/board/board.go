// Package board holds the bounded in-memory model of what the tram display
// should show, and the reducer that advances it one command at a time.
//
// All collections are fixed-size arrays with explicit length counters so the
// whole model fits in a known amount of RAM and direction states stay
// comparable with ==. Inserts past capacity are defined no-ops; they are
// counted in Dropped so they can be observed over serial.
//
// The model is owned by a single goroutine (the render task). Only Apply
// mutates it; the renderer reads it through Selected.
package board

const (
	MaxLines      = 8
	MaxDirections = 2
	MaxPassages   = 3

	MaxLineNameLen    = 16
	MaxDestinationLen = 32
	MaxUpdateAtLen    = 10
	MaxMessageLen     = 80
)

// Passage is one predicted vehicle arrival: where it is headed and in how
// many minutes it gets here.
type Passage struct {
	Destination     string
	RelativeArrival uint8
}

// Direction is the upcoming-passage list for one travel direction of a line.
// UpdateAt is an opaque, display-only timestamp copied from the wire.
type Direction struct {
	ID          int
	UpdateAt    string
	NumPassages int
	Passages    [MaxPassages]Passage
}

// Line groups the directions of one named transit route. Name is the unique
// key within the model.
type Line struct {
	Name          string
	NumDirections int
	Directions    [MaxDirections]Direction
}

// Dropped counts updates discarded because a capacity limit was hit.
type Dropped struct {
	Lines      uint32
	Directions uint32
}

// Model is the root display state: every known line, an advisory status
// message shown while no line data exists yet, and the cursor selecting
// which (line, direction) is on screen.
type Model struct {
	Lines    [MaxLines]Line
	NumLines int

	Message    string
	HasMessage bool

	CursorLine int
	CursorDir  int

	Dropped Dropped
}

// Command is a state transition consumed by Apply. Commands are produced by
// the wire decoder, the connection lifecycle (status text) and the button
// task; the reducer itself has no failure path.
type Command interface{ command() }

// UpdateDirection replaces the passage list and timestamp of one
// (line, direction), creating the line and direction entries on first sight.
type UpdateDirection struct {
	Line        string
	DirectionID int
	UpdateAt    string
	NumPassages int
	Passages    [MaxPassages]Passage
}

// UpdateMessage replaces the advisory status message.
type UpdateMessage struct {
	Text string
}

// NextScreen advances the cursor to the next (line, direction) pair.
type NextScreen struct{}

func (UpdateDirection) command() {}
func (UpdateMessage) command()   {}
func (NextScreen) command()      {}

// Apply advances the model by one command. It is total: every command is
// handled and invalid input never reaches this layer (the decoder rejects it).
func (m *Model) Apply(cmd Command) {
	switch c := cmd.(type) {
	case UpdateDirection:
		m.updateDirection(c)
	case UpdateMessage:
		m.Message = Truncate(c.Text, MaxMessageLen)
		m.HasMessage = true
	case NextScreen:
		m.nextScreen()
	}
}

// updateDirection finds the line by name and the direction by id, replacing
// in place when present so existing entries never move. Position stability
// keeps the cursor pointed at the same logical direction across refreshes.
func (m *Model) updateDirection(c UpdateDirection) {
	name := Truncate(c.Line, MaxLineNameLen)

	var line *Line
	for i := 0; i < m.NumLines; i++ {
		if m.Lines[i].Name == name {
			line = &m.Lines[i]
			break
		}
	}
	if line == nil {
		if m.NumLines == MaxLines {
			m.Dropped.Lines++
			return
		}
		line = &m.Lines[m.NumLines]
		m.NumLines++
		*line = Line{Name: name}
	}

	for i := 0; i < line.NumDirections; i++ {
		if line.Directions[i].ID == c.DirectionID {
			line.Directions[i].UpdateAt = Truncate(c.UpdateAt, MaxUpdateAtLen)
			line.Directions[i].NumPassages = c.NumPassages
			line.Directions[i].Passages = c.Passages
			return
		}
	}
	if line.NumDirections == MaxDirections {
		m.Dropped.Directions++
		return
	}
	line.Directions[line.NumDirections] = Direction{
		ID:          c.DirectionID,
		UpdateAt:    Truncate(c.UpdateAt, MaxUpdateAtLen),
		NumPassages: c.NumPassages,
		Passages:    c.Passages,
	}
	line.NumDirections++
}

// nextScreen walks two nested rings: directions within the current line,
// then lines. A stale cursor is clamped before stepping so the traversal
// stays in range even if the model changed shape since the last press.
func (m *Model) nextScreen() {
	if m.NumLines == 0 {
		return
	}
	if m.CursorLine >= m.NumLines {
		m.CursorLine = 0
		m.CursorDir = 0
	}

	m.CursorDir++
	if m.CursorDir >= m.Lines[m.CursorLine].NumDirections {
		m.CursorDir = 0
		m.CursorLine = (m.CursorLine + 1) % m.NumLines
	}
}

// Selected resolves the cursor to the line and direction currently chosen
// for display, re-clamping out-of-range indices without mutating the model.
// ok is false when there is nothing to show.
func (m *Model) Selected() (line *Line, dir *Direction, ok bool) {
	if m.NumLines == 0 {
		return nil, nil, false
	}
	li := m.CursorLine
	if li >= m.NumLines {
		li = 0
	}
	l := &m.Lines[li]
	if l.NumDirections == 0 {
		return nil, nil, false
	}
	di := m.CursorDir
	if di >= l.NumDirections {
		di = 0
	}
	return l, &l.Directions[di], true
}

// Truncate bounds s to at most max bytes. Oversized wire fields are clipped
// rather than rejected; the display cannot show them anyway.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
