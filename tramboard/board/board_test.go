package board

import (
	"strings"
	"testing"
)

func update(line string, dir int, at string, passages ...Passage) UpdateDirection {
	cmd := UpdateDirection{Line: line, DirectionID: dir, UpdateAt: at}
	for _, p := range passages {
		cmd.Passages[cmd.NumPassages] = p
		cmd.NumPassages++
	}
	return cmd
}

func TestUpdateDirectionCreatesLineAndDirection(t *testing.T) {
	var m Model
	m.Apply(update("Tram A", 2, "12:45",
		Passage{Destination: "Downtown", RelativeArrival: 4},
		Passage{Destination: "Uptown", RelativeArrival: 9},
	))

	if m.NumLines != 1 {
		t.Fatalf("NumLines = %d, want 1", m.NumLines)
	}
	l := m.Lines[0]
	if l.Name != "Tram A" || l.NumDirections != 1 {
		t.Fatalf("line = %+v, want name Tram A with 1 direction", l)
	}
	d := l.Directions[0]
	if d.ID != 2 || d.UpdateAt != "12:45" || d.NumPassages != 2 {
		t.Fatalf("direction = %+v", d)
	}
	if d.Passages[0] != (Passage{Destination: "Downtown", RelativeArrival: 4}) {
		t.Errorf("passage 0 = %+v", d.Passages[0])
	}
}

func TestUpdateDirectionReplacesInPlace(t *testing.T) {
	var m Model
	m.Apply(update("Tram A", 0, "08:00", Passage{Destination: "North", RelativeArrival: 5}))
	m.Apply(update("Tram A", 1, "08:00", Passage{Destination: "South", RelativeArrival: 7}))

	// Refresh for direction 0 must not move it behind direction 1.
	m.Apply(update("Tram A", 0, "08:01", Passage{Destination: "North", RelativeArrival: 3}))

	l := m.Lines[0]
	if l.NumDirections != 2 {
		t.Fatalf("NumDirections = %d, want 2", l.NumDirections)
	}
	if l.Directions[0].ID != 0 || l.Directions[1].ID != 1 {
		t.Fatalf("direction order changed: ids %d,%d", l.Directions[0].ID, l.Directions[1].ID)
	}
	if l.Directions[0].UpdateAt != "08:01" || l.Directions[0].Passages[0].RelativeArrival != 3 {
		t.Errorf("direction 0 not refreshed: %+v", l.Directions[0])
	}
}

func TestUpdateDirectionDropsBeyondLineCapacity(t *testing.T) {
	var m Model
	for i := 0; i < MaxLines+2; i++ {
		m.Apply(update("Line "+string(rune('A'+i)), 0, "08:00"))
	}
	if m.NumLines != MaxLines {
		t.Fatalf("NumLines = %d, want %d", m.NumLines, MaxLines)
	}
	if m.Dropped.Lines != 2 {
		t.Errorf("Dropped.Lines = %d, want 2", m.Dropped.Lines)
	}
}

func TestUpdateDirectionDropsBeyondDirectionCapacity(t *testing.T) {
	var m Model
	m.Apply(update("Tram A", 0, "08:00"))
	m.Apply(update("Tram A", 1, "08:00"))
	m.Apply(update("Tram A", 2, "08:00"))

	if got := m.Lines[0].NumDirections; got != MaxDirections {
		t.Fatalf("NumDirections = %d, want %d", got, MaxDirections)
	}
	if m.Dropped.Directions != 1 {
		t.Errorf("Dropped.Directions = %d, want 1", m.Dropped.Directions)
	}
	// The dropped id must not have displaced an existing one.
	if m.Lines[0].Directions[0].ID != 0 || m.Lines[0].Directions[1].ID != 1 {
		t.Errorf("direction ids = %d,%d", m.Lines[0].Directions[0].ID, m.Lines[0].Directions[1].ID)
	}
}

func TestUpdateMessageTruncates(t *testing.T) {
	var m Model
	m.Apply(UpdateMessage{Text: strings.Repeat("x", MaxMessageLen+5)})
	if !m.HasMessage {
		t.Fatal("HasMessage = false")
	}
	if len(m.Message) != MaxMessageLen {
		t.Errorf("len(Message) = %d, want %d", len(m.Message), MaxMessageLen)
	}
}

func TestNextScreenEmptyModelIsNoop(t *testing.T) {
	var m Model
	m.Apply(NextScreen{})
	if m.CursorLine != 0 || m.CursorDir != 0 {
		t.Errorf("cursor moved on empty model: (%d,%d)", m.CursorLine, m.CursorDir)
	}
}

func TestNextScreenCyclicClosure(t *testing.T) {
	// 2 lines, with 2 and 1 directions: 3 pairs total.
	var m Model
	m.Apply(update("Tram A", 0, "08:00"))
	m.Apply(update("Tram A", 1, "08:00"))
	m.Apply(update("Tram B", 0, "08:00"))

	seen := map[[2]int]bool{}
	for i := 0; i < 3; i++ {
		seen[[2]int{m.CursorLine, m.CursorDir}] = true
		m.Apply(NextScreen{})
	}
	if m.CursorLine != 0 || m.CursorDir != 0 {
		t.Errorf("cursor after full cycle = (%d,%d), want (0,0)", m.CursorLine, m.CursorDir)
	}
	if len(seen) != 3 {
		t.Errorf("visited %d distinct pairs, want 3", len(seen))
	}
}

func TestNextScreenReclampsStaleCursor(t *testing.T) {
	var m Model
	m.Apply(update("Tram A", 0, "08:00"))
	m.CursorLine = 5 // stale, out of range
	m.CursorDir = 1

	m.Apply(NextScreen{})
	if m.CursorLine >= m.NumLines {
		t.Fatalf("CursorLine = %d, out of range", m.CursorLine)
	}
	if m.CursorDir >= m.Lines[m.CursorLine].NumDirections {
		t.Fatalf("CursorDir = %d, out of range", m.CursorDir)
	}
}

func TestSelectedReclampsWithoutMutating(t *testing.T) {
	var m Model
	m.Apply(update("Tram A", 0, "08:00", Passage{Destination: "North", RelativeArrival: 2}))
	m.CursorLine = 7
	m.CursorDir = 1

	line, dir, ok := m.Selected()
	if !ok {
		t.Fatal("Selected ok = false")
	}
	if line.Name != "Tram A" || dir.ID != 0 {
		t.Errorf("selected (%q, %d)", line.Name, dir.ID)
	}
	if m.CursorLine != 7 || m.CursorDir != 1 {
		t.Errorf("Selected mutated cursor: (%d,%d)", m.CursorLine, m.CursorDir)
	}
}

func TestSelectedEmptyModel(t *testing.T) {
	var m Model
	if _, _, ok := m.Selected(); ok {
		t.Error("Selected ok = true on empty model")
	}
}
