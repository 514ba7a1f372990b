package mqtt

import (
	"io"
	"log/slog"
	"testing"

	"github.com/harveysanders/picotram/tramboard/board"
)

func testClient() *Client {
	return &Client{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestDispatchDeliversDecodedCommand(t *testing.T) {
	c := testClient()
	commands := make(chan board.Command, 1)

	c.dispatch(
		[]byte("next-tramway/line/Tram A/1"),
		[]byte("Fontaine|5|R\n08:15:02"),
		commands,
	)

	select {
	case cmd := <-commands:
		upd, ok := cmd.(board.UpdateDirection)
		if !ok {
			t.Fatalf("command type = %T", cmd)
		}
		if upd.Line != "Tram A" || upd.DirectionID != 1 || upd.NumPassages != 1 {
			t.Errorf("command = %+v", upd)
		}
	default:
		t.Fatal("no command delivered")
	}
	if c.decodeErrors != 0 {
		t.Errorf("decodeErrors = %d, want 0", c.decodeErrors)
	}
}

func TestDispatchDropsMalformedWithoutDelivering(t *testing.T) {
	c := testClient()
	commands := make(chan board.Command, 1)

	c.dispatch([]byte("next-tramway/line/Tram A/bad"), []byte("08:15:02"), commands)
	c.dispatch([]byte("no-separator"), []byte("08:15:02"), commands)

	if len(commands) != 0 {
		t.Fatalf("%d commands delivered, want 0", len(commands))
	}
	if c.decodeErrors != 2 {
		t.Errorf("decodeErrors = %d, want 2", c.decodeErrors)
	}
}

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		addr    string
		host    string
		port    string
		wantErr bool
	}{
		{"broker.local:1883", "broker.local", "1883", false},
		{"10.0.0.9:1883", "10.0.0.9", "1883", false},
		{"noport", "", "", true},
		{":1883", "", "", true},
		{"host:", "", "", true},
	}
	for _, tt := range tests {
		host, port, err := splitHostPort(tt.addr)
		if (err != nil) != tt.wantErr {
			t.Errorf("splitHostPort(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			continue
		}
		if host != tt.host || port != tt.port {
			t.Errorf("splitHostPort(%q) = (%q, %q), want (%q, %q)", tt.addr, host, port, tt.host, tt.port)
		}
	}
}

func TestParsePort(t *testing.T) {
	if got := parsePort("1883"); got != 1883 {
		t.Errorf("parsePort(1883) = %d", got)
	}
	if got := parsePort("18x3"); got != 0 {
		t.Errorf("parsePort(18x3) = %d, want 0", got)
	}
}
