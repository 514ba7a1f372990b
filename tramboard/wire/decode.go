// Package wire decodes the pub/sub application format into board commands.
//
// Topic tail: .../<line>/<direction_id>. Payload: newline-separated records,
// the last being a display-only timestamp and every earlier one a passage as
// destination|minutes[|reserved]. The trailing field is carried by the
// publisher but has no meaning here and is ignored.
package wire

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/harveysanders/picotram/tramboard/board"
)

var (
	// ErrMalformedTopic reports a topic with fewer than two path components.
	ErrMalformedTopic = errors.New("wire: topic needs a <line>/<direction> tail")
	// ErrMalformedDirectionID reports a non-numeric direction component.
	ErrMalformedDirectionID = errors.New("wire: direction id is not a non-negative integer")
	// ErrMalformedArrival reports a non-numeric arrival value. The whole
	// message is rejected: a partially numeric update is not trustworthy.
	ErrMalformedArrival = errors.New("wire: relative arrival is not a non-negative integer")
	// ErrMalformedPayload reports an empty or non-UTF-8 payload.
	ErrMalformedPayload = errors.New("wire: payload is empty or not valid UTF-8")
)

// Stats counts rejected messages by kind plus silent truncations, for
// diagnostics only. Truncation is not an error; it is the bounded-memory
// rule doing its job, but it is worth seeing over serial when tuning.
type Stats struct {
	BadTopic          uint32
	BadDirectionID    uint32
	BadArrival        uint32
	BadPayload        uint32
	TruncatedPassages uint32
}

// Decoder turns (topic, payload) pairs into UpdateDirection commands.
// The zero value is ready to use.
type Decoder struct {
	Stats Stats
}

// Decode parses one pub/sub message. On error no command is produced and the
// caller is expected to drop the message; decode failures must never take
// down the consumer.
func (d *Decoder) Decode(topic string, payload []byte) (board.UpdateDirection, error) {
	var cmd board.UpdateDirection

	// Components are read from the right: direction id first, then line.
	sep := strings.LastIndexByte(topic, '/')
	if sep < 1 {
		d.Stats.BadTopic++
		return cmd, ErrMalformedTopic
	}
	dirPart := topic[sep+1:]
	lineName := topic[:sep]
	if prev := strings.LastIndexByte(lineName, '/'); prev >= 0 {
		lineName = lineName[prev+1:]
	}
	if lineName == "" {
		d.Stats.BadTopic++
		return cmd, ErrMalformedTopic
	}

	id, err := strconv.ParseUint(dirPart, 10, 31)
	if err != nil {
		d.Stats.BadDirectionID++
		return cmd, ErrMalformedDirectionID
	}

	if len(payload) == 0 || !utf8.Valid(payload) {
		d.Stats.BadPayload++
		return cmd, ErrMalformedPayload
	}

	records := strings.Split(string(payload), "\n")
	updateAt := records[len(records)-1]

	for _, rec := range records[:len(records)-1] {
		dest, rest, ok := strings.Cut(rec, "|")
		if !ok {
			// Fewer than two fields: skip the record, keep the message.
			continue
		}
		minutes, _, _ := strings.Cut(rest, "|")
		v, err := strconv.ParseUint(minutes, 10, 32)
		if err != nil {
			d.Stats.BadArrival++
			return board.UpdateDirection{}, ErrMalformedArrival
		}
		if v > 255 {
			// The value is a countdown for a 20-column screen; saturate
			// rather than distrust an otherwise numeric record.
			v = 255
		}
		if cmd.NumPassages == board.MaxPassages {
			d.Stats.TruncatedPassages++
			continue
		}
		cmd.Passages[cmd.NumPassages] = board.Passage{
			Destination:     board.Truncate(dest, board.MaxDestinationLen),
			RelativeArrival: uint8(v),
		}
		cmd.NumPassages++
	}

	cmd.Line = board.Truncate(lineName, board.MaxLineNameLen)
	cmd.DirectionID = int(id)
	cmd.UpdateAt = board.Truncate(updateAt, board.MaxUpdateAtLen)
	return cmd, nil
}
