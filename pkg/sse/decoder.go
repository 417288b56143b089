package sse

import (
	"strings"
)

// Decoder is a push decoder for one event stream connection.
//
// Feed it raw chunks in arrival order; it normalizes them, reassembles
// lines across chunk boundaries, accumulates fields, and invokes OnEvent
// for every complete event terminated by a blank line. The committed
// last-event ID survives event dispatch and can seed the decoder of the
// next connection for resumption.
type Decoder struct {
	norm     Normalizer
	residual string // trailing line with no terminator yet

	origin      string
	eventType   string
	dataLines   []string
	hasData     bool
	idCandidate string
	lastEventID string

	// OnEvent is invoked for each complete event. Required.
	OnEvent func(Event)
	// OnRetry is invoked when a valid retry field updates the
	// reconnection delay, in milliseconds. Optional.
	OnRetry func(ms int)
	// OnComment is invoked for comment lines. Optional.
	OnComment func(comment string)
}

// NewDecoder creates a decoder for a stream served from origin.
// lastEventID seeds the committed ID from a previous connection.
func NewDecoder(origin, lastEventID string) *Decoder {
	return &Decoder{
		origin:      origin,
		idCandidate: lastEventID,
		lastEventID: lastEventID,
	}
}

// LastEventID returns the committed last-event ID.
func (d *Decoder) LastEventID() string {
	return d.lastEventID
}

// Feed consumes the next raw chunk from the transport. Lines are only
// processed once their terminator has arrived; a trailing partial line
// waits for the next chunk.
func (d *Decoder) Feed(chunk []byte) {
	text := d.norm.Decode(chunk)
	if text == "" {
		return
	}

	buf := d.residual + text
	lines := strings.Split(buf, "\n")
	d.residual = lines[len(lines)-1]

	for _, line := range lines[:len(lines)-1] {
		d.processLine(line)
	}
}

func (d *Decoder) processLine(line string) {
	if line == "" {
		d.flush()
		return
	}

	name, value := parseField(line)
	switch name {
	case "event":
		d.eventType = value
	case "data":
		d.dataLines = append(d.dataLines, value)
		d.hasData = true
	case "id":
		// An ID carrying a NUL is protocol corruption; keep the prior one.
		if !strings.ContainsRune(value, '\x00') {
			d.idCandidate = value
		}
	case "retry":
		if ms, ok := parseRetry(value); ok && d.OnRetry != nil {
			d.OnRetry(ms)
		}
	case "":
		if d.OnComment != nil {
			d.OnComment(value)
		}
	default:
		// Unknown field, ignore.
	}
}

// flush commits the pending event on a blank line. The candidate ID is
// promoted even when no data was accumulated; an event is only dispatched
// when at least one data line was seen.
func (d *Decoder) flush() {
	d.lastEventID = d.idCandidate

	if !d.hasData {
		d.eventType = ""
		return
	}

	data := strings.Join(d.dataLines, "\n")
	eventType := d.eventType
	if eventType == "" {
		eventType = "message"
	}

	d.dataLines = nil
	d.hasData = false
	d.eventType = ""

	if d.OnEvent != nil {
		d.OnEvent(Event{
			Type:        eventType,
			Data:        data,
			LastEventID: d.lastEventID,
			Origin:      d.origin,
		})
	}
}

// maxRetryMS bounds the reconnection delay a server can set: one day.
const maxRetryMS = 24 * 60 * 60 * 1000

// parseRetry parses a retry value. The field only takes effect when the
// whole value is ASCII digits and within bounds.
func parseRetry(value string) (int, bool) {
	if value == "" {
		return 0, false
	}
	var ms int64
	for _, c := range value {
		if c < '0' || c > '9' {
			return 0, false
		}
		ms = ms*10 + int64(c-'0')
		if ms > maxRetryMS {
			return 0, false
		}
	}
	return int(ms), true
}
