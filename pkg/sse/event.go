// Package sse implements the Server-Sent-Events wire format: an incremental
// UTF-8 text normalizer, a field-line parser, and a push decoder that turns
// arbitrarily split byte chunks into complete events.
package sse

// Event represents a single decoded Server-Sent Event
type Event struct {
	Type        string // from "event:" lines, defaults to "message"
	Data        string // from "data:" lines, joined with newlines
	LastEventID string // last committed "id:" value at dispatch time
	Origin      string // final resolved URL of the stream
}
