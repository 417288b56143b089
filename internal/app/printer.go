package app

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"eventsource/internal/config"
	"eventsource/pkg/sse"
)

// Printer writes received events to an output stream. It is safe for
// concurrent use, although the client dispatches from a single goroutine.
type Printer struct {
	mu       sync.Mutex
	out      io.Writer
	format   string
	dataOnly bool
}

// NewPrinter creates a printer for the configured output format
func NewPrinter(out io.Writer, cfg config.Output) *Printer {
	format := cfg.Format
	if format == "" {
		format = "text"
	}
	return &Printer{
		out:      out,
		format:   format,
		dataOnly: cfg.DataOnly,
	}
}

// printedEvent is the JSON shape of one event
type printedEvent struct {
	Type        string `json:"type"`
	Data        string `json:"data"`
	LastEventID string `json:"lastEventId,omitempty"`
	Origin      string `json:"origin,omitempty"`
}

// Print writes one event
func (p *Printer) Print(e sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dataOnly {
		_, err := fmt.Fprintln(p.out, e.Data)
		return err
	}

	switch p.format {
	case "json":
		enc := json.NewEncoder(p.out)
		return enc.Encode(printedEvent{
			Type:        e.Type,
			Data:        e.Data,
			LastEventID: e.LastEventID,
			Origin:      e.Origin,
		})
	default:
		if e.LastEventID != "" {
			_, err := fmt.Fprintf(p.out, "%s (%s): %s\n", e.Type, e.LastEventID, e.Data)
			return err
		}
		_, err := fmt.Fprintf(p.out, "%s: %s\n", e.Type, e.Data)
		return err
	}
}
