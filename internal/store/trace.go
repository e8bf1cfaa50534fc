package store

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/roach88/podwire/internal/ir"
)

// TraceEventType distinguishes the records in a trace.
type TraceEventType int

const (
	TraceEmission TraceEventType = iota
	TraceResponse
	TraceDrop
)

// String returns the event type as a string.
func (t TraceEventType) String() string {
	switch t {
	case TraceEmission:
		return "emission"
	case TraceResponse:
		return "response"
	case TraceDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// TraceEvent is a single record of the log in trace order.
// Exactly one of Emission, Response, Drop is set.
type TraceEvent struct {
	Type     TraceEventType
	Seq      int64
	ID       string
	Emission *ir.EmittedMessage
	Response *ResponseRecord
	Drop     *DropRecord
}

// ReadTrace returns every emission, response and drop merged into one
// sequence ordered by seq, then type (emissions first), then ID.
//
// If messageID is non-empty only records of that definition are returned.
func (s *Store) ReadTrace(ctx context.Context, messageID string) ([]TraceEvent, error) {
	var msgs []ir.EmittedMessage
	var err error
	if messageID == "" {
		msgs, err = s.ReadEmissions(ctx)
	} else {
		msgs, err = s.ReadEmissionsForMessage(ctx, messageID)
	}
	if err != nil {
		return nil, err
	}

	responses, err := s.ReadResponses(ctx)
	if err != nil {
		return nil, err
	}
	drops, err := s.ReadDrops(ctx)
	if err != nil {
		return nil, err
	}

	included := make(map[string]bool, len(msgs))
	events := make([]TraceEvent, 0, len(msgs)+len(responses)+len(drops))
	for i := range msgs {
		msg := msgs[i]
		included[msg.ID] = true
		events = append(events, TraceEvent{Type: TraceEmission, Seq: msg.Seq, ID: msg.ID, Emission: &msg})
	}
	for i := range responses {
		rec := responses[i]
		if !included[rec.EmissionID] {
			continue
		}
		events = append(events, TraceEvent{Type: TraceResponse, Seq: rec.Seq, ID: rec.EmissionID, Response: &rec})
	}
	for i := range drops {
		d := drops[i]
		if messageID != "" && d.MessageID != messageID {
			continue
		}
		events = append(events, TraceEvent{Type: TraceDrop, Seq: d.AfterSeq, ID: d.MessageID, Drop: &d})
	}

	sortTraceEvents(events)
	return events, nil
}

// sortTraceEvents orders by seq, then type, then ID. The sort is stable so
// drops with equal keys keep their insertion order.
func sortTraceEvents(events []TraceEvent) {
	slices.SortStableFunc(events, func(a, b TraceEvent) int {
		if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
