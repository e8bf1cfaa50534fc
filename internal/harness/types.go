package harness

import (
	"github.com/roach88/podwire/internal/engine"
	"github.com/roach88/podwire/internal/ir"
)

// Trace event types.
const (
	EventEmission      = "emission"
	EventDrop          = "drop"
	EventResponse      = "response"
	EventResponseError = "response_error"
	EventReload        = "reload"
)

// TraceEvent records one observable outcome of a step.
type TraceEvent struct {
	Step int    `json:"step"`
	Type string `json:"type"`
	Seq  int64  `json:"seq,omitempty"`

	// ID is the emission instance id (emission, response, response_error).
	ID        string `json:"id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Tick      int64  `json:"tick,omitempty"`
	EventType string `json:"event_type,omitempty"`

	Content map[string]any     `json:"content,omitempty"`
	Impact  *ir.ResolvedImpact `json:"impact,omitempty"`

	Key    string              `json:"key,omitempty"`
	Action *ir.ActionDirective `json:"action,omitempty"`

	// Code is the drop or response error code.
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`

	// Definitions is the registry size after a reload.
	Definitions int `json:"definitions,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains all step outcomes in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEmission adds an emitted message to the trace.
func (r *Result) AddEmission(step int, msg ir.EmittedMessage) {
	impact := msg.Impact
	r.Trace = append(r.Trace, TraceEvent{
		Step:      step,
		Type:      EventEmission,
		Seq:       msg.Seq,
		ID:        msg.ID,
		MessageID: msg.MessageID,
		Channel:   string(msg.Channel),
		Tick:      msg.Tick,
		EventType: msg.EventType,
		Content:   msg.Content,
		Impact:    &impact,
	})
}

// AddDrop adds a dropped emission to the trace.
func (r *Result) AddDrop(step int, err *engine.EvaluationError) {
	r.Trace = append(r.Trace, TraceEvent{
		Step:      step,
		Type:      EventDrop,
		MessageID: err.MessageID,
		Tick:      err.Tick,
		EventType: err.EventType,
		Code:      string(err.Code),
	})
}
