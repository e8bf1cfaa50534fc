package ir

// ResponseState is the lifecycle state of a user-action emission.
type ResponseState string

const (
	StateUnresolved ResponseState = "unresolved"
	StateResolved   ResponseState = "resolved"
)

// EmittedMessage is one resolved instance of a MessageDefinition.
type EmittedMessage struct {
	// ID identifies this emission. Responses are addressed by ID.
	ID string `json:"id"`

	// MessageID is the definition this emission was produced from.
	MessageID string  `json:"message_id"`
	Channel   Channel `json:"channel"`

	Content map[string]any `json:"content"`
	Impact  ResolvedImpact `json:"impact"`

	// Seq is a monotonically increasing logical clock value.
	Seq int64 `json:"seq"`

	// Tick is set for emissions of the random pass.
	Tick int64 `json:"tick,omitempty"`
	// EventType is set for emissions of the event pass.
	EventType string `json:"event_type,omitempty"`

	// State is only set for user-action impacts.
	State ResponseState `json:"state,omitempty"`
}

// RequiresResponse reports whether the emission awaits a user response.
func (m *EmittedMessage) RequiresResponse() bool {
	return m.Impact.Kind == ImpactUserAction
}

// PendingResponse is a ledger entry for a user-action emission.
type PendingResponse struct {
	EmissionID string                     `json:"emission_id"`
	MessageID  string                     `json:"message_id"`
	Seq        int64                      `json:"seq"`
	Responses  []string                   `json:"responses"`
	Actions    map[string]ActionDirective `json:"actions"`
	State      ResponseState              `json:"state"`
	Chosen     string                     `json:"chosen,omitempty"`
}
