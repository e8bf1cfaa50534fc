package ir

// Channel identifies where a message is delivered in the game UI.
type Channel string

const (
	ChannelNewswire Channel = "newswire"
	ChannelEmail    Channel = "email"
	ChannelLedger   Channel = "ledger"
)

// ValidChannels defines allowed channels.
var ValidChannels = map[Channel]bool{
	ChannelNewswire: true,
	ChannelEmail:    true,
	ChannelLedger:   true,
}

// TriggerKind identifies when a definition is considered for emission.
type TriggerKind string

const (
	// TriggerRandom definitions are sampled once per tick.
	TriggerRandom TriggerKind = "random"
	// TriggerGameEvent definitions are matched against game events.
	TriggerGameEvent TriggerKind = "game_event"
)

// ValidTriggers defines allowed trigger kinds.
var ValidTriggers = map[TriggerKind]bool{
	TriggerRandom:    true,
	TriggerGameEvent: true,
}

// DefaultProbability is used for random definitions that omit a probability.
const DefaultProbability = 0.03

// MessageDefinition is an immutable message template.
//
// Definitions are validated once when loaded. Everything downstream of the
// compiler may assume the channel/trigger/impact invariants hold.
type MessageDefinition struct {
	ID            string         `json:"id"`
	Channel       Channel        `json:"channel"`
	Trigger       TriggerKind    `json:"creation_trigger"`
	TriggerConfig TriggerConfig  `json:"creation_trigger_config"`
	Features      Features       `json:"features"`
	Impact        ImpactSpec     `json:"impact"`
	Content       map[string]any `json:"content"`
	Active        bool           `json:"active"`
}

// TriggerConfig carries the trigger parameters. Probability applies to random
// triggers, EventType to game_event triggers. Conditions may gate either.
type TriggerConfig struct {
	Probability float64       `json:"probability,omitempty"`
	EventType   string        `json:"event_type,omitempty"`
	Conditions  ConditionExpr `json:"conditions,omitempty"`
}

// Features are UI affordances of a message.
type Features struct {
	ReadOnly         bool `json:"read_only"`
	RequiresResponse bool `json:"requires_response"`
}

// Comparator is a numeric comparison operator in a condition.
type Comparator string

const (
	CmpGTE Comparator = "gte"
	CmpLTE Comparator = "lte"
	CmpGT  Comparator = "gt"
	CmpLT  Comparator = "lt"
	CmpEQ  Comparator = "eq"
)

// ValidComparators defines allowed comparator names.
var ValidComparators = map[Comparator]bool{
	CmpGTE: true,
	CmpLTE: true,
	CmpGT:  true,
	CmpLT:  true,
	CmpEQ:  true,
}

// ConditionExpr maps a variable name to its comparator constraints.
// All constraints across all fields are conjunctive.
//
//	{"leverage": {"gte": 8, "lt": 10}}
type ConditionExpr map[string]map[Comparator]float64

// GameEvent is something that happened in the simulation.
type GameEvent struct {
	Type    string    `json:"event_type"`
	Payload Variables `json:"payload"`
}
