package compiler

import (
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/podwire/internal/ir"
)

const jsonCatalog = `[
  {
    "id": "news-coffee",
    "channel": "newswire",
    "creation_trigger": "random",
    "features": {"read_only": true, "requires_response": false},
    "impact": {"type": "none"},
    "content": {"type": "flavor", "text": "The coffee machine is broken. Morale -10."}
  },
  {
    "channel": "email",
    "creation_trigger": "game_event",
    "creation_trigger_config": {
      "event_type": "pod_drawdown",
      "conditions": {"drawdown_pct": {"gte": 10}}
    },
    "features": {"read_only": false, "requires_response": true},
    "impact": {
      "type": "user_action",
      "actions": {
        "cut": {"action": "reduce_allocation", "params": {"amount": {"formula": "allocation / 2"}}},
        "hold": {"action": "no_op"}
      }
    },
    "content": {"subject": "Drawdown Alert: {pod_name}"},
    "active": false
  },
  {
    "id": "news-margin",
    "channel": "newswire",
    "creation_trigger": "random",
    "creation_trigger_config": {"probability": 0.2},
    "impact": {"type": "simulation", "simulation": {"morale": -5, "panic": true, "fee": {"formula": "aum * 0.01"}}},
    "content": {"type": "breaking", "headline": "Margin call!"}
  }
]`

func TestCompileFileJSON(t *testing.T) {
	defs, errs := CompileFile("messages.json", []byte(jsonCatalog))
	require.Empty(t, errs)
	require.Len(t, defs, 3)

	coffee := defs[0]
	assert.Equal(t, "news-coffee", coffee.ID)
	assert.Equal(t, ir.ChannelNewswire, coffee.Channel)
	assert.Equal(t, ir.TriggerRandom, coffee.Trigger)
	assert.Equal(t, ir.DefaultProbability, coffee.TriggerConfig.Probability)
	assert.True(t, coffee.Active)
	assert.True(t, coffee.Features.ReadOnly)
	assert.Equal(t, ir.ImpactNone, coffee.Impact.Kind)

	email := defs[1]
	assert.Equal(t, "email-2", email.ID, "missing id defaults to <channel>-<n>")
	assert.False(t, email.Active)
	assert.Equal(t, "pod_drawdown", email.TriggerConfig.EventType)
	assert.Equal(t, ir.ConditionExpr{"drawdown_pct": {ir.CmpGTE: 10}}, email.TriggerConfig.Conditions)
	assert.Zero(t, email.TriggerConfig.Probability)
	require.Contains(t, email.Impact.Actions, "cut")
	assert.Equal(t, "reduce_allocation", email.Impact.Actions["cut"].Action)
	assert.Equal(t, map[string]any{"formula": "allocation / 2"}, email.Impact.Actions["cut"].Params["amount"])

	margin := defs[2]
	assert.Equal(t, 0.2, margin.TriggerConfig.Probability)
	assert.Equal(t, ir.NumberValue(-5), margin.Impact.Simulation["morale"])
	assert.Equal(t, ir.BoolValue(true), margin.Impact.Simulation["panic"])
	assert.Equal(t, ir.FormulaValue("aum * 0.01"), margin.Impact.Simulation["fee"])

	for _, def := range defs {
		assert.Empty(t, Validate(def), def.ID)
	}
}

func TestCompileFileCUE(t *testing.T) {
	src := `
message: "ledger-fees": {
	channel:          "ledger"
	creation_trigger: "game_event"
	creation_trigger_config: event_type: "month_end"
	impact: type: "none"
	content: {
		description: "Management fees"
		amount: formula: "aum * 0.02 / 12"
		affect_cash: true
	}
}

message: "news-rumour": {
	channel:          "newswire"
	creation_trigger: "random"
	creation_trigger_config: probability: 0.5
	content: {type: "info", text: "Rumours of a merger."}
}
`
	defs, errs := CompileFile("catalog.cue", []byte(src))
	require.Empty(t, errs)
	require.Len(t, defs, 2)

	assert.Equal(t, "ledger-fees", defs[0].ID)
	assert.Equal(t, map[string]any{"formula": "aum * 0.02 / 12"}, defs[0].Content["amount"])
	assert.Equal(t, "news-rumour", defs[1].ID)
	assert.Equal(t, 0.5, defs[1].TriggerConfig.Probability)
	assert.Equal(t, ir.ImpactNone, defs[1].Impact.Kind, "missing impact means none")
}

func TestCompileFileSchemaErrorCarriesPosition(t *testing.T) {
	src := `[
  {"id": "news-ok", "channel": "newswire", "creation_trigger": "random", "content": {"text": "ok"}},
  {"id": "news-bad", "channel": "newswire", "creation_trigger": "random",
   "creation_trigger_config": {"probability": "often"},
   "content": {"text": "bad"}}
]`
	defs, errs := CompileFile("messages.json", []byte(src))
	require.Len(t, defs, 1)
	assert.Equal(t, "news-ok", defs[0].ID)

	require.NotEmpty(t, errs)
	assert.Equal(t, ErrSchema, errs[0].Code)
	assert.Equal(t, "news-bad", errs[0].DefinitionID)
	assert.True(t, errs[0].Pos.IsValid())
	assert.Contains(t, errs[0].Error(), "messages.json:")
}

func TestCompileFileBadSimulationValue(t *testing.T) {
	src := `[{"id": "news-x", "channel": "newswire", "creation_trigger": "random",
  "impact": {"type": "simulation", "simulation": {"fee": {"expr": "1"}}},
  "content": {"text": "x"}}]`
	defs, errs := CompileFile("messages.json", []byte(src))
	assert.Empty(t, defs)
	require.NotEmpty(t, errs)
	assert.Equal(t, ErrSchema, errs[0].Code)
}

func TestCompileFileEmptySimulationFormula(t *testing.T) {
	src := `[{"id": "news-x", "channel": "newswire", "creation_trigger": "random",
  "impact": {"type": "simulation", "simulation": {"fee": {"formula": ""}}},
  "content": {"text": "x"}}]`
	_, errs := CompileFile("messages.json", []byte(src))
	require.Len(t, errs, 1)
	assert.Equal(t, ErrInvalidFormula, errs[0].Code)
	assert.Equal(t, "impact.simulation.fee", errs[0].Field)
	assert.Equal(t, "news-x", errs[0].DefinitionID)
}

func TestCompileFileLabelMismatch(t *testing.T) {
	src := `message: "news-a": {
	id:               "news-b"
	channel:          "newswire"
	creation_trigger: "random"
	content: text: "x"
}`
	defs, errs := CompileFile("catalog.cue", []byte(src))
	assert.Empty(t, defs)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrIDEmpty, errs[0].Code)
	assert.Contains(t, errs[0].Message, "does not match")
}

func TestCompileFileSyntaxError(t *testing.T) {
	_, errs := CompileFile("messages.json", []byte(`[{"id": }]`))
	require.NotEmpty(t, errs)
	assert.Equal(t, ErrSchema, errs[0].Code)
}

func TestCompileFileUnsupportedExtension(t *testing.T) {
	_, errs := CompileFile("messages.yaml", []byte(`[]`))
	require.Len(t, errs, 1)
	assert.Equal(t, ErrGeneral, errs[0].Code)
}

func TestCompileCatalogRequiresMessageField(t *testing.T) {
	v := cuecontext.New().CompileString(`messages: {}`)
	_, errs := CompileCatalog(v)
	require.Len(t, errs, 1)
	assert.Equal(t, "message", errs[0].Field)
}

func TestCompileMessageLeavesIDEmpty(t *testing.T) {
	v := cuecontext.New().CompileString(`
		channel:          "email"
		creation_trigger: "game_event"
		creation_trigger_config: event_type: "hire"
		content: subject: "Welcome {name}"
	`)
	require.NoError(t, v.Err())
	def, errs := CompileMessage(v)
	require.Empty(t, errs)
	assert.Empty(t, def.ID)
	assert.Equal(t, ir.ChannelEmail, def.Channel)
	assert.Equal(t, "hire", def.TriggerConfig.EventType)
	assert.True(t, def.Active)
}

func TestCompileMessageOpenFields(t *testing.T) {
	v := cuecontext.New().CompileString(`
		channel:          "newswire"
		creation_trigger: "random"
		author:           "desk"
		content: text: "x"
	`)
	_, errs := CompileMessage(v)
	assert.Empty(t, errs)
}
