package compiler

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/roach88/podwire/internal/condition"
	"github.com/roach88/podwire/internal/formula"
	"github.com/roach88/podwire/internal/ir"
	"github.com/roach88/podwire/internal/registry"
)

// Validate checks one definition against the message rules.
// Returns all errors found (does not fail-fast).
// Duplicate ids are a property of a set and are checked by LoadDefinitions.
func Validate(def ir.MessageDefinition) []ConfigError {
	_, errs := compileEntry(def)
	return errs
}

// compileEntry validates def and pre-compiles its condition and formulas.
// The entry is nil when any error is reported.
func compileEntry(def ir.MessageDefinition) (*registry.Entry, []ConfigError) {
	c := &checker{id: def.ID}
	entry := &registry.Entry{Def: def}

	// E101: id is required
	if strings.TrimSpace(def.ID) == "" {
		c.add("id", ErrIDEmpty, "id is required and must be non-empty")
	}

	// E103: channel
	if !ir.ValidChannels[def.Channel] {
		c.add("channel", ErrInvalidChannel, fmt.Sprintf("invalid channel %q: must be newswire, email or ledger", def.Channel))
	}

	// E104-E106: trigger
	switch def.Trigger {
	case ir.TriggerRandom:
		p := def.TriggerConfig.Probability
		if math.IsNaN(p) || p < 0 || p > 1 {
			c.add("creation_trigger_config.probability", ErrInvalidProbability,
				fmt.Sprintf("probability %v must be within [0, 1]", p))
		}
	case ir.TriggerGameEvent:
		if strings.TrimSpace(def.TriggerConfig.EventType) == "" {
			c.add("creation_trigger_config.event_type", ErrMissingEventType,
				"game_event trigger requires event_type")
		}
	default:
		c.add("creation_trigger", ErrInvalidTrigger,
			fmt.Sprintf("invalid creation_trigger %q: must be random or game_event", def.Trigger))
	}

	// E107: comparators
	set, err := condition.Compile(def.TriggerConfig.Conditions)
	if err != nil {
		field := "creation_trigger_config.conditions"
		var unknown *condition.UnknownComparatorError
		if errors.As(err, &unknown) {
			field += "." + unknown.Field
		}
		c.add(field, ErrInvalidComparator, err.Error())
	}
	entry.Condition = set

	// E110-E113: channel and response invariants
	if def.Features.RequiresResponse && (def.Channel == ir.ChannelNewswire || def.Channel == ir.ChannelLedger) {
		c.add("features.requires_response", ErrResponseNotAllowed,
			fmt.Sprintf("%s messages cannot require a response", def.Channel))
	}
	if def.Channel == ir.ChannelLedger {
		if def.Trigger != ir.TriggerGameEvent {
			c.add("creation_trigger", ErrLedgerTrigger, "ledger messages must use the game_event trigger")
		}
		if def.Impact.Kind != ir.ImpactNone {
			c.add("impact.type", ErrLedgerImpact, "ledger messages must have impact type none")
		}
	}
	if def.Features.RequiresResponse != (def.Impact.Kind == ir.ImpactUserAction) {
		c.add("features.requires_response", ErrResponseMismatch,
			"requires_response must be true exactly when impact type is user_action")
	}

	// E108-E109: impact
	c.impact(def.Impact, entry)

	// E114-E115: content
	if len(def.Content) == 0 {
		c.add("content", ErrContentMissing, "content is required")
	} else if def.Channel == ir.ChannelLedger {
		c.ledgerContent(def.Content, entry)
	}

	if len(c.errs) > 0 {
		return nil, c.errs
	}
	return entry, nil
}

type checker struct {
	id   string
	errs []ConfigError
}

func (c *checker) add(field, code, msg string) {
	c.errs = append(c.errs, ConfigError{
		DefinitionID: c.id,
		Field:        field,
		Code:         code,
		Message:      msg,
	})
}

func (c *checker) formula(field, src string) *formula.Formula {
	f, err := formula.Parse(src)
	if err != nil {
		c.add(field, ErrInvalidFormula, err.Error())
		return nil
	}
	return f
}

func (c *checker) impact(spec ir.ImpactSpec, entry *registry.Entry) {
	switch spec.Kind {
	case ir.ImpactNone:
		if len(spec.Simulation) > 0 || len(spec.Actions) > 0 {
			c.add("impact", ErrInvalidImpact, "impact type none must not carry simulation or actions")
		}

	case ir.ImpactSimulation:
		if len(spec.Actions) > 0 {
			c.add("impact.actions", ErrInvalidImpact, "simulation impact must not carry actions")
		}
		if len(spec.Simulation) == 0 {
			c.add("impact.simulation", ErrInvalidImpact, "simulation impact needs at least one directive")
		}
		for _, name := range slices.Sorted(maps.Keys(spec.Simulation)) {
			val := spec.Simulation[name]
			field := "impact.simulation." + name
			if !val.IsFormula() {
				if _, ok := ir.ToNumber(val.Literal); !ok {
					if _, isBool := val.Literal.(bool); !isBool {
						c.add(field, ErrInvalidImpact, fmt.Sprintf("literal must be a number or bool, got %T", val.Literal))
					}
				}
				continue
			}
			if f := c.formula(field, val.Formula); f != nil {
				if entry.Simulation == nil {
					entry.Simulation = make(map[string]*formula.Formula)
				}
				entry.Simulation[name] = f
			}
		}

	case ir.ImpactUserAction:
		if len(spec.Simulation) > 0 {
			c.add("impact.simulation", ErrInvalidImpact, "user_action impact must not carry simulation")
		}
		if len(spec.Actions) == 0 {
			c.add("impact.actions", ErrInvalidImpact, "user_action impact needs at least one response")
		}
		for _, key := range slices.Sorted(maps.Keys(spec.Actions)) {
			act := spec.Actions[key]
			field := "impact.actions." + key
			if strings.TrimSpace(key) == "" {
				c.add("impact.actions", ErrInvalidImpact, "response key must be non-empty")
			}
			if strings.TrimSpace(act.Action) == "" {
				c.add(field+".action", ErrInvalidImpact, "action is required")
			}
			for _, param := range slices.Sorted(maps.Keys(act.Params)) {
				src, isFormula, err := formulaParam(act.Params[param])
				if err != nil {
					c.add(field+".params."+param, ErrInvalidImpact, err.Error())
					continue
				}
				if !isFormula {
					continue
				}
				if f := c.formula(field+".params."+param, src); f != nil {
					if entry.ActionParams == nil {
						entry.ActionParams = make(map[string]map[string]*formula.Formula)
					}
					if entry.ActionParams[key] == nil {
						entry.ActionParams[key] = make(map[string]*formula.Formula)
					}
					entry.ActionParams[key][param] = f
				}
			}
		}

	default:
		c.add("impact.type", ErrInvalidImpact,
			fmt.Sprintf("invalid impact type %q: must be none, simulation or user_action", spec.Kind))
	}
}

// formulaParam reports whether a param value is a {"formula": ...} object.
func formulaParam(raw any) (src string, ok bool, err error) {
	m, isMap := raw.(map[string]any)
	if !isMap {
		return "", false, nil
	}
	f, has := m["formula"]
	if !has {
		return "", false, nil
	}
	s, isString := f.(string)
	if !isString || len(m) != 1 {
		return "", false, fmt.Errorf("formula param must be {\"formula\": string}")
	}
	return s, true, nil
}

// ledgerContent checks the posting fields of a ledger message:
//
//	{"description": "...", "amount": -5000 | {"formula": "..."}, "affect_cash": true}
func (c *checker) ledgerContent(content map[string]any, entry *registry.Entry) {
	raw, ok := content["amount"]
	if !ok {
		c.add("content.amount", ErrLedgerAmount, "ledger content requires amount")
	} else if _, isNum := ir.ToNumber(raw); !isNum {
		src, isFormula, err := formulaParam(raw)
		switch {
		case err != nil:
			c.add("content.amount", ErrLedgerAmount, err.Error())
		case !isFormula:
			c.add("content.amount", ErrLedgerAmount, fmt.Sprintf("amount must be a number or formula, got %T", raw))
		default:
			entry.LedgerAmount = c.formula("content.amount", src)
		}
	}

	if v, ok := content["affect_cash"]; ok {
		if _, isBool := v.(bool); !isBool {
			c.add("content.affect_cash", ErrLedgerAmount, fmt.Sprintf("affect_cash must be a bool, got %T", v))
		}
	}
}
