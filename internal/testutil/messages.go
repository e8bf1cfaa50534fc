package testutil

import "github.com/roach88/podwire/internal/ir"

// Fixture definitions shared by package tests. Each call returns a fresh
// value so tests may modify the result.

// DrawdownEmail is an email that asks the player to respond to a pod
// breaching its drawdown limit.
func DrawdownEmail() ir.MessageDefinition {
	return ir.MessageDefinition{
		ID:      "email-drawdown",
		Channel: ir.ChannelEmail,
		Trigger: ir.TriggerGameEvent,
		TriggerConfig: ir.TriggerConfig{
			EventType: "pod_drawdown",
			Conditions: ir.ConditionExpr{
				"drawdown_pct": {ir.CmpGTE: 10},
			},
		},
		Features: ir.Features{RequiresResponse: true},
		Impact: ir.ImpactSpec{
			Kind: ir.ImpactUserAction,
			Actions: map[string]ir.ActionDirective{
				"cut": {
					Action: "reduce_allocation",
					Label:  "Cut {pod_name} by half",
					Params: map[string]any{
						"pod":    "{pod_name}",
						"amount": map[string]any{"formula": "allocation / 2"},
					},
				},
				"hold": {
					Action: "no_op",
					Label:  "Stay the course",
				},
			},
		},
		Content: map[string]any{
			"from":    "Risk Desk",
			"subject": "Drawdown Alert: {pod_name}",
			"body":    "{pod_name} is down {drawdown_pct}% this month.",
		},
		Active: true,
	}
}

// LeverageNews is a newswire alert gated on a leverage band.
func LeverageNews() ir.MessageDefinition {
	return ir.MessageDefinition{
		ID:      "news-leverage",
		Channel: ir.ChannelNewswire,
		Trigger: ir.TriggerGameEvent,
		TriggerConfig: ir.TriggerConfig{
			EventType: "pod_drawdown",
			Conditions: ir.ConditionExpr{
				"leverage": {ir.CmpGTE: 8, ir.CmpLT: 10},
			},
		},
		Impact: ir.ImpactSpec{
			Kind: ir.ImpactSimulation,
			Simulation: map[string]ir.ImpactValue{
				"morale_delta": ir.NumberValue(-5),
				"risk_flag":    ir.BoolValue(true),
				"fee":          ir.FormulaValue("leverage * 1000"),
			},
		},
		Content: map[string]any{
			"type":     "alert",
			"headline": "{pod_name} running {leverage}x leverage",
		},
		Active: true,
	}
}

// SalaryLedger posts a monthly salary charge computed from the payroll.
func SalaryLedger() ir.MessageDefinition {
	return ir.MessageDefinition{
		ID:      "ledger-salaries",
		Channel: ir.ChannelLedger,
		Trigger: ir.TriggerGameEvent,
		TriggerConfig: ir.TriggerConfig{
			EventType: "month_end",
		},
		Impact: ir.ImpactSpec{Kind: ir.ImpactNone},
		Content: map[string]any{
			"description": "Salaries for {month}",
			"amount":      map[string]any{"formula": "-salaries / 12"},
			"affect_cash": true,
		},
		Active: true,
	}
}

// Flavor is a random newswire message with the given id and probability.
func Flavor(id string, probability float64) ir.MessageDefinition {
	return ir.MessageDefinition{
		ID:      id,
		Channel: ir.ChannelNewswire,
		Trigger: ir.TriggerRandom,
		TriggerConfig: ir.TriggerConfig{
			Probability: probability,
		},
		Impact: ir.ImpactSpec{Kind: ir.ImpactNone},
		Content: map[string]any{
			"type": "flavor",
			"text": "The coffee machine is broken. Morale -10.",
		},
		Active: true,
	}
}

// Catalog returns one of each fixture, in a stable order.
func Catalog() []ir.MessageDefinition {
	return []ir.MessageDefinition{
		Flavor("news-flavor-coffee", 0.05),
		LeverageNews(),
		DrawdownEmail(),
		SalaryLedger(),
	}
}
