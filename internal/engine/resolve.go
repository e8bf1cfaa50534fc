package engine

import (
	"maps"
	"slices"

	"github.com/roach88/podwire/internal/formula"
	"github.com/roach88/podwire/internal/interpolate"
	"github.com/roach88/podwire/internal/ir"
	"github.com/roach88/podwire/internal/registry"
)

// Resolve turns an entry's impact into a directive for the simulation.
//
//   - none: no directive, except ledger messages which resolve to one posting
//   - simulation: literals pass through, formulas are evaluated against vars
//   - user_action: the sorted response keys and their directives, with
//     params interpolated and formula params evaluated
//
// Errors are *EvaluationError.
func Resolve(entry *registry.Entry, vars ir.Variables, mode interpolate.Mode) (ir.ResolvedImpact, error) {
	def := entry.Def
	out := ir.ResolvedImpact{Kind: def.Impact.Kind}

	switch def.Impact.Kind {
	case ir.ImpactNone:
		if def.Channel == ir.ChannelLedger {
			posting, err := resolveLedger(entry, vars, mode)
			if err != nil {
				return ir.ResolvedImpact{}, err
			}
			out.Ledger = posting
		}

	case ir.ImpactSimulation:
		out.Simulation = make(map[string]any, len(def.Impact.Simulation))
		for _, name := range slices.Sorted(maps.Keys(def.Impact.Simulation)) {
			val := def.Impact.Simulation[name]
			if !val.IsFormula() {
				if f, ok := ir.ToNumber(val.Literal); ok {
					out.Simulation[name] = f
				} else {
					out.Simulation[name] = val.Literal
				}
				continue
			}
			f, err := evalFormula(entry.Simulation[name], val.Formula, vars)
			if err != nil {
				return ir.ResolvedImpact{}, newEvaluationError(def.ID, err)
			}
			out.Simulation[name] = f
		}

	case ir.ImpactUserAction:
		out.Responses = slices.Sorted(maps.Keys(def.Impact.Actions))
		out.Actions = make(map[string]ir.ActionDirective, len(out.Responses))
		for _, key := range out.Responses {
			act, err := resolveAction(entry, key, vars, mode)
			if err != nil {
				return ir.ResolvedImpact{}, newEvaluationError(def.ID, err)
			}
			out.Actions[key] = act
		}
	}

	return out, nil
}

func resolveAction(entry *registry.Entry, key string, vars ir.Variables, mode interpolate.Mode) (ir.ActionDirective, error) {
	src := entry.Def.Impact.Actions[key]
	label, err := interpolate.String(src.Label, vars, mode)
	if err != nil {
		return ir.ActionDirective{}, err
	}
	act := ir.ActionDirective{Action: src.Action, Label: label}
	if len(src.Params) == 0 {
		return act, nil
	}

	act.Params = make(map[string]any, len(src.Params))
	for _, name := range slices.Sorted(maps.Keys(src.Params)) {
		raw := src.Params[name]
		if expr, ok := formulaSource(raw); ok {
			var parsed *formula.Formula
			if entry.ActionParams != nil {
				parsed = entry.ActionParams[key][name]
			}
			f, err := evalFormula(parsed, expr, vars)
			if err != nil {
				return ir.ActionDirective{}, err
			}
			act.Params[name] = f
			continue
		}
		v, err := interpolate.Interpolate(raw, vars, mode)
		if err != nil {
			return ir.ActionDirective{}, err
		}
		act.Params[name] = v
	}
	return act, nil
}

func resolveLedger(entry *registry.Entry, vars ir.Variables, mode interpolate.Mode) (*ir.LedgerPosting, error) {
	content := entry.Def.Content
	posting := &ir.LedgerPosting{AffectCash: true}

	raw := content["amount"]
	if expr, ok := formulaSource(raw); ok {
		f, err := evalFormula(entry.LedgerAmount, expr, vars)
		if err != nil {
			return nil, newEvaluationError(entry.Def.ID, err)
		}
		posting.Amount = f
	} else if f, ok := ir.ToNumber(raw); ok {
		posting.Amount = f
	}

	if b, ok := content["affect_cash"].(bool); ok {
		posting.AffectCash = b
	}
	if desc, ok := content["description"].(string); ok {
		s, err := interpolate.String(desc, vars, mode)
		if err != nil {
			return nil, newEvaluationError(entry.Def.ID, err)
		}
		posting.Description = s
	}
	return posting, nil
}

// evalFormula evaluates the pre-parsed formula, parsing src when the entry
// was built without the compiler.
func evalFormula(parsed *formula.Formula, src string, vars ir.Variables) (float64, error) {
	if parsed == nil {
		var err error
		parsed, err = formula.Parse(src)
		if err != nil {
			return 0, err
		}
	}
	return parsed.Eval(vars)
}

// formulaSource returns the expression of a {"formula": "..."} value.
func formulaSource(raw any) (string, bool) {
	m, ok := raw.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	s, ok := m["formula"].(string)
	return s, ok
}
