package compiler

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/roach88/podwire/internal/ir"
)

const schemaFilename = "schema.cue"

//go:embed schema.cue
var schemaSource string

// wireMessage is the catalog shape of a definition. Pointer fields
// distinguish "absent" from the zero value so defaults can be applied.
type wireMessage struct {
	ID            string            `json:"id"`
	Channel       string            `json:"channel"`
	Trigger       string            `json:"creation_trigger"`
	TriggerConfig wireTriggerConfig `json:"creation_trigger_config"`
	Features      ir.Features       `json:"features"`
	Impact        wireImpact        `json:"impact"`
	Content       map[string]any    `json:"content"`
	Active        *bool             `json:"active"`
}

type wireTriggerConfig struct {
	Probability *float64                      `json:"probability"`
	EventType   string                        `json:"event_type"`
	Conditions  map[string]map[string]float64 `json:"conditions"`
}

type wireImpact struct {
	Type       string                        `json:"type"`
	Simulation map[string]any                `json:"simulation"`
	Actions    map[string]ir.ActionDirective `json:"actions"`
}

// CompileFile decodes a catalog file. JSON files hold a list of messages;
// CUE files hold either a list or a "message" struct keyed by id:
//
//	message: "email-drawdown": {
//		channel:          "email"
//		creation_trigger: "game_event"
//		...
//	}
func CompileFile(filename string, data []byte) ([]ir.MessageDefinition, []ConfigError) {
	ctx := cuecontext.New()

	var v cue.Value
	switch filepath.Ext(filename) {
	case ".json":
		expr, err := cuejson.Extract(filename, data)
		if err != nil {
			return nil, formatCUEError(err, "", "catalog")
		}
		v = ctx.BuildExpr(expr)
	case ".cue":
		v = ctx.CompileBytes(data, cue.Filename(filename))
	default:
		return nil, []ConfigError{{
			Field:   "catalog",
			Code:    ErrGeneral,
			Message: fmt.Sprintf("unsupported catalog file %q (want .json or .cue)", filename),
		}}
	}
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err, "", "catalog")
	}
	return CompileCatalog(v)
}

// CompileCatalog decodes every message in v, applying catalog defaults.
// Entries that fail to decode are reported and skipped.
func CompileCatalog(v cue.Value) ([]ir.MessageDefinition, []ConfigError) {
	schema, err := compileSchema(v.Context())
	if err != nil {
		return nil, []ConfigError{{Field: "schema", Code: ErrGeneral, Message: err.Error()}}
	}

	var (
		defs []ir.MessageDefinition
		errs []ConfigError
	)

	switch v.IncompleteKind() {
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err, "", "catalog")
		}
		for i := 0; iter.Next(); i++ {
			def, defErrs := compileMessage(schema, iter.Value())
			if len(defErrs) > 0 {
				errs = append(errs, defErrs...)
				continue
			}
			if def.ID == "" {
				def.ID = fmt.Sprintf("%s-%d", def.Channel, i+1)
			}
			defs = append(defs, def)
		}

	case cue.StructKind:
		msgs := v.LookupPath(cue.ParsePath("message"))
		if !msgs.Exists() {
			return nil, []ConfigError{{
				Field:   "message",
				Code:    ErrGeneral,
				Message: "catalog struct must have a message field",
				Pos:     v.Pos(),
			}}
		}
		iter, err := msgs.Fields()
		if err != nil {
			return nil, formatCUEError(err, "", "message")
		}
		for iter.Next() {
			label := iter.Label()
			def, defErrs := compileMessage(schema, iter.Value())
			if len(defErrs) > 0 {
				for i := range defErrs {
					if defErrs[i].DefinitionID == "" {
						defErrs[i].DefinitionID = label
					}
				}
				errs = append(errs, defErrs...)
				continue
			}
			if def.ID == "" {
				def.ID = label
			} else if def.ID != label {
				errs = append(errs, ConfigError{
					DefinitionID: label,
					Field:        "id",
					Code:         ErrIDEmpty,
					Message:      fmt.Sprintf("id %q does not match label %q", def.ID, label),
					Pos:          iter.Value().Pos(),
				})
				continue
			}
			defs = append(defs, def)
		}

	default:
		return nil, []ConfigError{{
			Field:   "catalog",
			Code:    ErrGeneral,
			Message: fmt.Sprintf("catalog must be a list or struct, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}}
	}

	return defs, errs
}

// CompileMessage decodes one catalog entry. A missing id is left empty;
// CompileCatalog assigns the default.
func CompileMessage(v cue.Value) (ir.MessageDefinition, []ConfigError) {
	schema, err := compileSchema(v.Context())
	if err != nil {
		return ir.MessageDefinition{}, []ConfigError{{Field: "schema", Code: ErrGeneral, Message: err.Error()}}
	}
	return compileMessage(schema, v)
}

func compileSchema(ctx *cue.Context) (cue.Value, error) {
	s := ctx.CompileString(schemaSource, cue.Filename(schemaFilename))
	if err := s.Err(); err != nil {
		return cue.Value{}, err
	}
	return s.LookupPath(cue.ParsePath("#Message")), nil
}

func compileMessage(schema, v cue.Value) (ir.MessageDefinition, []ConfigError) {
	if err := v.Err(); err != nil {
		return ir.MessageDefinition{}, formatCUEError(err, "", "message")
	}

	u := schema.Unify(v)
	if err := u.Validate(cue.Concrete(true)); err != nil {
		return ir.MessageDefinition{}, formatCUEError(err, peekID(v), "message")
	}

	data, err := u.MarshalJSON()
	if err != nil {
		return ir.MessageDefinition{}, formatCUEError(err, peekID(v), "message")
	}
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return ir.MessageDefinition{}, []ConfigError{{
			DefinitionID: peekID(v),
			Field:        "message",
			Code:         ErrSchema,
			Message:      err.Error(),
			Pos:          v.Pos(),
		}}
	}

	def, errs := fromWire(w)
	return def, withPos(errs, v.Pos())
}

// peekID returns the id field if it is a concrete string.
func peekID(v cue.Value) string {
	id, err := v.LookupPath(cue.ParsePath("id")).String()
	if err != nil {
		return ""
	}
	return id
}

// fromWire applies catalog defaults:
//   - active defaults to true
//   - random triggers default to probability ir.DefaultProbability
//   - a missing impact type means none
func fromWire(w wireMessage) (ir.MessageDefinition, []ConfigError) {
	def := ir.MessageDefinition{
		ID:       w.ID,
		Channel:  ir.Channel(w.Channel),
		Trigger:  ir.TriggerKind(w.Trigger),
		Features: w.Features,
		Content:  w.Content,
		Active:   true,
		TriggerConfig: ir.TriggerConfig{
			EventType: w.TriggerConfig.EventType,
		},
		Impact: ir.ImpactSpec{
			Kind:    ir.ImpactKind(w.Impact.Type),
			Actions: w.Impact.Actions,
		},
	}
	if w.Active != nil {
		def.Active = *w.Active
	}
	if def.Impact.Kind == "" {
		def.Impact.Kind = ir.ImpactNone
	}

	switch {
	case w.TriggerConfig.Probability != nil:
		def.TriggerConfig.Probability = *w.TriggerConfig.Probability
	case def.Trigger == ir.TriggerRandom:
		def.TriggerConfig.Probability = ir.DefaultProbability
	}

	if len(w.TriggerConfig.Conditions) > 0 {
		def.TriggerConfig.Conditions = make(ir.ConditionExpr, len(w.TriggerConfig.Conditions))
		for field, ops := range w.TriggerConfig.Conditions {
			m := make(map[ir.Comparator]float64, len(ops))
			for op, threshold := range ops {
				m[ir.Comparator(op)] = threshold
			}
			def.TriggerConfig.Conditions[field] = m
		}
	}

	var errs []ConfigError
	if len(w.Impact.Simulation) > 0 {
		def.Impact.Simulation = make(map[string]ir.ImpactValue, len(w.Impact.Simulation))
		for name, raw := range w.Impact.Simulation {
			val, err := ir.ParseImpactValue(raw)
			if err != nil {
				code := ErrInvalidImpact
				if errors.Is(err, ir.ErrEmptyFormula) {
					code = ErrInvalidFormula
				}
				errs = append(errs, ConfigError{
					DefinitionID: def.ID,
					Field:        "impact.simulation." + name,
					Code:         code,
					Message:      err.Error(),
				})
				continue
			}
			def.Impact.Simulation[name] = val
		}
	}
	return def, errs
}
