package ir

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ImpactKind tags the ImpactSpec variant.
type ImpactKind string

const (
	ImpactNone       ImpactKind = "none"
	ImpactSimulation ImpactKind = "simulation"
	ImpactUserAction ImpactKind = "user_action"
)

// ImpactSpec is the consequence of a message, as a tagged variant.
// Only the field matching Kind is populated:
//   - ImpactNone: neither
//   - ImpactSimulation: Simulation
//   - ImpactUserAction: Actions
type ImpactSpec struct {
	Kind       ImpactKind                 `json:"type"`
	Simulation map[string]ImpactValue     `json:"simulation,omitempty"`
	Actions    map[string]ActionDirective `json:"actions,omitempty"`
}

// ImpactValue is either a literal (number or bool) or a formula.
type ImpactValue struct {
	Literal any    // float64 or bool; nil when Formula is set
	Formula string // restricted arithmetic expression
}

// NumberValue returns a literal numeric ImpactValue.
func NumberValue(f float64) ImpactValue {
	return ImpactValue{Literal: f}
}

// BoolValue returns a literal boolean ImpactValue.
func BoolValue(b bool) ImpactValue {
	return ImpactValue{Literal: b}
}

// FormulaValue returns an ImpactValue evaluated at resolution time.
func FormulaValue(src string) ImpactValue {
	return ImpactValue{Formula: src}
}

// IsFormula reports whether the value is a formula.
func (v ImpactValue) IsFormula() bool {
	return v.Formula != ""
}

// MarshalJSON renders literals as-is and formulas as {"formula": "..."}.
func (v ImpactValue) MarshalJSON() ([]byte, error) {
	if v.IsFormula() {
		return json.Marshal(map[string]string{"formula": v.Formula})
	}
	return json.Marshal(v.Literal)
}

// UnmarshalJSON accepts a number, a bool, or {"formula": "..."}.
func (v *ImpactValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseImpactValue(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ErrEmptyFormula is returned for {"formula": ""}.
var ErrEmptyFormula = errors.New("formula must not be empty")

// ParseImpactValue converts a decoded JSON value into an ImpactValue.
func ParseImpactValue(raw any) (ImpactValue, error) {
	switch val := raw.(type) {
	case float64:
		return NumberValue(val), nil
	case int:
		return NumberValue(float64(val)), nil
	case int64:
		return NumberValue(float64(val)), nil
	case bool:
		return BoolValue(val), nil
	case map[string]any:
		src, ok := val["formula"].(string)
		if !ok || len(val) != 1 {
			return ImpactValue{}, fmt.Errorf("object impact value must be {\"formula\": string}")
		}
		if src == "" {
			return ImpactValue{}, ErrEmptyFormula
		}
		return FormulaValue(src), nil
	default:
		return ImpactValue{}, fmt.Errorf("impact value must be a number, bool or formula, got %T", raw)
	}
}

// ActionDirective is what the simulation applies when a user picks a response.
// Params may contain {var} placeholders and {"formula": ...} objects; both are
// resolved when the message is emitted.
type ActionDirective struct {
	Action string         `json:"action"`
	Label  string         `json:"label,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// ResolvedImpact is an ImpactSpec after formulas and placeholders are resolved.
type ResolvedImpact struct {
	Kind       ImpactKind                 `json:"type"`
	Simulation map[string]any             `json:"simulation,omitempty"`
	Ledger     *LedgerPosting             `json:"ledger,omitempty"`
	Responses  []string                   `json:"responses,omitempty"`
	Actions    map[string]ActionDirective `json:"actions,omitempty"`
}

// LedgerPosting is the single directive produced by a ledger message.
type LedgerPosting struct {
	Description string  `json:"description,omitempty"`
	Amount      float64 `json:"amount"`
	AffectCash  bool    `json:"affect_cash"`
}
