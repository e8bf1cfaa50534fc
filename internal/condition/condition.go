// Package condition evaluates conjunctive numeric conditions against game
// variables.
package condition

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/podwire/internal/ir"
)

// Constraint is one comparison on one field.
type Constraint struct {
	Field     string
	Op        ir.Comparator
	Threshold float64
}

// Set is a compiled ConditionExpr. The zero Set is always true.
// Constraints are ordered by field then comparator so evaluation and
// String() are deterministic.
type Set struct {
	constraints []Constraint
}

// UnknownComparatorError reports a comparator name outside gte/lte/gt/lt/eq.
type UnknownComparatorError struct {
	Field string
	Op    string
}

func (e *UnknownComparatorError) Error() string {
	return fmt.Sprintf("unknown comparator %q on field %q (want gte, lte, gt, lt or eq)", e.Op, e.Field)
}

// Compile validates expr and returns its compiled form.
// Fields and comparators are visited in sorted order, so the reported
// unknown comparator is the same on every run.
func Compile(expr ir.ConditionExpr) (Set, error) {
	var set Set
	for _, field := range slices.Sorted(maps.Keys(expr)) {
		ops := expr[field]
		for _, op := range slices.Sorted(maps.Keys(ops)) {
			if !ir.ValidComparators[op] {
				return Set{}, &UnknownComparatorError{Field: field, Op: string(op)}
			}
			set.constraints = append(set.constraints, Constraint{Field: field, Op: op, Threshold: ops[op]})
		}
	}
	return set, nil
}

// MustCompile is like Compile but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCompile(expr ir.ConditionExpr) Set {
	set, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return set
}

// Evaluate compiles and evaluates expr in one step.
func Evaluate(expr ir.ConditionExpr, vars ir.Variables) (bool, error) {
	set, err := Compile(expr)
	if err != nil {
		return false, err
	}
	return set.Evaluate(vars), nil
}

// Evaluate reports whether every constraint holds.
//
// A constrained field that is absent from vars, or present but not numeric,
// makes the whole set false. Missing data means "not met", never an error.
func (s Set) Evaluate(vars ir.Variables) bool {
	for _, c := range s.constraints {
		v, present, ok := vars.Number(c.Field)
		if !present || !ok {
			return false
		}
		if !compare(c.Op, v, c.Threshold) {
			return false
		}
	}
	return true
}

// Empty reports whether the set has no constraints.
func (s Set) Empty() bool { return len(s.constraints) == 0 }

// Constraints returns a copy of the compiled constraints.
func (s Set) Constraints() []Constraint {
	return slices.Clone(s.constraints)
}

// Fields returns the distinct constrained field names in order.
func (s Set) Fields() []string {
	var fields []string
	for _, c := range s.constraints {
		if len(fields) == 0 || fields[len(fields)-1] != c.Field {
			fields = append(fields, c.Field)
		}
	}
	return fields
}

// String renders the set as "field op threshold" clauses joined by " && ".
func (s Set) String() string {
	if s.Empty() {
		return "true"
	}
	parts := make([]string, len(s.constraints))
	for i, c := range s.constraints {
		parts[i] = fmt.Sprintf("%s %s %s", c.Field, c.Op, ir.FormatValue(c.Threshold))
	}
	return strings.Join(parts, " && ")
}

func compare(op ir.Comparator, v, threshold float64) bool {
	switch op {
	case ir.CmpGTE:
		return v >= threshold
	case ir.CmpLTE:
		return v <= threshold
	case ir.CmpGT:
		return v > threshold
	case ir.CmpLT:
		return v < threshold
	case ir.CmpEQ:
		return v == threshold
	}
	return false
}
