package formula

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/podwire/internal/ir"
)

func TestEvaluateMonthlySalaries(t *testing.T) {
	got, err := Evaluate("total_salaries / 12", ir.Variables{"total_salaries": 1200})
	require.NoError(t, err)
	assert.Equal(t, 100.0, got)
}

func TestEvaluatePrecedence(t *testing.T) {
	vars := ir.Variables{"a": 2.0, "b": 3.0, "c": 4.0}
	tests := []struct {
		src  string
		want float64
	}{
		{"a + b * c", 14},
		{"(a + b) * c", 20},
		{"a - b - c", -5},   // left associative
		{"c / a / a", 1},    // left associative
		{"-a * b", -6},      // unary binds tighter than *
		{"- -a", 2},         // nested unary
		{"+a", 2},           // unary plus
		{"a * -b", -6},      // unary after binary operator
		{"1.5e2 + .5", 150.5},
		{"  a*b  ", 6},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := Evaluate(tt.src, vars)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEvaluateDivisionByZero(t *testing.T) {
	_, err := Evaluate("x / y", ir.Variables{"x": 1, "y": 0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArithmetic))

	var arith *ArithmeticError
	assert.ErrorAs(t, err, &arith)
}

func TestEvaluateUnknownVariable(t *testing.T) {
	_, err := Evaluate("nav * leverage", ir.Variables{"nav": 100})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownVariable)

	var varErr *VariableError
	require.ErrorAs(t, err, &varErr)
	assert.Equal(t, "leverage", varErr.Name)
}

func TestEvaluateNonNumericVariable(t *testing.T) {
	_, err := Evaluate("pod_name + 1", ir.Variables{"pod_name": "Alpha Pod"})
	assert.ErrorIs(t, err, ErrNotNumeric)
}

func TestParseSyntaxErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"1 +",
		"(a + b",
		"a b",
		"max(a, b)",
		"a = 1",
		"a ^ 2",
		".",
		")",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestFormulaVariables(t *testing.T) {
	f := MustParse("(pnl - fees) / nav + pnl * pod.leverage")
	assert.Equal(t, []string{"pnl", "fees", "nav", "pod.leverage"}, f.Variables())
	assert.Equal(t, "(pnl - fees) / nav + pnl * pod.leverage", f.String())
}

func TestFormulaReusable(t *testing.T) {
	f := MustParse("x * 2")

	a, err := f.Eval(ir.Variables{"x": 1})
	require.NoError(t, err)
	b, err := f.Eval(ir.Variables{"x": 21})
	require.NoError(t, err)

	assert.Equal(t, 2.0, a)
	assert.Equal(t, 42.0, b)
}

func TestParseTree(t *testing.T) {
	f := MustParse("a - b * 2")
	assert.Equal(t, Binary{
		Op:   '-',
		Left: Ident{Name: "a"},
		Right: Binary{
			Op:    '*',
			Left:  Ident{Name: "b"},
			Right: Number{Value: 2},
		},
	}, f.Root())
}
