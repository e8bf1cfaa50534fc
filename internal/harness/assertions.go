package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/podwire/internal/ir"
	"github.com/roach88/podwire/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			switch event.Type {
			case EventEmission:
				fmt.Fprintf(&buf, "  [%d] step %d emit %s (%s)\n", i+1, event.Step, event.MessageID, event.ID)
			case EventDrop:
				fmt.Fprintf(&buf, "  [%d] step %d drop %s %s\n", i+1, event.Step, event.MessageID, event.Code)
			case EventResponse, EventResponseError:
				fmt.Fprintf(&buf, "  [%d] step %d %s %s/%s\n", i+1, event.Step, event.Type, event.ID, event.Key)
			}
		}
	}

	return buf.String()
}

// assertEmittedContains checks that the trace has an emission of the
// message whose content contains the expected fields (subset match).
func assertEmittedContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type == EventEmission && event.MessageID == assertion.Message {
			if matchContent(event.Content, assertion.Content) {
				return nil
			}
		}
	}

	return &AssertionError{
		Type:     AssertEmittedContains,
		Expected: fmt.Sprintf("emission of %s with content %v", assertion.Message, assertion.Content),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertEmittedOrder checks that messages were first emitted in the
// specified order. Other emissions may come between them.
func assertEmittedOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type != EventEmission {
			continue
		}
		if positions[event.MessageID] == 0 {
			positions[event.MessageID] = i + 1 // 1-indexed for readability
		}
	}

	for _, id := range assertion.Messages {
		if positions[id] == 0 {
			return &AssertionError{
				Type:     AssertEmittedOrder,
				Expected: fmt.Sprintf("all messages emitted: %v", assertion.Messages),
				Actual:   fmt.Sprintf("missing message: %s", id),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Messages); i++ {
		prev := assertion.Messages[i-1]
		curr := assertion.Messages[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertEmittedOrder,
				Expected: fmt.Sprintf("messages in order: %v", assertion.Messages),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertEmittedCount checks the message was emitted exactly Count times.
func assertEmittedCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventEmission && event.MessageID == assertion.Message {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertEmittedCount,
			Expected: fmt.Sprintf("%d emissions of %s", assertion.Count, assertion.Message),
			Actual:   fmt.Sprintf("%d emissions", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertDropped checks that an emission was dropped with the code, for the
// message when one is given.
func assertDropped(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type != EventDrop || event.Code != assertion.Code {
			continue
		}
		if assertion.Message == "" || event.MessageID == assertion.Message {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertDropped,
		Expected: fmt.Sprintf("drop %s of %q", assertion.Code, assertion.Message),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertFinalState checks that exactly one row of a log table matches
// Where and holds the expected values (subset semantics).
//
// Table and column names are validated against a whitelist pattern since
// identifiers cannot be parameterized.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// Multiple matches make the assertion ambiguous
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	for _, key := range sortedKeys(assertion.Expect) {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

// buildWhereClause constructs a parameterized WHERE clause. Keys are sorted
// for determinism.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML value to a SQL argument.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, float64:
		return val
	case bool:
		// Booleans are stored as 0/1
		if val {
			return 1
		}
		return 0
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares an expected YAML value with a SQLite column
// value, which may come back as a different type.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch exp := expected.(type) {
	case string:
		switch act := actual.(type) {
		case string:
			return exp == act
		case []byte:
			return exp == string(act)
		}
		return false
	case bool:
		if act, ok := actual.(bool); ok {
			return exp == act
		}
		if act, ok := actual.(int64); ok {
			return exp == (act != 0)
		}
		return false
	}

	if e, ok := ir.ToNumber(expected); ok {
		a, ok := ir.ToNumber(actual)
		return ok && e == a
	}
	return reflect.DeepEqual(expected, actual)
}

// matchContent checks if actual content contains all expected fields
// (subset match). Numbers compare by value whatever their Go type.
func matchContent(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values, recursing into maps.
func valuesEqual(actual, expected any) bool {
	if a, ok := ir.ToNumber(actual); ok {
		e, ok := ir.ToNumber(expected)
		return ok && a == e
	}
	am, aok := actual.(map[string]any)
	em, eok := expected.(map[string]any)
	if aok && eok {
		return len(am) == len(em) && matchContent(am, em)
	}
	return reflect.DeepEqual(actual, expected)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEmittedContains:
			err = assertEmittedContains(result.Trace, assertion)
		case AssertEmittedOrder:
			err = assertEmittedOrder(result.Trace, assertion)
		case AssertEmittedCount:
			err = assertEmittedCount(result.Trace, assertion)
		case AssertDropped:
			err = assertDropped(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
