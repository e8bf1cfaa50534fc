// Package interpolate substitutes {name} placeholders in message templates.
//
// Templates are nested maps, slices and strings as decoded from JSON. Only
// string leaves are rewritten; numbers and booleans pass through. The input
// is never mutated.
//
// Substituted values are written in Unicode NFC, so a variable holding
// "e\u0301" renders as "\u00e9". Template text around placeholders is copied
// byte for byte and is not normalized, which keeps already-resolved text
// unchanged.
package interpolate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/podwire/internal/ir"
)

// Mode selects how missing variables are handled.
type Mode int

const (
	// Strict fails on the first missing variable.
	Strict Mode = iota
	// Lenient leaves the literal {name} text for a later pass.
	Lenient
)

// String returns the mode name used in configuration.
func (m Mode) String() string {
	if m == Lenient {
		return "lenient"
	}
	return "strict"
}

// ParseMode converts "strict" or "lenient" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return Strict, nil
	case "lenient":
		return Lenient, nil
	}
	return Strict, fmt.Errorf("invalid interpolation mode %q: must be strict or lenient", s)
}

// ErrMissingVariable is matched by errors.Is for every MissingVariableError.
var ErrMissingVariable = errors.New("missing variable")

// MissingVariableError reports a placeholder with no value in strict mode.
type MissingVariableError struct {
	Name string
	Path string // location in the template, e.g. "body" or "actions[1]"
}

func (e *MissingVariableError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("missing variable %q at %s", e.Name, e.Path)
	}
	return fmt.Sprintf("missing variable %q", e.Name)
}

func (e *MissingVariableError) Unwrap() error { return ErrMissingVariable }

// Interpolate returns a copy of template with placeholders substituted.
func Interpolate(template any, vars ir.Variables, mode Mode) (any, error) {
	return walk(template, vars, mode, "")
}

// Map is Interpolate for the common map-shaped content template.
func Map(template map[string]any, vars ir.Variables, mode Mode) (map[string]any, error) {
	if template == nil {
		return nil, nil
	}
	out, err := walkMap(template, vars, mode, "")
	if err != nil {
		return nil, err
	}
	return out, nil
}

// String substitutes placeholders in a single string.
func String(s string, vars ir.Variables, mode Mode) (string, error) {
	return render(s, vars, mode, "")
}

// Placeholders returns the distinct placeholder names in template, in the
// order they first appear (maps are visited in sorted key order).
func Placeholders(template any) []string {
	seen := map[string]bool{}
	var names []string
	var visit func(v any)
	visit = func(v any) {
		switch val := v.(type) {
		case string:
			scan(val, func(name string) {
				if !seen[name] {
					seen[name] = true
					names = append(names, name)
				}
			})
		case map[string]any:
			for _, k := range ir.Variables(val).SortedKeys() {
				visit(val[k])
			}
		case []any:
			for _, elem := range val {
				visit(elem)
			}
		}
	}
	visit(template)
	return names
}

func walk(v any, vars ir.Variables, mode Mode, path string) (any, error) {
	switch val := v.(type) {
	case string:
		return render(val, vars, mode, path)
	case map[string]any:
		return walkMap(val, vars, mode, path)
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			r, err := render(s, vars, mode, join(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			r, err := walk(elem, vars, mode, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func walkMap(m map[string]any, vars ir.Variables, mode Mode, path string) (map[string]any, error) {
	out := make(map[string]any, len(m))
	// Sorted keys keep the reported missing variable stable.
	for _, k := range ir.Variables(m).SortedKeys() {
		r, err := walk(m[k], vars, mode, join(path, k))
		if err != nil {
			return nil, err
		}
		out[k] = r
	}
	return out, nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// render substitutes placeholders in s. Braces that do not enclose a valid
// name ("{ }", "{1x}", an unmatched "{") are copied through unchanged.
func render(s string, vars ir.Variables, mode Mode, path string) (string, error) {
	if !strings.Contains(s, "{") {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		open := strings.IndexByte(s[i:], '{')
		if open < 0 {
			b.WriteString(s[i:])
			break
		}
		open += i
		b.WriteString(s[i:open])
		end, name, ok := placeholderAt(s, open)
		if !ok {
			b.WriteByte('{')
			i = open + 1
			continue
		}
		val, exists := vars[name]
		switch {
		case exists:
			b.WriteString(norm.NFC.String(ir.FormatValue(val)))
		case mode == Lenient:
			b.WriteString(s[open:end])
		default:
			return "", &MissingVariableError{Name: name, Path: path}
		}
		i = end
	}
	return b.String(), nil
}

// scan calls fn for every placeholder name in s.
func scan(s string, fn func(name string)) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		if end, name, ok := placeholderAt(s, i); ok {
			fn(name)
			i = end - 1
		}
	}
}

// placeholderAt parses "{name}" starting at s[open] == '{'.
// Returns the offset just past '}' and the name.
func placeholderAt(s string, open int) (end int, name string, ok bool) {
	j := open + 1
	if j >= len(s) || !isNameStart(s[j]) {
		return 0, "", false
	}
	for j < len(s) && isNamePart(s[j]) {
		j++
	}
	if j >= len(s) || s[j] != '}' {
		return 0, "", false
	}
	return j + 1, s[open+1 : j], true
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNamePart(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9') || c == '.'
}
