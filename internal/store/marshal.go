package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/podwire/internal/ir"
)

// marshalJSON converts v to JSON TEXT for storage.
// HTML escaping is disabled so message text is stored as written.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

func marshalContent(content map[string]any) (string, error) {
	if content == nil {
		return "{}", nil
	}
	data, err := marshalJSON(content)
	if err != nil {
		return "", fmt.Errorf("marshal content: %w", err)
	}
	return data, nil
}

func marshalImpact(impact ir.ResolvedImpact) (string, error) {
	data, err := marshalJSON(impact)
	if err != nil {
		return "", fmt.Errorf("marshal impact: %w", err)
	}
	return data, nil
}

func unmarshalContent(data string) (map[string]any, error) {
	content := map[string]any{}
	if data == "" || data == "{}" {
		return content, nil
	}
	if err := json.Unmarshal([]byte(data), &content); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}
	return content, nil
}

func unmarshalImpact(data string) (ir.ResolvedImpact, error) {
	var impact ir.ResolvedImpact
	if err := json.Unmarshal([]byte(data), &impact); err != nil {
		return ir.ResolvedImpact{}, fmt.Errorf("unmarshal impact: %w", err)
	}
	return impact, nil
}
