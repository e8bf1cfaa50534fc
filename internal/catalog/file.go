package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/roach88/podwire/internal/compiler"
)

// Errors returned by File operations.
var (
	ErrNotFound     = errors.New("message not found")
	ErrExists       = errors.New("message id already exists")
	ErrMissingField = errors.New("missing required field")
	ErrIDChange     = errors.New("message id cannot be changed")
)

// RequiredFields must be present when a message is created.
var RequiredFields = []string{"channel", "creation_trigger", "features", "impact", "content"}

// ValidationError reports that an edit would leave an invalid definition.
// The edit is not applied.
type ValidationError struct {
	ID     string
	Errors []compiler.ConfigError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("message %s is invalid: %v", e.ID, e.Errors[0])
	}
	return fmt.Sprintf("message %s is invalid: %v (and %d more)", e.ID, e.Errors[0], len(e.Errors)-1)
}

// File is a messages.json catalog opened for editing. Messages are kept as
// raw JSON objects so fields the engine does not know survive a round trip.
//
// A File is not safe for concurrent use.
type File struct {
	path     string
	messages []map[string]any
}

// OpenFile reads a messages.json catalog. A missing file opens as an empty
// catalog and is created by Save.
func OpenFile(path string) (*File, error) {
	if filepath.Ext(path) != ".json" {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: "only .json catalogs can be edited", Path: path}
	}

	f := &File{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeReadFailed, Message: err.Error(), Path: path}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f.messages); err != nil {
		return nil, &LoadError{Code: ErrCodeReadFailed, Message: fmt.Sprintf("decode catalog: %v", err), Path: path}
	}
	return f, nil
}

// Path returns the catalog file path.
func (f *File) Path() string { return f.path }

// Len returns the number of messages, active or not.
func (f *File) Len() int { return len(f.messages) }

// List returns shallow copies of all messages in file order.
func (f *File) List() []map[string]any {
	out := make([]map[string]any, len(f.messages))
	for i, m := range f.messages {
		out[i] = maps.Clone(m)
	}
	return out
}

// Get returns a shallow copy of the message with id.
func (f *File) Get(id string) (map[string]any, bool) {
	i := f.index(id)
	if i < 0 {
		return nil, false
	}
	return maps.Clone(f.messages[i]), true
}

// Create adds a message and returns its id.
//
// A missing id defaults to "<channel>-<n>" where n is the catalog size
// after insertion; a missing active flag defaults to true.
func (f *File) Create(msg map[string]any) (string, error) {
	for _, field := range RequiredFields {
		if _, ok := msg[field]; !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingField, field)
		}
	}

	m := maps.Clone(msg)
	id, _ := m["id"].(string)
	if id == "" {
		id = fmt.Sprintf("%v-%d", m["channel"], len(f.messages)+1)
		m["id"] = id
	}
	if f.index(id) >= 0 {
		return "", fmt.Errorf("%w: %s", ErrExists, id)
	}
	if _, ok := m["active"]; !ok {
		m["active"] = true
	}

	next := append(slices.Clone(f.messages), m)
	if err := check(next, id); err != nil {
		return "", err
	}
	f.messages = next
	return id, nil
}

// Update merges patch into the message with id. Top-level keys in patch
// replace the stored ones; nested objects are replaced, not merged.
func (f *File) Update(id string, patch map[string]any) error {
	i := f.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if newID, ok := patch["id"]; ok && newID != id {
		return fmt.Errorf("%w: %s", ErrIDChange, id)
	}

	m := maps.Clone(f.messages[i])
	maps.Copy(m, patch)

	next := slices.Clone(f.messages)
	next[i] = m
	if err := check(next, id); err != nil {
		return err
	}
	f.messages = next
	return nil
}

// Delete soft-deletes the message with id by setting active to false.
// The definition stays in the file and can be reactivated by Update.
func (f *File) Delete(id string) error {
	return f.Update(id, map[string]any{"active": false})
}

// Save writes the catalog as indented JSON with non-ASCII text kept as is.
// The file is replaced atomically.
func (f *File) Save() error {
	data, err := Encode(f.messages)
	if err != nil {
		return &LoadError{Code: ErrCodeWrite, Message: err.Error(), Path: f.path}
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".messages-*.json")
	if err != nil {
		return &LoadError{Code: ErrCodeWrite, Message: err.Error(), Path: f.path}
	}
	defer os.Remove(tmp.Name()) // No-op after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &LoadError{Code: ErrCodeWrite, Message: err.Error(), Path: f.path}
	}
	if err := tmp.Close(); err != nil {
		return &LoadError{Code: ErrCodeWrite, Message: err.Error(), Path: f.path}
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return &LoadError{Code: ErrCodeWrite, Message: err.Error(), Path: f.path}
	}
	return nil
}

// Encode renders messages the way Save writes them.
func Encode(messages []map[string]any) ([]byte, error) {
	if messages == nil {
		messages = []map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(messages); err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *File) index(id string) int {
	return slices.IndexFunc(f.messages, func(m map[string]any) bool {
		s, _ := m["id"].(string)
		return s == id
	})
}

// check compiles messages and fails if the definition with id, or the
// catalog as a whole, is invalid. Pre-existing problems in other
// definitions do not block the edit.
func check(messages []map[string]any, id string) error {
	data, err := Encode(messages)
	if err != nil {
		return err
	}

	defs, errs := compiler.CompileFile("messages.json", data)
	_, loadErrs := compiler.LoadDefinitions(defs)
	errs = append(errs, loadErrs...)

	var relevant []compiler.ConfigError
	for _, e := range errs {
		if e.DefinitionID == id || e.DefinitionID == "" {
			relevant = append(relevant, e)
		}
	}
	if len(relevant) > 0 {
		return &ValidationError{ID: id, Errors: relevant}
	}
	return nil
}
