// Package registry holds the immutable snapshot of loaded message definitions.
//
// A Registry is never mutated after New returns. Reload builds a new Registry
// and swaps it into a Holder; evaluations that already hold the old snapshot
// keep using it.
package registry

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/roach88/podwire/internal/condition"
	"github.com/roach88/podwire/internal/formula"
	"github.com/roach88/podwire/internal/ir"
)

// Entry is a validated definition with its pre-compiled condition and
// formulas. Entries are shared between snapshots and must not be modified.
type Entry struct {
	Def       ir.MessageDefinition
	Condition condition.Set

	// Simulation holds the parsed formula for every formula-valued
	// simulation directive.
	Simulation map[string]*formula.Formula

	// LedgerAmount is set when a ledger definition's amount is a formula.
	LedgerAmount *formula.Formula

	// ActionParams holds parsed formulas for user-action params,
	// keyed by response key then param name.
	ActionParams map[string]map[string]*formula.Formula
}

// ID returns the definition id.
func (e *Entry) ID() string { return e.Def.ID }

// Registry is an immutable, indexed set of entries.
type Registry struct {
	entries   []*Entry
	byID      map[string]*Entry
	byTrigger map[ir.TriggerKind][]*Entry
	byEvent   map[string][]*Entry
	hash      string
}

// New builds a registry. The entries slice is copied; its order is the
// evaluation and output order for every pass.
func New(entries []*Entry) (*Registry, error) {
	r := &Registry{
		entries:   slices.Clone(entries),
		byID:      make(map[string]*Entry, len(entries)),
		byTrigger: make(map[ir.TriggerKind][]*Entry),
		byEvent:   make(map[string][]*Entry),
	}

	defs := make([]ir.MessageDefinition, 0, len(entries))
	for _, e := range r.entries {
		if e == nil {
			return nil, fmt.Errorf("registry: nil entry")
		}
		if _, dup := r.byID[e.Def.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate message id %q", e.Def.ID)
		}
		r.byID[e.Def.ID] = e
		defs = append(defs, e.Def)

		r.byTrigger[e.Def.Trigger] = append(r.byTrigger[e.Def.Trigger], e)
		if e.Def.Trigger == ir.TriggerGameEvent {
			et := e.Def.TriggerConfig.EventType
			r.byEvent[et] = append(r.byEvent[et], e)
		}
	}

	hash, err := ir.CatalogHash(defs)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	r.hash = hash
	return r, nil
}

// Empty returns a registry with no entries.
func Empty() *Registry {
	r, _ := New(nil)
	return r
}

// Len returns the number of entries, active or not.
func (r *Registry) Len() int { return len(r.entries) }

// Hash identifies the snapshot contents.
func (r *Registry) Hash() string { return r.hash }

// Get returns the entry for id.
func (r *Registry) Get(id string) (*Entry, bool) {
	e, ok := r.byID[id]
	return e, ok
}

// Entries returns all entries in insertion order.
func (r *Registry) Entries() []*Entry {
	return slices.Clone(r.entries)
}

// Candidates returns the active entries with the given trigger, in
// insertion order.
func (r *Registry) Candidates(trigger ir.TriggerKind) []*Entry {
	return activeOnly(r.byTrigger[trigger])
}

// ByEventType returns the active game_event entries listening for eventType,
// in insertion order.
func (r *Registry) ByEventType(eventType string) []*Entry {
	return activeOnly(r.byEvent[eventType])
}

// EventTypes returns the distinct event types with at least one active entry.
func (r *Registry) EventTypes() []string {
	var types []string
	for et, entries := range r.byEvent {
		if len(activeOnly(entries)) > 0 {
			types = append(types, et)
		}
	}
	slices.Sort(types)
	return types
}

func activeOnly(entries []*Entry) []*Entry {
	var out []*Entry
	for _, e := range entries {
		if e.Def.Active {
			out = append(out, e)
		}
	}
	return out
}

// Holder publishes the current registry snapshot.
// Load and Swap are safe for concurrent use.
type Holder struct {
	current atomic.Pointer[Registry]
}

// NewHolder returns a holder publishing r (or an empty registry when nil).
func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	if r == nil {
		r = Empty()
	}
	h.current.Store(r)
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *Registry {
	return h.current.Load()
}

// Swap publishes next and returns the previous snapshot.
func (h *Holder) Swap(next *Registry) *Registry {
	if next == nil {
		next = Empty()
	}
	return h.current.Swap(next)
}
