package engine

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/podwire/internal/ir"
)

// Ledger tracks user-action emissions awaiting a response.
//
// Each entry moves unresolved → resolved exactly once. The transition is a
// compare-and-swap on the chosen key, so two concurrent Respond calls for
// the same emission cannot both succeed. Entries stay after resolution
// until the caller expires them.
//
// Thread-safe: all methods may be called concurrently.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*ledgerEntry
}

type ledgerEntry struct {
	// Immutable after Register.
	emissionID string
	messageID  string
	seq        int64
	responses  []string
	actions    map[string]ir.ActionDirective

	// nil while unresolved.
	chosen atomic.Pointer[string]
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*ledgerEntry)}
}

// Register adds an unresolved entry for a user-action emission.
func (l *Ledger) Register(msg ir.EmittedMessage) error {
	if !msg.RequiresResponse() {
		return fmt.Errorf("ledger: emission %s has impact %s, not user_action", msg.ID, msg.Impact.Kind)
	}
	return l.insert(ir.PendingResponse{
		EmissionID: msg.ID,
		MessageID:  msg.MessageID,
		Seq:        msg.Seq,
		Responses:  msg.Impact.Responses,
		Actions:    msg.Impact.Actions,
		State:      ir.StateUnresolved,
	})
}

// Restore re-inserts an entry read back from the emission log, keeping its
// state and chosen key.
func (l *Ledger) Restore(p ir.PendingResponse) error {
	if p.State == ir.StateResolved && p.Chosen == "" {
		return fmt.Errorf("ledger: resolved entry %s has no chosen key", p.EmissionID)
	}
	return l.insert(p)
}

func (l *Ledger) insert(p ir.PendingResponse) error {
	e := &ledgerEntry{
		emissionID: p.EmissionID,
		messageID:  p.MessageID,
		seq:        p.Seq,
		responses:  slices.Clone(p.Responses),
		actions:    maps.Clone(p.Actions),
	}
	if len(e.responses) == 0 {
		e.responses = slices.Sorted(maps.Keys(e.actions))
	}
	if p.State == ir.StateResolved {
		chosen := p.Chosen
		e.chosen.Store(&chosen)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[p.EmissionID]; exists {
		return fmt.Errorf("ledger: emission %s already registered", p.EmissionID)
	}
	l.entries[p.EmissionID] = e
	return nil
}

// Respond resolves an entry with key and returns the directive for it.
//
// Fails with a *ResponseError when the emission is unknown, already
// resolved, or key is not one of its responses. A failed call changes
// nothing.
func (l *Ledger) Respond(emissionID, key string) (ir.ActionDirective, error) {
	l.mu.RLock()
	e, ok := l.entries[emissionID]
	l.mu.RUnlock()
	if !ok {
		return ir.ActionDirective{}, &ResponseError{Code: ErrCodeUnknownMessage, EmissionID: emissionID, Key: key}
	}

	if e.chosen.Load() != nil {
		return ir.ActionDirective{}, &ResponseError{Code: ErrCodeAlreadyResolved, EmissionID: emissionID, Key: key}
	}
	act, valid := e.actions[key]
	if !valid {
		return ir.ActionDirective{}, &ResponseError{Code: ErrCodeInvalidKey, EmissionID: emissionID, Key: key}
	}

	chosen := key
	if !e.chosen.CompareAndSwap(nil, &chosen) {
		return ir.ActionDirective{}, &ResponseError{Code: ErrCodeAlreadyResolved, EmissionID: emissionID, Key: key}
	}
	return act, nil
}

// Expire removes an entry in any state. Returns false if it was unknown.
func (l *Ledger) Expire(emissionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[emissionID]; !ok {
		return false
	}
	delete(l.entries, emissionID)
	return true
}

// Get returns a snapshot of one entry.
func (l *Ledger) Get(emissionID string) (ir.PendingResponse, bool) {
	l.mu.RLock()
	e, ok := l.entries[emissionID]
	l.mu.RUnlock()
	if !ok {
		return ir.PendingResponse{}, false
	}
	return e.snapshot(), true
}

// Pending returns the unresolved entries ordered by Seq.
func (l *Ledger) Pending() []ir.PendingResponse {
	return l.collect(func(e *ledgerEntry) bool { return e.chosen.Load() == nil })
}

// All returns every entry ordered by Seq.
func (l *Ledger) All() []ir.PendingResponse {
	return l.collect(func(*ledgerEntry) bool { return true })
}

// Len returns the number of entries in any state.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Ledger) collect(keep func(*ledgerEntry) bool) []ir.PendingResponse {
	l.mu.RLock()
	var out []ir.PendingResponse
	for _, e := range l.entries {
		if keep(e) {
			out = append(out, e.snapshot())
		}
	}
	l.mu.RUnlock()

	slices.SortFunc(out, func(a, b ir.PendingResponse) int {
		if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
			return c
		}
		return strings.Compare(a.EmissionID, b.EmissionID)
	})
	return out
}

func (e *ledgerEntry) snapshot() ir.PendingResponse {
	p := ir.PendingResponse{
		EmissionID: e.emissionID,
		MessageID:  e.messageID,
		Seq:        e.seq,
		Responses:  slices.Clone(e.responses),
		Actions:    maps.Clone(e.actions),
		State:      ir.StateUnresolved,
	}
	if c := e.chosen.Load(); c != nil {
		p.State = ir.StateResolved
		p.Chosen = *c
	}
	return p
}
