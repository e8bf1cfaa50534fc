package engine

import "sync"

// DefaultGuardWindow is the number of recent ticks the firing guard remembers.
const DefaultGuardWindow = 64

// FiringGuard tracks which definitions were sampled on each tick so a
// definition fires at most once per logical tick, however many times Tick is
// called with that tick.
//
// Only the newest Window ticks are remembered. A tick at or below
// newest-Window can no longer be checked and is rejected as stale.
//
// Thread-safe: Can be called concurrently.
type FiringGuard struct {
	mu      sync.Mutex
	window  int64
	newest  int64
	started bool
	history map[int64]map[string]bool // map[tick]map[message_id]bool
}

// NewFiringGuard creates a guard remembering window ticks (at least 1).
func NewFiringGuard(window int) *FiringGuard {
	if window < 1 {
		window = 1
	}
	return &FiringGuard{
		window:  int64(window),
		history: make(map[int64]map[string]bool),
	}
}

// Admit reports whether tick is inside the window, advancing the window
// when tick is newer than any seen before.
func (g *FiringGuard) Admit(tick int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started || tick > g.newest {
		g.newest = tick
		g.started = true
		g.prune()
		return true
	}
	return tick > g.newest-g.window
}

// Claim records that messageID was sampled on tick.
// Returns false if it was already claimed for that tick.
func (g *FiringGuard) Claim(tick int64, messageID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Initialize tick history if needed
	if g.history[tick] == nil {
		g.history[tick] = make(map[string]bool)
	}
	if g.history[tick][messageID] {
		return false
	}
	g.history[tick][messageID] = true
	return true
}

// prune drops ticks that fell out of the window. Caller holds mu.
func (g *FiringGuard) prune() {
	for tick := range g.history {
		if tick <= g.newest-g.window {
			delete(g.history, tick)
		}
	}
}

// Newest returns the newest admitted tick.
func (g *FiringGuard) Newest() (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.newest, g.started
}

// HistorySize returns the number of ticks with tracked history.
//
// Used for testing and introspection.
func (g *FiringGuard) HistorySize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.history)
}
