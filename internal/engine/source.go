package engine

import (
	"math/rand/v2"
	"sync"

	"github.com/roach88/podwire/internal/ir"
)

// Source supplies the uniform samples for the random pass.
// Sample must return a value in [0,1).
type Source interface {
	Sample(tick int64, messageID string) float64
}

// HashSource derives each sample from (Seed, tick, messageID).
//
// Samples do not depend on call order or on which other definitions are
// loaded, so a catalog edit never changes another definition's draws.
// Stateless and safe for concurrent use.
type HashSource struct {
	Seed int64
}

// Sample implements Source.
func (s HashSource) Sample(tick int64, messageID string) float64 {
	return ir.SampleUnit(s.Seed, tick, messageID)
}

// StreamSource draws from a seeded PCG stream. Samples depend on call
// order; the engine draws in registry order so runs with the same seed and
// catalog repeat.
type StreamSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewStreamSource seeds a PCG generator.
func NewStreamSource(seed uint64) *StreamSource {
	return &StreamSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Sample implements Source.
func (s *StreamSource) Sample(int64, string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// FixedSource returns preset samples per message id, and Default for
// everything else. Used by tests and scenarios.
type FixedSource struct {
	Samples map[string]float64
	Default float64
}

// Sample implements Source.
func (s FixedSource) Sample(_ int64, messageID string) float64 {
	if v, ok := s.Samples[messageID]; ok {
		return v
	}
	return s.Default
}
