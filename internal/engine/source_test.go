package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashSource_Deterministic(t *testing.T) {
	a := HashSource{Seed: 1}
	b := HashSource{Seed: 1}

	for tick := int64(0); tick < 100; tick++ {
		assert.Equal(t, a.Sample(tick, "news-a"), b.Sample(tick, "news-a"))
	}
}

func TestHashSource_Range(t *testing.T) {
	s := HashSource{Seed: 99}
	for tick := int64(0); tick < 10000; tick++ {
		v := s.Sample(tick, "news-a")
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}

func TestHashSource_IndependentOfOtherDefinitions(t *testing.T) {
	s := HashSource{Seed: 3}

	before := s.Sample(12, "news-a")
	_ = s.Sample(12, "news-b")
	assert.Equal(t, before, s.Sample(12, "news-a"))
	assert.NotEqual(t, s.Sample(12, "news-a"), s.Sample(12, "news-b"))
}

func TestHashSource_SeedChangesSamples(t *testing.T) {
	assert.NotEqual(t,
		HashSource{Seed: 1}.Sample(5, "news-a"),
		HashSource{Seed: 2}.Sample(5, "news-a"),
	)
}

func TestStreamSource_RepeatsForSeed(t *testing.T) {
	a := NewStreamSource(11)
	b := NewStreamSource(11)

	for i := range 50 {
		assert.Equal(t, a.Sample(int64(i), "x"), b.Sample(int64(i), "y"), "draw %d", i)
	}
}

func TestFixedSource(t *testing.T) {
	s := FixedSource{Samples: map[string]float64{"news-a": 0.1}, Default: 0.9}

	assert.Equal(t, 0.1, s.Sample(1, "news-a"))
	assert.Equal(t, 0.9, s.Sample(1, "news-b"))
}
