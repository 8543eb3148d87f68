package models

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncrementalMean_MatchesArithmeticMean(t *testing.T) {
	tests := []struct {
		name   string
		stream []float64
	}{
		{"single value", []float64{0.5}},
		{"constant stream", []float64{1, 1, 1, 1}},
		{"mixed values", []float64{0.2, 0.9, 0.4, 0.7, 0.1}},
		{"latencies", []float64{5000, 1200, 800, 15000, 300}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			avg := 0.0
			sum := 0.0
			for n, x := range tt.stream {
				avg = IncrementalMean(avg, x, n)
				sum += x
			}
			assert.InDelta(t, sum/float64(len(tt.stream)), avg, 1e-9)
		})
	}
}

func TestIncrementalMean_RandomStream(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	avg := 0.0
	sum := 0.0
	for n := 0; n < 1000; n++ {
		x := rng.Float64() * 100
		avg = IncrementalMean(avg, x, n)
		sum += x
	}
	assert.InDelta(t, sum/1000, avg, 1e-6)
	assert.False(t, math.IsNaN(avg))
}

func TestIncrementalMean_StartsFromPrior(t *testing.T) {
	// A fresh agent starts with an optimistic prior and taskCount 0; the
	// first real observation replaces the prior entirely.
	got := IncrementalMean(0.8, 1.0, 0)
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-0.5, 0, 1))
	assert.Equal(t, 1.0, Clamp(1.5, 0, 1))
	assert.Equal(t, 0.25, Clamp(0.25, 0, 1))
}
