// internal/motion/noise.go
package motion

import (
	"math"
	"math/rand"
)

// PinkNoiseGenerator implements the stochastic Voss-McCartney algorithm for 1/f noise.
// Pink noise has the long-term correlation seen in physiological hand tremor, so
// consecutive samples drift instead of jumping independently.
type PinkNoiseGenerator struct {
	rng    *rand.Rand
	values []float64
	p      []float64
	pink   float64
	n      int
	scale  float64
}

// NewPinkNoiseGenerator creates a generator with n white-noise sources (12 is typical).
func NewPinkNoiseGenerator(rng *rand.Rand, n int) *PinkNoiseGenerator {
	if n <= 0 {
		n = 12
	}
	g := &PinkNoiseGenerator{
		rng:    rng,
		values: make([]float64, n),
		p:      make([]float64, n),
		n:      n,
		scale:  1.0 / math.Sqrt(float64(n)),
	}

	// Source i changes with probability proportional to 2^-i.
	total := 0.0
	for i := 0; i < n; i++ {
		g.p[i] = math.Pow(2, float64(-i))
		total += g.p[i]
	}
	for i := 0; i < n; i++ {
		g.p[i] /= total
	}

	for i := 0; i < n; i++ {
		g.values[i] = g.nextWhite()
		g.pink += g.values[i]
	}
	return g
}

func (g *PinkNoiseGenerator) nextWhite() float64 {
	return g.rng.Float64()*2.0 - 1.0
}

// Next returns the next normalized pink noise sample. Not safe for concurrent use;
// Profile serializes access under its own lock.
func (g *PinkNoiseGenerator) Next() float64 {
	r := g.rng.Float64()
	cumulative := 0.0
	idx := g.n - 1
	for i := 0; i < g.n; i++ {
		cumulative += g.p[i]
		if r < cumulative {
			idx = i
			break
		}
	}

	old := g.values[idx]
	g.values[idx] = g.nextWhite()
	g.pink += g.values[idx] - old

	return g.pink * g.scale
}
