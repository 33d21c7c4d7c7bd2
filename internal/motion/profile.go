// internal/motion/profile.go
package motion

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Config holds the parameters of the human-motion model. Durations are expressed in
// milliseconds so the struct maps directly onto the `motion` config section.
type Config struct {
	// Inter-key latency (Gaussian, clipped at zero).
	KeyLatencyMeanMs   float64 `mapstructure:"key_latency_mean_ms" yaml:"key_latency_mean_ms"`
	KeyLatencyStdDevMs float64 `mapstructure:"key_latency_stddev_ms" yaml:"key_latency_stddev_ms"`
	// Key dwell time between down and up.
	KeyHoldMeanMs   float64 `mapstructure:"key_hold_mean_ms" yaml:"key_hold_mean_ms"`
	KeyHoldStdDevMs float64 `mapstructure:"key_hold_stddev_ms" yaml:"key_hold_stddev_ms"`

	// Bezier shaping. Control points start at the straight-line midpoint and are
	// displaced by Gaussian jitter whose deviation scales with the travel distance.
	ControlPoints      int     `mapstructure:"control_points" yaml:"control_points"`
	ControlJitterRatio float64 `mapstructure:"control_jitter_ratio" yaml:"control_jitter_ratio"`
	ControlJitterMinPx float64 `mapstructure:"control_jitter_min_px" yaml:"control_jitter_min_px"`

	// Fitts's law movement time: MT = A + B*log2(1 + D/W).
	FittsA           float64 `mapstructure:"fitts_a" yaml:"fitts_a"`
	FittsB           float64 `mapstructure:"fitts_b" yaml:"fitts_b"`
	FittsRandomness  float64 `mapstructure:"fitts_randomness" yaml:"fitts_randomness"`
	SamplesPerSecond float64 `mapstructure:"samples_per_second" yaml:"samples_per_second"`
	MinSteps         int     `mapstructure:"min_steps" yaml:"min_steps"`
	MaxSteps         int     `mapstructure:"max_steps" yaml:"max_steps"`

	// Positional tremor applied to intermediate samples, in pixels.
	TremorAmplitudePx float64 `mapstructure:"tremor_amplitude_px" yaml:"tremor_amplitude_px"`

	ClickHoldMinMs int `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs int `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`

	ScrollNotchMeanMs float64 `mapstructure:"scroll_notch_mean_ms" yaml:"scroll_notch_mean_ms"`
	ScrollNotchStdMs  float64 `mapstructure:"scroll_notch_stddev_ms" yaml:"scroll_notch_stddev_ms"`

	// Seed fixes the random source; zero seeds from the clock.
	Seed int64 `mapstructure:"seed" yaml:"seed"`
}

// DefaultConfig returns parameters representing an average desktop user.
func DefaultConfig() Config {
	return Config{
		KeyLatencyMeanMs:   70.0,
		KeyLatencyStdDevMs: 28.0,
		KeyHoldMeanMs:      55.0,
		KeyHoldStdDevMs:    15.0,
		ControlPoints:      2,
		ControlJitterRatio: 0.12,
		ControlJitterMinPx: 3.0,
		FittsA:             100.0,
		FittsB:             120.0,
		FittsRandomness:    0.15,
		SamplesPerSecond:   100.0,
		MinSteps:           8,
		MaxSteps:           400,
		TremorAmplitudePx:  0.8,
		ClickHoldMinMs:     50,
		ClickHoldMaxMs:     120,
		ScrollNotchMeanMs:  45.0,
		ScrollNotchStdMs:   15.0,
	}
}

// normalize replaces unusable values with defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.KeyLatencyMeanMs < 0 || c.KeyLatencyStdDevMs < 0 {
		c.KeyLatencyMeanMs, c.KeyLatencyStdDevMs = d.KeyLatencyMeanMs, d.KeyLatencyStdDevMs
	}
	if c.KeyHoldMeanMs <= 0 {
		c.KeyHoldMeanMs, c.KeyHoldStdDevMs = d.KeyHoldMeanMs, d.KeyHoldStdDevMs
	}
	if c.ControlPoints <= 0 {
		c.ControlPoints = d.ControlPoints
	}
	if c.ControlJitterRatio < 0 {
		c.ControlJitterRatio = d.ControlJitterRatio
	}
	if c.FittsA <= 0 || c.FittsB <= 0 {
		c.FittsA, c.FittsB = d.FittsA, d.FittsB
	}
	if c.FittsRandomness < 0 || c.FittsRandomness >= 1 {
		c.FittsRandomness = d.FittsRandomness
	}
	if c.SamplesPerSecond <= 0 {
		c.SamplesPerSecond = d.SamplesPerSecond
	}
	if c.MinSteps < 2 {
		c.MinSteps = d.MinSteps
	}
	if c.MaxSteps < c.MinSteps {
		c.MaxSteps = c.MinSteps
	}
	if c.TremorAmplitudePx < 0 {
		c.TremorAmplitudePx = 0
	}
	if c.ClickHoldMinMs <= 0 {
		c.ClickHoldMinMs = d.ClickHoldMinMs
	}
	if c.ClickHoldMaxMs <= c.ClickHoldMinMs {
		c.ClickHoldMaxMs = c.ClickHoldMinMs + 1
	}
	if c.ScrollNotchMeanMs <= 0 {
		c.ScrollNotchMeanMs, c.ScrollNotchStdMs = d.ScrollNotchMeanMs, d.ScrollNotchStdMs
	}
	return c
}

// Profile generates human-plausible timing and path samples. It is safe for
// concurrent use; every draw from the random source happens under mu.
type Profile struct {
	cfg Config

	mu      sync.Mutex
	rng     *rand.Rand
	tremorX *PinkNoiseGenerator
	tremorY *PinkNoiseGenerator
}

// NewProfile builds a Profile from cfg.
func NewProfile(cfg Config) *Profile {
	cfg = cfg.normalize()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	return &Profile{
		cfg:     cfg,
		rng:     rng,
		tremorX: NewPinkNoiseGenerator(rng, 12),
		tremorY: NewPinkNoiseGenerator(rng, 12),
	}
}

// NewTestProfile creates a deterministic Profile for tests.
func NewTestProfile(seed int64) *Profile {
	cfg := DefaultConfig()
	cfg.Seed = seed
	return NewProfile(cfg)
}

// Config returns the effective configuration.
func (p *Profile) Config() Config { return p.cfg }

// gaussian draws from N(mean, stdDev). Caller must hold p.mu.
func (p *Profile) gaussian(mean, stdDev float64) float64 {
	return mean + p.rng.NormFloat64()*stdDev
}

// KeyboardLatency returns an inter-key delay drawn from N(mean, std), clipped at zero.
func (p *Profile) KeyboardLatency() time.Duration {
	p.mu.Lock()
	ms := p.gaussian(p.cfg.KeyLatencyMeanMs, p.cfg.KeyLatencyStdDevMs)
	p.mu.Unlock()
	return msToDuration(math.Max(0, ms))
}

// KeyHold returns how long a key stays pressed.
func (p *Profile) KeyHold() time.Duration {
	p.mu.Lock()
	ms := p.gaussian(p.cfg.KeyHoldMeanMs, p.cfg.KeyHoldStdDevMs)
	p.mu.Unlock()
	return msToDuration(math.Max(10, ms))
}

// ClickHold returns a uniform button hold time within the configured bounds.
func (p *Profile) ClickHold() time.Duration {
	p.mu.Lock()
	span := p.cfg.ClickHoldMaxMs - p.cfg.ClickHoldMinMs
	ms := p.cfg.ClickHoldMinMs + p.rng.Intn(span+1)
	p.mu.Unlock()
	return time.Duration(ms) * time.Millisecond
}

// ScrollNotchDelay returns the pause between two wheel notches.
func (p *Profile) ScrollNotchDelay() time.Duration {
	p.mu.Lock()
	ms := p.gaussian(p.cfg.ScrollNotchMeanMs, p.cfg.ScrollNotchStdMs)
	p.mu.Unlock()
	return msToDuration(math.Max(5, ms))
}

// BezierPath interpolates a Bezier curve from start to end through the given control
// points and returns exactly steps coordinates. With no control points the profile
// seeds ControlPoints copies of the straight-line midpoint. Every control point is
// displaced by independent Gaussian jitter, so repeated calls between the same
// endpoints produce different curves; the endpoints themselves are never displaced.
func (p *Profile) BezierPath(start, end Vector2D, controls []Vector2D, steps int) []Vector2D {
	if steps <= 0 {
		return nil
	}

	if len(controls) == 0 {
		mid := start.Lerp(end, 0.5)
		controls = make([]Vector2D, p.cfg.ControlPoints)
		for i := range controls {
			controls[i] = mid
		}
	}

	sigma := math.Max(p.cfg.ControlJitterMinPx, start.Dist(end)*p.cfg.ControlJitterRatio)
	points := make([]Vector2D, 0, len(controls)+2)
	points = append(points, start)
	p.mu.Lock()
	for _, c := range controls {
		points = append(points, Vector2D{
			X: c.X + p.rng.NormFloat64()*sigma,
			Y: c.Y + p.rng.NormFloat64()*sigma,
		})
	}
	p.mu.Unlock()
	points = append(points, end)

	path := make([]Vector2D, steps)
	if steps == 1 {
		path[0] = end
		return path
	}
	scratch := make([]Vector2D, len(points))
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1)
		copy(scratch, points)
		path[i] = deCasteljau(scratch, t)
	}
	// Pin the endpoints against floating point drift in the final reduction.
	path[0], path[steps-1] = start, end
	return path
}

// deCasteljau evaluates the curve defined by points at t by recursive linear
// reduction. points is used as scratch space.
func deCasteljau(points []Vector2D, t float64) Vector2D {
	if len(points) == 1 {
		return points[0]
	}
	for i := 0; i < len(points)-1; i++ {
		points[i] = points[i].Lerp(points[i+1], t)
	}
	return deCasteljau(points[:len(points)-1], t)
}

// movementTime determines a realistic movement duration using Fitts's law.
func (p *Profile) movementTime(distance float64) time.Duration {
	const targetWidth = 30.0
	id := math.Log2(1.0 + distance/targetWidth)
	mt := p.cfg.FittsA + p.cfg.FittsB*id

	p.mu.Lock()
	spread := p.rng.Float64()*2*p.cfg.FittsRandomness - p.cfg.FittsRandomness
	p.mu.Unlock()

	return msToDuration(mt + mt*spread)
}

// nextTremor returns the pink-noise displacement for the next intermediate sample.
func (p *Profile) nextTremor() Vector2D {
	if p.cfg.TremorAmplitudePx == 0 {
		return Vector2D{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return Vector2D{
		X: p.tremorX.Next() * p.cfg.TremorAmplitudePx,
		Y: p.tremorY.Next() * p.cfg.TremorAmplitudePx,
	}
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
