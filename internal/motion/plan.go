// internal/motion/plan.go
package motion

import (
	"iter"
	"math"
	"time"
)

// Sample is one point of a MotionPlan: move to (X, Y) after waiting Delay.
type Sample struct {
	X     float64
	Y     float64
	Delay time.Duration
}

// Plan is the ephemeral ordered sample sequence for one move or drag. It is created
// and consumed within a single injector operation.
type Plan struct {
	Samples  []Sample
	Duration time.Duration
}

// Len returns the number of samples in the plan.
func (pl Plan) Len() int { return len(pl.Samples) }

// Last returns the final sample position.
func (pl Plan) Last() Vector2D {
	if len(pl.Samples) == 0 {
		return Vector2D{}
	}
	s := pl.Samples[len(pl.Samples)-1]
	return Vector2D{X: s.X, Y: s.Y}
}

// computeEaseInOutCubic provides a smooth acceleration and deceleration profile.
func computeEaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// PlanMove builds the motion plan for a pointer movement from start to end.
// Sample count scales with the Fitts's-law duration; per-sample delays follow an
// ease-in-out profile; intermediate samples carry pink-noise tremor; the last sample
// lands exactly on end.
func (p *Profile) PlanMove(start, end Vector2D) Plan {
	dist := start.Dist(end)
	if dist < 1.0 {
		return Plan{Samples: []Sample{{X: end.X, Y: end.Y}}}
	}

	duration := p.movementTime(dist)
	steps := int(duration.Seconds() * p.cfg.SamplesPerSecond)
	if steps < p.cfg.MinSteps {
		steps = p.cfg.MinSteps
	}
	if steps > p.cfg.MaxSteps {
		steps = p.cfg.MaxSteps
	}

	path := p.BezierPath(start, end, nil, steps)
	samples := make([]Sample, len(path))
	var previous time.Duration
	for i, pt := range path {
		t := float64(i) / float64(len(path)-1)
		at := time.Duration(computeEaseInOutCubic(t) * float64(duration))
		if i > 0 && i < len(path)-1 {
			pt = pt.Add(p.nextTremor())
		}
		samples[i] = Sample{X: pt.X, Y: pt.Y, Delay: at - previous}
		previous = at
	}
	return Plan{Samples: samples, Duration: duration}
}

// PlanScroll yields one delay per wheel notch, drawn as the caller consumes them.
func (p *Profile) PlanScroll(notches int) iter.Seq[time.Duration] {
	if notches < 0 {
		notches = -notches
	}
	return func(yield func(time.Duration) bool) {
		for i := 0; i < notches; i++ {
			if !yield(p.ScrollNotchDelay()) {
				return
			}
		}
	}
}
