package log

import (
	"context"
	"math/rand/v2"
	"time"
)

// Sampler decides whether a run event is written.
type Sampler interface {
	ShouldSample(ctx context.Context, e *Event) bool
}

// SamplerFunc is a function adapter for Sampler.
type SamplerFunc func(ctx context.Context, e *Event) bool

// ShouldSample implements Sampler.
func (f SamplerFunc) ShouldSample(ctx context.Context, e *Event) bool {
	return f(ctx, e)
}

// DefaultSampler keeps failed runs, slow runs, runs that changed the schema,
// and a random share of the rest. Most scheduled runs find nothing to do, so
// those are the ones it thins out.
type DefaultSampler struct {
	slowThreshold  time.Duration
	keepChanged    bool
	randomKeepRate float64
}

// NewDefaultSampler creates a rule-based sampler.
func NewDefaultSampler(slowThreshold time.Duration, keepChanged bool, randomKeepRate float64) *DefaultSampler {
	return &DefaultSampler{
		slowThreshold:  slowThreshold,
		keepChanged:    keepChanged,
		randomKeepRate: randomKeepRate,
	}
}

// ShouldSample implements Sampler.
func (s *DefaultSampler) ShouldSample(_ context.Context, e *Event) bool {
	switch {
	case e.HasErrors():
		return true
	case s.slowThreshold > 0 && e.Duration() >= s.slowThreshold:
		return true
	case s.keepChanged && e.Changed() > 0:
		return true
	}

	//nolint:gosec // Non-cryptographic sampling is sufficient for log event retention.
	return rand.Float64() < s.randomKeepRate
}
