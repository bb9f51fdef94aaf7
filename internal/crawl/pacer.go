package crawl

import (
	"context"
	"time"
)

// Pacer sleeps between fetches so the single worker does not hammer the
// upstream site.
type Pacer interface {
	Pause(ctx context.Context)
}

// RandomPacer sleeps for a uniformly random duration inside [Min, Max].
// The sleep is interruptible by context cancellation.
type RandomPacer struct {
	min time.Duration
	max time.Duration
}

// NewRandomPacer builds a pacer for the given delay window. A zero or
// inverted window collapses to the minimum.
func NewRandomPacer(min, max time.Duration) *RandomPacer {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	return &RandomPacer{min: min, max: max}
}

func (p *RandomPacer) Pause(ctx context.Context) {
	delay := p.min
	if span := p.max - p.min; span > 0 {
		delay += randomJitter(span)
	}
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// noopPacer is used in tests where pacing only slows things down.
type noopPacer struct{}

func (noopPacer) Pause(context.Context) {}
