package summarizer

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time so the gate can be driven by tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RealClock returns the wall clock.
func RealClock() Clock {
	return realClock{}
}

// Gate admits at most one caller per cooldown window across the process.
type Gate struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	clock   Clock
}

// NewGate creates a gate. A zero cooldown admits every caller immediately.
func NewGate(cooldown time.Duration, clock Clock) *Gate {
	if clock == nil {
		clock = realClock{}
	}

	limit := rate.Inf
	if cooldown > 0 {
		limit = rate.Every(cooldown)
	}

	return &Gate{
		limiter: rate.NewLimiter(limit, 1),
		clock:   clock,
	}
}

// Wait reserves the next window and sleeps until it opens. On cancellation
// the reservation is returned so later callers are not delayed by it.
func (g *Gate) Wait(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	g.mu.Lock()
	now := g.clock.Now()
	r := g.limiter.ReserveN(now, 1)
	g.mu.Unlock()

	if !r.OK() {
		return 0, errors.New("gate reservation refused")
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return 0, nil
	}

	if err := g.clock.Sleep(ctx, delay); err != nil {
		r.CancelAt(g.clock.Now())
		return 0, err
	}

	return delay, nil
}
