package summarizer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"topic_syncer/internal/domain"
	"topic_syncer/internal/metrics"
)

type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	slept     []time.Duration
	interrupt bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interrupt {
		c.interrupt = false
		return context.Canceled
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

type fakeGenerator struct {
	mu     sync.Mutex
	calls  []string
	at     []time.Time
	clock  Clock
	output string
	err    error
	before func()
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(_ context.Context, prompt, text string) (string, error) {
	if g.before != nil {
		g.before()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, text)
	if g.clock != nil {
		g.at = append(g.at, g.clock.Now())
	}
	return g.output, g.err
}

func (g *fakeGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type SummarizerTestSuite struct {
	suite.Suite
	clock  *fakeClock
	gen    *fakeGenerator
	logger *slog.Logger
}

func TestSummarizerTestSuite(t *testing.T) {
	suite.Run(t, new(SummarizerTestSuite))
}

func (s *SummarizerTestSuite) SetupTest() {
	s.clock = newFakeClock()
	s.gen = &fakeGenerator{clock: s.clock, output: "A short summary."}
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *SummarizerTestSuite) newSummarizer(cooldown time.Duration, cfg Config) *Summarizer {
	if cfg.Prompt == "" {
		cfg.Prompt = "Summarize the following text in 50 words:"
	}
	return New(s.gen, NewGate(cooldown, s.clock), cfg, metrics.New(), s.logger)
}

func (s *SummarizerTestSuite) TestConsecutiveCallsAreSpacedByCooldown() {
	const cooldown = 5 * time.Second
	sum := s.newSummarizer(cooldown, Config{})
	start := s.clock.Now()

	const n = 4
	for i := 0; i < n; i++ {
		s.Equal("A short summary.", sum.Summarize(context.Background(), "body"))
	}

	s.GreaterOrEqual(s.clock.Now().Sub(start), (n-1)*cooldown)
	s.Require().Len(s.gen.at, n)
	for i := 1; i < n; i++ {
		s.GreaterOrEqual(s.gen.at[i].Sub(s.gen.at[i-1]), cooldown)
	}
}

func (s *SummarizerTestSuite) TestProviderErrorReturnsPlaceholder() {
	s.gen.err = errors.New("429 quota exceeded")
	sum := s.newSummarizer(time.Second, Config{})

	got := sum.Summarize(context.Background(), "body")

	s.Equal(domain.SummaryUnavailable, got)
	s.NotEmpty(got)
	s.Equal(1, s.gen.count())
}

func (s *SummarizerTestSuite) TestEmptyResponseReturnsPlaceholder() {
	s.gen.output = "  \n "
	sum := s.newSummarizer(0, Config{})

	s.Equal(domain.SummaryUnavailable, sum.Summarize(context.Background(), "body"))
}

func (s *SummarizerTestSuite) TestCancelledContextSkipsProvider() {
	sum := s.newSummarizer(time.Second, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.Equal(domain.SummaryUnavailable, sum.Summarize(ctx, "body"))
	s.Zero(s.gen.count())
}

func (s *SummarizerTestSuite) TestEmptyBodySkipsProvider() {
	sum := s.newSummarizer(time.Second, Config{})

	s.Equal(domain.NoSummary, sum.Summarize(context.Background(), "   "))
	s.Zero(s.gen.count())
}

func (s *SummarizerTestSuite) TestBreakerStopsCallingFailingProvider() {
	s.gen.err = errors.New("503")
	sum := s.newSummarizer(0, Config{BreakerFailures: 2, BreakerTimeout: time.Hour})

	for i := 0; i < 4; i++ {
		s.Equal(domain.SummaryUnavailable, sum.Summarize(context.Background(), "body"))
	}

	s.Equal(2, s.gen.count())
}

func (s *SummarizerTestSuite) TestCallerDeadlineDoesNotTripBreaker() {
	sum := s.newSummarizer(0, Config{BreakerFailures: 1, BreakerTimeout: time.Hour})

	for _, cause := range []error{context.DeadlineExceeded, context.Canceled} {
		ctx, cancel := context.WithCancel(context.Background())
		s.gen.err = cause
		s.gen.before = cancel
		s.Equal(domain.SummaryUnavailable, sum.Summarize(ctx, "body"))
		cancel()
	}

	s.gen.err = nil
	s.gen.before = nil
	s.Equal("A short summary.", sum.Summarize(context.Background(), "body"))
	s.Equal(3, s.gen.count())
}

func (s *SummarizerTestSuite) TestProviderTimeoutTripsBreaker() {
	s.gen.err = context.DeadlineExceeded
	sum := s.newSummarizer(0, Config{BreakerFailures: 1, BreakerTimeout: time.Hour})

	s.Equal(domain.SummaryUnavailable, sum.Summarize(context.Background(), "body"))
	s.Equal(domain.SummaryUnavailable, sum.Summarize(context.Background(), "body"))
	s.Equal(1, s.gen.count())
}

func (s *SummarizerTestSuite) TestBoundsInputAndOutput() {
	s.gen.output = "  one   two\nthree four  "
	sum := s.newSummarizer(0, Config{MaxInputChars: 5, MaxSummaryChars: 10})

	got := sum.Summarize(context.Background(), "abcdefghij")

	s.Equal("one two t…", got)
	s.Require().Len(s.gen.calls, 1)
	s.Equal("abcde", s.gen.calls[0])
}

func TestGate_CancelledWaitReturnsReservation(t *testing.T) {
	clock := newFakeClock()
	gate := NewGate(5*time.Second, clock)

	d, err := gate.Wait(context.Background())
	require.NoError(t, err)
	assert.Zero(t, d)

	clock.interrupt = true
	_, err = gate.Wait(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	d, err = gate.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}

func TestGate_ZeroCooldownNeverWaits(t *testing.T) {
	clock := newFakeClock()
	gate := NewGate(0, clock)

	for i := 0; i < 3; i++ {
		d, err := gate.Wait(context.Background())
		require.NoError(t, err)
		assert.Zero(t, d)
	}
	assert.Empty(t, clock.slept)
}

func TestRealClock_SleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RealClock().Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, RealClock().Sleep(context.Background(), time.Millisecond))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10, "…"))
	assert.Equal(t, "héllo…", truncate("héllo wörld", 6, "…"))
	assert.Equal(t, "anything", truncate("anything", 0, "…"))
}

func TestDisabled(t *testing.T) {
	assert.Equal(t, domain.SummaryUnavailable, Disabled{}.Summarize(context.Background(), "body"))
}
