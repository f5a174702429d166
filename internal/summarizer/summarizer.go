package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"

	"topic_syncer/internal/domain"
	"topic_syncer/internal/metrics"
)

// Generator is a text-generation provider.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt, text string) (string, error)
}

type Config struct {
	Prompt          string
	Timeout         time.Duration
	MaxInputChars   int
	MaxSummaryChars int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Summarizer turns topic bodies into short summaries. Provider calls are spaced
// by the gate and guarded by a circuit breaker; failures yield a placeholder.
type Summarizer struct {
	gen     Generator
	gate    *Gate
	cb      *gobreaker.CircuitBreaker
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(gen Generator, gate *Gate, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Summarizer {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	logger = logger.With("component", "summarizer", "provider", gen.Name())

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        gen.Name(),
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Shutdown and cycle timeouts are not provider failures.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errCallerDone)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("summarizer breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return &Summarizer{
		gen:     gen,
		gate:    gate,
		cb:      cb,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// errCallerDone marks provider errors caused by the caller's context ending.
var errCallerDone = errors.New("caller context done")

// Summarize never fails: any problem yields domain.SummaryUnavailable.
func (s *Summarizer) Summarize(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.NoSummary
	}
	text = truncate(text, s.cfg.MaxInputChars, "")

	waited, err := s.gate.Wait(ctx)
	s.metrics.GateWait(waited)
	if err != nil {
		s.metrics.Summary("cancelled", 0)
		s.logger.Debug("gate wait abandoned", "error", err)
		return domain.SummaryUnavailable
	}

	callCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := s.cb.Execute(func() (interface{}, error) {
		out, err := s.gen.Generate(callCtx, s.cfg.Prompt, text)
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", errCallerDone, err)
		}
		return out, err
	})
	elapsed := time.Since(start)

	if err != nil {
		result := "failed"
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			result = "breaker_open"
		case errors.Is(err, errCallerDone):
			result = "cancelled"
		}
		s.metrics.Summary(result, elapsed)
		s.logger.Warn("summarization failed",
			"result", result,
			"error", &domain.SummarizationError{Provider: s.gen.Name(), Err: err},
		)
		return domain.SummaryUnavailable
	}

	summary := strings.Join(strings.Fields(out.(string)), " ")
	if summary == "" {
		s.metrics.Summary("empty", elapsed)
		s.logger.Warn("summarization failed",
			"result", "empty",
			"error", &domain.SummarizationError{Provider: s.gen.Name(), Err: fmt.Errorf("empty response")},
		)
		return domain.SummaryUnavailable
	}

	s.metrics.Summary("ok", elapsed)
	return truncate(summary, s.cfg.MaxSummaryChars, "…")
}

// truncate cuts s to at most max runes including suffix. max <= 0 disables it.
func truncate(s string, max int, suffix string) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}

	keep := max - utf8.RuneCountInString(suffix)
	if keep < 0 {
		keep = 0
	}

	runes := []rune(s)
	return strings.TrimSpace(string(runes[:keep])) + suffix
}

// Disabled stands in when no provider is configured.
type Disabled struct{}

func (Disabled) Summarize(context.Context, string) string {
	return domain.SummaryUnavailable
}
