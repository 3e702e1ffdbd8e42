package agent

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rahul/dealdesk/internal/observability"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// RetryConfig holds retry configuration for reasoning engine calls.
type RetryConfig struct {
	// MaxAttempts counts the first call.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig retries a failed engine call once.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Second,
	}
}

// RetryingModel wraps an llms.Model with bounded retries. Cancellation and
// deadline errors are never retried.
type RetryingModel struct {
	inner   llms.Model
	cfg     RetryConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

func NewRetryingModel(inner llms.Model, cfg RetryConfig, logger *observability.Logger, metrics *observability.Metrics) *RetryingModel {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 1
	}
	return &RetryingModel{inner: inner, cfg: cfg, logger: logger, metrics: metrics}
}

func (m *RetryingModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		resp, err := m.inner.GenerateContent(ctx, messages, options...)
		if err == nil && (resp == nil || len(resp.Choices) == 0) {
			err = errors.New("engine returned no choices")
		}
		if err == nil {
			m.metrics.EngineCall("ok")
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			m.metrics.EngineCall("cancelled")
			return nil, err
		}
		m.metrics.EngineCall("error")

		if attempt < m.cfg.MaxAttempts {
			backoff := m.backoff(attempt)
			m.logger.Warn("engine call failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, lastErr
}

func (m *RetryingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// backoff computes exponential backoff with +/- 25% jitter.
func (m *RetryingModel) backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= m.cfg.BackoffMultiplier
	}
	d := time.Duration(float64(m.cfg.BackoffBase) * multiplier)
	if m.cfg.MaxBackoff > 0 && d > m.cfg.MaxBackoff {
		d = m.cfg.MaxBackoff
	}
	jitter := float64(d) * 0.25 * (rand.Float64()*2 - 1)
	return d + time.Duration(jitter)
}
