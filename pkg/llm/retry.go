package llm

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"aide/pkg/logx"
)

// RetryConfig defines exponential backoff behavior.
type RetryConfig struct {
	MaxAttempts   int           // Total attempts including the first
	InitialDelay  time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Cap on the delay between retries
	BackoffFactor float64       // Multiplier per retry
	Jitter        bool          // Randomize delays to avoid thundering herd
}

// DefaultRetryConfig provides reasonable defaults.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:   3,
	InitialDelay:  200 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// RetryClient wraps a Client with retry logic. Only failures classified as
// retryable are attempted again; auth and bad-prompt errors fail
// immediately.
type RetryClient struct {
	client Client
	config RetryConfig
	logger *logx.Logger
}

// NewRetryClient creates a retry wrapper around client.
func NewRetryClient(client Client, config RetryConfig, logger *logx.Logger) *RetryClient {
	if logger == nil {
		logger = logx.NewLogger("llm-retry")
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &RetryClient{client: client, config: config, logger: logger}
}

// Complete implements Client with bounded retries.
func (rc *RetryClient) Complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error

	for attempt := 1; attempt <= rc.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := rc.delayFor(attempt)
			rc.logger.Debug("retrying %s in %s (attempt %d/%d)",
				rc.client.ModelName(), delay, attempt, rc.config.MaxAttempts)
			select {
			case <-ctx.Done():
				return Response{}, fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := rc.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !ShouldRetry(err) {
			return Response{}, fmt.Errorf("non-retryable failure: %w", err)
		}
		rc.logger.Warn("attempt %d/%d against %s failed: %v",
			attempt, rc.config.MaxAttempts, rc.client.ModelName(), err)
	}

	return Response{}, fmt.Errorf("all %d attempts failed: %w", rc.config.MaxAttempts, lastErr)
}

// Stream implements Client. Stream establishment is retried; an established
// stream is never re-driven.
func (rc *RetryClient) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	var lastErr error

	for attempt := 1; attempt <= rc.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-time.After(rc.delayFor(attempt)):
			}
		}

		ch, err := rc.client.Stream(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if !ShouldRetry(err) {
			return nil, fmt.Errorf("non-retryable failure: %w", err)
		}
	}

	return nil, fmt.Errorf("all %d attempts failed: %w", rc.config.MaxAttempts, lastErr)
}

// ModelName delegates to the wrapped client.
func (rc *RetryClient) ModelName() string { return rc.client.ModelName() }

// ContextLength delegates to the wrapped client.
func (rc *RetryClient) ContextLength() int { return rc.client.ContextLength() }

// delayFor computes the backoff delay before the given attempt (attempt >= 2).
func (rc *RetryClient) delayFor(attempt int) time.Duration {
	delay := time.Duration(float64(rc.config.InitialDelay) *
		math.Pow(rc.config.BackoffFactor, float64(attempt-2)))

	if delay > rc.config.MaxDelay {
		delay = rc.config.MaxDelay
	}
	if rc.config.Jitter && delay > 0 {
		// +/- 10% jitter.
		jitter := time.Duration(rand.Int63n(int64(delay)/5+1)) - delay/10
		delay += jitter
		if delay < 0 {
			delay = rc.config.InitialDelay
		}
	}
	return delay
}

// NewResilientClient composes the standard middleware stack: circuit breaker
// inside, retry outside, so breaker rejections are not retried.
func NewResilientClient(base Client, logger *logx.Logger) Client {
	breaker := NewBreakerClient(base, DefaultBreakerConfig)
	return NewRetryClient(breaker, DefaultRetryConfig, logger)
}
