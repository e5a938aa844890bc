package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the state of the circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation
	BreakerOpen                         // Failing, reject requests until cooldown passes
	BreakerHalfOpen                     // Probing with a single trial call
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig defines circuit breaker behavior.
type BreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening
	Cooldown         time.Duration // Time to stay open before half-opening
}

// DefaultBreakerConfig provides reasonable defaults for the quality tier.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	Cooldown:         30 * time.Second,
}

// BreakerError is returned while the circuit rejects requests.
type BreakerError struct {
	State BreakerState
}

func (e *BreakerError) Error() string {
	return fmt.Sprintf("circuit breaker is %s", e.State)
}

// BreakerClient wraps a Client with the circuit breaker pattern. It is safe
// for concurrent use across sessions; the half-open probe admits exactly one
// trial call.
type BreakerClient struct {
	client          Client
	config          BreakerConfig
	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	lastFailureTime time.Time
	probing         bool
}

// NewBreakerClient creates a circuit-breaker wrapper around client.
func NewBreakerClient(client Client, config BreakerConfig) *BreakerClient {
	return &BreakerClient{
		client: client,
		config: config,
		state:  BreakerClosed,
	}
}

// Complete implements Client with circuit breaker logic.
func (cb *BreakerClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := cb.allowRequest(); err != nil {
		return Response{}, err
	}

	resp, err := cb.client.Complete(ctx, req)
	cb.recordResult(err == nil)

	if err != nil {
		return resp, fmt.Errorf("completion failed: %w", err)
	}
	return resp, nil
}

// Stream implements Client with circuit breaker logic. Stream establishment
// counts as the success/failure signal; individual chunks are not tracked.
func (cb *BreakerClient) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	if err := cb.allowRequest(); err != nil {
		return nil, err
	}

	ch, err := cb.client.Stream(ctx, req)
	cb.recordResult(err == nil)

	if err != nil {
		return ch, fmt.Errorf("stream failed: %w", err)
	}
	return ch, nil
}

// ModelName delegates to the wrapped client.
func (cb *BreakerClient) ModelName() string { return cb.client.ModelName() }

// ContextLength delegates to the wrapped client.
func (cb *BreakerClient) ContextLength() int { return cb.client.ContextLength() }

// State returns the current breaker state, transitioning open→half_open if
// the cooldown has elapsed.
func (cb *BreakerClient) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// Reset forces the breaker back to closed. Intended for tests and operator
// intervention.
func (cb *BreakerClient) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failureCount = 0
	cb.probing = false
}

func (cb *BreakerClient) allowRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()

	switch cb.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		return &BreakerError{State: BreakerOpen}
	case BreakerHalfOpen:
		if cb.probing {
			return &BreakerError{State: BreakerHalfOpen}
		}
		cb.probing = true
		return nil
	default:
		return &BreakerError{State: cb.state}
	}
}

// maybeHalfOpen transitions open→half_open after the cooldown. Callers must
// hold the mutex.
func (cb *BreakerClient) maybeHalfOpen() {
	if cb.state == BreakerOpen && time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
		cb.state = BreakerHalfOpen
		cb.probing = false
	}
}

func (cb *BreakerClient) recordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerHalfOpen {
		cb.probing = false
		if success {
			cb.state = BreakerClosed
			cb.failureCount = 0
		} else {
			cb.state = BreakerOpen
			cb.lastFailureTime = time.Now()
		}
		return
	}

	if success {
		cb.failureCount = 0
		return
	}

	cb.failureCount++
	cb.lastFailureTime = time.Now()
	if cb.state == BreakerClosed && cb.failureCount >= cb.config.FailureThreshold {
		cb.state = BreakerOpen
	}
}
