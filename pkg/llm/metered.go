package llm

import (
	"context"
	"time"

	"aide/pkg/metrics"
)

// MeteredClient records request outcomes, latency and token usage for the
// wrapped client. It sits outermost in the middleware chain so it observes
// the final outcome after retries and breaker decisions.
type MeteredClient struct {
	inner    Client
	tier     string
	recorder *metrics.Recorder
	quota    *QuotaTracker
}

// NewMeteredClient wraps a client with usage accounting. recorder and quota
// may each be nil.
func NewMeteredClient(inner Client, tier string, recorder *metrics.Recorder, quota *QuotaTracker) *MeteredClient {
	return &MeteredClient{
		inner:    inner,
		tier:     tier,
		recorder: recorder,
		quota:    quota,
	}
}

// Complete implements Client.
func (m *MeteredClient) Complete(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := m.inner.Complete(ctx, req)

	errorType := ""
	if err != nil {
		errorType = Classify(err).Type.String()
	}
	if m.recorder != nil {
		m.recorder.ObserveLLMRequest(
			m.inner.ModelName(), m.tier, req.SessionID,
			resp.PromptTokens, resp.CompletionTokens,
			err == nil, errorType, time.Since(start),
		)
	}
	if err == nil && m.quota != nil {
		m.quota.Record(m.inner.ModelName(), resp.PromptTokens, resp.CompletionTokens)
	}
	return resp, err
}

// Stream implements Client. Streamed usage is not metered; providers report
// token counts on the synchronous path only.
func (m *MeteredClient) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	return m.inner.Stream(ctx, req)
}

// ModelName implements Client.
func (m *MeteredClient) ModelName() string { return m.inner.ModelName() }

// ContextLength implements Client.
func (m *MeteredClient) ContextLength() int { return m.inner.ContextLength() }
