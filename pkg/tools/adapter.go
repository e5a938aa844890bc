package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"aide/pkg/config"
	"aide/pkg/logx"
	"aide/pkg/metrics"
)

// TruncationMarker is appended wherever a payload was cut to fit a size
// cap. Consumers surface it instead of silently dropping data.
const TruncationMarker = "\n[TRUNCATED]"

// ToolResult is the outcome of one executed tool call. It is owned by the
// turn and never persisted beyond it.
type ToolResult struct {
	Tool      string
	Success   bool
	Payload   string // JSON-encoded result, size-capped
	Truncated bool
	Err       string
	Latency   time.Duration
}

// Adapter dispatches validated tool calls against the registry, bounding
// each call with a timeout and each payload with a per-result byte cap.
type Adapter struct {
	registry          *Registry
	timeout           time.Duration
	resultMaxBytes    int
	aggregateMaxBytes int
	logger            *logx.Logger
	recorder          *metrics.Recorder
}

// NewAdapter creates an execution adapter. recorder may be nil.
func NewAdapter(registry *Registry, limits config.LimitsCfg, logger *logx.Logger, recorder *metrics.Recorder) *Adapter {
	if logger == nil {
		logger = logx.NewLogger("tool-adapter")
	}
	return &Adapter{
		registry:          registry,
		timeout:           time.Duration(limits.ToolTimeoutSec) * time.Second,
		resultMaxBytes:    limits.ResultMaxBytes,
		aggregateMaxBytes: limits.AggregateMaxBytes,
		logger:            logger,
		recorder:          recorder,
	}
}

// Run tracks the aggregate payload budget across one turn's tool calls.
// A Run is owned by a single turn and is not safe for concurrent use.
type Run struct {
	adapter   *Adapter
	remaining int
}

// NewRun starts a fresh aggregate budget for one turn.
func (a *Adapter) NewRun() *Run {
	return &Run{adapter: a, remaining: a.aggregateMaxBytes}
}

// Execute dispatches one tool call. Failures are reported in the result,
// never raised; a panicking tool is converted to a failed result.
func (r *Run) Execute(ctx context.Context, name string, params map[string]any) ToolResult {
	a := r.adapter
	start := time.Now()

	tool, err := a.registry.Get(name)
	if err != nil {
		return r.finish(ToolResult{Tool: name, Err: err.Error(), Latency: time.Since(start)})
	}

	execCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	payload, err := safeExec(execCtx, tool, params)
	latency := time.Since(start)
	if err != nil {
		a.logger.Warn("tool %s failed after %s: %v", name, latency, err)
		return r.finish(ToolResult{Tool: name, Err: err.Error(), Latency: latency})
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return r.finish(ToolResult{Tool: name, Err: fmt.Sprintf("unencodable result: %v", err), Latency: latency})
	}

	result := ToolResult{Tool: name, Success: true, Payload: string(encoded), Latency: latency}
	if len(result.Payload) > a.resultMaxBytes {
		result.Payload = result.Payload[:a.resultMaxBytes] + TruncationMarker
		result.Truncated = true
	}
	return r.finish(result)
}

// finish applies the aggregate budget and records telemetry.
func (r *Run) finish(result ToolResult) ToolResult {
	if len(result.Payload) > r.remaining {
		if r.remaining > 0 {
			result.Payload = result.Payload[:r.remaining] + TruncationMarker
		} else {
			result.Payload = TruncationMarker
		}
		result.Truncated = true
	}
	r.remaining -= len(result.Payload)
	if r.remaining < 0 {
		r.remaining = 0
	}

	if r.adapter.recorder != nil {
		status := "ok"
		if !result.Success {
			status = "error"
		}
		r.adapter.recorder.ObserveToolExecution(result.Tool, status, result.Latency)
	}
	return result
}

// safeExec invokes the tool, converting a panic into an error so one
// misbehaving tool cannot take down the turn loop.
func safeExec(ctx context.Context, tool Tool, params map[string]any) (result map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	return tool.Exec(ctx, params)
}
