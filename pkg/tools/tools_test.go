package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/pkg/config"
	"aide/pkg/policy"
)

// fakeTool is a scriptable tool double.
type fakeTool struct {
	name    string
	risk    policy.RiskTier
	confirm bool
	exec    func(ctx context.Context, args map[string]any) (map[string]any, error)
}

func (f *fakeTool) Name() string              { return f.name }
func (f *fakeTool) RiskTier() policy.RiskTier { return f.risk }
func (f *fakeTool) RequiresConfirmation() bool {
	return f.confirm
}

func (f *fakeTool) Definition() Definition {
	return Definition{
		Name:        f.name,
		Description: "test double",
		InputSchema: InputSchema{
			Properties: map[string]Property{
				"target": {Type: "string"},
			},
			Required: []string{"target"},
		},
	}
}

func (f *fakeTool) ConfirmationPrompt(map[string]any) string { return "" }

func (f *fakeTool) Exec(ctx context.Context, args map[string]any) (map[string]any, error) {
	if f.exec != nil {
		return f.exec(ctx, args)
	}
	return map[string]any{"ok": true}, nil
}

func testLimits() config.LimitsCfg {
	limits := config.Defaults().Limits
	limits.ResultMaxBytes = 64
	limits.AggregateMaxBytes = 100
	return limits
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeTool{name: "mail_send"}))
	require.Error(t, reg.Register(&fakeTool{name: "mail_send"}))

	_, err := reg.Get("mail_send")
	assert.NoError(t, err)
	_, err = reg.Get("missing")
	assert.Error(t, err)
}

func TestRegistryCatalog(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeTool{name: "mail_send"}))

	catalog := reg.Catalog()
	entry, ok := catalog["mail_send"]
	require.True(t, ok)
	require.Len(t, entry.Params, 1)
	assert.Equal(t, "target", entry.Params[0].Name)
	assert.True(t, entry.Params[0].Required)
}

func TestAdapterExecutesAndCapsResult(t *testing.T) {
	reg := NewRegistry()
	big := strings.Repeat("x", 500)
	require.NoError(t, reg.Register(&fakeTool{
		name: "calendar_list",
		exec: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return map[string]any{"events": big}, nil
		},
	}))

	run := NewAdapter(reg, testLimits(), nil, nil).NewRun()
	result := run.Execute(context.Background(), "calendar_list", nil)

	require.True(t, result.Success)
	assert.True(t, result.Truncated)
	assert.True(t, strings.HasSuffix(result.Payload, TruncationMarker))
	assert.LessOrEqual(t, len(result.Payload), 64+len(TruncationMarker))
}

func TestAdapterAggregateBudget(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeTool{
		name: "calendar_list",
		exec: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return map[string]any{"events": strings.Repeat("y", 50)}, nil
		},
	}))

	run := NewAdapter(reg, testLimits(), nil, nil).NewRun()
	first := run.Execute(context.Background(), "calendar_list", nil)
	second := run.Execute(context.Background(), "calendar_list", nil)
	third := run.Execute(context.Background(), "calendar_list", nil)

	assert.False(t, first.Truncated)
	// The aggregate budget is exhausted by later calls, not silently dropped.
	assert.True(t, second.Truncated || third.Truncated)
	assert.True(t, strings.Contains(second.Payload+third.Payload, TruncationMarker))
}

func TestAdapterRecordsFailureWithoutRaising(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeTool{
		name: "mail_send",
		exec: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			panic("tool bug")
		},
	}))

	run := NewAdapter(reg, testLimits(), nil, nil).NewRun()
	result := run.Execute(context.Background(), "mail_send", nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Err, "tool bug")
}

func TestAdapterUnknownTool(t *testing.T) {
	run := NewAdapter(NewRegistry(), testLimits(), nil, nil).NewRun()
	result := run.Execute(context.Background(), "nope", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Err, "not found")
}

func TestAdapterTimeout(t *testing.T) {
	limits := testLimits()
	limits.ToolTimeoutSec = 1
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeTool{
		name: "slow",
		exec: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return map[string]any{}, nil
			}
		},
	}))

	start := time.Now()
	run := NewAdapter(reg, limits, nil, nil).NewRun()
	result := run.Execute(context.Background(), "slow", nil)

	assert.False(t, result.Success)
	assert.Less(t, time.Since(start), 3*time.Second)
}
