package llm

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/pkg/metrics"
)

func TestMeteredClientRecordsUsage(t *testing.T) {
	stub := &stubClient{responses: []Response{
		{Content: "hi", PromptTokens: 100, CompletionTokens: 40},
	}}
	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorderWith(reg)
	quota := NewQuotaTracker()
	mc := NewMeteredClient(stub, "fast", recorder, quota)

	resp, err := mc.Complete(context.Background(), Request{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)

	snap := quota.Snapshot("stub-model")
	assert.Equal(t, int64(100), snap.PromptTokens)
	assert.Equal(t, int64(40), snap.CompletionTokens)
	assert.Equal(t, int64(1), snap.Requests)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(t, names["aide_llm_requests_total"])
	assert.True(t, names["aide_llm_tokens_total"])
}

func TestMeteredClientClassifiesFailures(t *testing.T) {
	stub := &stubClient{errs: []error{NewError(ErrorTypeTimeout, "deadline")}}
	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorderWith(reg)
	quota := NewQuotaTracker()
	mc := NewMeteredClient(stub, "quality", recorder, quota)

	_, err := mc.Complete(context.Background(), Request{SessionID: "sess-1"})
	require.Error(t, err)

	// Failures never count against the quota.
	assert.Equal(t, int64(0), quota.Snapshot("stub-model").Requests)

	counter, gerr := testutil.GatherAndCount(reg, "aide_llm_requests_total")
	require.NoError(t, gerr)
	assert.Equal(t, 1, counter)
}

func TestMeteredClientNilCollaborators(t *testing.T) {
	stub := &stubClient{responses: []Response{{Content: "ok"}}}
	mc := NewMeteredClient(stub, "fast", nil, nil)

	resp, err := mc.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "stub-model", mc.ModelName())
	assert.Equal(t, 8192, mc.ContextLength())
}
