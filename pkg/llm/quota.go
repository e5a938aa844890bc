package llm

import (
	"sync"
	"time"
)

// QuotaTracker accounts token usage per model across all sessions. It is a
// shared, process-lifecycle service injected where needed; per-model buckets
// are created lazily with double-checked locking so concurrent first use
// from many sessions resolves each bucket exactly once.
type QuotaTracker struct {
	mu      sync.RWMutex
	buckets map[string]*quotaBucket
}

type quotaBucket struct {
	mu               sync.Mutex
	promptTokens     int64
	completionTokens int64
	requests         int64
	windowStart      time.Time
}

// QuotaSnapshot is a read-only view of one model's usage.
type QuotaSnapshot struct {
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	Requests         int64
	WindowStart      time.Time
}

// NewQuotaTracker creates an empty tracker.
func NewQuotaTracker() *QuotaTracker {
	return &QuotaTracker{buckets: make(map[string]*quotaBucket)}
}

// bucket returns the bucket for model, creating it once under the write lock.
func (qt *QuotaTracker) bucket(model string) *quotaBucket {
	// Cheap unlocked-read path first.
	qt.mu.RLock()
	b, ok := qt.buckets[model]
	qt.mu.RUnlock()
	if ok {
		return b
	}

	qt.mu.Lock()
	defer qt.mu.Unlock()
	// Re-check under the lock; another session may have created it.
	if b, ok := qt.buckets[model]; ok {
		return b
	}
	b = &quotaBucket{windowStart: time.Now()}
	qt.buckets[model] = b
	return b
}

// Record adds one request's token usage to the model's bucket.
func (qt *QuotaTracker) Record(model string, promptTokens, completionTokens int) {
	b := qt.bucket(model)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promptTokens += int64(promptTokens)
	b.completionTokens += int64(completionTokens)
	b.requests++
}

// Snapshot returns the current usage for a model.
func (qt *QuotaTracker) Snapshot(model string) QuotaSnapshot {
	b := qt.bucket(model)
	b.mu.Lock()
	defer b.mu.Unlock()
	return QuotaSnapshot{
		Model:            model,
		PromptTokens:     b.promptTokens,
		CompletionTokens: b.completionTokens,
		Requests:         b.requests,
		WindowStart:      b.windowStart,
	}
}

// ModelCache lazily resolves and caches model identifiers (e.g. mapping an
// alias like "quality" to the provider's concrete model name). Resolution
// may hit the network, so concurrent first use is collapsed to a single
// resolver call per alias via double-checked locking.
type ModelCache struct {
	mu       sync.RWMutex
	resolved map[string]string
	resolver func(alias string) (string, error)
}

// NewModelCache creates a cache backed by the given resolver.
func NewModelCache(resolver func(alias string) (string, error)) *ModelCache {
	return &ModelCache{
		resolved: make(map[string]string),
		resolver: resolver,
	}
}

// Resolve returns the concrete model name for an alias, resolving it at most
// once.
func (mc *ModelCache) Resolve(alias string) (string, error) {
	mc.mu.RLock()
	name, ok := mc.resolved[alias]
	mc.mu.RUnlock()
	if ok {
		return name, nil
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if name, ok := mc.resolved[alias]; ok {
		return name, nil
	}

	name, err := mc.resolver(alias)
	if err != nil {
		return "", err
	}
	mc.resolved[alias] = name
	return name, nil
}
