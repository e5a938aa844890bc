// Package events publishes the orchestrator's structured observability
// events and persists them to daily-rotated JSONL files. Every payload
// must be redacted before it reaches this package; events are safe for
// external consumption.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"aide/pkg/logx"
)

// Type names one event kind on the bus.
type Type string

const (
	TurnStart       Type = "turn.start"
	ToolCall        Type = "tool.call"
	PolicyDecision  Type = "policy.decision"
	QualityDegraded Type = "quality.degraded"
	TurnEnd         Type = "turn.end"
)

// Event is one published record.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	SessionID string         `json:"session_id"`
	TurnID    string         `json:"turn_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"` // redacted by the producer
}

// Bus fans events out to subscribers and, when configured, to the JSONL
// writer. Publishing never blocks the turn loop: a subscriber that falls
// behind loses events rather than stalling the session.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	writer      *Writer
	logger      *logx.Logger
}

// NewBus creates a bus. writer may be nil to disable persistence.
func NewBus(writer *Writer, logger *logx.Logger) *Bus {
	if logger == nil {
		logger = logx.NewLogger("events")
	}
	return &Bus{writer: writer, logger: logger}
}

// Subscribe registers a new consumer. The returned channel is buffered;
// slow consumers drop events.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish assigns the event an id and timestamp, persists it, and fans it
// out. A persistence failure is logged, never propagated into the turn.
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if b.writer != nil {
		if err := b.writer.Write(event); err != nil {
			b.logger.Error("event log write failed: %v", err)
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropping %s event for slow subscriber", event.Type)
		}
	}
}

// Close closes the underlying writer, if any.
func (b *Bus) Close() error {
	if b.writer == nil {
		return nil
	}
	return b.writer.Close()
}
