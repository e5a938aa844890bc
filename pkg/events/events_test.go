package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus(nil, nil)
	sub := bus.Subscribe()

	bus.Publish(Event{Type: TurnStart, SessionID: "s1"})

	select {
	case event := <-sub:
		assert.Equal(t, TurnStart, event.Type)
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus(nil, nil)
	_ = bus.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			bus.Publish(Event{Type: ToolCall, SessionID: "s1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir)
	require.NoError(t, err)
	defer writer.Close()

	bus := NewBus(writer, nil)
	bus.Publish(Event{
		Type:      PolicyDecision,
		SessionID: "s1",
		TurnID:    "t1",
		Payload:   map[string]any{"decision": "pending_confirmation", "tool": "mail_send"},
	})
	bus.Publish(Event{Type: TurnEnd, SessionID: "s1", TurnID: "t1"})

	events, err := ReadEvents(dir, time.Now())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, PolicyDecision, events[0].Type)
	assert.Equal(t, "mail_send", events[0].Payload["tool"])
	assert.Equal(t, TurnEnd, events[1].Type)
}

func TestReadEventsMissingDayIsEmpty(t *testing.T) {
	events, err := ReadEvents(t.TempDir(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, events)
}
