package contextmgr

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/pkg/config"
)

func newTestManager() *Manager {
	return NewManager(config.Defaults().Limits, nil)
}

func TestSummaryWindowIsBounded(t *testing.T) {
	m := newTestManager()
	max := config.Defaults().Limits.SummaryMaxTurns

	for i := 0; i < max+5; i++ {
		m.RecordTurn(fmt.Sprintf("utterance %d", i), "ok")
	}

	assert.Equal(t, max, m.TurnCount())
	summary := m.Summary(0)
	assert.NotContains(t, summary, "utterance 0")
	assert.Contains(t, summary, fmt.Sprintf("utterance %d", max+4))
}

func TestSummaryCompactsToBudget(t *testing.T) {
	m := newTestManager()
	for i := 0; i < 10; i++ {
		m.RecordTurn(strings.Repeat("words ", 40), "a long reply "+strings.Repeat("x ", 40))
	}

	summary := m.Summary(80)
	assert.LessOrEqual(t, m.CountTokens(summary), 160)
	assert.Contains(t, summary, "[earlier turns omitted]")
}

func TestEntityTTL(t *testing.T) {
	m := newTestManager()
	current := time.Now()
	m.now = func() time.Time { return current }

	m.NoteEntity("contact:ali", "contact", "Ali Yılmaz <ali@example.com>")

	got, ok := m.ResolveEntity("contact:ali")
	require.True(t, ok)
	assert.Equal(t, "contact", got.Kind)

	current = current.Add(time.Duration(config.Defaults().Limits.EntityTTLSec+1) * time.Second)
	_, ok = m.ResolveEntity("contact:ali")
	assert.False(t, ok)
}

func TestEntityMapIsBounded(t *testing.T) {
	m := newTestManager()
	current := time.Now()
	m.now = func() time.Time { return current }
	max := config.Defaults().Limits.EntityMaxCount

	for i := 0; i < max+10; i++ {
		current = current.Add(time.Second)
		m.NoteEntity(fmt.Sprintf("event:%d", i), "event", "meeting")
	}

	assert.LessOrEqual(t, len(m.LiveEntities()), max)
	// The stalest entries were evicted, not the freshest.
	_, ok := m.ResolveEntity(fmt.Sprintf("event:%d", max+9))
	assert.True(t, ok)
	_, ok = m.ResolveEntity("event:0")
	assert.False(t, ok)
}

func TestCountTokensNonZero(t *testing.T) {
	m := newTestManager()
	assert.Greater(t, m.CountTokens("hello world, this is a sentence"), 0)
}

func TestClear(t *testing.T) {
	m := newTestManager()
	m.RecordTurn("hi", "hello")
	m.NoteEntity("k", "contact", "v")

	m.Clear()
	assert.Zero(t, m.TurnCount())
	assert.Empty(t, m.LiveEntities())
}
