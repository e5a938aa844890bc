// Package contextmgr maintains per-session dialog context: a rolling
// summary of recent turns, a bounded TTL map of recently-referenced
// entities for pronoun and ordinal resolution, and token-aware compaction
// of the history fed into finalization prompts.
package contextmgr

import (
	"fmt"
	"strings"
	"time"

	"github.com/tiktoken-go/tokenizer"

	"aide/pkg/config"
	"aide/pkg/logx"
)

// TurnRecord is one completed turn's contribution to the rolling summary.
type TurnRecord struct {
	Utterance string
	Reply     string
	At        time.Time
}

// Entity is one recently-referenced item a later utterance may point at
// with a pronoun or ordinal ("the second one", "onu").
type Entity struct {
	Kind     string // e.g. "contact", "event", "message"
	Value    string
	LastSeen time.Time
}

// Manager holds one session's dialog context. It is exclusively owned by
// the session and must not be shared across sessions.
type Manager struct {
	cfg      config.LimitsCfg
	codec    tokenizer.Codec
	logger   *logx.Logger
	turns    []TurnRecord
	entities map[string]Entity
	now      func() time.Time
}

// NewManager creates a context manager for one session.
func NewManager(cfg config.LimitsCfg, logger *logx.Logger) *Manager {
	if logger == nil {
		logger = logx.NewLogger("contextmgr")
	}
	// Claude and Gemini tokenize similarly enough that GPT-4 encoding is
	// a usable approximation for budgeting.
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		logger.Warn("tokenizer unavailable, falling back to char estimate: %v", err)
		codec = nil
	}
	return &Manager{
		cfg:      cfg,
		codec:    codec,
		logger:   logger,
		entities: make(map[string]Entity),
		now:      time.Now,
	}
}

// CountTokens returns the token count of text, estimating 4 chars per
// token when the codec is unavailable.
func (m *Manager) CountTokens(text string) int {
	if m.codec == nil {
		return len(text) / 4
	}
	count, err := m.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// RecordTurn appends one completed turn, dropping the oldest beyond the
// configured window.
func (m *Manager) RecordTurn(utterance, reply string) {
	m.turns = append(m.turns, TurnRecord{Utterance: utterance, Reply: reply, At: m.now()})
	if max := m.cfg.SummaryMaxTurns; max > 0 && len(m.turns) > max {
		m.turns = m.turns[len(m.turns)-max:]
	}
}

// Summary renders the rolling dialog summary, newest last, compacted to
// fit the given token budget. Older turns are dropped first; a dropped
// prefix is noted explicitly rather than silently.
func (m *Manager) Summary(budgetTokens int) string {
	if len(m.turns) == 0 {
		return ""
	}

	lines := make([]string, 0, len(m.turns))
	for _, turn := range m.turns {
		lines = append(lines, fmt.Sprintf("user: %s | assistant: %s", turn.Utterance, turn.Reply))
	}

	summary := strings.Join(lines, "\n")
	for budgetTokens > 0 && m.CountTokens(summary) > budgetTokens && len(lines) > 1 {
		lines = lines[1:]
		summary = "[earlier turns omitted]\n" + strings.Join(lines, "\n")
	}
	return summary
}

// NoteEntity remembers a referenced entity under a stable key. The map is
// bounded: when full, the stalest entry is evicted.
func (m *Manager) NoteEntity(key, kind, value string) {
	now := m.now()

	if max := m.cfg.EntityMaxCount; max > 0 && len(m.entities) >= max {
		if _, exists := m.entities[key]; !exists {
			m.evictStalest()
		}
	}
	m.entities[key] = Entity{Kind: kind, Value: value, LastSeen: now}
}

// ResolveEntity returns a live entity by key. Expired entries are treated
// as absent and removed.
func (m *Manager) ResolveEntity(key string) (Entity, bool) {
	entity, ok := m.entities[key]
	if !ok {
		return Entity{}, false
	}
	if m.expired(entity) {
		delete(m.entities, key)
		return Entity{}, false
	}
	return entity, true
}

// LiveEntities returns all unexpired entities, pruning expired ones.
func (m *Manager) LiveEntities() map[string]Entity {
	out := make(map[string]Entity, len(m.entities))
	for key, entity := range m.entities {
		if m.expired(entity) {
			delete(m.entities, key)
			continue
		}
		out[key] = entity
	}
	return out
}

// Clear resets all context. Used on forced session-state reset.
func (m *Manager) Clear() {
	m.turns = nil
	m.entities = make(map[string]Entity)
}

// TurnCount returns the number of turns currently in the window.
func (m *Manager) TurnCount() int { return len(m.turns) }

func (m *Manager) expired(entity Entity) bool {
	ttl := time.Duration(m.cfg.EntityTTLSec) * time.Second
	return ttl > 0 && m.now().Sub(entity.LastSeen) > ttl
}

func (m *Manager) evictStalest() {
	var stalestKey string
	var stalestAt time.Time
	first := true
	for key, entity := range m.entities {
		if first || entity.LastSeen.Before(stalestAt) {
			stalestKey = key
			stalestAt = entity.LastSeen
			first = false
		}
	}
	if stalestKey != "" {
		delete(m.entities, stalestKey)
	}
}
