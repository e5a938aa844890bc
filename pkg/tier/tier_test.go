package tier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/pkg/config"
)

func newTestEngine() *Engine {
	cfg := config.Defaults()
	return NewEngine(cfg.Tier, cfg.Risk)
}

func TestDecideIsPure(t *testing.T) {
	e := newTestEngine()
	args := func() Decision {
		return e.Decide("compare all my meetings next week and then email a summary",
			"calendar", []string{"calendar_list", "mail_send"}, false)
	}

	first := args()
	second := args()
	assert.Equal(t, first, second)
}

func TestSimpleUtteranceStaysFast(t *testing.T) {
	e := newTestEngine()
	d := e.Decide("merhaba", "smalltalk", nil, false)

	assert.Equal(t, TierFast, d.RouterTier)
	assert.Equal(t, TierFast, d.FinalizerTier)
	assert.Equal(t, ReasonDefaultFast, d.RouterReason)
	assert.Zero(t, d.Risk)
}

func TestKeywordGroupCountsOnce(t *testing.T) {
	e := newTestEngine()
	// Three keywords from the same group must not inflate the score past
	// one group's contribution.
	once := e.Decide("compare this", "smalltalk", nil, false)
	thrice := e.Decide("compare the difference versus that", "smalltalk", nil, false)

	assert.Equal(t, once.Complexity, thrice.Complexity)
}

func TestConfirmationForcesQuality(t *testing.T) {
	e := newTestEngine()
	d := e.Decide("hi", "smalltalk", nil, true)

	assert.Equal(t, TierQuality, d.RouterTier)
	assert.Equal(t, ReasonConfirmationRequired, d.RouterReason)
}

func TestRiskyToolForcesQuality(t *testing.T) {
	e := newTestEngine()
	d := e.Decide("posta", "mail", []string{"mail_send"}, false)

	assert.Equal(t, TierQuality, d.RouterTier)
	assert.Equal(t, ReasonHighRisk, d.RouterReason)
	assert.GreaterOrEqual(t, d.Risk, 0.5)
}

func TestTurkishWriteVerbDetected(t *testing.T) {
	e := newTestEngine()
	d := e.Decide("merhaba", "smalltalk", []string{"takvim_sil"}, false)
	assert.GreaterOrEqual(t, d.Risk, 0.5)
}

func TestLongUtteranceRaisesComplexity(t *testing.T) {
	e := newTestEngine()
	long := strings.Repeat("lorem ipsum ", 20)

	short := e.Decide("hello", "smalltalk", nil, false)
	longDecision := e.Decide(long, "smalltalk", nil, false)

	assert.Greater(t, longDecision.Complexity, short.Complexity)
}

func TestFinalizerMayDifferFromRouter(t *testing.T) {
	e := newTestEngine()
	// Two keyword groups put the utterance just below the threshold; two
	// tools push only the finalizer over it.
	d := e.Decide("compare my calendars tomorrow",
		"smalltalk", []string{"calendar_list", "contacts_list"}, false)

	require.Equal(t, TierFast, d.RouterTier)
	assert.Equal(t, TierQuality, d.FinalizerTier)
	assert.Equal(t, ReasonLargeToolOutput, d.FinalizerReason)
}

func TestQoSDegradedScaling(t *testing.T) {
	e := newTestEngine()
	full := e.QoS(TierQuality, false)
	degraded := e.QoS(TierQuality, true)

	require.Greater(t, full.MaxTokens, degraded.MaxTokens)
	assert.Equal(t, full.DegradedSecs, degraded.TimeoutSec)
}
