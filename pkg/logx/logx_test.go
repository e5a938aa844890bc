package logx

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugToggle(t *testing.T) {
	SetDebug(false)
	SetDebugDomains(nil)

	if IsDebugEnabled() {
		t.Error("debug should be disabled by default")
	}

	SetDebug(true)
	if !IsDebugEnabled() {
		t.Error("debug should be enabled after SetDebug(true)")
	}

	SetDebug(false)
	if IsDebugEnabled() {
		t.Error("debug should be disabled after SetDebug(false)")
	}
}

func TestDomainFiltering(t *testing.T) {
	SetDebug(true)
	defer SetDebug(false)
	defer SetDebugDomains(nil)

	SetDebugDomains([]string{"loop", "policy"})

	assert.True(t, IsDebugEnabledForDomain("loop"))
	assert.True(t, IsDebugEnabledForDomain("policy"))
	assert.False(t, IsDebugEnabledForDomain("finalize"))

	// Empty slice re-enables all domains.
	SetDebugDomains(nil)
	assert.True(t, IsDebugEnabledForDomain("finalize"))
}

func TestEnvironmentVariableConfiguration(t *testing.T) {
	os.Setenv("DEBUG", "1")
	os.Setenv("DEBUG_DOMAINS", "loop,tier")
	defer func() {
		os.Unsetenv("DEBUG")
		os.Unsetenv("DEBUG_DOMAINS")
		SetDebug(false)
		SetDebugDomains(nil)
	}()

	initDebugFromEnv()

	require.True(t, IsDebugEnabled())
	assert.True(t, IsDebugEnabledForDomain("loop"))
	assert.True(t, IsDebugEnabledForDomain("tier"))
	assert.False(t, IsDebugEnabledForDomain("policy"))
}

func TestRecentEntriesCapture(t *testing.T) {
	logger := NewLogger("test-component")
	before := time.Now().UTC().Add(-time.Second)

	logger.Info("captured message %d", 42)

	entries := RecentEntries("", before)
	require.NotEmpty(t, entries)

	last := entries[len(entries)-1]
	assert.Equal(t, "test-component", last.Component)
	assert.Equal(t, "INFO", last.Level)
	assert.Equal(t, "captured message 42", last.Message)
}

func TestWithID(t *testing.T) {
	logger := NewLogger("first")
	other := logger.WithID("second")

	assert.Equal(t, "first", logger.GetID())
	assert.Equal(t, "second", other.GetID())
}

func TestErrorfReturnsError(t *testing.T) {
	err := Errorf("failed with code %d", 7)
	require.Error(t, err)
	assert.Equal(t, "failed with code 7", err.Error())
}

func TestWrapNilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "context"))

	err := Wrap(os.ErrNotExist, "lookup")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
