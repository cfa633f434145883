package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	cfg := Load()

	assert.NotNil(t, cfg)
	assert.NotEmpty(t, cfg.ListenAddr)
	assert.NotEmpty(t, cfg.DBPath)
	assert.NotEmpty(t, cfg.AnalysisBackend)
	assert.Equal(t, 2*time.Second, cfg.SampleInterval)
	assert.Equal(t, 0.75, cfg.SimilarityThreshold)
}

func TestLoadCustomValues(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9000")
	t.Setenv("DB_PATH", "/custom/db.sqlite")
	t.Setenv("ANALYSIS_BACKEND", "claude")
	t.Setenv("CLAUDE_API_KEY", "sk-test123")
	t.Setenv("SAMPLE_INTERVAL", "500ms")
	t.Setenv("SIMILARITY_THRESHOLD", "0.9")
	t.Setenv("MAX_HISTORY_TURNS", "10")

	cfg := Load()

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "/custom/db.sqlite", cfg.DBPath)
	assert.Equal(t, "claude", cfg.AnalysisBackend)
	assert.Equal(t, "sk-test123", cfg.ClaudeAPIKey)
	assert.Equal(t, 500*time.Millisecond, cfg.SampleInterval)
	assert.Equal(t, 0.9, cfg.SimilarityThreshold)
	assert.Equal(t, 10, cfg.MaxHistoryTurns)
}

func TestLoadTriggerLists(t *testing.T) {
	// Unset lists stay nil so the router's defaults apply.
	cfg := Load()
	assert.Nil(t, cfg.CaptureTriggers)
	assert.Nil(t, cfg.MuteTriggers)
	assert.Nil(t, cfg.UnmuteTriggers)

	t.Setenv("CAPTURE_TRIGGERS", "what do you see, look around ,scan")
	t.Setenv("MUTE_TRIGGERS", "hush")
	cfg = Load()
	assert.Equal(t, []string{"what do you see", "look around", "scan"}, cfg.CaptureTriggers)
	assert.Equal(t, []string{"hush"}, cfg.MuteTriggers)
	assert.Nil(t, cfg.UnmuteTriggers)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SAMPLE_INTERVAL", "soon")
	t.Setenv("SIMILARITY_THRESHOLD", "high")
	t.Setenv("MAX_HISTORY_TURNS", "several")

	cfg := Load()

	assert.Equal(t, 2*time.Second, cfg.SampleInterval)
	assert.Equal(t, 0.75, cfg.SimilarityThreshold)
	assert.Equal(t, 6, cfg.MaxHistoryTurns)
}
