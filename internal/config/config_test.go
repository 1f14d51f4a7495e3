package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 16, cfg.Tournament.MinImages)
	assert.Equal(t, 24*time.Hour, cfg.Tournament.StaleAfter)
	assert.ElementsMatch(t, []string{"footwear", "clothing", "color", "accessories"}, cfg.Tournament.Categories)
	assert.Equal(t, 10, cfg.Learning.MinEvents)
	assert.Equal(t, 168*time.Hour, cfg.Learning.AnalysisWindow)
	assert.InDelta(t, 0.2, cfg.Learning.MaxDelta, 1e-9)
	assert.Equal(t, 30*time.Minute, cfg.Orchestrator.ResultsTTL)
	assert.Equal(t, 5*time.Second, cfg.Feedback.BatchInterval)
	assert.Equal(t, "feedback-events", cfg.Kafka.Topics.FeedbackEvents)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("TOURNAMENT_MIN_IMAGES", "8")
	t.Setenv("LEARNING_ADAPTATION_RATE", "0.05")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Tournament.MinImages)
	assert.InDelta(t, 0.05, cfg.Learning.AdaptationRate, 1e-9)
	assert.Equal(t, 3, cfg.Orchestrator.CandidateMultiplier)
}
