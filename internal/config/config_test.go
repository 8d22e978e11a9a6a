package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	assert.Equal(t, ClassifierConfig{Type: "contextual"}, cfg.GetClassifier())

	ctxCfg, err := cfg.GetContext()
	require.NoError(t, err)
	assert.Equal(t, 100, ctxCfg.Capacity)
	assert.Equal(t, 9, ctxCfg.BusinessHoursStart)
	assert.Equal(t, 18, ctxCfg.BusinessHoursEnd)
	assert.Equal(t, time.Hour, ctxCfg.FrequencyWindow)
	assert.Equal(t, 5, ctxCfg.FrequencyLimit)
	assert.Equal(t, time.Local, ctxCfg.Location)

	storage, err := cfg.GetStorage()
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", storage.Driver)
	assert.Equal(t, time.Hour, storage.CleanupFrequency)

	audit, err := cfg.GetAudit()
	require.NoError(t, err)
	assert.Equal(t, 90*24*time.Hour, audit.Retention)

	rep, err := cfg.GetReputation()
	require.NoError(t, err)
	assert.Equal(t, BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: 30 * time.Second, ConsecutiveFailures: 5}, rep.Breaker)

	prefs := cfg.GetPreferences()
	assert.Equal(t, []string{"banking"}, prefs.ImportantTypes)
	assert.True(t, prefs.FeedbackLearning)

	assert.Equal(t, 8, cfg.GetBatch().Concurrency)
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
classifier:
  type: model
context:
  timezone: Asia/Kolkata
  frequency_window: 30m
storage:
  type: memory
`), 0o600))

	cfg, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, "model", cfg.GetClassifier().Type)

	ctxCfg, err := cfg.GetContext()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", ctxCfg.Location.String())
	assert.Equal(t, 30*time.Minute, ctxCfg.FrequencyWindow)

	storage, err := cfg.GetStorage()
	require.NoError(t, err)
	assert.Equal(t, "memory", storage.Type)
	assert.Equal(t, "sqlite3", storage.Driver)
}

func TestNew_MissingExplicitFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SMS_FILTER_BATCH_CONCURRENCY", "3")
	t.Setenv("SMS_FILTER_AUDIT_RETENTION", "bogus")

	cfg, err := New(filepath.Join("testdata", "empty.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.GetBatch().Concurrency)

	_, err = cfg.GetAudit()
	assert.ErrorContains(t, err, "audit.retention")
}
