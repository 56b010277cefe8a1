package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/remind")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("BEARER_TOKEN", "secret")
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequired(t)
	t.Setenv("REMINDER_CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sms", cfg.Reminder.DefaultChannel)
	assert.Equal(t, "09:00", cfg.Reminder.DefaultContactStart)
	assert.Equal(t, "18:00", cfg.Reminder.DefaultContactEnd)
	assert.Equal(t, "America/New_York", cfg.Reminder.DefaultTimezone)
	assert.Equal(t, 3, cfg.Reminder.DefaultMaxPerDay)
	assert.Equal(t, time.Minute, cfg.Workers.DispatchInterval)
	assert.Equal(t, 8, cfg.Workers.DispatchConcurrency)
	assert.Equal(t, "8930", cfg.HTTP.Port)
	assert.Equal(t, "secret", cfg.GetBearerToken())
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DB_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("BEARER_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_URL")
	assert.Contains(t, err.Error(), "REDIS_URL")
	assert.Contains(t, err.Error(), "BEARER_TOKEN")
}

func TestLoad_YAMLThenEnvironment(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "remind.yaml")
	yamlBody := `
reminder:
  default_channel: email
  default_max_per_day: 5
  send_timeout: 3s
workers:
  dispatch_interval: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))
	t.Setenv("REMINDER_CONFIG_FILE", path)
	t.Setenv("REMINDER_DEFAULT_MAX_PER_DAY", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "email", cfg.Reminder.DefaultChannel)
	assert.Equal(t, 7, cfg.Reminder.DefaultMaxPerDay, "environment wins over file")
	assert.Equal(t, 3*time.Second, cfg.Reminder.SendTimeout)
	assert.Equal(t, 30*time.Second, cfg.Workers.DispatchInterval)
	assert.Equal(t, "America/New_York", cfg.Reminder.DefaultTimezone, "untouched defaults survive the overlay")
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	setRequired(t)
	t.Setenv("DISPATCH_BATCH_SIZE", "lots")
	t.Setenv("REMINDER_SEND_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Workers.DispatchBatchSize)
	assert.Equal(t, 10*time.Second, cfg.Reminder.SendTimeout)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.DBURL, cfg.Redis.URL, cfg.BearerToken = "db", "redis", "token"
	require.NoError(t, cfg.Validate())

	cfg.Workers.DispatchConcurrency = 0
	assert.Error(t, cfg.Validate())
}
