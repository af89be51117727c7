package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsAppliesDefaults(t *testing.T) {
	t.Setenv("BILLCORE_DATABASE_URL", "postgres://localhost:5432/billcore")
	t.Setenv("BILLCORE_NAME", "billcore")

	settings, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, 3, settings.Router.RetryOnConflict)
	assert.Equal(t, 5, settings.Consumer.PoisonBudget)
	assert.Equal(t, 1, settings.Consumer.BatchSize)
	assert.EqualValues(t, 10*1024*1024, settings.File.MaxBytes)
	assert.Equal(t, "forever", settings.LogRetention)
}

func TestLoadSettingsRejectsNonForeverRetention(t *testing.T) {
	t.Setenv("BILLCORE_DATABASE_URL", "postgres://localhost:5432/billcore")
	t.Setenv("BILLCORE_LOG_RETENTION", "30d")

	_, err := LoadSettings()
	require.Error(t, err)
}

func TestLoadSettingsRequiresDatabaseURL(t *testing.T) {
	_, err := LoadSettings()
	require.Error(t, err)
}

func TestLoadSettingsRejectsUnknownEnvironment(t *testing.T) {
	t.Setenv("BILLCORE_DATABASE_URL", "postgres://localhost:5432/billcore")
	t.Setenv("BILLCORE_ENVIRONMENT", "sandbox")

	_, err := LoadSettings()
	require.Error(t, err)
}

func TestLimitsProjectsAllowedContentTypes(t *testing.T) {
	t.Setenv("BILLCORE_DATABASE_URL", "postgres://localhost:5432/billcore")
	t.Setenv("BILLCORE_FILE_ALLOWED_CONTENT_TYPES", "application/pdf, image/png")

	settings, err := LoadSettings()
	require.NoError(t, err)

	limits := settings.Limits()
	assert.EqualValues(t, 10*1024*1024, limits.MaxFileBytes)
	_, ok := limits.AllowedContentTypes["application/pdf"]
	assert.True(t, ok)
	_, ok = limits.AllowedContentTypes["image/png"]
	assert.True(t, ok)
}
