package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// t.Setenv guarantees the variables are restored after the test even if
	// the surrounding environment had them set.
	for _, key := range []string{
		"ORCHESTRATOR_PORT", "DEPLOYMENTS_DIR", "NGINX_CONFIG_DIR",
		"DEPLOYMENTS_DB", "CLEANUP_TTL_DAYS", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "/opt/preview-deployments", cfg.DeploymentsDir)
	assert.Equal(t, "/etc/nginx/preview-configs", cfg.NginxConfigDir)
	assert.Equal(t, "/opt/preview-deployer/deployments.json", cfg.DeploymentsDB)
	assert.Equal(t, 7, cfg.CleanupTTLDays)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadParsesAllowedRepos(t *testing.T) {
	t.Setenv("ALLOWED_REPOS", "acme/api, acme/web ,, other/repo")

	cfg := Load()

	assert.Equal(t, []string{"acme/api", "acme/web", "other/repo"}, cfg.AllowedRepos)
}

func TestLoadTrimsTrailingSlashFromBaseURL(t *testing.T) {
	t.Setenv("PREVIEW_BASE_URL", "https://preview.example.com/")

	cfg := Load()

	assert.Equal(t, "https://preview.example.com", cfg.PreviewBaseURL)
}

func TestValidateListsAllMissingVariables(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_TOKEN")
	assert.Contains(t, err.Error(), "GITHUB_WEBHOOK_SECRET")
	assert.Contains(t, err.Error(), "ALLOWED_REPOS")
	assert.Contains(t, err.Error(), "PREVIEW_BASE_URL")
}

func TestValidatePassesWithRequiredVariables(t *testing.T) {
	cfg := &Config{
		GitHubToken:    "ghp_x",
		WebhookSecret:  "hush",
		AllowedRepos:   []string{"acme/api"},
		PreviewBaseURL: "https://preview.example.com",
	}

	assert.NoError(t, cfg.Validate())
}

func TestGetEnvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("CLEANUP_TTL_DAYS", "a week")

	cfg := Load()

	assert.Equal(t, 7, cfg.CleanupTTLDays)
}
