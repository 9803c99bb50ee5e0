/*
Package config handles loading and validating application configuration
from environment variables. Operational values have sensible defaults so the
daemon can start with minimal environment setup; credentials and the repo
allow-list have none and are checked by Validate before anything else runs.
*/
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config struct holds all configuration values for the application.
// values are read once at startup and passed through the app via dependency injection.
// no global config variable is used. callers receive a *Config explicitly,
// making dependencies visible and the code easier to test.
type Config struct {
	// Port is the TCP port the HTTP server listens on
	Port string

	// GitHubToken authenticates PR comment posts and PR status lookups
	// against the GitHub REST API. required.
	GitHubToken string

	// WebhookSecret is the shared HMAC-SHA256 secret used to verify the
	// X-Hub-Signature-256 header on incoming webhooks. required.
	WebhookSecret string

	// AllowedRepos is the "owner/name" allow-list parsed from a
	// comma-separated environment variable. webhooks from any repository
	// not on this list are rejected. required, must be non-empty.
	AllowedRepos []string

	// PreviewBaseURL is the public origin previews are served under,
	// e.g. "https://preview.example.com". required.
	PreviewBaseURL string

	// DeploymentsDir is the base directory where PR working trees are
	// cloned. each deployment gets its own subdirectory named by its id.
	DeploymentsDir string

	// NginxConfigDir is where per-deployment nginx location files are
	// written. nginx must include this directory from its main server block.
	NginxConfigDir string

	// DeploymentsDB is the path of the JSON file the deployment tracker
	// persists its state to.
	DeploymentsDB string

	// EventsDB is the path of the SQLite file holding the per-deployment
	// event history.
	EventsDB string

	// DeployLogDir is the base directory where per-deployment pipeline log
	// files are written, one file per deployment, named by id.
	DeployLogDir string

	// CleanupTTLDays is the age in days past which a preview is evicted by
	// the reconciler regardless of PR state.
	CleanupTTLDays int

	// CleanupIntervalHours is how often the reconciler sweeps.
	CleanupIntervalHours int

	// LogLevel sets the minimum slog level: "debug" | "info" | "warn" | "error"
	LogLevel string

	// LogFormat controls the output format of slog (logging library)
	// accepted values: "json" (default) | "text"
	// set to "text" during local development for readable terminal output
	LogFormat string

	// CORSAllowedOrigin is handed to the CORS middleware for the REST API.
	CORSAllowedOrigin string
}

// Load reads configuration from environment variables and RETURNS a populated Config struct.
// missing operational variables fall back to the documented defaults; missing
// credentials surface later through Validate.
func Load() *Config {
	return &Config{
		Port:                 getEnv("ORCHESTRATOR_PORT", "3000"),
		GitHubToken:          getEnv("GITHUB_TOKEN", ""),
		WebhookSecret:        getEnv("GITHUB_WEBHOOK_SECRET", ""),
		AllowedRepos:         splitAndTrim(getEnv("ALLOWED_REPOS", "")),
		PreviewBaseURL:       strings.TrimRight(getEnv("PREVIEW_BASE_URL", ""), "/"),
		DeploymentsDir:       getEnv("DEPLOYMENTS_DIR", "/opt/preview-deployments"),
		NginxConfigDir:       getEnv("NGINX_CONFIG_DIR", "/etc/nginx/preview-configs"),
		DeploymentsDB:        getEnv("DEPLOYMENTS_DB", "/opt/preview-deployer/deployments.json"),
		EventsDB:             getEnv("EVENTS_DB", "/opt/preview-deployer/events.db"),
		DeployLogDir:         getEnv("DEPLOY_LOG_DIR", "/opt/preview-deployer/logs"),
		CleanupTTLDays:       getEnvInt("CLEANUP_TTL_DAYS", 7),
		CleanupIntervalHours: getEnvInt("CLEANUP_INTERVAL_HOURS", 6),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		CORSAllowedOrigin:    getEnv("CORS_ALLOWED_ORIGIN", "*"),
	}
}

// Validate checks that every required variable is present and returns an
// error naming all missing ones at once, so an operator fixes the environment
// in one pass instead of one variable per restart.
func (config *Config) Validate() error {
	var missing []string

	if config.GitHubToken == "" {
		missing = append(missing, "GITHUB_TOKEN")
	}
	if config.WebhookSecret == "" {
		missing = append(missing, "GITHUB_WEBHOOK_SECRET")
	}
	if len(config.AllowedRepos) == 0 {
		missing = append(missing, "ALLOWED_REPOS")
	}
	if config.PreviewBaseURL == "" {
		missing = append(missing, "PREVIEW_BASE_URL")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// getEnv retrieves the value of an environment variable by key.
// if the variable is not set or is empty, the provided fallback value is returned.
// this avoids scattered os.Getenv calls with inline fallback logic throughout the codebase.
func getEnv(key, fallbackValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallbackValue
}

// getEnvInt is getEnv for integer variables. an unparsable value falls back
// rather than aborting startup; Load has no error channel and these are
// operational tunables, not credentials.
func getEnvInt(key string, fallbackValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallbackValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallbackValue
	}
	return parsed
}

// splitAndTrim parses a comma-separated list, trimming whitespace around each
// entry and dropping empty ones, so "a/b, c/d," parses to ["a/b", "c/d"].
func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	var entries []string
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			entries = append(entries, trimmed)
		}
	}
	return entries
}

// NewLogger constructs a *slog.Logger based on the LogFormat and LogLevel
// fields of the config.
// "text" produces human-readable output for local development
// any other value (including "json") produces structured JSON output for
// production and Docker log shipping.
func (config *Config) NewLogger() *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		// AddSource adds the file name and line number to each log record.
		// useful during development to trace log origins.
		AddSource: true,
		Level:     config.slogLevel(),
	}

	if config.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// slogLevel maps the LOG_LEVEL string onto a slog.Level, defaulting to Info
// for unrecognized values.
func (config *Config) slogLevel() slog.Level {
	switch strings.ToLower(config.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
