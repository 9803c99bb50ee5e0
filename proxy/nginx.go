/*
Package proxy owns the reverse-proxy route directory: one config file per
preview deployment, each defining the path-based location that forwards
/<slug>/pr-<N>/ to the preview's published host port.

The generated files are location blocks meant to be included inside the main
nginx server block; they must never introduce server wrapping of their own.
After every write or remove the proxy is reloaded through the injected
Reloader so route changes take effect immediately.
*/
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrReloadFailed means the proxy rejected its configuration or the reload
// signal failed. deploys treat this as fatal and roll back.
var ErrReloadFailed = errors.New("proxy reload failed")

// Reloader applies pending route changes to the running proxy.
// production uses NginxReloader; tests inject a no-op.
type Reloader interface {
	Reload(ctx context.Context) error
}

// NginxReloader validates the full nginx configuration and signals the
// running daemon to re-read it.
type NginxReloader struct {
	// command builds the exec invocations; swapped in tests.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
	logger  *slog.Logger
}

func NewNginxReloader(logger *slog.Logger) *NginxReloader {
	return &NginxReloader{
		command: exec.CommandContext,
		logger:  logger,
	}
}

// Reload runs "nginx -t" first so a broken route file can never take down
// the proxy, then "nginx -s reload". either failure carries the combined
// command output, which is where nginx prints what is wrong.
func (reloader *NginxReloader) Reload(ctx context.Context) error {
	testCommand := reloader.command(ctx, "nginx", "-t")
	if output, err := testCommand.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: config test: %s", ErrReloadFailed, strings.TrimSpace(string(output)))
	}

	reloadCommand := reloader.command(ctx, "nginx", "-s", "reload")
	if output, err := reloadCommand.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: reload signal: %s", ErrReloadFailed, strings.TrimSpace(string(output)))
	}

	reloader.logger.Debug("nginx configuration reloaded")
	return nil
}

// Manager writes and removes per-deployment route files.
type Manager struct {
	configDir string
	reloader  Reloader
	logger    *slog.Logger
}

func NewManager(configDir string, reloader Reloader, logger *slog.Logger) *Manager {
	return &Manager{
		configDir: configDir,
		reloader:  reloader,
		logger:    logger,
	}
}

// routeFileContent is the location block for one preview. the trailing slash
// on proxy_pass strips the /<slug>/pr-<N>/ prefix before the request reaches
// the app, so apps serve from / as usual.
func routeFileContent(projectSlug string, prNumber int, exposedAppPort int) string {
	return fmt.Sprintf(`location /%s/pr-%d/ {
    proxy_pass http://localhost:%d/;
    proxy_set_header Host $host;
    proxy_set_header X-Real-IP $remote_addr;
    proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
    proxy_set_header X-Forwarded-Proto $scheme;
}
`, projectSlug, prNumber, exposedAppPort)
}

func (manager *Manager) routeFilePath(projectSlug string, prNumber int) string {
	return filepath.Join(manager.configDir, fmt.Sprintf("%s-pr-%d.conf", projectSlug, prNumber))
}

// AddPreview writes the route file for the deployment and reloads the proxy.
func (manager *Manager) AddPreview(ctx context.Context, projectSlug string, prNumber int, exposedAppPort int) error {
	if err := os.MkdirAll(manager.configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create proxy config directory %q: %w", manager.configDir, err)
	}

	path := manager.routeFilePath(projectSlug, prNumber)
	content := routeFileContent(projectSlug, prNumber, exposedAppPort)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write route file %q: %w", path, err)
	}

	if err := manager.reloader.Reload(ctx); err != nil {
		return err
	}

	manager.logger.Info("preview route added",
		"projectSlug", projectSlug,
		"prNumber", prNumber,
		"exposedAppPort", exposedAppPort,
	)
	return nil
}

// RemovePreview deletes the route file if present and reloads the proxy.
// removing an absent route is a no-op so teardown stays idempotent, but the
// reload still runs in case an earlier remove never got one.
func (manager *Manager) RemovePreview(ctx context.Context, projectSlug string, prNumber int) error {
	path := manager.routeFilePath(projectSlug, prNumber)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove route file %q: %w", path, err)
	}

	if err := manager.reloader.Reload(ctx); err != nil {
		return err
	}

	manager.logger.Info("preview route removed", "projectSlug", projectSlug, "prNumber", prNumber)
	return nil
}
