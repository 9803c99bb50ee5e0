package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingReloader counts reloads and can simulate failure.
type recordingReloader struct {
	calls int
	err   error
}

func (reloader *recordingReloader) Reload(ctx context.Context) error {
	reloader.calls++
	return reloader.err
}

func TestAddPreviewWritesRouteFile(t *testing.T) {
	configDir := t.TempDir()
	reloader := &recordingReloader{}
	manager := NewManager(configDir, reloader, discardLogger())

	require.NoError(t, manager.AddPreview(context.Background(), "acme-api", 42, 8000))

	path := filepath.Join(configDir, "acme-api-pr-42.conf")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "location /acme-api/pr-42/")
	assert.Contains(t, content, "proxy_pass http://localhost:8000/;")
	assert.NotContains(t, content, "server {", "route files are included inside an existing server block")
	assert.Equal(t, 1, reloader.calls)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestAddPreviewCreatesConfigDir(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "nested", "preview-configs")
	manager := NewManager(configDir, &recordingReloader{}, discardLogger())

	require.NoError(t, manager.AddPreview(context.Background(), "acme-api", 7, 8003))

	assert.FileExists(t, filepath.Join(configDir, "acme-api-pr-7.conf"))
}

func TestAddPreviewReportsReloadFailure(t *testing.T) {
	reloader := &recordingReloader{err: ErrReloadFailed}
	manager := NewManager(t.TempDir(), reloader, discardLogger())

	err := manager.AddPreview(context.Background(), "acme-api", 42, 8000)

	assert.ErrorIs(t, err, ErrReloadFailed)
}

func TestRemovePreviewDeletesAndReloads(t *testing.T) {
	configDir := t.TempDir()
	reloader := &recordingReloader{}
	manager := NewManager(configDir, reloader, discardLogger())
	require.NoError(t, manager.AddPreview(context.Background(), "acme-api", 42, 8000))

	require.NoError(t, manager.RemovePreview(context.Background(), "acme-api", 42))

	assert.NoFileExists(t, filepath.Join(configDir, "acme-api-pr-42.conf"))
	assert.Equal(t, 2, reloader.calls)
}

func TestRemovePreviewIdempotentOnAbsence(t *testing.T) {
	reloader := &recordingReloader{}
	manager := NewManager(t.TempDir(), reloader, discardLogger())

	require.NoError(t, manager.RemovePreview(context.Background(), "acme-api", 42))

	// the reload still happens; an earlier crash may have left one pending
	assert.Equal(t, 1, reloader.calls)
}

func TestNginxReloaderRunsTestBeforeReload(t *testing.T) {
	var invocations [][]string
	reloader := NewNginxReloader(discardLogger())
	reloader.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		invocations = append(invocations, append([]string{name}, args...))
		return exec.CommandContext(ctx, "true")
	}

	require.NoError(t, reloader.Reload(context.Background()))

	require.Len(t, invocations, 2)
	assert.Equal(t, []string{"nginx", "-t"}, invocations[0])
	assert.Equal(t, []string{"nginx", "-s", "reload"}, invocations[1])
}

func TestNginxReloaderStopsWhenConfigTestFails(t *testing.T) {
	var invocations int
	reloader := NewNginxReloader(discardLogger())
	reloader.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		invocations++
		return exec.CommandContext(ctx, "false")
	}

	err := reloader.Reload(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReloadFailed))
	assert.Equal(t, 1, invocations, "reload must not run after a failed config test")
}
