package docker

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCommandClient records invocations and substitutes a harmless binary,
// so the argv construction is tested without a docker daemon.
func fakeCommandClient(invocations *[][]string) *Client {
	return &Client{
		command: func(ctx context.Context, name string, args ...string) *exec.Cmd {
			*invocations = append(*invocations, append([]string{name}, args...))
			return exec.CommandContext(ctx, "true")
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestComposeUpCommandLine(t *testing.T) {
	var invocations [][]string
	client := fakeCommandClient(&invocations)

	err := client.ComposeUp(context.Background(), "acme-api-42", "/work/docker-compose.preview.generated.yml", "/work", io.Discard)

	require.NoError(t, err)
	require.Len(t, invocations, 1)
	assert.Equal(t, []string{
		"docker", "compose",
		"-p", "acme-api-42",
		"-f", "/work/docker-compose.preview.generated.yml",
		"up", "-d", "--build",
	}, invocations[0])
}

func TestComposeDownCommandLine(t *testing.T) {
	var invocations [][]string
	client := fakeCommandClient(&invocations)

	err := client.ComposeDown(context.Background(), "acme-api-42", "/work/docker-compose.preview.generated.yml", "/work", io.Discard)

	require.NoError(t, err)
	require.Len(t, invocations, 1)
	assert.Equal(t, []string{
		"docker", "compose",
		"-p", "acme-api-42",
		"-f", "/work/docker-compose.preview.generated.yml",
		"down", "-v",
	}, invocations[0])
}

func TestComposeUpReportsFailure(t *testing.T) {
	client := &Client{
		command: func(ctx context.Context, name string, args ...string) *exec.Cmd {
			return exec.CommandContext(ctx, "false")
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	err := client.ComposeUp(context.Background(), "acme-api-42", "x.yml", t.TempDir(), io.Discard)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "acme-api-42")
}
