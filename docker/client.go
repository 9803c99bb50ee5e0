// Package docker wraps the Docker SDK client and the docker compose CLI for
// the operations the preview daemon needs: listing bound host ports,
// inspecting the app container of a deployment, and bringing compose
// projects up and down. all container-engine interaction is isolated here so
// no other package imports the Docker SDK directly.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	dockerSDKclient "github.com/docker/docker/client"
)

// Client wraps the Docker SDK client with a logger. the SDK client manages
// the connection to the Docker daemon over the Unix socket and handles
// concurrency internally, so a single Client is shared across goroutines.
//
// compose has no SDK surface, so those operations shell out to the docker
// CLI through the command field, which tests replace.
type Client struct {
	sdk     *dockerSDKclient.Client
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
	logger  *slog.Logger
}

// NewClient connects to the Docker daemon using the default socket path
// (honoring $DOCKER_HOST and friends) and performs a ping to verify the
// connection is live before returning. an error here should cause main to
// exit immediately: without the container engine the daemon cannot function.
func NewClient(logger *slog.Logger) (*Client, error) {
	// FromEnv falls back to the default Unix socket when no $DOCKER_* vars
	// are set; version negotiation keeps the SDK working against whatever
	// daemon version the host runs.
	sdkClient, err := dockerSDKclient.NewClientWithOpts(
		dockerSDKclient.FromEnv,
		dockerSDKclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker sdk client: %w", err)
	}

	client := &Client{
		sdk:     sdkClient,
		command: exec.CommandContext,
		logger:  logger,
	}

	// fail fast if Docker is not running. 5 seconds is enough for a local
	// socket response.
	pingContext, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()

	if err := client.ping(pingContext); err != nil {
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	logger.Info("docker client connected", "host", sdkClient.DaemonHost())
	return client, nil
}

// ping sends a lightweight request to the Docker daemon. used at startup to
// verify connectivity before the server begins accepting requests.
func (client *Client) ping(ctx context.Context) error {
	if _, err := client.sdk.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

// Close releases the underlying Docker SDK client connection.
// should be deferred in main immediately after NewClient returns successfully.
func (client *Client) Close() error {
	return client.sdk.Close()
}
