package docker

import (
	"context"
	"fmt"
	"io"
)

// ComposeUp builds and starts the compose project for one deployment.
// the -p project name scopes container, network and volume names to the
// deployment id, and --build rebuilds the app image from the working tree on
// every run so updates pick up the new commit.
//
// build and engine output streams to the supplied writer, which the pipeline
// points at the per-deployment log file.
func (client *Client) ComposeUp(ctx context.Context, projectName, composeFile, workDir string, output io.Writer) error {
	command := client.command(ctx, "docker", "compose",
		"-p", projectName,
		"-f", composeFile,
		"up", "-d", "--build",
	)
	command.Dir = workDir
	command.Stdout = output
	command.Stderr = output

	client.logger.Info("compose up", "project", projectName, "composeFile", composeFile)
	if err := command.Run(); err != nil {
		return fmt.Errorf("docker compose up failed for project %q: %w", projectName, err)
	}
	return nil
}

// ComposeDown stops the project and removes its containers, networks and
// volumes. -v matters: each preview provisions a throwaway database volume
// that must not outlive the deployment.
func (client *Client) ComposeDown(ctx context.Context, projectName, composeFile, workDir string, output io.Writer) error {
	command := client.command(ctx, "docker", "compose",
		"-p", projectName,
		"-f", composeFile,
		"down", "-v",
	)
	command.Dir = workDir
	command.Stdout = output
	command.Stderr = output

	client.logger.Info("compose down", "project", projectName)
	if err := command.Run(); err != nil {
		return fmt.Errorf("docker compose down failed for project %q: %w", projectName, err)
	}
	return nil
}
