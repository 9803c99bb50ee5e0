package deploy

import (
	"context"
	"errors"

	"github.com/sasta-kro/magpie-previews/docker"
	"github.com/sasta-kro/magpie-previews/models"
)

// GetPreviewStatus reports the live status of a tracked preview by
// inspecting its app container, rather than trusting the stored status; a
// container can die long after the record said running.
func (pipeline *Pipeline) GetPreviewStatus(ctx context.Context, deploymentID string) (models.DeploymentStatus, error) {
	deployment, err := pipeline.tracker.GetDeployment(deploymentID)
	if err != nil {
		return "", err
	}

	containerName := appContainerName(deployment.ProjectSlug, deployment.PRNumber)
	state, err := pipeline.engine.ContainerStateByName(ctx, containerName)
	if errors.Is(err, docker.ErrContainerNotFound) {
		return models.StatusStopped, nil
	}
	if err != nil {
		return "", err
	}

	switch state {
	case "running":
		return models.StatusRunning, nil
	case "exited", "dead":
		return models.StatusFailed, nil
	default:
		return models.StatusStopped, nil
	}
}
