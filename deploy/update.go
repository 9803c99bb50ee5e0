package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sasta-kro/magpie-previews/compose"
	"github.com/sasta-kro/magpie-previews/forge"
	"github.com/sasta-kro/magpie-previews/models"
	"github.com/sasta-kro/magpie-previews/repoconfig"
	"github.com/sasta-kro/magpie-previews/tracker"
)

// Update rebuilds an existing preview at a new head commit, keeping its
// ports, route file and PR comment. without a tracked record the call falls
// through to a fresh deploy, which covers webhook deliveries arriving out
// of order.
func (pipeline *Pipeline) Update(ctx context.Context, request Request) error {
	deployment := newDeployment(request)
	if deployment.ProjectSlug == "" {
		return fmt.Errorf("repository %s/%s yields an empty project slug", request.RepoOwner, request.RepoName)
	}

	pipeline.recordEvent(deployment.DeploymentID, models.EventReceived,
		fmt.Sprintf("pull request synchronized to %s", request.CommitSha))

	lock := pipeline.lockFor(deployment.DeploymentID)
	lock.Lock()
	defer lock.Unlock()

	return pipeline.updateLocked(ctx, request)
}

// Redeploy rebuilds a tracked preview at its recorded head commit. the API
// exposes this to recover previews whose containers died under them.
func (pipeline *Pipeline) Redeploy(ctx context.Context, deploymentID string) error {
	deployment, err := pipeline.tracker.GetDeployment(deploymentID)
	if err != nil {
		return err
	}

	pipeline.recordEvent(deploymentID, models.EventReceived, "manual redeploy requested")

	request := Request{
		PRNumber:  deployment.PRNumber,
		RepoOwner: deployment.RepoOwner,
		RepoName:  deployment.RepoName,
		Branch:    deployment.Branch,
		CommitSha: deployment.CommitSha,
		CloneURL:  deployment.CloneURL,
	}

	lock := pipeline.lockFor(deploymentID)
	lock.Lock()
	defer lock.Unlock()

	return pipeline.updateLocked(ctx, request)
}

// updateLocked moves an existing preview to the request's head commit. the
// caller holds the deployment lock. unlike a fresh deploy the record
// already exists, so failures mark it failed instead of erasing it; the
// next push retries on the same allocation.
func (pipeline *Pipeline) updateLocked(ctx context.Context, request Request) error {
	deploymentID := newDeployment(request).DeploymentID

	existing, err := pipeline.tracker.GetDeployment(deploymentID)
	if errors.Is(err, tracker.ErrDeploymentNotFound) {
		return pipeline.deployLocked(ctx, newDeployment(request))
	}
	if err != nil {
		return fmt.Errorf("failed to look up deployment %q: %w", deploymentID, err)
	}

	deployLog := newDeployLogger(pipeline, deploymentID)
	defer deployLog.close()

	deployLog.logInfo("updating to %s", request.CommitSha)
	pipeline.recordEvent(deploymentID, models.EventBuilding, "updating to "+request.CommitSha)

	if err := pipeline.tracker.UpdateDeploymentStatus(deploymentID, models.StatusBuilding); err != nil {
		return err
	}

	commentID := int64(0)
	if existing.CommentID != nil {
		commentID = *existing.CommentID
	}
	commentID = pipeline.publishComment(ctx, existing, commentID, forge.CommentBuilding(request.CommitSha))

	updated := existing
	updated.Branch = request.Branch
	updated.CommitSha = request.CommitSha
	updated.CloneURL = request.CloneURL
	updated.Status = models.StatusBuilding

	if err := pipeline.updatePreview(ctx, &updated, deployLog); err != nil {
		if statusErr := pipeline.tracker.UpdateDeploymentStatus(deploymentID, models.StatusFailed); statusErr != nil {
			pipeline.logger.Warn("failed to mark deployment failed",
				"deploymentId", deploymentID,
				"error", statusErr,
			)
		}
		pipeline.failDeployment(ctx, updated, commentID, err, deployLog)
		return err
	}

	url := pipeline.previewURL(updated.ProjectSlug, updated.PRNumber)
	updated.URL = &url
	updated.Status = models.StatusRunning
	if commentID != 0 {
		updated.CommentID = &commentID
	}
	if err := pipeline.tracker.SaveDeployment(updated); err != nil {
		return fmt.Errorf("failed to save deployment %q: %w", deploymentID, err)
	}

	pipeline.publishSuccess(ctx, updated, commentID)
	pipeline.recordEvent(deploymentID, models.EventUpdated, "updated to "+updated.CommitSha)
	deployLog.logInfo("preview updated, available at %s", url)
	return nil
}

// updatePreview moves the working tree to the deployment's commit,
// re-materializes the compose artifacts on the existing port allocation and
// restarts the project with rebuilt images.
func (pipeline *Pipeline) updatePreview(ctx context.Context, deployment *models.Deployment, deployLog *deployLogger) error {
	workDir := pipeline.workDirFor(deployment.ProjectSlug, deployment.PRNumber)

	// ===== move the working tree to the new head
	if directoryExists(filepath.Join(workDir, ".git")) {
		if err := pipeline.git.syncTo(ctx, workDir, deployment.CommitSha, deployLog.writer()); err != nil {
			return err
		}
	} else {
		// the tree can disappear under a live record (host cleanup, crash
		// between steps); reclone rather than fail the update.
		deployLog.logInfo("working tree missing, recloning %s", deployment.CloneURL)
		if err := os.RemoveAll(workDir); err != nil {
			return fmt.Errorf("failed to clear working tree %q: %w", workDir, err)
		}
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			return fmt.Errorf("failed to create working tree %q: %w", workDir, err)
		}
		if err := pipeline.git.cloneAt(ctx, deployment.CloneURL, deployment.Branch, deployment.CommitSha, workDir, deployLog.writer()); err != nil {
			return err
		}
	}

	// ===== re-read the repo config, the new commit may have changed it
	repoConfig, err := repoconfig.Parse(workDir)
	if err != nil {
		return err
	}
	deployment.Framework = repoconfig.ResolveFramework(workDir, repoConfig)
	deployment.DBType = repoConfig.Database
	deployment.AppPort = repoConfig.AppPort

	// ===== re-materialize on the existing port allocation
	if err := compose.ResolveDockerfile(workDir, deployment.Framework, repoConfig); err != nil {
		return err
	}
	composeFile, err := compose.MaterializeCompose(workDir, *deployment, repoConfig)
	if err != nil {
		return err
	}

	// ===== restart with rebuilt images
	deployLog.logInfo("restarting compose project %s", deployment.DeploymentID)
	if upErr := pipeline.engine.ComposeUp(ctx, deployment.DeploymentID, composeFile, workDir, deployLog.writer()); upErr != nil {
		return fmt.Errorf("%w: %v", ErrContainerUp, upErr)
	}

	// ===== health
	return pipeline.waitForHealthy(ctx, deployment.ExposedAppPort, repoConfig.HealthCheckPath, deployLog)
}
