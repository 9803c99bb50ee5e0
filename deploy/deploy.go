package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sasta-kro/magpie-previews/compose"
	"github.com/sasta-kro/magpie-previews/forge"
	"github.com/sasta-kro/magpie-previews/models"
	"github.com/sasta-kro/magpie-previews/repoconfig"
	"github.com/sasta-kro/magpie-previews/tracker"
)

// Deploy creates the preview for a freshly opened pull request. when a
// record for the deployment id already exists (reopened PR, replayed
// webhook delivery) the call degrades to an update so the existing ports
// and working tree are reused instead of reacquired.
func (pipeline *Pipeline) Deploy(ctx context.Context, request Request) error {
	deployment := newDeployment(request)
	if deployment.ProjectSlug == "" {
		return fmt.Errorf("repository %s/%s yields an empty project slug", request.RepoOwner, request.RepoName)
	}

	pipeline.recordEvent(deployment.DeploymentID, models.EventReceived,
		fmt.Sprintf("pull request opened at %s", request.CommitSha))

	lock := pipeline.lockFor(deployment.DeploymentID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := pipeline.tracker.GetDeployment(deployment.DeploymentID); err == nil {
		pipeline.logger.Info("deployment already tracked, treating open as update",
			"deploymentId", deployment.DeploymentID,
		)
		return pipeline.updateLocked(ctx, request)
	} else if !errors.Is(err, tracker.ErrDeploymentNotFound) {
		return fmt.Errorf("failed to look up deployment %q: %w", deployment.DeploymentID, err)
	}

	return pipeline.deployLocked(ctx, deployment)
}

// deployLocked runs a fresh deployment end to end. the caller holds the
// deployment lock. the record is written to the tracker only after the
// preview is healthy and routed, so a failed deploy leaves no trace beyond
// its log file and audit events.
func (pipeline *Pipeline) deployLocked(ctx context.Context, deployment models.Deployment) error {
	deployLog := newDeployLogger(pipeline, deployment.DeploymentID)
	defer deployLog.close()

	deployLog.logInfo("deploying %s/%s PR #%d at %s",
		deployment.RepoOwner, deployment.RepoName, deployment.PRNumber, deployment.CommitSha)
	pipeline.recordEvent(deployment.DeploymentID, models.EventBuilding, "building "+deployment.CommitSha)

	commentID := pipeline.publishComment(ctx, deployment, 0, forge.CommentBuilding(deployment.CommitSha))

	// ===== build and start the preview
	if err := pipeline.deployPreview(ctx, &deployment, deployLog); err != nil {
		pipeline.failDeployment(ctx, deployment, commentID, err, deployLog)
		return err
	}

	// ===== route it through the proxy
	if err := pipeline.routes.AddPreview(ctx, deployment.ProjectSlug, deployment.PRNumber, deployment.ExposedAppPort); err != nil {
		pipeline.releasePreviewResources(ctx, deployment, deployLog)
		pipeline.failDeployment(ctx, deployment, commentID, err, deployLog)
		return err
	}

	// ===== publish the record
	url := pipeline.previewURL(deployment.ProjectSlug, deployment.PRNumber)
	deployment.URL = &url
	deployment.Status = models.StatusRunning
	if commentID != 0 {
		deployment.CommentID = &commentID
	}
	if err := pipeline.tracker.SaveDeployment(deployment); err != nil {
		// the preview is up but could not be published; tear it back down
		// so the tracker stays the single source of truth.
		if removeErr := pipeline.routes.RemovePreview(ctx, deployment.ProjectSlug, deployment.PRNumber); removeErr != nil {
			pipeline.logger.Warn("failed to remove route while rolling back",
				"deploymentId", deployment.DeploymentID,
				"error", removeErr,
			)
		}
		pipeline.releasePreviewResources(ctx, deployment, deployLog)
		saveErr := fmt.Errorf("failed to save deployment %q: %w", deployment.DeploymentID, err)
		pipeline.failDeployment(ctx, deployment, commentID, saveErr, deployLog)
		return saveErr
	}

	pipeline.publishSuccess(ctx, deployment, commentID)
	pipeline.recordEvent(deployment.DeploymentID, models.EventRunning, "preview available at "+url)
	deployLog.logInfo("preview available at %s", url)
	return nil
}

// deployPreview acquires everything a running preview needs: working tree,
// host ports, cloned source, built images, started containers. acquisitions
// push an undo onto a stack; on any failure the stack unwinds in reverse
// order so nothing acquired so far leaks. on success the deployment struct
// carries the allocated ports and the detected framework.
func (pipeline *Pipeline) deployPreview(ctx context.Context, deployment *models.Deployment, deployLog *deployLogger) (err error) {
	workDir := pipeline.workDirFor(deployment.ProjectSlug, deployment.PRNumber)

	var undoStack []func()
	defer func() {
		if err != nil {
			deployLog.logInfo("deploy failed, rolling back: %v", err)
			for i := len(undoStack) - 1; i >= 0; i-- {
				undoStack[i]()
			}
		}
	}()

	// ===== working tree
	if err = os.RemoveAll(workDir); err != nil {
		return fmt.Errorf("failed to clear working tree %q: %w", workDir, err)
	}
	if err = os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("failed to create working tree %q: %w", workDir, err)
	}
	undoStack = append(undoStack, func() {
		if removeErr := os.RemoveAll(workDir); removeErr != nil {
			pipeline.logger.Warn("failed to remove working tree during rollback",
				"deploymentId", deployment.DeploymentID,
				"error", removeErr,
			)
		}
	})

	// ===== port allocation
	// ports already bound on the host (by anything, not just previews) are
	// excluded so compose up does not fail on a busy port. a census failure
	// degrades to allocating from the tracker's view alone.
	excludePorts, censusErr := pipeline.engine.BoundHostPorts(ctx)
	if censusErr != nil {
		deployLog.logInfo("host port census failed, allocating from tracked state only: %v", censusErr)
		excludePorts = nil
	}
	allocation, err := pipeline.tracker.AllocatePorts(deployment.DeploymentID, excludePorts)
	if err != nil {
		return err
	}
	undoStack = append(undoStack, func() {
		if releaseErr := pipeline.tracker.ReleasePorts(deployment.DeploymentID); releaseErr != nil {
			pipeline.logger.Warn("failed to release ports during rollback",
				"deploymentId", deployment.DeploymentID,
				"error", releaseErr,
			)
		}
	})
	deployment.ExposedAppPort = allocation.ExposedAppPort
	deployment.ExposedDbPort = allocation.ExposedDbPort
	deployLog.logInfo("allocated host ports app=%d db=%d", allocation.ExposedAppPort, allocation.ExposedDbPort)

	// ===== clone at the PR head
	deployLog.logInfo("cloning %s (branch %s)", deployment.CloneURL, deployment.Branch)
	if err = pipeline.git.cloneAt(ctx, deployment.CloneURL, deployment.Branch, deployment.CommitSha, workDir, deployLog.writer()); err != nil {
		return err
	}

	// ===== repo configuration
	repoConfig, err := repoconfig.Parse(workDir)
	if err != nil {
		return err
	}
	deployment.Framework = repoconfig.ResolveFramework(workDir, repoConfig)
	deployment.DBType = repoConfig.Database
	deployment.AppPort = repoConfig.AppPort
	deployLog.logInfo("resolved framework=%s database=%s appPort=%d",
		deployment.Framework, deployment.DBType, deployment.AppPort)

	// ===== build commands on the host
	if err = pipeline.runBuildCommands(ctx, workDir, repoConfig.BuildCommands, deployLog); err != nil {
		return err
	}

	// ===== materialize compose artifacts
	if err = compose.ResolveDockerfile(workDir, deployment.Framework, repoConfig); err != nil {
		return err
	}
	composeFile, err := compose.MaterializeCompose(workDir, *deployment, repoConfig)
	if err != nil {
		return err
	}

	// ===== compose up
	deployLog.logInfo("starting compose project %s", deployment.DeploymentID)
	if upErr := pipeline.engine.ComposeUp(ctx, deployment.DeploymentID, composeFile, workDir, deployLog.writer()); upErr != nil {
		err = fmt.Errorf("%w: %v", ErrContainerUp, upErr)
		return err
	}
	undoStack = append(undoStack, func() {
		if downErr := pipeline.engine.ComposeDown(ctx, deployment.DeploymentID, composeFile, workDir, deployLog.writer()); downErr != nil {
			pipeline.logger.Warn("failed to stop compose project during rollback",
				"deploymentId", deployment.DeploymentID,
				"error", downErr,
			)
		}
	})

	// ===== health
	return pipeline.waitForHealthy(ctx, deployment.ExposedAppPort, repoConfig.HealthCheckPath, deployLog)
}

// failDeployment records the failure in the log, the audit trail and the PR
// comment. it never returns an error: the original failure is what the
// caller reports.
func (pipeline *Pipeline) failDeployment(ctx context.Context, deployment models.Deployment, commentID int64, failure error, deployLog *deployLogger) {
	deployLog.logInfo("FAILED: %v", failure)
	pipeline.recordEvent(deployment.DeploymentID, models.EventFailed, failure.Error())
	pipeline.publishComment(ctx, deployment, commentID, forge.CommentFailure(failure.Error()))
}

// publishComment updates the tracked PR comment in place, or posts a new
// one when none exists yet. returns the comment id to carry forward, zero
// when posting failed. forge failures only log; the comment is a courtesy,
// not part of the deployment's correctness.
func (pipeline *Pipeline) publishComment(ctx context.Context, deployment models.Deployment, commentID int64, body string) int64 {
	if commentID != 0 {
		if err := pipeline.forge.UpdateComment(ctx, deployment.RepoOwner, deployment.RepoName, commentID, body); err != nil {
			pipeline.logger.Warn("failed to update PR comment",
				"deploymentId", deployment.DeploymentID,
				"commentId", commentID,
				"error", err,
			)
		}
		return commentID
	}

	newCommentID, err := pipeline.forge.PostComment(ctx, deployment.RepoOwner, deployment.RepoName, deployment.PRNumber, body)
	if err != nil {
		pipeline.logger.Warn("failed to post PR comment",
			"deploymentId", deployment.DeploymentID,
			"error", err,
		)
		return 0
	}
	return newCommentID
}

// publishSuccess posts or updates the success comment and records its id on
// the deployment so later updates edit the same comment.
func (pipeline *Pipeline) publishSuccess(ctx context.Context, deployment models.Deployment, commentID int64) {
	url := ""
	if deployment.URL != nil {
		url = *deployment.URL
	}
	finalCommentID := pipeline.publishComment(ctx, deployment, commentID, forge.CommentSuccess(url, deployment.CommitSha))
	if finalCommentID == 0 {
		return
	}
	if deployment.CommentID != nil && *deployment.CommentID == finalCommentID {
		return
	}
	if err := pipeline.tracker.UpdateDeploymentComment(deployment.DeploymentID, finalCommentID); err != nil {
		pipeline.logger.Warn("failed to record PR comment id",
			"deploymentId", deployment.DeploymentID,
			"error", err,
		)
	}
}
