package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sasta-kro/magpie-previews/compose"
	"github.com/sasta-kro/magpie-previews/models"
	"github.com/sasta-kro/magpie-previews/tracker"
)

// Cleanup tears a preview down completely: compose project and volumes,
// working tree, port allocation, proxy route, tracker record, log file.
// resource steps log failures and keep going so a partially torn-down
// preview converges on repeated calls; only tracker errors surface.
func (pipeline *Pipeline) Cleanup(ctx context.Context, deploymentID string) error {
	lock := pipeline.lockFor(deploymentID)
	lock.Lock()
	defer lock.Unlock()

	deployment, err := pipeline.tracker.GetDeployment(deploymentID)
	if errors.Is(err, tracker.ErrDeploymentNotFound) {
		// a crash between port allocation and the record write can leak an
		// allocation with no deployment behind it; release defensively.
		if releaseErr := pipeline.tracker.ReleasePorts(deploymentID); releaseErr != nil {
			pipeline.logger.Warn("failed to release ports for untracked deployment",
				"deploymentId", deploymentID,
				"error", releaseErr,
			)
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to look up deployment %q: %w", deploymentID, err)
	}

	deployLog := newDeployLogger(pipeline, deploymentID)
	deployLog.logInfo("tearing down preview")

	pipeline.releasePreviewResources(ctx, deployment, deployLog)

	if err := pipeline.routes.RemovePreview(ctx, deployment.ProjectSlug, deployment.PRNumber); err != nil {
		pipeline.logger.Warn("failed to remove proxy route",
			"deploymentId", deploymentID,
			"error", err,
		)
	}

	deleteErr := pipeline.tracker.DeleteDeployment(deploymentID)
	if deleteErr != nil && errors.Is(deleteErr, tracker.ErrDeploymentNotFound) {
		deleteErr = nil
	}
	deployLog.close()
	if deleteErr != nil {
		return deleteErr
	}

	pipeline.recordEvent(deploymentID, models.EventCleaned, "preview torn down")
	pipeline.removeLogFile(deploymentID)

	pipeline.logger.Info("preview cleaned up", "deploymentId", deploymentID)
	return nil
}

// releasePreviewResources tears down what deployPreview acquires: the
// compose project, the working tree and the port allocation. every step is
// idempotent and failures only log, so teardown always runs to the end.
func (pipeline *Pipeline) releasePreviewResources(ctx context.Context, deployment models.Deployment, deployLog *deployLogger) {
	workDir := pipeline.workDirFor(deployment.ProjectSlug, deployment.PRNumber)
	composeFile := filepath.Join(workDir, compose.GeneratedComposeFileName)

	if fileExists(composeFile) {
		if err := pipeline.engine.ComposeDown(ctx, deployment.DeploymentID, composeFile, workDir, deployLog.writer()); err != nil {
			pipeline.logger.Warn("failed to stop compose project",
				"deploymentId", deployment.DeploymentID,
				"error", err,
			)
		}
	} else if directoryExists(workDir) {
		pipeline.logger.Warn("compose file missing, skipping compose down",
			"deploymentId", deployment.DeploymentID,
			"path", composeFile,
		)
	}

	if err := os.RemoveAll(workDir); err != nil {
		pipeline.logger.Warn("failed to remove working tree",
			"deploymentId", deployment.DeploymentID,
			"path", workDir,
			"error", err,
		)
	}

	if err := pipeline.tracker.ReleasePorts(deployment.DeploymentID); err != nil {
		pipeline.logger.Warn("failed to release ports",
			"deploymentId", deployment.DeploymentID,
			"error", err,
		)
	}
}

// removeLogFile deletes the deployment's log file along with the rest of
// its resources. tolerates the file never having existed.
func (pipeline *Pipeline) removeLogFile(deploymentID string) {
	logPath := filepath.Join(pipeline.logRoot, deploymentID+".log")
	if err := os.Remove(logPath); err != nil && !os.IsNotExist(err) {
		pipeline.logger.Warn("failed to remove deployment log file",
			"deploymentId", deploymentID,
			"error", err,
		)
	}
}
