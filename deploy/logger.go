package deploy

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// deployLogger writes pipeline progress to two sinks: structured records on
// the daemon logger, and plain timestamped lines in the per-deployment log
// file that the API serves back to developers. subprocess output (git,
// build commands, compose) streams into the same file via writer().
type deployLogger struct {
	logger       *slog.Logger
	deploymentID string
	logFile      *os.File
}

// newDeployLogger opens the deployment's log file. if the file cannot be
// opened the pipeline still runs, logging to the daemon logger only.
func newDeployLogger(pipeline *Pipeline, deploymentID string) *deployLogger {
	logFile, err := pipeline.openLogFileForDeployment(deploymentID)
	if err != nil {
		pipeline.logger.Warn("failed to open deployment log file, command output will be discarded",
			"deploymentId", deploymentID,
			"error", err,
		)
	}
	return &deployLogger{
		logger:       pipeline.logger,
		deploymentID: deploymentID,
		logFile:      logFile,
	}
}

func (deployLog *deployLogger) logInfo(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	if deployLog.logFile != nil {
		line := fmt.Sprintf("[%s] %s\n", time.Now().UTC().Format(time.RFC3339), message)
		_, _ = deployLog.logFile.WriteString(line)
	}
	deployLog.logger.Info("deploy pipeline",
		"deploymentId", deployLog.deploymentID,
		"message", message,
	)
}

// writer is the sink for subprocess stdout and stderr.
func (deployLog *deployLogger) writer() io.Writer {
	if deployLog.logFile == nil {
		return io.Discard
	}
	return deployLog.logFile
}

func (deployLog *deployLogger) close() {
	if deployLog.logFile != nil {
		_ = deployLog.logFile.Close()
	}
}
