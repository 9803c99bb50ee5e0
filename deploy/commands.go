package deploy

import (
	"context"
	"fmt"
)

// BuildCommandError identifies which of the repo's build commands failed.
type BuildCommandError struct {
	Index   int
	Command string
	Err     error
}

func (buildErr *BuildCommandError) Error() string {
	return fmt.Sprintf("build command %d (%q) failed: %v", buildErr.Index+1, buildErr.Command, buildErr.Err)
}

func (buildErr *BuildCommandError) Unwrap() error {
	return buildErr.Err
}

// runBuildCommands executes the repo-configured build commands sequentially
// in the working tree, each through `sh -c` so shell syntax in the config
// works as written. output streams into the deployment log. execution stops
// at the first failing command.
func (pipeline *Pipeline) runBuildCommands(ctx context.Context, workDir string, buildCommands []string, deployLog *deployLogger) error {
	for index, buildCommand := range buildCommands {
		deployLog.logInfo("running build command %d/%d: %s", index+1, len(buildCommands), buildCommand)

		command := pipeline.command(ctx, "sh", "-c", buildCommand)
		command.Dir = workDir
		command.Stdout = deployLog.writer()
		command.Stderr = deployLog.writer()
		if err := command.Run(); err != nil {
			return &BuildCommandError{Index: index, Command: buildCommand, Err: err}
		}
	}
	return nil
}
