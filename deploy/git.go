package deploy

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// gitRunner shells out to the git binary. the command builder is a field so
// tests can substitute a stub that records invocations instead of running
// git for real.
type gitRunner struct {
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func newGitRunner() *gitRunner {
	return &gitRunner{command: exec.CommandContext}
}

func (git *gitRunner) run(ctx context.Context, workDir string, output io.Writer, args ...string) error {
	command := git.command(ctx, "git", args...)
	command.Dir = workDir
	command.Stdout = output
	command.Stderr = output
	if err := command.Run(); err != nil {
		return fmt.Errorf("git %s failed: %w", args[0], err)
	}
	return nil
}

// cloneAt populates workDir with the repository checked out at exactly
// commitSha. the branch tip may have moved since the webhook fired, so
// after cloning and checking out the branch the tree is hard-reset to the
// recorded sha.
func (git *gitRunner) cloneAt(ctx context.Context, cloneURL, branch, commitSha, workDir string, output io.Writer) error {
	if err := git.run(ctx, "", output, "clone", cloneURL, workDir); err != nil {
		return err
	}
	if err := git.run(ctx, workDir, output, "checkout", branch); err != nil {
		return err
	}
	return git.run(ctx, workDir, output, "reset", "--hard", commitSha)
}

// syncTo moves an existing working tree to a new head commit, discarding
// anything the previous build left behind in tracked files.
func (git *gitRunner) syncTo(ctx context.Context, workDir, commitSha string, output io.Writer) error {
	if err := git.run(ctx, workDir, output, "fetch", "origin"); err != nil {
		return err
	}
	return git.run(ctx, workDir, output, "reset", "--hard", commitSha)
}
