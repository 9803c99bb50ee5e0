/*
Package deploy runs the preview lifecycle for one pull request: clone the
head commit, build and start its compose project, route it through the
reverse proxy, keep the PR comment current, and tear everything down again.

The pipeline talks to its collaborators through narrow capability
interfaces so tests can inject doubles for the tracker, the container
engine, the proxy and the source forge. All operations for one deployment id
are serialized through a per-id lock table; operations on different
deployments run in parallel.
*/
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/sasta-kro/magpie-previews/models"
	"github.com/sasta-kro/magpie-previews/util"
)

// commandBuilder constructs the subprocesses the pipeline shells out to.
// exec.CommandContext in production, a stub in tests.
type commandBuilder func(ctx context.Context, name string, args ...string) *exec.Cmd

// ErrContainerUp wraps a non-zero compose up. the partially started project
// is rolled back before the error reaches the caller.
var ErrContainerUp = errors.New("compose up failed")

// Tracker is the slice of the deployment store the pipeline needs.
// lookups return an error matching tracker.ErrDeploymentNotFound when no
// record exists.
type Tracker interface {
	GetDeployment(deploymentID string) (models.Deployment, error)
	SaveDeployment(deployment models.Deployment) error
	DeleteDeployment(deploymentID string) error
	UpdateDeploymentStatus(deploymentID string, status models.DeploymentStatus) error
	UpdateDeploymentComment(deploymentID string, commentID int64) error
	AllocatePorts(deploymentID string, excludePorts []int) (models.PortAllocation, error)
	ReleasePorts(deploymentID string) error
}

// Forge posts and updates the PR status comment. every call is best-effort:
// a forge failure is logged and never fails the deployment.
type Forge interface {
	PostComment(ctx context.Context, owner, repo string, prNumber int, body string) (int64, error)
	UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error
}

// Engine is the container-engine surface: the port census for allocation,
// app-container inspection for status, and the compose project lifecycle.
type Engine interface {
	BoundHostPorts(ctx context.Context) ([]int, error)
	ContainerStateByName(ctx context.Context, containerName string) (string, error)
	ComposeUp(ctx context.Context, projectName, composeFile, workDir string, output io.Writer) error
	ComposeDown(ctx context.Context, projectName, composeFile, workDir string, output io.Writer) error
}

// Routes manages the per-deployment reverse-proxy route files.
type Routes interface {
	AddPreview(ctx context.Context, projectSlug string, prNumber int, exposedAppPort int) error
	RemovePreview(ctx context.Context, projectSlug string, prNumber int) error
}

// EventSink records the deployment audit trail. best-effort.
type EventSink interface {
	RecordEvent(deploymentID string, kind models.EventKind, detail string) error
}

// Request carries the pull-request facts extracted from a webhook payload
// (or reconstructed from an existing record, for manual redeploys).
type Request struct {
	PRNumber  int
	RepoOwner string
	RepoName  string
	Branch    string
	CommitSha string
	CloneURL  string
}

// Pipeline holds the dependencies needed to run deployments. constructed
// once in main and shared; each call runs independently and the Pipeline
// itself holds no per-deployment state beyond the lock table.
type Pipeline struct {
	tracker Tracker
	forge   Forge
	engine  Engine
	routes  Routes
	events  EventSink
	logger  *slog.Logger
	git     *gitRunner
	command commandBuilder

	// healthTransport carries the health probe; nil means
	// http.DefaultTransport. a field so tests can answer probes without a
	// live socket.
	healthTransport http.RoundTripper

	// deploymentsRoot is the base directory for working trees, laid out as
	// <deploymentsRoot>/<projectSlug>/pr-<N>/.
	deploymentsRoot string

	// logRoot is the base directory for per-deployment log files, one
	// <deploymentID>.log each.
	logRoot string

	// previewBaseURL is the public origin previews are served under.
	previewBaseURL string

	// locks serializes deploy, update and cleanup per deployment id.
	// entries are created lazily and kept for the daemon's lifetime; the
	// set of ids a single host serves is small.
	locksMutex sync.Mutex
	locks      map[string]*sync.Mutex
}

// PipelineConfig groups the configuration values Pipeline needs. mirrors
// the relevant fields from config.Config so the pipeline does not import
// the config package.
type PipelineConfig struct {
	DeploymentsRoot string
	LogRoot         string
	PreviewBaseURL  string
}

// NewPipeline constructs a Pipeline with its required dependencies.
func NewPipeline(
	tracker Tracker,
	forge Forge,
	engine Engine,
	routes Routes,
	events EventSink,
	logger *slog.Logger,
	config PipelineConfig,
) *Pipeline {
	return &Pipeline{
		tracker:         tracker,
		forge:           forge,
		engine:          engine,
		routes:          routes,
		events:          events,
		logger:          logger,
		git:             newGitRunner(),
		command:         exec.CommandContext,
		deploymentsRoot: config.DeploymentsRoot,
		logRoot:         config.LogRoot,
		previewBaseURL:  config.PreviewBaseURL,
		locks:           make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing all operations on one deployment id.
func (pipeline *Pipeline) lockFor(deploymentID string) *sync.Mutex {
	pipeline.locksMutex.Lock()
	defer pipeline.locksMutex.Unlock()

	lock, exists := pipeline.locks[deploymentID]
	if !exists {
		lock = &sync.Mutex{}
		pipeline.locks[deploymentID] = lock
	}
	return lock
}

// workDirFor is the working tree of one deployment: the cloned repo plus the
// generated compose artifacts.
func (pipeline *Pipeline) workDirFor(projectSlug string, prNumber int) string {
	return filepath.Join(pipeline.deploymentsRoot, projectSlug, fmt.Sprintf("pr-%d", prNumber))
}

// previewURL is the public address of one deployment, always with a trailing
// slash so relative links inside the previewed app resolve under the prefix.
func (pipeline *Pipeline) previewURL(projectSlug string, prNumber int) string {
	return fmt.Sprintf("%s/%s/pr-%d/", pipeline.previewBaseURL, projectSlug, prNumber)
}

// appContainerName is the deterministic name the compose materializer
// assigns to the app container; status inspection looks it up by this name.
func appContainerName(projectSlug string, prNumber int) string {
	return fmt.Sprintf("%s-pr-%d-app", projectSlug, prNumber)
}

// openLogFileForDeployment creates or opens the log file for a deployment.
// the log directory is created if it does not exist. the file is opened in
// append mode so updates add to the existing log rather than overwriting it,
// preserving the full deployment history in one file.
func (pipeline *Pipeline) openLogFileForDeployment(deploymentID string) (*os.File, error) {
	if err := os.MkdirAll(pipeline.logRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logPath := filepath.Join(pipeline.logRoot, deploymentID+".log")
	return os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// recordEvent appends to the audit trail, downgrading failures to a log
// line; the history never blocks the pipeline.
func (pipeline *Pipeline) recordEvent(deploymentID string, kind models.EventKind, detail string) {
	if err := pipeline.events.RecordEvent(deploymentID, kind, detail); err != nil {
		pipeline.logger.Warn("failed to record deployment event",
			"deploymentId", deploymentID,
			"kind", kind,
			"error", err,
		)
	}
}

// newDeployment builds the record skeleton for a request. the slug and id
// derive deterministically from the repository and PR number.
func newDeployment(request Request) models.Deployment {
	projectSlug := util.Slugify(request.RepoOwner + "/" + request.RepoName)
	return models.Deployment{
		PRNumber:     request.PRNumber,
		RepoOwner:    request.RepoOwner,
		RepoName:     request.RepoName,
		ProjectSlug:  projectSlug,
		DeploymentID: util.DeploymentID(projectSlug, request.PRNumber),
		Branch:       request.Branch,
		CommitSha:    request.CommitSha,
		CloneURL:     request.CloneURL,
		Status:       models.StatusBuilding,
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func directoryExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
