package deploy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sasta-kro/magpie-previews/docker"
	"github.com/sasta-kro/magpie-previews/models"
	"github.com/sasta-kro/magpie-previews/tracker"
)

// ----- fakes for the pipeline's collaborators

type fakeEngine struct {
	boundPorts      []int
	boundPortsErr   error
	containerStates map[string]string
	upErr           error
	upCalls         []string
	downCalls       []string
}

func (engine *fakeEngine) BoundHostPorts(ctx context.Context) ([]int, error) {
	return engine.boundPorts, engine.boundPortsErr
}

func (engine *fakeEngine) ContainerStateByName(ctx context.Context, containerName string) (string, error) {
	state, exists := engine.containerStates[containerName]
	if !exists {
		return "", fmt.Errorf("no container named %q: %w", containerName, docker.ErrContainerNotFound)
	}
	return state, nil
}

func (engine *fakeEngine) ComposeUp(ctx context.Context, projectName, composeFile, workDir string, output io.Writer) error {
	engine.upCalls = append(engine.upCalls, projectName)
	return engine.upErr
}

func (engine *fakeEngine) ComposeDown(ctx context.Context, projectName, composeFile, workDir string, output io.Writer) error {
	engine.downCalls = append(engine.downCalls, projectName)
	return nil
}

type postedComment struct {
	owner    string
	repo     string
	prNumber int
	body     string
}

type updatedComment struct {
	commentID int64
	body      string
}

type fakeForge struct {
	nextCommentID int64
	posted        []postedComment
	updated       []updatedComment
	postErr       error
}

func (forgeStub *fakeForge) PostComment(ctx context.Context, owner, repo string, prNumber int, body string) (int64, error) {
	if forgeStub.postErr != nil {
		return 0, forgeStub.postErr
	}
	forgeStub.posted = append(forgeStub.posted, postedComment{owner, repo, prNumber, body})
	forgeStub.nextCommentID++
	return forgeStub.nextCommentID, nil
}

func (forgeStub *fakeForge) UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	forgeStub.updated = append(forgeStub.updated, updatedComment{commentID, body})
	return nil
}

type routeChange struct {
	projectSlug    string
	prNumber       int
	exposedAppPort int
}

type fakeRoutes struct {
	added   []routeChange
	removed []routeChange
	addErr  error
}

func (routes *fakeRoutes) AddPreview(ctx context.Context, projectSlug string, prNumber int, exposedAppPort int) error {
	if routes.addErr != nil {
		return routes.addErr
	}
	routes.added = append(routes.added, routeChange{projectSlug, prNumber, exposedAppPort})
	return nil
}

func (routes *fakeRoutes) RemovePreview(ctx context.Context, projectSlug string, prNumber int) error {
	routes.removed = append(routes.removed, routeChange{projectSlug: projectSlug, prNumber: prNumber})
	return nil
}

type recordedEvent struct {
	deploymentID string
	kind         models.EventKind
	detail       string
}

type fakeEvents struct {
	recorded []recordedEvent
}

func (sink *fakeEvents) RecordEvent(deploymentID string, kind models.EventKind, detail string) error {
	sink.recorded = append(sink.recorded, recordedEvent{deploymentID, kind, detail})
	return nil
}

func (sink *fakeEvents) kinds() []models.EventKind {
	kinds := make([]models.EventKind, 0, len(sink.recorded))
	for _, event := range sink.recorded {
		kinds = append(kinds, event.kind)
	}
	return kinds
}

// ----- health probe stub

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (fn roundTripperFunc) RoundTrip(request *http.Request) (*http.Response, error) {
	return fn(request)
}

func healthResponding(statusCode int) http.RoundTripper {
	return roundTripperFunc(func(request *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: statusCode,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    request,
		}, nil
	})
}

// shrinkHealthWindow makes failing health polls finish in milliseconds and
// restores the production values when the test ends.
func shrinkHealthWindow(t *testing.T) {
	t.Helper()
	previousDelay, previousAttempts := healthRetryDelay, healthMaxAttempts
	healthRetryDelay, healthMaxAttempts = 0, 2
	t.Cleanup(func() {
		healthRetryDelay, healthMaxAttempts = previousDelay, previousAttempts
	})
}

// ----- fixture repository and git stub

const fixtureConfig = `framework: nestjs
database: postgres
health_check_path: /health
app_port: 3000
app_port_env: PORT
app_entrypoint: dist/main.js
`

// writeFixtureRepo lays out the directory the stubbed git clone copies into
// the working tree: a preview config plus a .git marker so update paths see
// an existing checkout.
func writeFixtureRepo(t *testing.T, configContent string) string {
	t.Helper()
	fixtureDir := t.TempDir()
	if configContent != "" {
		require.NoError(t, os.WriteFile(filepath.Join(fixtureDir, "preview-config.yml"), []byte(configContent), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(fixtureDir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(fixtureDir, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))
	return fixtureDir
}

// fixtureCloneCommand substitutes git: a clone copies the fixture repository
// into the destination, every other subcommand succeeds without doing
// anything.
func fixtureCloneCommand(fixtureRepo string) commandBuilder {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if len(args) > 0 && args[0] == "clone" {
			destination := args[len(args)-1]
			return exec.CommandContext(ctx, "sh", "-c", fmt.Sprintf("cp -R %q/. %q/", fixtureRepo, destination))
		}
		return exec.CommandContext(ctx, "true")
	}
}

// ----- assembled fixture

type pipelineFixture struct {
	pipeline *Pipeline
	store    *tracker.Tracker
	engine   *fakeEngine
	forge    *fakeForge
	routes   *fakeRoutes
	events   *fakeEvents

	deploymentsRoot string
	logRoot         string
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	baseDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := tracker.OpenTracker(filepath.Join(baseDir, "deployments.json"), logger)
	require.NoError(t, err)

	fixture := &pipelineFixture{
		store:           store,
		engine:          &fakeEngine{containerStates: map[string]string{}},
		forge:           &fakeForge{nextCommentID: 100},
		routes:          &fakeRoutes{},
		events:          &fakeEvents{},
		deploymentsRoot: filepath.Join(baseDir, "deployments"),
		logRoot:         filepath.Join(baseDir, "logs"),
	}

	fixture.pipeline = NewPipeline(store, fixture.forge, fixture.engine, fixture.routes, fixture.events, logger, PipelineConfig{
		DeploymentsRoot: fixture.deploymentsRoot,
		LogRoot:         fixture.logRoot,
		PreviewBaseURL:  "https://preview.example.com",
	})
	fixture.pipeline.healthTransport = healthResponding(http.StatusOK)
	fixture.pipeline.git.command = fixtureCloneCommand(writeFixtureRepo(t, fixtureConfig))
	fixture.pipeline.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "true")
	}
	return fixture
}

func (fixture *pipelineFixture) workDir(projectSlug string, prNumber int) string {
	return filepath.Join(fixture.deploymentsRoot, projectSlug, fmt.Sprintf("pr-%d", prNumber))
}

func (fixture *pipelineFixture) logFile(deploymentID string) string {
	return filepath.Join(fixture.logRoot, deploymentID+".log")
}

func sampleRequest() Request {
	return Request{
		PRNumber:  42,
		RepoOwner: "acme",
		RepoName:  "api",
		Branch:    "feature/preview",
		CommitSha: "abc4567890abcdef",
		CloneURL:  "https://github.com/acme/api.git",
	}
}

func TestLockForReturnsSameMutexPerDeployment(t *testing.T) {
	fixture := newPipelineFixture(t)

	first := fixture.pipeline.lockFor("acme-api-42")
	second := fixture.pipeline.lockFor("acme-api-42")
	other := fixture.pipeline.lockFor("acme-api-43")

	require.Same(t, first, second)
	require.NotSame(t, first, other)
}

func TestWorkDirLayout(t *testing.T) {
	fixture := newPipelineFixture(t)

	workDir := fixture.pipeline.workDirFor("acme-api", 42)

	require.Equal(t, filepath.Join(fixture.deploymentsRoot, "acme-api", "pr-42"), workDir)
}

func TestPreviewURLHasTrailingSlash(t *testing.T) {
	fixture := newPipelineFixture(t)

	require.Equal(t, "https://preview.example.com/acme-api/pr-42/", fixture.pipeline.previewURL("acme-api", 42))
}
