// Package models defines the data structures shared across the application.
// it has no imports from other internal packages, making it the foundation of
// the dependency graph. every other package (tracker, deploy, handlers, ...)
// imports from here.
package models

import "time"

// DeploymentStatus represents the current lifecycle state of a preview
// deployment. a named string type instead of plain string means the compiler
// rejects values outside the declared constants.
type DeploymentStatus string

const (
	// StatusBuilding means the pipeline is actively working on the preview
	// (cloning, running build commands, compose up, health polling).
	StatusBuilding DeploymentStatus = "building"

	// StatusRunning means the containers are up and the health check passed.
	StatusRunning DeploymentStatus = "running"

	// StatusFailed means the pipeline encountered an error and did not complete.
	StatusFailed DeploymentStatus = "failed"

	// StatusStopped means the app container is gone or not running.
	StatusStopped DeploymentStatus = "stopped"
)

// Framework identifies the application framework of the repository under
// preview. it selects the Dockerfile template and the default process argv.
type Framework string

const (
	FrameworkNestJS  Framework = "nestjs"
	FrameworkGo      Framework = "go"
	FrameworkLaravel Framework = "laravel"
	FrameworkRust    Framework = "rust"
	FrameworkPython  Framework = "python"
)

// DatabaseType identifies the database container provisioned next to the app.
type DatabaseType string

const (
	DatabasePostgres DatabaseType = "postgres"
	DatabaseMySQL    DatabaseType = "mysql"
	DatabaseMongoDB  DatabaseType = "mongodb"
)

// PRStatus is the state of a pull request as reported by the source forge.
type PRStatus string

const (
	PRStatusOpen   PRStatus = "open"
	PRStatusClosed PRStatus = "closed"
	PRStatusMerged PRStatus = "merged"
)

// Deployment is the authoritative record of one preview environment.
// it is the struct passed between the tracker, the deploy pipeline, and the
// HTTP handlers, and it is what the tracker persists to disk.
//
// json struct tags control the on-disk store document and the API responses;
// both use the same camelCase field names. pointer fields are optional and
// omitted from JSON when nil.
type Deployment struct {
	// PRNumber is the pull request number on the source forge.
	PRNumber int `json:"prNumber"`

	// RepoOwner and RepoName identify the repository, e.g. "acme" / "api".
	RepoOwner string `json:"repoOwner"`
	RepoName  string `json:"repoName"`

	// ProjectSlug is the URL/filesystem-safe identifier derived from
	// "<owner>/<name>", e.g. "acme-api".
	ProjectSlug string `json:"projectSlug"`

	// DeploymentID is "<projectSlug>-<prNumber>", e.g. "acme-api-42".
	// it is the single key used across the tracker, the compose project name,
	// the route file name, and the working-tree path.
	DeploymentID string `json:"deploymentId"`

	// Branch is the PR head branch; CommitSha is the exact revision deployed.
	Branch    string `json:"branch"`
	CommitSha string `json:"commitSha"`

	// CloneURL is the HTTPS clone URL of the repository.
	CloneURL string `json:"cloneUrl"`

	// Framework and DBType are resolved from preview-config.yml at deploy time.
	Framework Framework    `json:"framework"`
	DBType    DatabaseType `json:"dbType"`

	// AppPort is the port the app listens on inside its container.
	// ExposedAppPort and ExposedDbPort are the host ports published for the
	// app and database containers.
	AppPort        int `json:"appPort"`
	ExposedAppPort int `json:"exposedAppPort"`
	ExposedDbPort  int `json:"exposedDbPort"`

	// Status is the current lifecycle state.
	Status DeploymentStatus `json:"status"`

	// URL is the public preview address, "<base>/<slug>/pr-<N>/".
	// set once the deployment is reachable.
	URL *string `json:"url,omitempty"`

	// CommentID is the id of the PR comment owned by this deployment.
	// nil when the initial comment post failed (comments are best-effort).
	CommentID *int64 `json:"commentId,omitempty"`

	// CreatedAt is set once when the record is first saved; UpdatedAt is
	// refreshed on every write. both are UTC.
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PortAllocation is the pair of host ports reserved for one deployment.
// app ports are allocated from 8000 upward, db ports from 9000 upward.
type PortAllocation struct {
	ExposedAppPort int `json:"exposedAppPort"`
	ExposedDbPort  int `json:"exposedDbPort"`
}

// RepoPreviewConfig is the parsed form of the preview-config.yml file at the
// root of the repository under preview. yaml tags map the file's snake_case
// keys; validate tags drive the schema check in the repoconfig package.
//
// required fields have no defaults: a repo that omits one fails the deploy
// with a message naming the field.
type RepoPreviewConfig struct {
	// Framework and Database select the runtime and the provisioned database.
	Framework Framework    `yaml:"framework" validate:"required,oneof=nestjs go laravel rust python"`
	Database  DatabaseType `yaml:"database" validate:"required,oneof=postgres mysql mongodb"`

	// HealthCheckPath is polled on the exposed app port after compose up.
	// normalized to always start with "/".
	HealthCheckPath string `yaml:"health_check_path" validate:"required"`

	// AppPort is the in-container port the app listens on; AppPortEnv is the
	// environment variable name the port is handed to the app under.
	AppPort    int    `yaml:"app_port" validate:"required,gt=0"`
	AppPortEnv string `yaml:"app_port_env" validate:"required"`

	// AppEntrypoint is the main module or binary of the app, framework
	// dependent: "dist/main.js" for nestjs, a binary name for go/rust,
	// "app.main:app" for python.
	AppEntrypoint string `yaml:"app_entrypoint" validate:"required"`

	// BuildCommands run sequentially on the host in the working tree before
	// the container build (e.g. code generation).
	BuildCommands []string `yaml:"build_commands"`

	// ExtraServices are additional containers next to app and database.
	// currently only "redis" is recognized.
	ExtraServices []string `yaml:"extra_services" validate:"dive,oneof=redis"`

	// Env is a list of KEY=VALUE entries appended to the app container
	// environment. EnvFile is a single env file path handed to compose.
	Env     []string `yaml:"env"`
	EnvFile string   `yaml:"env_file"`

	// StartupCommands run inside the app container before its main process
	// (migrations, seeds). they wrap the container entrypoint.
	StartupCommands []string `yaml:"startup_commands"`

	// Dockerfile optionally names an alternate dockerfile within the repo to
	// use instead of the default resolution order.
	Dockerfile string `yaml:"dockerfile"`
}

// EventKind classifies entries in the deployment event history.
type EventKind string

const (
	// EventReceived marks the arrival of a webhook that targets a deployment.
	EventReceived EventKind = "received"

	// EventBuilding marks the start of a deploy or update pipeline run.
	EventBuilding EventKind = "building"

	// EventRunning marks a successful deploy: containers up, health passed.
	EventRunning EventKind = "running"

	// EventFailed marks a pipeline failure; the detail carries the error.
	EventFailed EventKind = "failed"

	// EventUpdated marks a successful update to a new commit.
	EventUpdated EventKind = "updated"

	// EventCleaned marks the teardown of the deployment.
	EventCleaned EventKind = "cleaned"
)

// DeploymentEvent is one row of the per-deployment audit trail kept in the
// events database. events are best-effort: losing one never fails a deploy.
type DeploymentEvent struct {
	// ID is a UUID v4 generated at insertion time.
	ID string `json:"id"`

	// DeploymentID links the event to its deployment.
	DeploymentID string `json:"deploymentId"`

	// Kind is the lifecycle transition; Detail carries optional context such
	// as the commit sha or the failure message.
	Kind   EventKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`

	// CreatedAt is the insertion timestamp, UTC.
	CreatedAt time.Time `json:"createdAt"`
}
