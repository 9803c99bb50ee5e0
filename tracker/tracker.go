/*
Package tracker owns the durable deployment store: a single JSON document
holding every Deployment record and its port allocation.

The file on disk is the source of truth across restarts; at runtime the
document is cached in memory and every mutation rewrites the whole file
atomically (write temp file, fsync, rename). One mutex serializes all access,
which keeps the allocator's read-modify-write critical section trivially
correct. The tracker is the only component that touches this file.
*/
package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/sasta-kro/magpie-previews/models"
)

// ErrDeploymentNotFound is returned by lookups and targeted updates when no
// record exists for the given deployment id. callers that treat absence as a
// normal condition check for it with errors.Is.
var ErrDeploymentNotFound = errors.New("deployment not found")

// storeDocument is the exact on-disk JSON shape.
type storeDocument struct {
	Deployments     map[string]models.Deployment     `json:"deployments"`
	PortAllocations map[string]models.PortAllocation `json:"portAllocations"`
}

// Tracker provides synchronized access to the deployment store.
type Tracker struct {
	path   string
	logger *slog.Logger

	// mutex guards document and the persist path. allocations, saves and
	// deletes are read-modify-write sequences and must not interleave.
	mutex    sync.Mutex
	document storeDocument
}

// OpenTracker loads the store file at path, creating parent directories as
// needed. a missing file yields an empty store; the file itself is created
// by the first write.
func OpenTracker(path string, logger *slog.Logger) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create tracker directory for %q: %w", path, err)
	}

	tracker := &Tracker{
		path:   path,
		logger: logger,
		document: storeDocument{
			Deployments:     make(map[string]models.Deployment),
			PortAllocations: make(map[string]models.PortAllocation),
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("no existing deployment store, starting empty", "path", path)
			return tracker, nil
		}
		return nil, fmt.Errorf("failed to read deployment store %q: %w", path, err)
	}

	if err := json.Unmarshal(data, &tracker.document); err != nil {
		return nil, fmt.Errorf("failed to parse deployment store %q: %w", path, err)
	}

	// maps decoded from a hand-edited or truncated document may be nil
	if tracker.document.Deployments == nil {
		tracker.document.Deployments = make(map[string]models.Deployment)
	}
	if tracker.document.PortAllocations == nil {
		tracker.document.PortAllocations = make(map[string]models.PortAllocation)
	}

	logger.Info("deployment store loaded",
		"path", path,
		"deployments", len(tracker.document.Deployments),
	)
	return tracker, nil
}

// GetDeployment returns the record for the given id.
func (tracker *Tracker) GetDeployment(deploymentID string) (models.Deployment, error) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	deployment, exists := tracker.document.Deployments[deploymentID]
	if !exists {
		return models.Deployment{}, ErrDeploymentNotFound
	}
	return deployment, nil
}

// GetAllDeployments returns every tracked deployment, newest first.
func (tracker *Tracker) GetAllDeployments() []models.Deployment {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	deployments := lo.Values(tracker.document.Deployments)
	sort.Slice(deployments, func(i, j int) bool {
		return deployments[i].CreatedAt.After(deployments[j].CreatedAt)
	})
	return deployments
}

// GetDeploymentAge returns the age of the deployment in days since createdAt.
func (tracker *Tracker) GetDeploymentAge(deploymentID string) (float64, error) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	deployment, exists := tracker.document.Deployments[deploymentID]
	if !exists {
		return 0, ErrDeploymentNotFound
	}
	return time.Since(deployment.CreatedAt).Hours() / 24, nil
}

// SaveDeployment writes the record through to disk. CreatedAt is stamped on
// first save, UpdatedAt on every save; both UTC.
func (tracker *Tracker) SaveDeployment(deployment models.Deployment) error {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	now := time.Now().UTC()
	if deployment.CreatedAt.IsZero() {
		if existing, exists := tracker.document.Deployments[deployment.DeploymentID]; exists {
			deployment.CreatedAt = existing.CreatedAt
		} else {
			deployment.CreatedAt = now
		}
	}
	deployment.UpdatedAt = now

	tracker.document.Deployments[deployment.DeploymentID] = deployment
	return tracker.persistLocked()
}

// UpdateDeploymentStatus sets the status of an existing record.
func (tracker *Tracker) UpdateDeploymentStatus(deploymentID string, status models.DeploymentStatus) error {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	deployment, exists := tracker.document.Deployments[deploymentID]
	if !exists {
		return ErrDeploymentNotFound
	}

	deployment.Status = status
	deployment.UpdatedAt = time.Now().UTC()
	tracker.document.Deployments[deploymentID] = deployment
	return tracker.persistLocked()
}

// UpdateDeploymentComment records the id of the PR comment owned by the
// deployment, so later pipeline runs update it in place instead of posting
// a new one.
func (tracker *Tracker) UpdateDeploymentComment(deploymentID string, commentID int64) error {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	deployment, exists := tracker.document.Deployments[deploymentID]
	if !exists {
		return ErrDeploymentNotFound
	}

	deployment.CommentID = &commentID
	deployment.UpdatedAt = time.Now().UTC()
	tracker.document.Deployments[deploymentID] = deployment
	return tracker.persistLocked()
}

// DeleteDeployment removes the record. the port allocation is released
// separately via ReleasePorts so the two teardown steps stay independently
// idempotent.
func (tracker *Tracker) DeleteDeployment(deploymentID string) error {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	if _, exists := tracker.document.Deployments[deploymentID]; !exists {
		return ErrDeploymentNotFound
	}

	delete(tracker.document.Deployments, deploymentID)
	return tracker.persistLocked()
}

// persistLocked rewrites the store file atomically. callers hold the mutex.
// the temp file is fsynced before the rename so a crash between the two
// leaves either the old document or the complete new one, never a torn write.
func (tracker *Tracker) persistLocked() error {
	data, err := json.MarshalIndent(tracker.document, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode deployment store: %w", err)
	}

	temporaryPath := tracker.path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open temp store file %q: %w", temporaryPath, err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write temp store file %q: %w", temporaryPath, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync temp store file %q: %w", temporaryPath, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp store file %q: %w", temporaryPath, err)
	}

	if err := os.Rename(temporaryPath, tracker.path); err != nil {
		return fmt.Errorf("failed to replace deployment store %q: %w", tracker.path, err)
	}
	return nil
}
