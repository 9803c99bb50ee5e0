// Package reconciler reclaims preview deployments nobody needs anymore:
// previews whose pull request closed or merged while the daemon was down
// (the webhook was lost), and previews past their time-to-live. it is the
// safety net under the webhook-driven cleanup path.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sasta-kro/magpie-previews/models"
)

// Store is the read side of the deployment tracker the sweep iterates.
type Store interface {
	GetAllDeployments() []models.Deployment
	GetDeploymentAge(deploymentID string) (float64, error)
}

// StatusChecker asks the source forge whether a pull request is still open.
type StatusChecker interface {
	CheckPRStatus(ctx context.Context, owner, repo string, prNumber int) (models.PRStatus, error)
}

// Cleaner tears down one deployment; the deploy pipeline in production.
type Cleaner interface {
	Cleanup(ctx context.Context, deploymentID string) error
}

// EventPruner trims the audit-trail table. the retention window is twice
// the TTL: long enough that the full history of any live preview plus a
// post-mortem grace period survives, short enough to bound the table.
type EventPruner interface {
	PruneEventsBefore(cutoff time.Time) (int64, error)
}

// Config groups the sweep cadence and the eviction threshold.
type Config struct {
	TTLDays  int
	Interval time.Duration
}

// Reconciler periodically walks all tracked deployments and evicts the
// stale ones.
type Reconciler struct {
	store   Store
	forge   StatusChecker
	cleaner Cleaner
	pruner  EventPruner
	logger  *slog.Logger

	ttlDays  int
	interval time.Duration
}

// New constructs a Reconciler with its required dependencies.
func New(store Store, forge StatusChecker, cleaner Cleaner, pruner EventPruner, logger *slog.Logger, config Config) *Reconciler {
	return &Reconciler{
		store:    store,
		forge:    forge,
		cleaner:  cleaner,
		pruner:   pruner,
		logger:   logger,
		ttlDays:  config.TTLDays,
		interval: config.Interval,
	}
}

// Run blocks, sweeping once immediately and then on every tick until the
// context is cancelled. the immediate sweep reclaims previews that went
// stale while the daemon was down.
func (reconciler *Reconciler) Run(ctx context.Context) {
	reconciler.logger.Info("reconciler started",
		"ttlDays", reconciler.ttlDays,
		"interval", reconciler.interval.String(),
	)
	reconciler.Sweep(ctx)

	ticker := time.NewTicker(reconciler.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			reconciler.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			reconciler.Sweep(ctx)
		}
	}
}

// Sweep examines every tracked deployment once and evicts the stale ones.
// a failure on one deployment is logged and never stops the rest of the
// sweep.
func (reconciler *Reconciler) Sweep(ctx context.Context) {
	deployments := reconciler.store.GetAllDeployments()
	reconciler.logger.Info("reconciler sweep starting", "deployments", len(deployments))

	evicted := 0
	for _, deployment := range deployments {
		evict, reason := reconciler.shouldEvict(ctx, deployment)
		if !evict {
			continue
		}

		reconciler.logger.Info("evicting stale deployment",
			"deploymentId", deployment.DeploymentID,
			"reason", reason,
		)
		if err := reconciler.cleaner.Cleanup(ctx, deployment.DeploymentID); err != nil {
			reconciler.logger.Error("failed to evict deployment",
				"deploymentId", deployment.DeploymentID,
				"error", err,
			)
			continue
		}
		evicted++
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -2*reconciler.ttlDays)
	pruned, err := reconciler.pruner.PruneEventsBefore(cutoff)
	if err != nil {
		reconciler.logger.Error("failed to prune deployment events", "error", err)
	}

	reconciler.logger.Info("reconciler sweep complete",
		"evicted", evicted,
		"prunedEvents", pruned,
	)
}

// shouldEvict decides one deployment's fate: past its TTL or attached to a
// pull request that is no longer open. when the forge cannot answer, the
// pull request is assumed open so a forge outage never mass-evicts healthy
// previews.
func (reconciler *Reconciler) shouldEvict(ctx context.Context, deployment models.Deployment) (bool, string) {
	age, err := reconciler.store.GetDeploymentAge(deployment.DeploymentID)
	if err != nil {
		reconciler.logger.Warn("failed to read deployment age",
			"deploymentId", deployment.DeploymentID,
			"error", err,
		)
	} else if age > float64(reconciler.ttlDays) {
		return true, fmt.Sprintf("age %.1f days exceeds ttl of %d days", age, reconciler.ttlDays)
	}

	prStatus, err := reconciler.forge.CheckPRStatus(ctx, deployment.RepoOwner, deployment.RepoName, deployment.PRNumber)
	if err != nil {
		reconciler.logger.Warn("failed to check pull request status, assuming open",
			"deploymentId", deployment.DeploymentID,
			"error", err,
		)
		return false, ""
	}
	if prStatus != models.PRStatusOpen {
		return true, fmt.Sprintf("pull request is %s", prStatus)
	}
	return false, ""
}
