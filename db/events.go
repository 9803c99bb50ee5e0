package db

// events.go contains all SQL query functions for the deployment_events
// table. raw SQL is used intentionally: the query layer stays explicit and
// auditable, and three queries do not justify an ORM.

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sasta-kro/magpie-previews/models"
)

// RecordEvent appends one event to the deployment's history. events are
// best-effort from the pipeline's point of view; callers log a failure and
// move on rather than failing the deployment over its audit trail.
func (database *Database) RecordEvent(deploymentID string, kind models.EventKind, detail string) error {
	query := `
		INSERT INTO deployment_events (id, deployment_id, kind, detail, created_at)
		VALUES (?, ?, ?, ?, ?);
	`

	event := models.DeploymentEvent{
		ID:           uuid.New().String(),
		DeploymentID: deploymentID,
		Kind:         kind,
		Detail:       detail,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := database.connection.Exec(query,
		event.ID,
		event.DeploymentID,
		string(event.Kind),
		event.Detail,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event %q for deployment %q: %w", kind, deploymentID, err)
	}
	return nil
}

// ListEventsForDeployment returns the deployment's history, newest first.
func (database *Database) ListEventsForDeployment(deploymentID string) ([]models.DeploymentEvent, error) {
	query := `
		SELECT id, deployment_id, kind, detail, created_at
		FROM deployment_events
		WHERE deployment_id = ?
		ORDER BY created_at DESC, id;
	`

	rows, err := database.connection.Query(query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for deployment %q: %w", deploymentID, err)
	}
	defer rows.Close()

	// non-nil even when empty: the API serves this slice as a JSON array.
	events := []models.DeploymentEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating events for deployment %q: %w", deploymentID, err)
	}
	return events, nil
}

// PruneEventsBefore drops events older than the cutoff and returns how many
// rows went. history deliberately outlives its deployment so the trail of a
// torn-down preview stays queryable; the reconciler calls this on each sweep
// to keep the table bounded.
func (database *Database) PruneEventsBefore(cutoff time.Time) (int64, error) {
	query := `DELETE FROM deployment_events WHERE created_at < ?;`

	result, err := database.connection.Exec(query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events before %s: %w", cutoff.UTC().Format(time.RFC3339), err)
	}
	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned events: %w", err)
	}
	return pruned, nil
}

// scanner abstracts over *sql.Row and *sql.Rows so scanEvent serves both
// single-row and multi-row queries.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(source scanner) (models.DeploymentEvent, error) {
	var event models.DeploymentEvent
	var kind string

	err := source.Scan(
		&event.ID,
		&event.DeploymentID,
		&kind,
		&event.Detail,
		&event.CreatedAt,
	)
	if err != nil {
		return models.DeploymentEvent{}, fmt.Errorf("failed to scan event row: %w", err)
	}

	event.Kind = models.EventKind(kind)
	return event, nil
}
