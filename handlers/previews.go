package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sasta-kro/magpie-previews/models"
	"github.com/sasta-kro/magpie-previews/tracker"
)

// DeploymentStore is the read side of the tracker the preview endpoints
// serve from.
type DeploymentStore interface {
	GetAllDeployments() []models.Deployment
	GetDeployment(deploymentID string) (models.Deployment, error)
}

// EventStore reads the per-deployment audit trail.
type EventStore interface {
	ListEventsForDeployment(deploymentID string) ([]models.DeploymentEvent, error)
}

// PreviewHandler serves the /api/previews endpoints: listing, inspection,
// manual teardown, redeploy and the audit trail.
type PreviewHandler struct {
	store    DeploymentStore
	pipeline PreviewPipeline
	events   EventStore
	logger   *slog.Logger
}

// NewPreviewHandler constructs a PreviewHandler.
func NewPreviewHandler(store DeploymentStore, pipeline PreviewPipeline, events EventStore, logger *slog.Logger) *PreviewHandler {
	return &PreviewHandler{
		store:    store,
		pipeline: pipeline,
		events:   events,
		logger:   logger,
	}
}

// ListPreviews handles GET /api/previews.
// returns every tracked deployment, newest first, as {"deployments": [...]}.
func (handler *PreviewHandler) ListPreviews(responseWriter http.ResponseWriter, request *http.Request) {
	deployments := handler.store.GetAllDeployments()
	writeJsonAndRespond(responseWriter, http.StatusOK, map[string][]models.Deployment{
		"deployments": deployments,
	})
}

// GetPreview handles GET /api/previews/{deploymentId}.
// the stored record is returned with its status refreshed from the live
// container, since containers can die without the tracker noticing.
func (handler *PreviewHandler) GetPreview(responseWriter http.ResponseWriter, request *http.Request) {
	deploymentID := chi.URLParam(request, "deploymentId")
	if deploymentID == "" {
		writeErrorJsonAndLogIt(responseWriter, http.StatusBadRequest, "deploymentId is required", handler.logger)
		return
	}

	deployment, err := handler.store.GetDeployment(deploymentID)
	if errors.Is(err, tracker.ErrDeploymentNotFound) {
		writeErrorJsonAndLogIt(responseWriter, http.StatusNotFound, "Deployment not found", handler.logger)
		return
	}
	if err != nil {
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, "failed to read deployment", handler.logger)
		return
	}

	liveStatus, statusErr := handler.pipeline.GetPreviewStatus(request.Context(), deploymentID)
	if statusErr != nil {
		handler.logger.Warn("failed to inspect live container status, serving stored status",
			"deploymentId", deploymentID,
			"error", statusErr,
		)
	} else {
		deployment.Status = liveStatus
	}

	writeJsonAndRespond(responseWriter, http.StatusOK, deployment)
}

// DeletePreview handles DELETE /api/previews/{deploymentId}.
// runs the same teardown as a closed PR: containers, working tree, ports,
// route, record.
func (handler *PreviewHandler) DeletePreview(responseWriter http.ResponseWriter, request *http.Request) {
	deploymentID := chi.URLParam(request, "deploymentId")
	if deploymentID == "" {
		writeErrorJsonAndLogIt(responseWriter, http.StatusBadRequest, "deploymentId is required", handler.logger)
		return
	}

	// background context: teardown must finish even if the caller hangs up.
	err := handler.pipeline.Cleanup(context.Background(), deploymentID)
	if errors.Is(err, tracker.ErrDeploymentNotFound) {
		writeErrorJsonAndLogIt(responseWriter, http.StatusNotFound, "Deployment not found", handler.logger)
		return
	}
	if err != nil {
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, err.Error(), handler.logger)
		return
	}

	writeJsonAndRespond(responseWriter, http.StatusOK, map[string]string{
		"status":       "ok",
		"deploymentId": deploymentID,
	})
}

// RedeployPreview handles POST /api/previews/{deploymentId}/redeploy.
// rebuilds the preview at its recorded commit and returns the refreshed
// record.
func (handler *PreviewHandler) RedeployPreview(responseWriter http.ResponseWriter, request *http.Request) {
	deploymentID := chi.URLParam(request, "deploymentId")
	if deploymentID == "" {
		writeErrorJsonAndLogIt(responseWriter, http.StatusBadRequest, "deploymentId is required", handler.logger)
		return
	}

	err := handler.pipeline.Redeploy(context.Background(), deploymentID)
	if errors.Is(err, tracker.ErrDeploymentNotFound) {
		writeErrorJsonAndLogIt(responseWriter, http.StatusNotFound, "Deployment not found", handler.logger)
		return
	}
	if err != nil {
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, err.Error(), handler.logger)
		return
	}

	deployment, lookupErr := handler.store.GetDeployment(deploymentID)
	if lookupErr != nil {
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, "failed to read deployment after redeploy", handler.logger)
		return
	}
	writeJsonAndRespond(responseWriter, http.StatusOK, deployment)
}

// ListPreviewEvents handles GET /api/previews/{deploymentId}/events.
// the audit trail outlives the deployment, so events are served even for
// ids that are no longer tracked; an id that never deployed yields an empty
// list.
func (handler *PreviewHandler) ListPreviewEvents(responseWriter http.ResponseWriter, request *http.Request) {
	deploymentID := chi.URLParam(request, "deploymentId")
	if deploymentID == "" {
		writeErrorJsonAndLogIt(responseWriter, http.StatusBadRequest, "deploymentId is required", handler.logger)
		return
	}

	events, err := handler.events.ListEventsForDeployment(deploymentID)
	if err != nil {
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, "failed to read deployment events", handler.logger)
		return
	}
	writeJsonAndRespond(responseWriter, http.StatusOK, map[string][]models.DeploymentEvent{
		"events": events,
	})
}
