package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasta-kro/magpie-previews/models"
	"github.com/sasta-kro/magpie-previews/tracker"
)

func TestListPreviewsReturnsDeployments(t *testing.T) {
	fixture := newRouterFixture()
	second := sampleDeployment()
	second.PRNumber = 7
	second.DeploymentID = "acme-api-7"
	fixture.store.deployments = []models.Deployment{sampleDeployment(), second}

	recorder := fixture.do(http.MethodGet, "/api/previews", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	var response struct {
		Deployments []models.Deployment `json:"deployments"`
	}
	decodeBody(t, recorder, &response)
	require.Len(t, response.Deployments, 2)
	assert.Equal(t, "acme-api-42", response.Deployments[0].DeploymentID)
	assert.Equal(t, "acme-api-7", response.Deployments[1].DeploymentID)
}

func TestListPreviewsEmptyIsAnArray(t *testing.T) {
	fixture := newRouterFixture()

	recorder := fixture.do(http.MethodGet, "/api/previews", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"deployments":[]}`, recorder.Body.String())
}

func TestGetPreviewRefreshesLiveStatus(t *testing.T) {
	fixture := newRouterFixture()
	fixture.store.deployments = []models.Deployment{sampleDeployment()}
	// the tracker says running, the container says otherwise
	fixture.pipeline.statusByID["acme-api-42"] = models.StatusStopped

	recorder := fixture.do(http.MethodGet, "/api/previews/acme-api-42", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	var response models.Deployment
	decodeBody(t, recorder, &response)
	assert.Equal(t, "acme-api-42", response.DeploymentID)
	assert.Equal(t, models.StatusStopped, response.Status)
}

func TestGetPreviewKeepsStoredStatusWhenInspectionFails(t *testing.T) {
	fixture := newRouterFixture()
	fixture.store.deployments = []models.Deployment{sampleDeployment()}
	fixture.pipeline.statusErr = errors.New("docker daemon unreachable")

	recorder := fixture.do(http.MethodGet, "/api/previews/acme-api-42", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	var response models.Deployment
	decodeBody(t, recorder, &response)
	assert.Equal(t, models.StatusRunning, response.Status)
}

func TestGetPreviewUnknownReturns404(t *testing.T) {
	fixture := newRouterFixture()

	recorder := fixture.do(http.MethodGet, "/api/previews/ghost-1", nil)

	require.Equal(t, http.StatusNotFound, recorder.Code)
	assert.JSONEq(t, `{"error":"Deployment not found"}`, recorder.Body.String())
}

func TestDeletePreviewTearsDown(t *testing.T) {
	fixture := newRouterFixture()
	fixture.store.deployments = []models.Deployment{sampleDeployment()}

	recorder := fixture.do(http.MethodDelete, "/api/previews/acme-api-42", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"status":"ok","deploymentId":"acme-api-42"}`, recorder.Body.String())
	assert.Equal(t, []string{"acme-api-42"}, fixture.pipeline.cleanups)
}

func TestDeletePreviewUnknownReturns404(t *testing.T) {
	fixture := newRouterFixture()
	fixture.pipeline.cleanupErr = tracker.ErrDeploymentNotFound

	recorder := fixture.do(http.MethodDelete, "/api/previews/ghost-1", nil)

	require.Equal(t, http.StatusNotFound, recorder.Code)
	assert.JSONEq(t, `{"error":"Deployment not found"}`, recorder.Body.String())
}

func TestDeletePreviewFailureReturns500(t *testing.T) {
	fixture := newRouterFixture()
	fixture.pipeline.cleanupErr = errors.New("failed to reload nginx")

	recorder := fixture.do(http.MethodDelete, "/api/previews/acme-api-42", nil)

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	var response map[string]string
	decodeBody(t, recorder, &response)
	assert.Contains(t, response["error"], "failed to reload nginx")
}

// chi never routes an empty {deploymentId} to the handler, so the guard is
// exercised by invoking the handler with a bare route context.
func TestDeletePreviewRequiresDeploymentID(t *testing.T) {
	fixture := newRouterFixture()
	handler := NewPreviewHandler(fixture.store, fixture.pipeline, fixture.events, discardLogger())

	request := httptest.NewRequest(http.MethodDelete, "/api/previews/", nil)
	routeContext := chi.NewRouteContext()
	request = request.WithContext(context.WithValue(request.Context(), chi.RouteCtxKey, routeContext))
	recorder := httptest.NewRecorder()

	handler.DeletePreview(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Zero(t, fixture.pipeline.callCount())
}

func TestRedeployReturnsRefreshedRecord(t *testing.T) {
	fixture := newRouterFixture()
	fixture.store.deployments = []models.Deployment{sampleDeployment()}

	recorder := fixture.do(http.MethodPost, "/api/previews/acme-api-42/redeploy", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, []string{"acme-api-42"}, fixture.pipeline.redeploys)

	var response models.Deployment
	decodeBody(t, recorder, &response)
	assert.Equal(t, "acme-api-42", response.DeploymentID)
}

func TestRedeployUnknownReturns404(t *testing.T) {
	fixture := newRouterFixture()
	fixture.pipeline.redeployErr = tracker.ErrDeploymentNotFound

	recorder := fixture.do(http.MethodPost, "/api/previews/ghost-1/redeploy", nil)

	require.Equal(t, http.StatusNotFound, recorder.Code)
	assert.JSONEq(t, `{"error":"Deployment not found"}`, recorder.Body.String())
}

func TestListPreviewEventsReturnsTrail(t *testing.T) {
	fixture := newRouterFixture()
	now := time.Now().UTC()
	fixture.events.eventsByID["acme-api-42"] = []models.DeploymentEvent{
		{ID: "e2", DeploymentID: "acme-api-42", Kind: models.EventRunning, CreatedAt: now},
		{ID: "e1", DeploymentID: "acme-api-42", Kind: models.EventReceived, Detail: "pull request opened", CreatedAt: now.Add(-time.Minute)},
	}

	recorder := fixture.do(http.MethodGet, "/api/previews/acme-api-42/events", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	var response struct {
		Events []models.DeploymentEvent `json:"events"`
	}
	decodeBody(t, recorder, &response)
	require.Len(t, response.Events, 2)
	assert.Equal(t, models.EventRunning, response.Events[0].Kind)
	assert.Equal(t, "pull request opened", response.Events[1].Detail)
}

// the audit trail outlives its deployment: events stay queryable after
// teardown removed the tracked record.
func TestListPreviewEventsOutlivesDeployment(t *testing.T) {
	fixture := newRouterFixture()
	fixture.events.eventsByID["acme-api-42"] = []models.DeploymentEvent{
		{ID: "e1", DeploymentID: "acme-api-42", Kind: models.EventCleaned, CreatedAt: time.Now().UTC()},
	}

	recorder := fixture.do(http.MethodGet, "/api/previews/acme-api-42/events", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	var response struct {
		Events []models.DeploymentEvent `json:"events"`
	}
	decodeBody(t, recorder, &response)
	require.Len(t, response.Events, 1)
	assert.Equal(t, models.EventCleaned, response.Events[0].Kind)
}

func TestListPreviewEventsUnknownIDGivesEmptyList(t *testing.T) {
	fixture := newRouterFixture()

	recorder := fixture.do(http.MethodGet, "/api/previews/never-deployed-1/events", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"events":[]}`, recorder.Body.String())
}

func TestListPreviewEventsStoreFailureReturns500(t *testing.T) {
	fixture := newRouterFixture()
	fixture.events.err = errors.New("database is locked")

	recorder := fixture.do(http.MethodGet, "/api/previews/acme-api-42/events", nil)

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.JSONEq(t, `{"error":"failed to read deployment events"}`, recorder.Body.String())
}
