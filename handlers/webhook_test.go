package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasta-kro/magpie-previews/deploy"
	"github.com/sasta-kro/magpie-previews/tracker"
)

func pullRequestPayload(t *testing.T, action string, prNumber int, fullName string) []byte {
	t.Helper()
	owner, name, found := strings.Cut(fullName, "/")
	require.True(t, found, "repository full name must be owner/name")

	payload := map[string]any{
		"action": action,
		"number": prNumber,
		"pull_request": map[string]any{
			"number": prNumber,
			"head": map[string]any{
				"ref": "feature/preview",
				"sha": "abc4567890abcdef",
			},
		},
		"repository": map[string]any{
			"name":      name,
			"full_name": fullName,
			"clone_url": "https://github.com/" + fullName + ".git",
			"owner":     map[string]any{"login": owner},
		},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func (fixture *routerFixture) postWebhook(body []byte, signature string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	if signature != "" {
		request.Header.Set("X-Hub-Signature-256", signature)
	}
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	return recorder
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	validSignature := signBody(body)

	assert.True(t, VerifySignature(testWebhookSecret, body, validSignature))

	// empty header never verifies, even for an empty body
	assert.False(t, VerifySignature(testWebhookSecret, body, ""))
	assert.False(t, VerifySignature(testWebhookSecret, []byte{}, ""))

	// signature over different content
	assert.False(t, VerifySignature(testWebhookSecret, []byte(`{"action":"closed"}`), validSignature))

	// signed under a different secret
	assert.False(t, VerifySignature("other-secret", body, validSignature))

	// bare hex without the sha256= prefix
	assert.False(t, VerifySignature(testWebhookSecret, body, strings.TrimPrefix(validSignature, "sha256=")))
}

func TestWebhookOpenedDeploysPreview(t *testing.T) {
	fixture := newRouterFixture()
	body := pullRequestPayload(t, "opened", 42, "acme/api")

	recorder := fixture.postWebhook(body, signBody(body))

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.JSONEq(t, `{"status":"ok"}`, recorder.Body.String())

	require.Len(t, fixture.pipeline.deploys, 1)
	assert.Equal(t, deploy.Request{
		PRNumber:  42,
		RepoOwner: "acme",
		RepoName:  "api",
		Branch:    "feature/preview",
		CommitSha: "abc4567890abcdef",
		CloneURL:  "https://github.com/acme/api.git",
	}, fixture.pipeline.deploys[0])
	assert.Empty(t, fixture.pipeline.updates)
}

func TestWebhookReopenedDeploysPreview(t *testing.T) {
	fixture := newRouterFixture()
	body := pullRequestPayload(t, "reopened", 42, "acme/api")

	recorder := fixture.postWebhook(body, signBody(body))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Len(t, fixture.pipeline.deploys, 1)
}

func TestWebhookSynchronizeUpdatesPreview(t *testing.T) {
	fixture := newRouterFixture()
	body := pullRequestPayload(t, "synchronize", 42, "acme/api")

	recorder := fixture.postWebhook(body, signBody(body))

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, fixture.pipeline.updates, 1)
	assert.Equal(t, 42, fixture.pipeline.updates[0].PRNumber)
	assert.Empty(t, fixture.pipeline.deploys)
}

func TestWebhookClosedTearsDownPreview(t *testing.T) {
	fixture := newRouterFixture()
	body := pullRequestPayload(t, "closed", 42, "acme/api")

	recorder := fixture.postWebhook(body, signBody(body))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, []string{"acme-api-42"}, fixture.pipeline.cleanups)
}

func TestWebhookClosedForUntrackedPreviewStillOK(t *testing.T) {
	fixture := newRouterFixture()
	fixture.pipeline.cleanupErr = tracker.ErrDeploymentNotFound
	body := pullRequestPayload(t, "closed", 99, "acme/api")

	recorder := fixture.postWebhook(body, signBody(body))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"status":"ok"}`, recorder.Body.String())
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	fixture := newRouterFixture()
	body := pullRequestPayload(t, "opened", 42, "acme/api")
	tamperedBody := pullRequestPayload(t, "closed", 42, "acme/api")

	recorder := fixture.postWebhook(tamperedBody, signBody(body))

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.JSONEq(t, `{"error":"Invalid signature"}`, recorder.Body.String())
	assert.Zero(t, fixture.pipeline.callCount())
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	fixture := newRouterFixture()
	body := pullRequestPayload(t, "opened", 42, "acme/api")

	recorder := fixture.postWebhook(body, "")

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.JSONEq(t, `{"error":"Invalid signature"}`, recorder.Body.String())
	assert.Zero(t, fixture.pipeline.callCount())
}

func TestWebhookRejectsUnlistedRepository(t *testing.T) {
	fixture := newRouterFixture()
	body := pullRequestPayload(t, "opened", 7, "evil/mirror")

	recorder := fixture.postWebhook(body, signBody(body))

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.JSONEq(t, `{"error":"Repository not allowed: evil/mirror"}`, recorder.Body.String())
	assert.Zero(t, fixture.pipeline.callCount())
}

func TestWebhookIgnoresUnhandledAction(t *testing.T) {
	fixture := newRouterFixture()
	body := pullRequestPayload(t, "labeled", 42, "acme/api")

	recorder := fixture.postWebhook(body, signBody(body))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"status":"ok"}`, recorder.Body.String())
	assert.Zero(t, fixture.pipeline.callCount())
}

func TestWebhookSurfacesPipelineFailure(t *testing.T) {
	fixture := newRouterFixture()
	fixture.pipeline.deployErr = errors.New("compose up failed: exit status 1")
	body := pullRequestPayload(t, "opened", 42, "acme/api")

	recorder := fixture.postWebhook(body, signBody(body))

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	var response map[string]string
	decodeBody(t, recorder, &response)
	assert.Contains(t, response["error"], "compose up failed")
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	fixture := newRouterFixture()
	body := []byte("{this is not json")

	recorder := fixture.postWebhook(body, signBody(body))

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.JSONEq(t, `{"error":"failed to parse webhook payload"}`, recorder.Body.String())
}

func TestWebhookFallsBackToTopLevelPRNumber(t *testing.T) {
	fixture := newRouterFixture()
	// some forges omit pull_request.number and only set the event-level one
	body := []byte(`{
		"action": "closed",
		"number": 7,
		"pull_request": {"head": {"ref": "main", "sha": "abc123"}},
		"repository": {
			"name": "api",
			"full_name": "acme/api",
			"clone_url": "https://github.com/acme/api.git",
			"owner": {"login": "acme"}
		}
	}`)

	recorder := fixture.postWebhook(body, signBody(body))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, []string{"acme-api-7"}, fixture.pipeline.cleanups)
}
