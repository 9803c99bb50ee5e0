package deploy

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// respondingInSequence answers each probe with the next status in the
// script, then repeats the last one.
func respondingInSequence(statuses ...int) http.RoundTripper {
	call := 0
	return roundTripperFunc(func(request *http.Request) (*http.Response, error) {
		status := statuses[len(statuses)-1]
		if call < len(statuses) {
			status = statuses[call]
		}
		call++
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    request,
		}, nil
	})
}

func TestWaitForHealthyAcceptsAny2xx(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusCreated, http.StatusNoContent} {
		fixture := newPipelineFixture(t)
		fixture.pipeline.healthTransport = healthResponding(status)
		deployLog := newDeployLogger(fixture.pipeline, "acme-api-42")
		defer deployLog.close()

		err := fixture.pipeline.waitForHealthy(context.Background(), 8000, "/health", deployLog)

		assert.NoError(t, err, "status %d should pass the health gate", status)
	}
}

// only 2xx passes: a reachable app answering 404 on the configured path is
// still a failed health check.
func TestWaitForHealthyRejectsNon2xx(t *testing.T) {
	shrinkHealthWindow(t)
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusBadGateway} {
		fixture := newPipelineFixture(t)
		fixture.pipeline.healthTransport = healthResponding(status)
		deployLog := newDeployLogger(fixture.pipeline, "acme-api-42")
		defer deployLog.close()

		err := fixture.pipeline.waitForHealthy(context.Background(), 8000, "/health", deployLog)

		require.Error(t, err, "status %d must not pass the health gate", status)
		assert.ErrorIs(t, err, ErrHealthCheckTimeout)
	}
}

func TestWaitForHealthyRetriesUntilAppComesUp(t *testing.T) {
	shrinkHealthWindow(t)
	fixture := newPipelineFixture(t)
	fixture.pipeline.healthTransport = respondingInSequence(http.StatusServiceUnavailable, http.StatusOK)
	deployLog := newDeployLogger(fixture.pipeline, "acme-api-42")
	defer deployLog.close()

	err := fixture.pipeline.waitForHealthy(context.Background(), 8000, "/health", deployLog)

	assert.NoError(t, err)
}

func TestWaitForHealthyTimeoutNamesTheURL(t *testing.T) {
	shrinkHealthWindow(t)
	fixture := newPipelineFixture(t)
	fixture.pipeline.healthTransport = healthResponding(http.StatusServiceUnavailable)
	deployLog := newDeployLogger(fixture.pipeline, "acme-api-42")
	defer deployLog.close()

	err := fixture.pipeline.waitForHealthy(context.Background(), 8123, "/ready", deployLog)

	require.ErrorIs(t, err, ErrHealthCheckTimeout)
	assert.Contains(t, err.Error(), "http://localhost:8123/ready")
}
