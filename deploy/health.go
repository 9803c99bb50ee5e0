package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const healthRequestTimeout = 2 * time.Second

// polling knobs are vars so tests can shrink the window.
var (
	healthRetryDelay  = 5 * time.Second
	healthMaxAttempts = 15
)

// ErrHealthCheckTimeout means the app container never answered on its
// health path within the polling window.
var ErrHealthCheckTimeout = errors.New("health check timed out")

// waitForHealthy polls the app through its published host port until the
// configured health path answers with a 2xx.
func (pipeline *Pipeline) waitForHealthy(ctx context.Context, exposedAppPort int, healthCheckPath string, deployLog *deployLogger) error {
	healthURL := fmt.Sprintf("http://localhost:%d%s", exposedAppPort, healthCheckPath)
	healthClient := &http.Client{Timeout: healthRequestTimeout, Transport: pipeline.healthTransport}

	for attempt := 1; attempt <= healthMaxAttempts; attempt++ {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err != nil {
			return fmt.Errorf("failed to build health check request: %w", err)
		}

		response, err := healthClient.Do(request)
		if err == nil {
			statusCode := response.StatusCode
			_ = response.Body.Close()
			if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
				deployLog.logInfo("health check passed on attempt %d: %s returned %d", attempt, healthURL, statusCode)
				return nil
			}
			deployLog.logInfo("health check attempt %d/%d: %s returned %d", attempt, healthMaxAttempts, healthURL, statusCode)
		} else {
			deployLog.logInfo("health check attempt %d/%d: %v", attempt, healthMaxAttempts, err)
		}

		if attempt < healthMaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(healthRetryDelay):
			}
		}
	}

	return fmt.Errorf("%w after %d attempts against %s", ErrHealthCheckTimeout, healthMaxAttempts, healthURL)
}
