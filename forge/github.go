/*
Package forge talks to the source forge's REST API: posting and updating the
per-PR status comment, and checking whether a pull request is still open.

Every call here is best-effort from the deploy pipeline's point of view; a
circuit breaker makes repeated forge outages fail fast instead of holding
each deploy for the full HTTP timeout.
*/
package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sasta-kro/magpie-previews/models"
)

// ErrForgeAPI wraps every non-2xx response and transport failure, so callers
// can classify forge trouble with a single errors.Is check.
var ErrForgeAPI = errors.New("forge API request failed")

const defaultBaseURL = "https://api.github.com"

// GitHubClient is a thin REST client for the GitHub v3 API. it holds no
// per-request state and is safe for concurrent use.
type GitHubClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

func NewGitHubClient(token string, logger *slog.Logger) *GitHubClient {
	return &GitHubClient{
		baseURL: defaultBaseURL,
		token:   token,
		// comment posts sit on the edge of the deploy critical path; the
		// timeout bounds how long a forge hiccup can hold a pipeline
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "github-api",
			Interval: 60 * time.Second,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		logger: logger,
	}
}

// PostComment creates an issue comment on the pull request and returns the
// comment id, which the deployment record keeps so later runs update the
// same comment instead of posting a new one.
func (client *GitHubClient) PostComment(ctx context.Context, owner, repo string, prNumber int, body string) (int64, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, prNumber)

	var response struct {
		ID int64 `json:"id"`
	}
	if err := client.doJSON(ctx, http.MethodPost, path, map[string]string{"body": body}, &response); err != nil {
		return 0, err
	}

	client.logger.Debug("posted PR comment", "owner", owner, "repo", repo, "prNumber", prNumber, "commentId", response.ID)
	return response.ID, nil
}

// UpdateComment replaces the body of an existing issue comment.
func (client *GitHubClient) UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/comments/%d", owner, repo, commentID)
	return client.doJSON(ctx, http.MethodPatch, path, map[string]string{"body": body}, nil)
}

// CheckPRStatus reports whether the pull request is open, closed, or merged.
func (client *GitHubClient) CheckPRStatus(ctx context.Context, owner, repo string, prNumber int) (models.PRStatus, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, prNumber)

	var response struct {
		State  string `json:"state"`
		Merged bool   `json:"merged"`
	}
	if err := client.doJSON(ctx, http.MethodGet, path, nil, &response); err != nil {
		return "", err
	}

	switch {
	case response.Merged:
		return models.PRStatusMerged, nil
	case response.State == "open":
		return models.PRStatusOpen, nil
	default:
		return models.PRStatusClosed, nil
	}
}

// doJSON performs one authenticated API call through the circuit breaker,
// encoding requestBody when present and decoding into responseBody when the
// caller wants the payload.
func (client *GitHubClient) doJSON(ctx context.Context, method, path string, requestBody, responseBody any) error {
	_, err := client.breaker.Execute(func() (interface{}, error) {
		var bodyReader io.Reader
		if requestBody != nil {
			encoded, err := json.Marshal(requestBody)
			if err != nil {
				return nil, fmt.Errorf("failed to encode request body for %s %s: %w", method, path, err)
			}
			bodyReader = bytes.NewReader(encoded)
		}

		request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("failed to build request for %s %s: %w", method, path, err)
		}
		request.Header.Set("Authorization", "Bearer "+client.token)
		request.Header.Set("Accept", "application/vnd.github+json")
		request.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		if requestBody != nil {
			request.Header.Set("Content-Type", "application/json")
		}

		response, err := client.httpClient.Do(request)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrForgeAPI, method, path, err)
		}
		defer response.Body.Close()

		if response.StatusCode < 200 || response.StatusCode > 299 {
			// the interesting part of a GitHub error fits well within 1 KiB
			detail, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
			return nil, fmt.Errorf("%w: %s %s returned %d: %s", ErrForgeAPI, method, path, response.StatusCode, bytes.TrimSpace(detail))
		}

		if responseBody != nil {
			if err := json.NewDecoder(response.Body).Decode(responseBody); err != nil {
				return nil, fmt.Errorf("%w: failed to decode response for %s %s: %v", ErrForgeAPI, method, path, err)
			}
		}
		return nil, nil
	})
	return err
}
