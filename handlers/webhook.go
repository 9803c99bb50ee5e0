package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/samber/lo"

	"github.com/sasta-kro/magpie-previews/deploy"
	"github.com/sasta-kro/magpie-previews/models"
	"github.com/sasta-kro/magpie-previews/tracker"
	"github.com/sasta-kro/magpie-previews/util"
)

// PreviewPipeline is the slice of the deploy pipeline the HTTP layer
// drives. an interface so handler tests can run against a stub instead of a
// pipeline wired to git and docker.
type PreviewPipeline interface {
	Deploy(ctx context.Context, request deploy.Request) error
	Update(ctx context.Context, request deploy.Request) error
	Cleanup(ctx context.Context, deploymentID string) error
	Redeploy(ctx context.Context, deploymentID string) error
	GetPreviewStatus(ctx context.Context, deploymentID string) (models.DeploymentStatus, error)
}

// WebhookHandler receives pull-request webhooks from the source forge and
// drives the deploy pipeline.
type WebhookHandler struct {
	pipeline      PreviewPipeline
	logger        *slog.Logger
	webhookSecret string
	allowedRepos  []string
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(pipeline PreviewPipeline, logger *slog.Logger, webhookSecret string, allowedRepos []string) *WebhookHandler {
	return &WebhookHandler{
		pipeline:      pipeline,
		logger:        logger,
		webhookSecret: webhookSecret,
		allowedRepos:  allowedRepos,
	}
}

// VerifySignature reports whether signatureHeader is a valid
// "sha256=<hex>" HMAC-SHA256 of body under secret. the comparison is
// constant-time; an empty header never verifies.
func VerifySignature(secret string, body []byte, signatureHeader string) bool {
	if signatureHeader == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expectedSignature := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expectedSignature), []byte(signatureHeader))
}

// webhookPayload is the slice of the forge's pull_request event the daemon
// acts on.
type webhookPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Number int `json:"number"`
		Head   struct {
			Ref string `json:"ref"`
			Sha string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		CloneURL string `json:"clone_url"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

func (payload *webhookPayload) prNumber() int {
	if payload.PullRequest.Number != 0 {
		return payload.PullRequest.Number
	}
	return payload.Number
}

// HandleWebhook handles POST /webhook/github.
// the pipeline runs synchronously: 200 means the preview action completed,
// 500 carries the failure. signature verification happens on the raw body
// before any parsing.
func (handler *WebhookHandler) HandleWebhook(responseWriter http.ResponseWriter, request *http.Request) {
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, "failed to read request body", handler.logger)
		return
	}

	if !VerifySignature(handler.webhookSecret, body, request.Header.Get("X-Hub-Signature-256")) {
		writeErrorJsonAndLogIt(responseWriter, http.StatusUnauthorized, "Invalid signature", handler.logger)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, "failed to parse webhook payload", handler.logger)
		return
	}

	if !lo.Contains(handler.allowedRepos, payload.Repository.FullName) {
		message := fmt.Sprintf("Repository not allowed: %s", payload.Repository.FullName)
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, message, handler.logger)
		return
	}

	handler.logger.Info("webhook received",
		"action", payload.Action,
		"repository", payload.Repository.FullName,
		"prNumber", payload.prNumber(),
		"sha", payload.PullRequest.Head.Sha,
	)

	// the pipeline runs on a background context: an impatient webhook
	// sender hanging up must not abort a half-finished deploy.
	ctx := context.Background()

	switch payload.Action {
	case "opened", "reopened":
		err = handler.pipeline.Deploy(ctx, deployRequestFromPayload(&payload))
	case "synchronize":
		err = handler.pipeline.Update(ctx, deployRequestFromPayload(&payload))
	case "closed":
		deploymentID := util.DeploymentID(util.Slugify(payload.Repository.FullName), payload.prNumber())
		err = handler.pipeline.Cleanup(ctx, deploymentID)
		if errors.Is(err, tracker.ErrDeploymentNotFound) {
			// nothing tracked for this PR; a close for an unknown preview
			// is not a failure.
			handler.logger.Info("close event for untracked deployment", "deploymentId", deploymentID)
			err = nil
		}
	default:
		handler.logger.Info("ignoring webhook action", "action", payload.Action)
		writeJsonAndRespond(responseWriter, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if err != nil {
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, err.Error(), handler.logger)
		return
	}
	writeJsonAndRespond(responseWriter, http.StatusOK, map[string]string{"status": "ok"})
}

func deployRequestFromPayload(payload *webhookPayload) deploy.Request {
	return deploy.Request{
		PRNumber:  payload.prNumber(),
		RepoOwner: payload.Repository.Owner.Login,
		RepoName:  payload.Repository.Name,
		Branch:    payload.PullRequest.Head.Ref,
		CommitSha: payload.PullRequest.Head.Sha,
		CloneURL:  payload.Repository.CloneURL,
	}
}
