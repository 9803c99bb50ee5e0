package handlers

// router.go constructs the chi router, registers all middleware, and wires all
// routes to their respective handlers. it is the single source of truth for
// the HTTP surface area of the preview daemon.
// adding a new endpoint means adding one line in this file, nothing else.

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// maxRequestBodyBytes caps webhook and API payloads. GitHub documents a
// 25 MB ceiling for hook deliveries but pull_request payloads stay far
// below 10 MB in practice.
const maxRequestBodyBytes = 10 << 20

// RouterDependencies groups all external dependencies that the router and
// its handlers need. passing a single struct instead of N arguments keeps
// CreateAndSetupRouter's signature stable as more handlers are added.
type RouterDependencies struct {
	Logger            *slog.Logger
	Store             DeploymentStore
	Events            EventStore
	Pipeline          PreviewPipeline
	WebhookSecret     string
	AllowedRepos      []string
	CORSAllowedOrigin string
	StartedAt         time.Time
}

// CreateAndSetupRouter constructs the chi multiplexer, attaches middleware,
// constructs all handlers with their dependencies, and registers all routes.
// it returns a plain http.Handler so main.go has no chi awareness.
func CreateAndSetupRouter(dependencies RouterDependencies) http.Handler {
	router := chi.NewRouter()

	router.Use(RequestLogger(dependencies.Logger))
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{dependencies.CORSAllowedOrigin},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Hub-Signature-256"},
		MaxAge:         300,
	}))
	router.Use(middleware.RequestSize(maxRequestBodyBytes))

	healthHandler := NewHealthHandler(dependencies.Logger, dependencies.StartedAt)
	webhookHandler := NewWebhookHandler(
		dependencies.Pipeline,
		dependencies.Logger,
		dependencies.WebhookSecret,
		dependencies.AllowedRepos,
	)
	previewHandler := NewPreviewHandler(
		dependencies.Store,
		dependencies.Pipeline,
		dependencies.Events,
		dependencies.Logger,
	)
	docsHandler := NewDocsHandler()

	// /health stays at the root level rather than under /api: load balancers
	// and uptime monitors expect it at a standard root path.
	router.Get("/health", healthHandler.Health)

	// the forge calls this one; everything under /api is for operators.
	router.Post("/webhook/github", webhookHandler.HandleWebhook)

	router.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Get("/previews", previewHandler.ListPreviews)
		apiRouter.Get("/previews/{deploymentId}", previewHandler.GetPreview)
		apiRouter.Delete("/previews/{deploymentId}", previewHandler.DeletePreview)
		apiRouter.Post("/previews/{deploymentId}/redeploy", previewHandler.RedeployPreview)
		apiRouter.Get("/previews/{deploymentId}/events", previewHandler.ListPreviewEvents)
	})

	router.Get("/openapi.json", docsHandler.ServeOpenAPI)
	router.Get("/api-docs", docsHandler.ServeDocs)

	return router
}
