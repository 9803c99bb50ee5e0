// magpie-previews is a single-binary daemon that turns pull requests into
// live preview environments. it listens for pull_request webhooks, clones
// and builds the PR head, starts it as an isolated docker compose project,
// routes it through nginx under a per-PR path, and posts the preview URL
// back to the PR. closing the PR, or letting it age out, tears everything
// down again.
//
// main wires the pieces together: config, tracker, event store, docker,
// proxy, forge client, deploy pipeline, reconciler, HTTP server. every
// dependency is constructed here and injected; nothing reaches for globals.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sasta-kro/magpie-previews/config"
	"github.com/sasta-kro/magpie-previews/db"
	"github.com/sasta-kro/magpie-previews/deploy"
	"github.com/sasta-kro/magpie-previews/docker"
	"github.com/sasta-kro/magpie-previews/forge"
	"github.com/sasta-kro/magpie-previews/handlers"
	"github.com/sasta-kro/magpie-previews/proxy"
	"github.com/sasta-kro/magpie-previews/reconciler"
	"github.com/sasta-kro/magpie-previews/tracker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	startedAt := time.Now()

	appConfig := config.Load()
	logger := appConfig.NewLogger()

	if err := appConfig.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("preview daemon starting",
		"port", appConfig.Port,
		"previewBaseUrl", appConfig.PreviewBaseURL,
		"allowedRepos", appConfig.AllowedRepos,
		"deploymentsDir", appConfig.DeploymentsDir,
	)

	store, err := tracker.OpenTracker(appConfig.DeploymentsDB, logger)
	if err != nil {
		logger.Error("failed to open deployment tracker", "error", err)
		os.Exit(1)
	}

	events, err := db.OpenDatabase(appConfig.EventsDB, logger)
	if err != nil {
		logger.Error("failed to open events database", "error", err)
		os.Exit(1)
	}
	defer events.CloseDatabase() // nolint:errcheck

	engine, err := docker.NewClient(logger)
	if err != nil {
		logger.Error("failed to connect to docker daemon", "error", err)
		os.Exit(1)
	}
	defer engine.Close() // nolint:errcheck

	routes := proxy.NewManager(appConfig.NginxConfigDir, proxy.NewNginxReloader(logger), logger)
	github := forge.NewGitHubClient(appConfig.GitHubToken, logger)

	pipeline := deploy.NewPipeline(store, github, engine, routes, events, logger, deploy.PipelineConfig{
		DeploymentsRoot: appConfig.DeploymentsDir,
		LogRoot:         appConfig.DeployLogDir,
		PreviewBaseURL:  appConfig.PreviewBaseURL,
	})

	sweeper := reconciler.New(store, github, pipeline, events, logger, reconciler.Config{
		TTLDays:  appConfig.CleanupTTLDays,
		Interval: time.Duration(appConfig.CleanupIntervalHours) * time.Hour,
	})

	router := handlers.CreateAndSetupRouter(handlers.RouterDependencies{
		Logger:            logger,
		Store:             store,
		Events:            events,
		Pipeline:          pipeline,
		WebhookSecret:     appConfig.WebhookSecret,
		AllowedRepos:      appConfig.AllowedRepos,
		CORSAllowedOrigin: appConfig.CORSAllowedOrigin,
		StartedAt:         startedAt,
	})

	// SIGINT for ^C in development, SIGTERM for docker stop / systemd.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweeper.Run(ctx)

	server := &http.Server{
		Addr:    ":" + appConfig.Port,
		Handler: router,
		// webhook responses wait for full deploys, so no write timeout; the
		// header timeout still shields the listener from stalled clients.
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		logger.Error("http server failed", "error", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining requests")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed, forcing close", "error", err)
			server.Close() // nolint:errcheck
		}
	}

	logger.Info("preview daemon stopped")
}
