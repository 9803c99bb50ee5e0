// Package handlers contains all HTTP handler functions for the preview
// daemon API. each handler file groups related endpoints by resource or
// concern. handlers receive a decoded request, call into the tracker or the
// deploy pipeline, and write a JSON response. no business logic lives in
// handlers; they are thin translation layers between HTTP and the domain.
package handlers

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler holds the dependencies needed by the health endpoint.
type HealthHandler struct {
	logger    *slog.Logger
	startedAt time.Time
}

// NewHealthHandler constructs a HealthHandler. startedAt is the process
// start time reported back as uptime.
func NewHealthHandler(logger *slog.Logger, startedAt time.Time) *HealthHandler {
	return &HealthHandler{logger: logger, startedAt: startedAt}
}

// healthResponse is the JSON body returned by the health endpoint. local to
// this file so it is not confused with domain models.
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
}

// Health handles GET /health.
// intentionally simple: no store read, no docker ping, no auth. it is the
// minimum signal that the process is alive and the HTTP stack works, which
// is what load balancers and uptime monitors poll for.
func (handler *HealthHandler) Health(responseWriter http.ResponseWriter, request *http.Request) {
	response := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(handler.startedAt).Round(time.Second).String(),
	}
	writeJsonAndRespond(responseWriter, http.StatusOK, response)
}
