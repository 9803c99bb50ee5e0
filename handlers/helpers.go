package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJsonAndRespond serializes the payload and writes it with the given
// status code. payloads are marshalled up front rather than streamed so an
// encoding error can still become a clean 500 instead of a truncated body
// behind an already-sent 200.
func writeJsonAndRespond(responseWriter http.ResponseWriter, statusCode int, dataPayload any) {
	responseWriter.Header().Set("Content-Type", "application/json")

	serializedData, err := json.Marshal(dataPayload)
	if err != nil {
		http.Error(responseWriter, `{"error":"internal encoding error"}`, http.StatusInternalServerError)
		return
	}

	responseWriter.WriteHeader(statusCode)
	responseWriter.Write(serializedData) // nolint:errcheck -- write errors are not actionable on the server side
}

// writeErrorJsonAndLogIt logs the error server-side and writes the standard
// error shape {"error": "<message>"}. the message sent to the client is
// always a controlled string, never a raw internal error.
func writeErrorJsonAndLogIt(
	responseWriter http.ResponseWriter,
	statusCode int,
	message string,
	logger *slog.Logger,
) {
	logger.Error("request error", "status", statusCode, "message", message)
	writeJsonAndRespond(responseWriter, statusCode, map[string]string{"error": message})
}
