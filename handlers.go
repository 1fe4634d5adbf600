package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/friendrelay/friendrelay/internal/relay"
	"github.com/rs/zerolog/log"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// handleSendRequests relays the action for the target named by the uid query
// parameter and responds with the aggregated counts.
func handleSendRequests(relayer relay.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		target := r.URL.Query().Get("uid")

		outcome, err := relayer(r.Context(), target)
		if err != nil {
			status, message := errorStatus(err)
			log.Ctx(r.Context()).Info().Err(err).Str("target", target).Msg("relay failed")
			writeJSONError(w, status, message)
			return
		}

		writeJSON(w, http.StatusOK, outcome)
	})
}

type homeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func handleHome() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, homeResponse{
			Status:  "online",
			Message: "friendrelay is running; use /send_requests?uid=<target>",
		})
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	marshalled, err := json.Marshal(payload)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(marshalled); err != nil {
		// the status is already written: all that's left is to log
		log.Info().Err(err).Msg("failed to write response")
	}
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{Error: message}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Info().Err(err).Msg("failed to write JSON error response")
	}
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// drainRequestBody discards what remains of the request body so the
// connection can be reused by HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// past 5MB the client is assumed broken and the connection is closed
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
