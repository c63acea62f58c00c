// Package serving implements the HTTP read paths behind API Gateway: batch scores from
// DynamoDB and real-time inference against a SageMaker endpoint.
package serving

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	// InternalErrorMessage is returned for every unexpected failure.
	InternalErrorMessage = "internal error. Check Logs for more details"
	// AccessDeniedMessage is returned when the function role cannot read the table.
	AccessDeniedMessage = "Insufficient rights to perform this operation"
	// PolicyIDParam is the query parameter that selects a policy.
	PolicyIDParam = "policy_id"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"Error"`
}

// LoggingMiddleware logs details about each request and response
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := logger.WithContext(r.Context())
			r = r.WithContext(ctx)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			zerolog.Ctx(ctx).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("query", r.URL.RawQuery).
				Msg("Incoming request")

			next.ServeHTTP(rw, r)

			zerolog.Ctx(ctx).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status_code", rw.statusCode).
				Dur("duration", time.Since(start)).
				Msg("Request completed")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// jsonResponse writes a JSON response
func jsonResponse(w http.ResponseWriter, statusCode int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"Error":"failed to marshal response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

// errorResponse writes an error JSON response
func errorResponse(w http.ResponseWriter, statusCode int, message string) {
	jsonResponse(w, statusCode, ErrorResponse{Error: message})
}

// policyID extracts the required policy_id query parameter, replying 400 when absent.
func policyID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return "", false
	}
	id := r.URL.Query().Get(PolicyIDParam)
	if id == "" {
		errorResponse(w, http.StatusBadRequest, "policy_id is required")
		return "", false
	}
	return id, true
}
