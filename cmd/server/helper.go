package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Helper functions shared by the HTTP handlers

const requestIDHeader = "X-Request-ID"

// errorBody is the JSON shape of every error response
type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Status     string `json:"status"`
	Error      string `json:"error"`
	RequestID  string `json:"requestId,omitempty"`
}

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}

// errorResponse returns a formatted JSON error
func errorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorMsg string) {
	logrus.WithFields(logrus.Fields{
		"path":       r.URL.Path,
		"status":     statusCode,
		"request_id": w.Header().Get(requestIDHeader),
	}).Warn(errorMsg)

	writeJSON(w, statusCode, errorBody{
		StatusCode: statusCode,
		Status:     "error",
		Error:      errorMsg,
		RequestID:  w.Header().Get(requestIDHeader),
	})
}

// allowMethods rejects requests whose method is not listed
func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	errorResponse(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// decodeBody decodes a JSON request body into v
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with request IDs, rate limiting and metrics
func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if s.rateLimit != nil && !s.rateLimit.Allow() {
			errorResponse(rec, r, http.StatusTooManyRequests, "Rate limit exceeded")
		} else {
			next(rec, r)
		}

		if s.metrics != nil {
			s.metrics.requestCounter.WithLabelValues(path, http.StatusText(rec.status)).Inc()
			s.metrics.requestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		}
		logrus.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"latency":    time.Since(start).String(),
		}).Debug("Request handled")
	}
}
