// Package api exposes the agent's HTTP surface.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/kimhsiao/teamsync/agent/internal/errors"
	"github.com/kimhsiao/teamsync/agent/internal/logging"
)

// JSON writes a raw JSON response without envelope.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logging.Error("Failed to encode response", err)
		}
	}
}

// Success writes a JSON response with {"data": ...} envelope.
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, map[string]interface{}{"data": data})
}

// Error writes a JSON response with {"error": {"code": ..., "message": ...}} envelope.
func Error(w http.ResponseWriter, status int, code errors.ErrorCode, message string) {
	JSON(w, status, map[string]interface{}{
		"error": map[string]string{"code": string(code), "message": message},
	})
}

// ValidationError writes a 400 with per-field details when err comes from
// the validator.
func ValidationError(w http.ResponseWriter, err error) {
	var details interface{}
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		fieldErrors := make([]map[string]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			fieldErrors = append(fieldErrors, map[string]string{
				"field":   e.Field(),
				"message": e.Tag(),
			})
		}
		details = fieldErrors
	} else {
		details = err.Error()
	}

	JSON(w, http.StatusBadRequest, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    string(errors.ErrInvalid),
			"message": "validation error",
			"details": details,
		},
	})
}

// codeMapping maps an error code to an HTTP status.
type codeMapping struct {
	Code   errors.ErrorCode
	Status int
}

var defaultMappings = []codeMapping{
	{errors.ErrInvalid, http.StatusBadRequest},
	{errors.ErrNotFound, http.StatusNotFound},
	{errors.ErrDuplicate, http.StatusConflict},
	{errors.ErrStorageUnavailable, http.StatusServiceUnavailable},
}

// handleError maps err to a response. Extra mappings are tried first.
func handleError(w http.ResponseWriter, r *http.Request, err error, extra ...codeMapping) {
	code := errors.CodeOf(err)
	for _, m := range append(extra, defaultMappings...) {
		if m.Code == code {
			Error(w, m.Status, code, err.Error())
			return
		}
	}
	logging.Error("Internal error", err, map[string]interface{}{
		"request_id": middleware.GetReqID(r.Context()),
		"path":       r.URL.Path,
	})
	Error(w, http.StatusInternalServerError, errors.ErrInternal, "internal error")
}

// requestLogger logs every request through the logging package.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.Debug("HTTP request", map[string]interface{}{
			"request_id":  middleware.GetReqID(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}
