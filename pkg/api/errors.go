package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error     string         `json:"error"`
	Kind      string         `json:"kind,omitempty"`
	Retriable bool           `json:"retriable"`
	Context   map[string]any `json:"context,omitempty"`
}

// statusForKind maps fault kinds to HTTP statuses. Anything unmapped is an
// internal error.
func statusForKind(kind faults.Kind) int {
	switch kind {
	case faults.KindPrecondition:
		return http.StatusBadRequest
	case faults.KindAuthorization:
		return http.StatusForbidden
	case faults.KindNotFound:
		return http.StatusNotFound
	case faults.KindSaturation:
		return http.StatusTooManyRequests
	case faults.KindTransientIO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError translates an operation error into an HTTP response. Faults
// carry their own user-visible message; anything else is masked as an
// internal error and logged with full detail.
func respondError(c *gin.Context, err error) {
	var f *faults.Fault
	if !errors.As(err, &f) {
		slog.Error("Unclassified error reached the API boundary",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err)
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}

	status := statusForKind(f.Kind)
	if status >= 500 {
		slog.Error("Request failed with server-side fault",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"kind", string(f.Kind),
			"error", err)
	}
	c.JSON(status, errorBody{
		Error:     f.Message,
		Kind:      string(f.Kind),
		Retriable: f.Retriable,
		Context:   f.Context,
	})
}

// respondBindError wraps a JSON binding failure as a precondition fault so
// the caller sees which field was rejected.
func respondBindError(c *gin.Context, err error) {
	respondError(c, faults.Precondition("invalid request body: %v", err))
}
