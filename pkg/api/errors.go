package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medic/arbiter/pkg/orchestrator"
)

// apiError is a mapped error with the HTTP status it should surface.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

// writeError writes a mapped error as a JSON body, never a stack trace.
func writeError(c *gin.Context, e *apiError) {
	c.JSON(e.status, gin.H{"error": e.message})
}

// mapApproveError maps Approve's sentinel errors to HTTP status codes.
func mapApproveError(err error) *apiError {
	if errors.Is(err, orchestrator.ErrApprovalInFlight) {
		return &apiError{status: http.StatusConflict, message: "approval already in flight for this kill_id"}
	}
	slog.Error("unexpected approval error", "error", err)
	return &apiError{status: http.StatusInternalServerError, message: "internal server error"}
}

// mapStoreError maps outcome-store read failures. The store has no
// expected-failure sentinels at read time (unlike Approve's in-flight
// conflict) — any error here is unexpected.
func mapStoreError(err error) *apiError {
	slog.Error("unexpected store error", "error", err)
	return &apiError{status: http.StatusInternalServerError, message: "internal server error"}
}
