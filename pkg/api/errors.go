package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contentforge/contentforge/pkg/database"
	"github.com/contentforge/contentforge/pkg/providers"
	"github.com/contentforge/contentforge/pkg/services"
)

// Error codes of the HTTP surface.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeAuth              = "AUTH_ERROR"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodePlanLimitExceeded = "PLAN_LIMIT_EXCEEDED"
	CodeInputBlocked      = "INPUT_BLOCKED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeDatabaseError     = "DATABASE_CONNECTION_ERROR"
	CodeUnavailable       = "SERVICE_UNAVAILABLE"
	CodeInternal          = "INTERNAL_ERROR"
)

// ErrorResponse is the envelope every error reply uses.
type ErrorResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id"`
	Details    any    `json:"details,omitempty"`
}

// apiError is a handler-level error with a fixed status and code.
type apiError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *apiError) Error() string { return e.Message }

func newAPIError(status int, code, message string) *apiError {
	return &apiError{Status: status, Code: code, Message: message}
}

// writeError maps an error to the envelope and writes it. 5xx messages are
// generic; the cause goes to the log only.
func writeError(c *gin.Context, err error) {
	resp := mapError(err)
	resp.RequestID = requestID(c)
	if resp.StatusCode >= 500 {
		slog.Error("Request failed", "request_id", resp.RequestID,
			"path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(resp.StatusCode, resp)
}

func mapError(err error) ErrorResponse {
	var appErr *apiError
	if errors.As(err, &appErr) {
		return ErrorResponse{
			Code: appErr.Code, Message: appErr.Message,
			StatusCode: appErr.Status, Details: appErr.Details,
		}
	}

	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return ErrorResponse{
			Code: CodeValidation, Message: validErr.Message, StatusCode: http.StatusBadRequest,
			Details: map[string]string{"field": validErr.Field},
		}
	}
	var limitErr *services.PlanLimitError
	if errors.As(err, &limitErr) {
		return ErrorResponse{
			Code: CodePlanLimitExceeded, Message: limitErr.Error(), StatusCode: http.StatusForbidden,
			Details: map[string]any{"kind": limitErr.Kind, "used": limitErr.Used, "limit": limitErr.Limit},
		}
	}
	var inFlightErr *services.JobInFlightError
	if errors.As(err, &inFlightErr) {
		return ErrorResponse{
			Code: CodeConflict, Message: "an identical request is already in flight", StatusCode: http.StatusConflict,
			Details: map[string]any{"job_id": inFlightErr.JobID, "status": inFlightErr.Status},
		}
	}
	var modErr *providers.ModerationError
	if errors.As(err, &modErr) {
		return ErrorResponse{
			Code: CodeInputBlocked, Message: "the submitted content was blocked by moderation",
			StatusCode: http.StatusForbidden, Details: map[string]string{"reason": modErr.Reason},
		}
	}

	switch {
	case errors.Is(err, services.ErrNotFound):
		return ErrorResponse{Code: CodeNotFound, Message: "resource not found", StatusCode: http.StatusNotFound}
	case errors.Is(err, services.ErrForbidden):
		return ErrorResponse{Code: CodeForbidden, Message: "operation not permitted", StatusCode: http.StatusForbidden}
	case errors.Is(err, services.ErrNotCancellable):
		return ErrorResponse{Code: CodeConflict, Message: "job is not in a cancellable state", StatusCode: http.StatusConflict}
	case errors.Is(err, providers.ErrBadSignature):
		return ErrorResponse{Code: CodeValidation, Message: "webhook signature verification failed", StatusCode: http.StatusBadRequest}
	case database.IsTransient(err):
		return ErrorResponse{Code: CodeDatabaseError, Message: "the service is temporarily unavailable", StatusCode: http.StatusServiceUnavailable}
	}

	return ErrorResponse{Code: CodeInternal, Message: "internal server error", StatusCode: http.StatusInternalServerError}
}
