package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/iuran/internal/audit/domain"
	"github.com/smallbiznis/iuran/internal/authorization"
	"github.com/smallbiznis/iuran/internal/blobstore"
	directorydomain "github.com/smallbiznis/iuran/internal/directory/domain"
	duesdomain "github.com/smallbiznis/iuran/internal/dues/domain"
	"github.com/smallbiznis/iuran/internal/reconciler"
	"github.com/smallbiznis/iuran/internal/viewer"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isForbiddenError(err):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, duesdomain.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_transition",
			Message: "record is not in the required status",
		}
	case errors.Is(err, duesdomain.ErrAlreadyGenerated):
		return http.StatusConflict, errorPayload{
			Type:    "already_generated",
			Message: "period already generated",
		}
	case errors.Is(err, directorydomain.ErrUserIDTaken):
		return http.StatusConflict, errorPayload{
			Type:    "user_id_taken",
			Message: "user id is already bound to a member",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, duesdomain.ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "record changed concurrently",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, duesdomain.ErrEmptyExport):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "empty_export",
			Message: "nothing to export",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, duesdomain.ErrUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the type and code logged for a failed request.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status >= http.StatusInternalServerError {
		return "server", code
	}
	return "client", code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationErrors = []error{
	ErrInvalidRequest,
	duesdomain.ErrInvalidPeriod,
	duesdomain.ErrInvalidID,
	duesdomain.ErrInvalidAmount,
	duesdomain.ErrInvalidProof,
	duesdomain.ErrInvalidStatus,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidAction,
	directorydomain.ErrInvalidName,
	directorydomain.ErrInvalidUserID,
	reconciler.ErrInvalidSession,
	blobstore.ErrInvalidID,
}

func validationErrorCode(err error) (string, bool) {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return target.Error(), true
		}
	}
	return "", false
}

func isUnauthorizedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, viewer.ErrMissingViewer),
		errors.Is(err, viewer.ErrInvalidRole),
		errors.Is(err, authorization.ErrInvalidActor):
		return true
	default:
		return false
	}
}

func isForbiddenError(err error) bool {
	switch {
	case errors.Is(err, ErrForbidden),
		errors.Is(err, duesdomain.ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, duesdomain.ErrNotFound),
		errors.Is(err, directorydomain.ErrNotFound),
		errors.Is(err, blobstore.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_period":
		return "period must be YYYY-MM"
	case "invalid_proof":
		return "proof is missing, too large, or of an unsupported type"
	default:
		return "invalid value"
	}
}
