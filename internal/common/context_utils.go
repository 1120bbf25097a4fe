package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tenantcore/internal/apperr"
	"tenantcore/internal/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	SessionKey    contextKey = "session"
	IdentityIDKey contextKey = "identity_id"
)

// WithSession stores the caller's session snapshot in ctx.
func WithSession(ctx context.Context, s models.Session) context.Context {
	return context.WithValue(ctx, SessionKey, s)
}

// SessionFromContext returns the caller's session, if any.
func SessionFromContext(ctx context.Context) (models.Session, bool) {
	s, ok := ctx.Value(SessionKey).(models.Session)
	return s, ok
}

// CallerFromContext returns the signed-in profile, or an authentication error.
func CallerFromContext(ctx context.Context) (*models.UserProfile, error) {
	s, ok := SessionFromContext(ctx)
	if !ok || !s.Authenticated() {
		return nil, apperr.Authentication("no signed-in user")
	}
	return s.User, nil
}

func WithIdentityID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, IdentityIDKey, id)
}

func GetIdentityIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(IdentityIDKey).(uuid.UUID)
	return id, ok
}

// GetTenantIDFromContext returns the tenant of the caller's session.
func GetTenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok || s.Tenant == nil {
		return uuid.Nil, false
	}
	return s.Tenant.ID, true
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details,omitempty"`
	} `json:"error"`
}

// CreateErrorResponse creates a standardized error response
func CreateErrorResponse(code string, message string, details map[string]string) *ErrorResponse {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.Details = details
	return &resp
}

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(code apperr.Code) int {
	switch code {
	case apperr.CodeAuthentication:
		return http.StatusUnauthorized
	case apperr.CodeAuthorization, apperr.CodeTenantInactive, apperr.CodeUserInactive:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConflict, apperr.CodeSuperseded:
		return http.StatusConflict
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeTimeout:
		return http.StatusGatewayTimeout
	case apperr.CodeDependency:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// SendError writes err as a JSON error envelope. Untyped errors are reported
// as a generic server error so internals do not leak.
func SendError(c echo.Context, err error) error {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return SendServerError(c, "internal error")
	}
	message := ae.Message
	if ae.Code == apperr.CodeDependency || ae.Code == apperr.CodeTimeout {
		message = "a dependency is unavailable, retry later"
	}
	return c.JSON(HTTPStatus(ae.Code), CreateErrorResponse(string(ae.Code), message, ae.Details))
}

// SendValidationError sends a validation error response
func SendValidationError(c echo.Context, field, message string) error {
	details := map[string]string{
		field: message,
	}
	return c.JSON(http.StatusBadRequest, CreateErrorResponse(string(apperr.CodeValidation), "Validation failed", details))
}

// SendServerError sends a server error response
func SendServerError(c echo.Context, message string) error {
	return c.JSON(http.StatusInternalServerError, CreateErrorResponse("SERVER_ERROR", message, nil))
}

// ValidateUUID validates UUID format
func ValidateUUID(idStr string, fieldName string) (uuid.UUID, error) {
	idStr = strings.TrimSpace(idStr)
	if idStr == "" {
		return uuid.Nil, apperr.Validation(fieldName, fmt.Sprintf("%s is required", fieldName))
	}
	if len(idStr) != 36 {
		return uuid.Nil, apperr.Validation(fieldName, fmt.Sprintf("%s must be exactly 36 characters (including hyphens)", fieldName))
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, apperr.Validation(fieldName, fmt.Sprintf("%s is not a valid UUID", fieldName))
	}
	return id, nil
}

// ValidatePaginationParams clamps limit and offset to sane bounds.
func ValidatePaginationParams(limit, offset int) (int, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	if offset > 1000000 {
		return 0, 0, apperr.Validation("offset", "offset cannot exceed 1,000,000")
	}
	return limit, offset, nil
}
