package handlers

import (
	"context"
	"net/http"

	"tenantcore/internal/apperr"
	"tenantcore/internal/common"
	"tenantcore/internal/logger"
	"tenantcore/internal/middleware"
	"tenantcore/internal/models"
	"tenantcore/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// TokenIssuer mints access tokens for resolved sessions.
type TokenIssuer interface {
	IssueToken(ctx context.Context, id uuid.UUID, email string) (*models.TokenResponse, error)
}

// PasswordSetup completes invite and reset links.
type PasswordSetup interface {
	CompletePasswordSetup(ctx context.Context, token, password string) (uuid.UUID, error)
}

// AuthHandlers handles sign-up, sign-in and the caller's own session.
type AuthHandlers struct {
	newSession middleware.SessionFactory
	tokens     TokenIssuer
	passwords  PasswordSetup
	users      services.UserDirectory
	log        logger.Logger
}

func NewAuthHandlers(newSession middleware.SessionFactory, tokens TokenIssuer, passwords PasswordSetup, users services.UserDirectory, log logger.Logger) *AuthHandlers {
	return &AuthHandlers{
		newSession: newSession,
		tokens:     tokens,
		passwords:  passwords,
		users:      users,
		log:        log,
	}
}

// AuthResponse is returned by login and signup.
type AuthResponse struct {
	models.TokenResponse
	User   *models.UserProfile `json:"user"`
	Tenant *models.Tenant      `json:"tenant,omitempty"`
}

type SessionResponse struct {
	State      models.SessionState `json:"state"`
	User       *models.UserProfile `json:"user,omitempty"`
	Tenant     *models.Tenant      `json:"tenant,omitempty"`
	Generation uint64              `json:"generation"`
}

func sessionResponse(s models.Session) SessionResponse {
	return SessionResponse{State: s.State, User: s.User, Tenant: s.Tenant, Generation: s.Generation}
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type SignupRequest struct {
	Email      string      `json:"email" validate:"required,email"`
	Password   string      `json:"password" validate:"required"`
	FullName   string      `json:"full_name" validate:"required"`
	Phone      string      `json:"phone,omitempty"`
	Role       models.Role `json:"role,omitempty"`
	TenantID   *uuid.UUID  `json:"tenant_id,omitempty"`
	TenantName string      `json:"tenant_name,omitempty"`
}

type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type CompletePasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type SwitchTenantRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
}

type UpdateProfileRequest struct {
	FullName *string `json:"full_name,omitempty"`
	Phone    *string `json:"phone,omitempty"`
}

func (h *AuthHandlers) issue(c echo.Context, status int, res *services.SignInResult) error {
	token, err := h.tokens.IssueToken(c.Request().Context(), res.User.ID, res.User.Email)
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(status, AuthResponse{TokenResponse: *token, User: res.User, Tenant: res.Tenant})
}

// Login godoc
// @Summary Sign in with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param body body LoginRequest true "credentials"
// @Success 200 {object} AuthResponse
// @Failure 401 {object} common.ErrorResponse
// @Failure 403 {object} common.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandlers) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}

	mgr := h.newSession()
	defer mgr.Close()
	res, err := mgr.SignIn(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return common.SendError(c, err)
	}
	return h.issue(c, http.StatusOK, res)
}

// Signup godoc
// @Summary Create an account, and a trial tenant for new owners
// @Tags auth
// @Accept json
// @Produce json
// @Param body body SignupRequest true "account"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} common.ErrorResponse
// @Failure 409 {object} common.ErrorResponse
// @Router /auth/signup [post]
func (h *AuthHandlers) Signup(c echo.Context) error {
	var req SignupRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}

	mgr := h.newSession()
	defer mgr.Close()
	res, err := mgr.SignUp(c.Request().Context(), &services.SignUpRequest{
		Email:      req.Email,
		Password:   req.Password,
		FullName:   req.FullName,
		Phone:      req.Phone,
		Role:       req.Role,
		TenantID:   req.TenantID,
		TenantName: req.TenantName,
	})
	if err != nil {
		return common.SendError(c, err)
	}
	return h.issue(c, http.StatusCreated, res)
}

// RequestPasswordReset always answers 202 so account existence is not revealed.
func (h *AuthHandlers) RequestPasswordReset(c echo.Context) error {
	var req PasswordResetRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}
	if err := h.users.ResetPassword(c.Request().Context(), req.Email); err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"message": "if the account exists, a reset link has been sent"})
}

// CompletePassword sets a password from an invite or reset link.
func (h *AuthHandlers) CompletePassword(c echo.Context) error {
	var req CompletePasswordRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}
	if req.Token == "" {
		return common.SendValidationError(c, "token", "token is required")
	}
	if _, err := h.passwords.CompletePasswordSetup(c.Request().Context(), req.Token, req.Password); err != nil {
		return common.SendError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandlers) manager(c echo.Context) (*services.SessionManager, error) {
	mgr, ok := middleware.ManagerFromContext(c)
	if !ok {
		return nil, apperr.Authentication("no signed-in user")
	}
	return mgr, nil
}

// Logout godoc
// @Summary End the caller's session
// @Tags auth
// @Security BearerAuth
// @Success 204
// @Router /auth/logout [post]
func (h *AuthHandlers) Logout(c echo.Context) error {
	mgr, err := h.manager(c)
	if err != nil {
		return common.SendError(c, err)
	}
	if err := mgr.SignOut(c.Request().Context()); err != nil {
		return common.SendError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Session godoc
// @Summary The caller's resolved session
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} SessionResponse
// @Router /auth/session [get]
func (h *AuthHandlers) Session(c echo.Context) error {
	mgr, err := h.manager(c)
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusOK, sessionResponse(mgr.Session()))
}

// SwitchTenant godoc
// @Summary Resolve the session in another tenant
// @Tags auth
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body SwitchTenantRequest true "tenant"
// @Success 200 {object} SessionResponse
// @Failure 403 {object} common.ErrorResponse
// @Router /auth/switch-tenant [post]
func (h *AuthHandlers) SwitchTenant(c echo.Context) error {
	mgr, err := h.manager(c)
	if err != nil {
		return common.SendError(c, err)
	}
	var req SwitchTenantRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}
	tenantID, err := common.ValidateUUID(req.TenantID, "tenant_id")
	if err != nil {
		return common.SendError(c, err)
	}
	if _, err := mgr.SwitchTenant(c.Request().Context(), tenantID); err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusOK, sessionResponse(mgr.Session()))
}

// UpdateProfile changes the caller's own name or phone.
func (h *AuthHandlers) UpdateProfile(c echo.Context) error {
	mgr, err := h.manager(c)
	if err != nil {
		return common.SendError(c, err)
	}
	var req UpdateProfileRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}
	profile, err := mgr.UpdateProfile(c.Request().Context(), services.ProfileUpdate{FullName: req.FullName, Phone: req.Phone})
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}
