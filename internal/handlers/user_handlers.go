package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"tenantcore/internal/common"
	"tenantcore/internal/models"
	"tenantcore/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// UserHandlers exposes the user directory. Gating happens in the directory
// against the session carried by the request.
type UserHandlers struct {
	users services.UserDirectory
}

func NewUserHandlers(users services.UserDirectory) *UserHandlers {
	return &UserHandlers{users: users}
}

type ListUsersResponse struct {
	Users  []*models.UserProfile `json:"users"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// ListUsers godoc
// @Summary List user profiles visible to the caller
// @Tags users
// @Security BearerAuth
// @Produce json
// @Param tenant_id query string false "tenant (platform admins only)"
// @Param role query string false "comma separated roles"
// @Param status query string false "comma separated statuses"
// @Param search query string false "name or email fragment"
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Success 200 {object} ListUsersResponse
// @Router /users [get]
func (h *UserHandlers) ListUsers(c echo.Context) error {
	filter, err := parseUserFilter(c)
	if err != nil {
		return common.SendError(c, err)
	}
	users, err := h.users.List(c.Request().Context(), filter)
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusOK, ListUsersResponse{Users: users, Limit: filter.Limit, Offset: filter.Offset})
}

func parseUserFilter(c echo.Context) (models.UserFilter, error) {
	var filter models.UserFilter
	limit, offset, err := parsePage(c)
	if err != nil {
		return filter, err
	}
	filter.Limit, filter.Offset = limit, offset

	if raw := c.QueryParam("tenant_id"); raw != "" {
		id, err := common.ValidateUUID(raw, "tenant_id")
		if err != nil {
			return filter, err
		}
		filter.TenantID = &id
	} else if id, ok := common.GetTenantIDFromContext(c.Request().Context()); ok {
		filter.TenantID = &id
	}
	for _, r := range splitList(c.QueryParam("role")) {
		role, ok := models.ParseRole(r)
		if !ok {
			return filter, common.InvalidValue("role", r)
		}
		filter.Roles = append(filter.Roles, role)
	}
	for _, s := range splitList(c.QueryParam("status")) {
		status := models.UserStatus(s)
		if !status.Valid() {
			return filter, common.InvalidValue("status", s)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	filter.Search = common.SanitizeSearchQuery(c.QueryParam("search"))
	return filter, nil
}

func parsePage(c echo.Context) (int, int, error) {
	var limit, offset int
	var err error
	if raw := c.QueryParam("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			return 0, 0, common.InvalidValue("limit", raw)
		}
	}
	if raw := c.QueryParam("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil {
			return 0, 0, common.InvalidValue("offset", raw)
		}
	}
	return common.ValidatePaginationParams(limit, offset)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func pathID(c echo.Context) (uuid.UUID, error) {
	return common.ValidateUUID(c.Param("id"), "id")
}

// GetUser godoc
// @Summary Fetch one user profile
// @Tags users
// @Security BearerAuth
// @Produce json
// @Param id path string true "user id"
// @Success 200 {object} models.UserProfile
// @Failure 404 {object} common.ErrorResponse
// @Router /users/{id} [get]
func (h *UserHandlers) GetUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return common.SendError(c, err)
	}
	user, err := h.users.GetByID(c.Request().Context(), id)
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// CreateUser godoc
// @Summary Create a user with a password
// @Tags users
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body services.CreateUserRequest true "user"
// @Success 201 {object} models.UserProfile
// @Failure 400 {object} common.ErrorResponse
// @Failure 403 {object} common.ErrorResponse
// @Failure 409 {object} common.ErrorResponse
// @Router /users [post]
func (h *UserHandlers) CreateUser(c echo.Context) error {
	var req services.CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}
	user, err := h.users.Create(c.Request().Context(), &req)
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusCreated, user)
}

// InviteUser creates a pending user and sends a setup link.
func (h *UserHandlers) InviteUser(c echo.Context) error {
	var req services.InviteUserRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}
	user, err := h.users.Invite(c.Request().Context(), &req)
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusCreated, user)
}

// UpdateUser godoc
// @Summary Change a user's profile, role, status or permissions
// @Tags users
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "user id"
// @Param body body services.UpdateUserRequest true "changes"
// @Success 200 {object} models.UserProfile
// @Router /users/{id} [patch]
func (h *UserHandlers) UpdateUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return common.SendError(c, err)
	}
	var req services.UpdateUserRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}
	user, err := h.users.Update(c.Request().Context(), id, &req)
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

func (h *UserHandlers) DeleteUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return common.SendError(c, err)
	}
	if err := h.users.Delete(c.Request().Context(), id); err != nil {
		return common.SendError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
