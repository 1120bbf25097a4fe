package handlers

import (
	"context"
	"net/http"

	"tenantcore/internal/common"
	"tenantcore/internal/models"
	"tenantcore/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// TenantHandlers exposes the tenant registry. Route guards decide who may
// call each endpoint.
type TenantHandlers struct {
	tenants services.TenantRegistry
}

func NewTenantHandlers(tenants services.TenantRegistry) *TenantHandlers {
	return &TenantHandlers{tenants: tenants}
}

type ListTenantsResponse struct {
	Tenants []*models.Tenant `json:"tenants"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ListTenants godoc
// @Summary List tenants
// @Tags tenants
// @Security BearerAuth
// @Produce json
// @Param status query string false "comma separated statuses"
// @Param plan query string false "comma separated plans"
// @Param search query string false "name or slug fragment"
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Success 200 {object} ListTenantsResponse
// @Router /tenants [get]
func (h *TenantHandlers) ListTenants(c echo.Context) error {
	limit, offset, err := parsePage(c)
	if err != nil {
		return common.SendError(c, err)
	}
	filter := models.TenantFilter{
		Plans:  splitList(c.QueryParam("plan")),
		Search: common.SanitizeSearchQuery(c.QueryParam("search")),
		Limit:  limit,
		Offset: offset,
	}
	for _, s := range splitList(c.QueryParam("status")) {
		status := models.TenantStatus(s)
		if !status.Valid() {
			return common.SendError(c, common.InvalidValue("status", s))
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	tenants, err := h.tenants.List(c.Request().Context(), filter)
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusOK, ListTenantsResponse{Tenants: tenants, Limit: limit, Offset: offset})
}

// CreateTenant godoc
// @Summary Create a tenant
// @Tags tenants
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body services.CreateTenantRequest true "tenant"
// @Success 201 {object} models.Tenant
// @Failure 409 {object} common.ErrorResponse
// @Router /tenants [post]
func (h *TenantHandlers) CreateTenant(c echo.Context) error {
	var req services.CreateTenantRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}
	tenant, err := h.tenants.Create(c.Request().Context(), &req)
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusCreated, tenant)
}

// GetTenant godoc
// @Summary Fetch a tenant
// @Tags tenants
// @Security BearerAuth
// @Produce json
// @Param id path string true "tenant id"
// @Success 200 {object} models.Tenant
// @Failure 404 {object} common.ErrorResponse
// @Router /tenants/{id} [get]
func (h *TenantHandlers) GetTenant(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return common.SendError(c, err)
	}
	tenant, err := h.tenants.GetByID(c.Request().Context(), id)
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusOK, tenant)
}

func (h *TenantHandlers) GetTenantStats(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return common.SendError(c, err)
	}
	stats, err := h.tenants.GetStats(c.Request().Context(), id)
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// UpdateTenant godoc
// @Summary Change tenant fields; omitted fields are kept
// @Tags tenants
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "tenant id"
// @Param body body services.UpdateTenantRequest true "changes"
// @Success 200 {object} models.Tenant
// @Router /tenants/{id} [patch]
func (h *TenantHandlers) UpdateTenant(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return common.SendError(c, err)
	}
	var req services.UpdateTenantRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}
	tenant, err := h.tenants.Update(c.Request().Context(), id, &req)
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusOK, tenant)
}

// DeleteTenant removes the tenant with its users and events.
func (h *TenantHandlers) DeleteTenant(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return common.SendError(c, err)
	}
	if err := h.tenants.Delete(c.Request().Context(), id); err != nil {
		return common.SendError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *TenantHandlers) changeStatus(c echo.Context, apply func(context.Context, uuid.UUID) (*models.Tenant, error)) error {
	id, err := pathID(c)
	if err != nil {
		return common.SendError(c, err)
	}
	tenant, err := apply(c.Request().Context(), id)
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusOK, tenant)
}

func (h *TenantHandlers) SuspendTenant(c echo.Context) error {
	return h.changeStatus(c, h.tenants.Suspend)
}

func (h *TenantHandlers) ActivateTenant(c echo.Context) error {
	return h.changeStatus(c, h.tenants.Activate)
}

func (h *TenantHandlers) CancelTenant(c echo.Context) error {
	return h.changeStatus(c, h.tenants.Cancel)
}

// UploadLogo stores the multipart "logo" file as the tenant's branding logo.
func (h *TenantHandlers) UploadLogo(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return common.SendError(c, err)
	}
	file, err := c.FormFile("logo")
	if err != nil {
		return common.SendValidationError(c, "logo", "logo file is required")
	}
	src, err := file.Open()
	if err != nil {
		return common.SendValidationError(c, "logo", "logo file cannot be read")
	}
	defer src.Close()

	tenant, err := h.tenants.UploadLogo(c.Request().Context(), id, src, file.Size, file.Header.Get(echo.HeaderContentType))
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusOK, tenant)
}

// GetLogo answers with a short-lived download link for the tenant logo.
func (h *TenantHandlers) GetLogo(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return common.SendError(c, err)
	}
	url, err := h.tenants.LogoURL(c.Request().Context(), id)
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}
