package middleware

import (
	"net/http"
	"sort"
	"strings"

	"tenantcore/internal/common"

	"github.com/labstack/echo/v4"
)

// APIVersion describes one published version of the HTTP API.
type APIVersion struct {
	Version string `json:"version"`
	Status  string `json:"status"` // "active" or "deprecated"
	Message string `json:"message,omitempty"`
}

type VersionMiddleware struct {
	supported map[string]APIVersion
}

func NewVersionMiddleware(versions ...APIVersion) *VersionMiddleware {
	vm := &VersionMiddleware{supported: make(map[string]APIVersion, len(versions))}
	for _, v := range versions {
		vm.supported[v.Version] = v
	}
	return vm
}

// VersionHeader stamps responses of a version group.
func (vm *VersionMiddleware) VersionHeader(version string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-API-Version", version)
			if v, ok := vm.supported[version]; ok && v.Status == "deprecated" {
				h.Set("X-API-Deprecated", "true")
				if v.Message != "" {
					h.Set("X-API-Deprecation-Message", v.Message)
				}
			}
			return next(c)
		}
	}
}

// RejectUnknownVersions answers 404 for /vN paths that are not published.
func (vm *VersionMiddleware) RejectUnknownVersions() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			version := versionFromPath(c.Request().URL.Path)
			if version == "" {
				return next(c)
			}
			if _, ok := vm.supported[version]; !ok {
				details := map[string]string{"supported_versions": strings.Join(vm.Versions(), ", ")}
				return c.JSON(http.StatusNotFound, common.CreateErrorResponse("NOT_FOUND", "unsupported API version", details))
			}
			return next(c)
		}
	}
}

func (vm *VersionMiddleware) Versions() []string {
	out := make([]string, 0, len(vm.supported))
	for v := range vm.supported {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func versionFromPath(path string) string {
	seg := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	if len(seg) < 2 || seg[0] != 'v' {
		return ""
	}
	for _, r := range seg[1:] {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return seg
}
