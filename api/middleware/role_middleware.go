package middleware

import (
	"net/http"
	"slices"

	"dpp/internal/entity"

	"github.com/labstack/echo/v4"
)

// RequireRole lets the request through when the authenticated principal has
// one of roles. It must run after RequireAuth.
func RequireRole(roles ...entity.UserRole) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, ok := PrincipalFromContext(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"message": "authentication required"})
			}
			if !slices.Contains(roles, principal.Role) {
				return c.JSON(http.StatusForbidden, map[string]string{"message": "you do not have permission to perform this action"})
			}
			return next(c)
		}
	}
}
