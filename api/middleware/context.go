package middleware

import (
	"dpp/internal/entity"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const contextPrincipalKey = "dpp_principal"

// Principal is the caller resolved from a verified access token and a live
// session.
type Principal struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	Role      entity.UserRole
}

func (p Principal) IsAdmin() bool {
	return p.Role == entity.UserRoleAdmin
}

func SetPrincipal(c echo.Context, p Principal) {
	c.Set(contextPrincipalKey, p)
}

func PrincipalFromContext(c echo.Context) (Principal, bool) {
	p, ok := c.Get(contextPrincipalKey).(Principal)
	return p, ok
}

func UserIDFromContext(c echo.Context) (uuid.UUID, bool) {
	p, ok := PrincipalFromContext(c)
	return p.UserID, ok
}

func SessionIDFromContext(c echo.Context) (uuid.UUID, bool) {
	p, ok := PrincipalFromContext(c)
	return p.SessionID, ok
}
