package middleware

import (
	"context"
	"net/http"
	"strings"

	"dpp/internal/entity"
	"dpp/internal/utils"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// SessionChecker reports whether the session an access token was minted for
// is still live. Logout revokes it before the token expires.
type SessionChecker interface {
	SessionActive(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

type AuthMiddleware struct {
	JWT      *utils.JWTManager
	Sessions SessionChecker
}

func (m AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if m.JWT == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		token := extractBearerToken(c.Request())
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		claims, err := m.JWT.ParseAccessToken(token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		sessionID, err := uuid.Parse(claims.SessionID)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		if m.Sessions != nil {
			active, err := m.Sessions.SessionActive(c.Request().Context(), sessionID)
			if err != nil {
				return err
			}
			if !active {
				return echo.NewHTTPError(http.StatusUnauthorized, "session revoked")
			}
		}
		SetPrincipal(c, Principal{UserID: userID, SessionID: sessionID, Role: entity.UserRole(claims.Role)})
		return next(c)
	}
}

func extractBearerToken(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		return ""
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
