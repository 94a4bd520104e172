package routes

import (
	"time"

	"dpp/api/handler"
	"dpp/api/middleware"
	"dpp/internal/entity"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type Router struct {
	Echo           *echo.Echo
	Auth           *handler.AuthHandler
	Passports      *handler.PassportHandler
	Health         *handler.HealthHandler
	AuthMiddleware middleware.AuthMiddleware
	Cache          *middleware.ResponseCache
	AuthRate       *middleware.RateLimiter
	MagicLinkRate  *middleware.RateLimiter
	MailboxRate    *middleware.RateLimiter
}

func NewRouter(
	e *echo.Echo,
	authHandler *handler.AuthHandler,
	passportHandler *handler.PassportHandler,
	healthHandler *handler.HealthHandler,
	authMiddleware middleware.AuthMiddleware,
	cache *middleware.ResponseCache,
) *Router {
	return &Router{
		Echo:           e,
		Auth:           authHandler,
		Passports:      passportHandler,
		Health:         healthHandler,
		AuthMiddleware: authMiddleware,
		Cache:          cache,
		AuthRate:       middleware.NewRateLimiter(rate.Limit(5), 10, 5*time.Minute),
		MagicLinkRate:  middleware.NewRateLimiter(rate.Limit(1), 3, 10*time.Minute),
		MailboxRate:    middleware.NewEmailRateLimiter(rate.Every(time.Minute), 3, time.Hour),
	}
}

func (r *Router) RegisterRoutes() {
	e := r.Echo

	if r.Health != nil {
		e.GET("/healthz", r.Health.Health)
	}

	auth := e.Group("/api/auth")
	auth.POST("/register", r.Auth.Register, r.AuthRate.Middleware())
	auth.POST("/verify-email", r.Auth.VerifyEmail, r.AuthRate.Middleware())
	auth.POST("/token", r.Auth.Login, r.AuthRate.Middleware())
	auth.POST("/token/refresh", r.Auth.Refresh, r.AuthRate.Middleware())
	auth.POST("/logout", r.Auth.Logout, r.AuthMiddleware.RequireAuth)
	auth.POST("/magic-link/request", r.Auth.RequestMagicLink, r.MagicLinkRate.Middleware(), r.MailboxRate.Middleware())
	auth.POST("/magic-link/verify", r.Auth.VerifyMagicLink, r.AuthRate.Middleware())

	users := e.Group("/api/users", r.AuthMiddleware.RequireAuth)
	users.GET("/me", r.Auth.Me)
	users.POST("/change-password", r.Auth.ChangePassword)

	cached := r.Cache.Cache()
	invalidate := r.Cache.Invalidate()

	// Public scan endpoint for printed QR codes.
	e.GET("/api/passports/qr/:code", r.Passports.LookupByQRCode, cached)

	passports := e.Group("/api/passports", r.AuthMiddleware.RequireAuth)
	passports.GET("", r.Passports.List, cached)
	passports.POST("", r.Passports.Create, invalidate)
	passports.GET("/:id", r.Passports.Retrieve, cached)
	passports.PUT("/:id", r.Passports.Replace, invalidate)
	passports.PATCH("/:id", r.Passports.Patch, invalidate)
	passports.DELETE("/:id", r.Passports.Delete, invalidate)
	passports.POST("/delete-all", r.Passports.DeleteAll, middleware.RequireRole(entity.UserRoleAdmin), invalidate)
}
