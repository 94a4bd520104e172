package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dpp/api/handler"
	apiMiddleware "dpp/api/middleware"
	"dpp/api/routes"
	"dpp/config"
	"dpp/internal/crypto"
	"dpp/internal/metrics"
	"dpp/internal/repository"
	"dpp/internal/service"
	"dpp/internal/utils"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("load config")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
		logrus.SetLevel(level)
	}

	db, err := config.ConnectionDb(cfg)
	if err != nil {
		logger.WithError(err).Fatal("database")
	}
	if cfg.RunMigrations {
		if err := config.RunMigrations(db); err != nil {
			logger.WithError(err).Fatal("migrations")
		}
	}

	cipher, err := crypto.NewFieldCipher(cfg.Encryption.FieldKey)
	if err != nil {
		logger.WithError(err).Fatal("field encryption")
	}

	emailSender, closeSender, err := newEmailSender(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("email sender")
	}
	defer closeSender()

	accessManager := utils.JWTManager{
		Secret:         []byte(cfg.JWT.Secret),
		Issuer:         cfg.JWT.Issuer,
		AccessTokenTTL: cfg.JWT.AccessTokenTTL,
	}

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	magicLinkRepo := repository.NewMagicLinkRepository(db)
	passportRepo := repository.NewPassportRepository(db)
	securityRepo := repository.NewSecurityLogRepository(db)

	authService := service.NewAuthService(
		userRepo,
		sessionRepo,
		magicLinkRepo,
		securityRepo,
		emailSender,
		service.BcryptPasswordHasher{},
		service.JWTAccessIssuer{Manager: &accessManager},
		service.RealClock{},
		service.AuthConfig{
			AccessTokenTTL:      cfg.JWT.AccessTokenTTL,
			RefreshTokenTTL:     cfg.JWT.RefreshTokenTTL,
			LoginLinkTTL:        15 * time.Minute,
			RegistrationLinkTTL: 24 * time.Hour,
			FrontendURL:         cfg.FrontendURL,
		},
		logger,
	)
	passportService := service.NewPassportService(passportRepo, securityRepo, cipher, logger)

	validate := handler.NewValidator()
	authHandler := handler.NewAuthHandler(authService, validate)
	authHandler.CookieDomain = cfg.Cookies.Domain
	authHandler.SecureCookies = cfg.Cookies.Secure
	passportHandler := handler.NewPassportHandler(passportService, validate)

	healthHandler := &handler.HealthHandler{Checks: map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}

	cache := &apiMiddleware.ResponseCache{TTL: cfg.Redis.CacheTTL, Logger: logger}
	if rdb := config.NewRedisClient(cfg); rdb != nil {
		defer rdb.Close()
		cache.Client = rdb
		healthHandler.Checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	} else if cfg.Redis.CacheEnabled {
		logger.WithField("addr", cfg.Redis.Addr).Warn("redis unreachable, response cache disabled")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	app := echo.New()
	app.HideBanner = true
	app.HidePort = true
	app.Use(echoMiddleware.Recover())
	app.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURI:      true,
		LogRemoteIP: true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"status":     v.Status,
				"method":     v.Method,
				"uri":        v.URI,
				"ip":         v.RemoteIP,
				"latency_ms": v.Latency.Milliseconds(),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Error("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	}))
	app.Use(apiMiddleware.Metrics())
	app.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	authMiddleware := apiMiddleware.AuthMiddleware{JWT: &accessManager, Sessions: authService}
	router := routes.NewRouter(app, authHandler, passportHandler, healthHandler, authMiddleware, cache)
	router.RegisterRoutes()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("server started")
		if err := app.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
	logger.Info("server stopped")
}

func newEmailSender(cfg *config.Config, logger *logrus.Logger) (service.EmailSender, func(), error) {
	noop := func() {}
	switch cfg.Mail.Driver {
	case config.MailDriverResend:
		return service.NewResendEmailSender(cfg.Mail.ResendAPIKey, cfg.Mail.From), noop, nil
	case config.MailDriverSMTP:
		return &service.SMTPEmailSender{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.SMTPUsername,
			Password: cfg.Mail.SMTPPassword,
			From:     cfg.Mail.From,
		}, noop, nil
	case config.MailDriverQueue:
		sender, err := service.NewQueueEmailSender(cfg.RabbitMQ.URL, cfg.RabbitMQ.MailQueue)
		if err != nil {
			return nil, noop, err
		}
		return sender, sender.Close, nil
	default:
		return service.LogEmailSender{Logger: logger}, noop, nil
	}
}
