package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dpp/api/handler"
	"dpp/api/middleware"
	"dpp/api/routes"
	"dpp/internal/crypto"
	"dpp/internal/entity"
	"dpp/internal/repository"
	"dpp/internal/service"
	"dpp/internal/utils"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testPassword = "correct horse battery"

type captureSender struct {
	mu   sync.Mutex
	sent []service.EmailMessage
	err  error
}

func (s *captureSender) Send(_ context.Context, msg service.EmailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *captureSender) lastText(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("no email sent")
	}
	return s.sent[len(s.sent)-1].Text
}

func linkToken(t *testing.T, text, marker string) string {
	t.Helper()
	idx := strings.LastIndex(text, marker)
	if idx < 0 {
		t.Fatalf("no %s link in %q", marker, text)
	}
	token, _, _ := strings.Cut(text[idx+len(marker):], "\n")
	return token
}

type testApp struct {
	e    *echo.Echo
	db   *gorm.DB
	mail *captureSender
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(&entity.User{}, &entity.Session{}, &entity.MagicLink{}, &entity.Passport{}, &entity.SecurityLog{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	cipher, err := crypto.NewFieldCipher("handler-test-key")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	jwtManager := &utils.JWTManager{Secret: []byte("handler-test-secret"), Issuer: "dpp-test"}
	mail := &captureSender{}

	securityLogs := repository.NewSecurityLogRepository(db)
	authService := service.NewAuthService(
		repository.NewUserRepository(db),
		repository.NewSessionRepository(db),
		repository.NewMagicLinkRepository(db),
		securityLogs,
		mail,
		service.BcryptPasswordHasher{Cost: bcrypt.MinCost},
		service.JWTAccessIssuer{Manager: jwtManager},
		service.RealClock{},
		service.AuthConfig{FrontendURL: "https://dpp.test"},
		log,
	)
	passportService := service.NewPassportService(repository.NewPassportRepository(db), securityLogs, cipher, log)

	validate := handler.NewValidator()
	authHandler := handler.NewAuthHandler(authService, validate)
	authHandler.SecureCookies = false

	e := echo.New()
	router := routes.NewRouter(
		e,
		authHandler,
		handler.NewPassportHandler(passportService, validate),
		&handler.HealthHandler{},
		middleware.AuthMiddleware{JWT: jwtManager, Sessions: authService},
		nil,
	)
	router.RegisterRoutes()

	return &testApp{e: e, db: db, mail: mail}
}

func (a *testApp) createUser(t *testing.T, email string, role entity.UserRole) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	hashed := string(hash)
	verified := time.Now().UTC()
	user := &entity.User{
		Email:           email,
		Username:        strings.Split(email, "@")[0],
		PasswordHash:    &hashed,
		Role:            role,
		IsActive:        true,
		EmailVerifiedAt: &verified,
	}
	if err := a.db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func (a *testApp) login(t *testing.T, email string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/token", "", map[string]any{"email": email, "password": testPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, rec, &body)
	return body.AccessToken
}

func (a *testApp) do(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch p := payload.(type) {
	case nil:
	case string:
		reader = strings.NewReader(p)
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

type errorBody struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
}

type passportBody struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	QRCode             string         `json:"qr_code"`
	SustainabilityData map[string]any `json:"sustainability_data"`
}
