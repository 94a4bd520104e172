package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"dpp/internal/crypto"
	"dpp/internal/entity"
	"dpp/internal/repository"
	"dpp/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

var testJWT = &utils.JWTManager{Secret: []byte("test-secret"), Issuer: "dpp-test"}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testNow}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubEmailSender struct {
	mu   sync.Mutex
	sent []EmailMessage
	err  error
}

func (s *stubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubEmailSender) last(t *testing.T) EmailMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("no email sent")
	}
	return s.sent[len(s.sent)-1]
}

func (s *stubEmailSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func tokenFromMessage(t *testing.T, msg EmailMessage, path string) string {
	t.Helper()
	_, rest, ok := strings.Cut(msg.Text, path+"/")
	if !ok {
		t.Fatalf("no %s link in %q", path, msg.Text)
	}
	token, _, _ := strings.Cut(rest, "\n")
	return token
}

func sessionIDFromToken(t *testing.T, token string) uuid.UUID {
	t.Helper()
	claims, err := testJWT.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	id, err := uuid.Parse(claims.SessionID)
	if err != nil {
		t.Fatalf("session id: %v", err)
	}
	return id
}

func newTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type authFixture struct {
	svc    *AuthService
	db     *gorm.DB
	clock  *fakeClock
	mail   *stubEmailSender
	users  repository.UserRepository
	hasher PasswordHasher
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	db := newTestDB(t)
	clock := newFakeClock()
	mail := &stubEmailSender{}
	hasher := BcryptPasswordHasher{Cost: bcrypt.MinCost}
	users := repository.NewUserRepository(db)

	svc := NewAuthService(
		users,
		repository.NewSessionRepository(db),
		repository.NewMagicLinkRepository(db),
		repository.NewSecurityLogRepository(db),
		mail,
		hasher,
		JWTAccessIssuer{Manager: testJWT},
		clock,
		AuthConfig{FrontendURL: "https://dpp.test"},
		quietLogger(),
	)
	return &authFixture{svc: svc, db: db, clock: clock, mail: mail, users: users, hasher: hasher}
}

// createUser inserts an active user directly, bypassing registration mail.
func (f *authFixture) createUser(t *testing.T, email string, verified bool) *entity.User {
	t.Helper()

	hash, err := f.hasher.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := &entity.User{
		Email:        email,
		Username:     strings.Split(email, "@")[0],
		PasswordHash: &hash,
		Role:         entity.UserRoleUser,
		IsActive:     true,
	}
	if verified {
		at := testNow.Add(-time.Hour)
		user.EmailVerifiedAt = &at
	}
	if err := f.users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func (f *authFixture) countMagicLinks(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&entity.MagicLink{}).Count(&n).Error; err != nil {
		t.Fatalf("count magic links: %v", err)
	}
	return n
}

func newPassportFixture(t *testing.T) (*PassportService, *gorm.DB) {
	t.Helper()

	db := newTestDB(t)
	cipher, err := crypto.NewFieldCipher("passport-test-key")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	svc := NewPassportService(
		repository.NewPassportRepository(db),
		repository.NewSecurityLogRepository(db),
		cipher,
		quietLogger(),
	)
	return svc, db
}
