package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dpp/internal/entity"
	"dpp/internal/metrics"
	"dpp/internal/repository"
	"dpp/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const dummyPasswordHash = "$2a$10$CwTycUXWue0Thq9StjUM0uJ8yQbWc1x9uxw2sQ2sXUNx5x9xJ9F2S"

const (
	magicLoginPath  = "/magic-login"
	verifyEmailPath = "/verify-email"
)

type AuthService struct {
	users        repository.UserRepository
	sessions     repository.SessionRepository
	magicLinks   repository.MagicLinkRepository
	securityLogs repository.SecurityLogRepository

	emailSender  EmailSender
	passwordHash PasswordHasher
	accessTokens AccessTokenIssuer
	clock        Clock
	config       AuthConfig
	logger       logrus.FieldLogger
}

func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	magicLinks repository.MagicLinkRepository,
	securityLogs repository.SecurityLogRepository,
	emailSender EmailSender,
	passwordHash PasswordHasher,
	accessTokens AccessTokenIssuer,
	clock Clock,
	config AuthConfig,
	logger logrus.FieldLogger,
) *AuthService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuthService{
		users:        users,
		sessions:     sessions,
		magicLinks:   magicLinks,
		securityLogs: securityLogs,
		emailSender:  emailSender,
		passwordHash: passwordHash,
		accessTokens: accessTokens,
		clock:        clock,
		config:       config,
		logger:       logger,
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*entity.User, error) {
	if strings.TrimSpace(input.Email) == "" || strings.TrimSpace(input.Username) == "" || strings.TrimSpace(input.Password) == "" {
		return nil, ErrInvalidInput
	}

	email := utils.NormalizeEmail(input.Email)
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	username := strings.TrimSpace(input.Username)
	existing, err = s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := s.passwordHash.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	user := &entity.User{
		Email:        email,
		Username:     username,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Phone:        input.Phone,
		Position:     input.Position,
		PasswordHash: &hash,
		Role:         entity.UserRoleUser,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, err
	}

	// The account exists at this point; a missing link is recoverable
	// through the login link flow, which also verifies the email.
	if err := s.RequestRegistrationLink(ctx, user); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Error("registration link not issued")
	}
	return user, nil
}

// RequestRegistrationLink issues the 24h email verification link. Delivery
// failures are logged and swallowed so registration still succeeds.
func (s *AuthService) RequestRegistrationLink(ctx context.Context, user *entity.User) error {
	token, err := s.issueMagicLink(ctx, user.ID, true, s.registrationLinkTTL())
	if err != nil {
		metrics.MagicLinksIssuedTotal.WithLabelValues("registration", "error").Inc()
		return err
	}

	if s.emailSender == nil {
		metrics.MagicLinksIssuedTotal.WithLabelValues("registration", "issued").Inc()
		return nil
	}
	msg := verificationMessage(user.Email, buildLink(s.config.FrontendURL, verifyEmailPath, token))
	if err := s.emailSender.Send(ctx, msg); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("registration email not delivered")
		metrics.MagicLinksIssuedTotal.WithLabelValues("registration", "delivery_failed").Inc()
		return nil
	}
	metrics.MagicLinksIssuedTotal.WithLabelValues("registration", "sent").Inc()
	return nil
}

// RequestLoginLink emails a 15 minute login link. Unknown emails get the same
// nil result as known ones and no token is created.
func (s *AuthService) RequestLoginLink(ctx context.Context, email string, ipAddress *string) error {
	email = utils.NormalizeEmail(email)
	if email == "" {
		return ErrInvalidInput
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		metrics.MagicLinksIssuedTotal.WithLabelValues("login", "unknown_account").Inc()
		return nil
	}

	token, err := s.issueMagicLink(ctx, user.ID, false, s.loginLinkTTL())
	if err != nil {
		metrics.MagicLinksIssuedTotal.WithLabelValues("login", "error").Inc()
		return err
	}

	if s.emailSender == nil {
		metrics.MagicLinksIssuedTotal.WithLabelValues("login", "delivery_failed").Inc()
		return fmt.Errorf("%w: no email sender configured", ErrDeliveryFailed)
	}
	msg := magicLoginMessage(user.Email, buildLink(s.config.FrontendURL, magicLoginPath, token))
	if err := s.emailSender.Send(ctx, msg); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Error("magic link email not delivered")
		metrics.MagicLinksIssuedTotal.WithLabelValues("login", "delivery_failed").Inc()
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	metrics.MagicLinksIssuedTotal.WithLabelValues("login", "sent").Inc()
	_ = s.logSecurity(ctx, &user.ID, ipAddress, entity.MagicLinkRequested, nil)
	return nil
}

// VerifyMagicLink exchanges a login or registration token for a fresh
// session. Wrong, used and expired tokens all yield ErrInvalidToken.
func (s *AuthService) VerifyMagicLink(ctx context.Context, token string, ipAddress *string, userAgent *string) (*AuthResult, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidInput
	}

	now := s.now()
	link, err := s.magicLinks.Consume(ctx, utils.HashToken(token), false, now)
	if err != nil {
		return nil, err
	}
	if link == nil {
		metrics.MagicLinkVerificationsTotal.WithLabelValues("any", "rejected").Inc()
		return nil, ErrInvalidToken
	}

	user, err := s.users.FindByID(ctx, link.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		metrics.MagicLinkVerificationsTotal.WithLabelValues(linkPurpose(link), "rejected").Inc()
		return nil, ErrInvalidToken
	}

	// Holding the link proves control of the mailbox.
	if user.EmailVerifiedAt == nil {
		if err := s.users.MarkEmailVerified(ctx, user.ID, now); err != nil {
			return nil, err
		}
		user.EmailVerifiedAt = &now
	}

	result, err := s.createSessionAndTokens(ctx, user, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}

	metrics.MagicLinkVerificationsTotal.WithLabelValues(linkPurpose(link), "accepted").Inc()
	_ = s.logSecurity(ctx, &user.ID, ipAddress, entity.MagicLinkLogin, map[string]any{"registration": link.IsRegistration})
	return result, nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidInput
	}

	now := s.now()
	link, err := s.magicLinks.Consume(ctx, utils.HashToken(token), true, now)
	if err != nil {
		return err
	}
	if link == nil {
		metrics.MagicLinkVerificationsTotal.WithLabelValues("registration", "rejected").Inc()
		return ErrInvalidToken
	}

	if err := s.users.MarkEmailVerified(ctx, link.UserID, now); err != nil {
		return err
	}
	metrics.MagicLinkVerificationsTotal.WithLabelValues("registration", "accepted").Inc()
	_ = s.logSecurity(ctx, &link.UserID, nil, entity.EmailVerified, nil)
	return nil
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	if strings.TrimSpace(input.Email) == "" || strings.TrimSpace(input.Password) == "" {
		return nil, ErrInvalidInput
	}

	email := utils.NormalizeEmail(input.Email)
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.PasswordHash == nil {
		_ = s.passwordHash.Verify(dummyPasswordHash, input.Password)
		_ = s.logSecurity(ctx, nil, input.IPAddress, entity.LoginFailed, map[string]any{"email": email})
		return nil, ErrInvalidCredentials
	}

	if !s.passwordHash.Verify(*user.PasswordHash, input.Password) {
		_ = s.logSecurity(ctx, &user.ID, input.IPAddress, entity.LoginFailed, map[string]any{"email": email})
		return nil, ErrInvalidCredentials
	}

	if user.EmailVerifiedAt == nil {
		return nil, ErrEmailNotVerified
	}

	result, err := s.createSessionAndTokens(ctx, user, input.IPAddress, input.UserAgent)
	if err != nil {
		return nil, err
	}

	_ = s.logSecurity(ctx, &user.ID, input.IPAddress, entity.LoginSuccess, map[string]any{"method": "password"})
	return result, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, ErrInvalidInput
	}

	session, err := s.sessions.FindByTokenHash(ctx, utils.HashToken(refreshToken), s.now())
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrInvalidToken
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	newRefreshToken, newRefreshHash, newRefreshExpiry, err := s.buildRefreshToken()
	if err != nil {
		return nil, err
	}

	if err := s.sessions.RotateToken(ctx, session.ID, newRefreshHash, newRefreshExpiry); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	accessToken, expiresIn, err := s.accessTokens.IssueAccessToken(*user, session.ID)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		AccessToken:      accessToken,
		ExpiresIn:        int64(expiresIn.Seconds()),
		RefreshToken:     newRefreshToken,
		RefreshExpiresIn: int64(newRefreshExpiry.Sub(s.now()).Seconds()),
		User:             user,
	}, nil
}

func (s *AuthService) Logout(ctx context.Context, sessionID uuid.UUID, userID *uuid.UUID, ipAddress *string) error {
	if err := s.sessions.Revoke(ctx, sessionID, s.now()); err != nil {
		return err
	}
	_ = s.logSecurity(ctx, userID, ipAddress, entity.Logout, nil)
	return nil
}

func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword string, newPassword string) error {
	if strings.TrimSpace(oldPassword) == "" || strings.TrimSpace(newPassword) == "" {
		return ErrInvalidInput
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	if user.PasswordHash == nil || !s.passwordHash.Verify(*user.PasswordHash, oldPassword) {
		return fieldError("old_password", ErrWrongPassword)
	}

	hash, err := s.passwordHash.Hash(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = &hash
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	// Every refresh token issued under the old password stops working.
	if err := s.sessions.RevokeAllByUser(ctx, user.ID, s.now()); err != nil {
		return err
	}
	_ = s.logSecurity(ctx, &user.ID, nil, entity.PasswordChanged, nil)
	return nil
}

func (s *AuthService) GetCurrentUser(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	return s.users.FindByID(ctx, userID)
}

// SessionActive reports whether the session behind an access token is still live.
func (s *AuthService) SessionActive(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	session, err := s.sessions.FindActiveByID(ctx, sessionID, s.now())
	if err != nil {
		return false, err
	}
	return session != nil, nil
}

func (s *AuthService) createSessionAndTokens(
	ctx context.Context,
	user *entity.User,
	ipAddress *string,
	userAgent *string,
) (*AuthResult, error) {
	refreshToken, refreshHash, refreshExpiry, err := s.buildRefreshToken()
	if err != nil {
		return nil, err
	}

	session := &entity.Session{
		UserID:    user.ID,
		TokenHash: refreshHash,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		ExpiresAt: refreshExpiry,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	accessToken, expiresIn, err := s.accessTokens.IssueAccessToken(*user, session.ID)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		AccessToken:      accessToken,
		ExpiresIn:        int64(expiresIn.Seconds()),
		RefreshToken:     refreshToken,
		RefreshExpiresIn: int64(refreshExpiry.Sub(s.now()).Seconds()),
		User:             user,
	}, nil
}

func (s *AuthService) issueMagicLink(
	ctx context.Context,
	userID uuid.UUID,
	isRegistration bool,
	ttl time.Duration,
) (string, error) {
	token, err := utils.NewMagicLinkToken()
	if err != nil {
		return "", err
	}

	link := &entity.MagicLink{
		UserID:         userID,
		TokenHash:      token.Hash,
		IsRegistration: isRegistration,
		IsUsed:         false,
		ExpiresAt:      s.now().Add(ttl),
	}
	if err := s.magicLinks.Upsert(ctx, link); err != nil {
		return "", err
	}
	return token.Raw, nil
}

func (s *AuthService) buildRefreshToken() (string, string, time.Time, error) {
	token, err := utils.NewRefreshToken()
	if err != nil {
		return "", "", time.Time{}, err
	}
	expiresAt := s.now().Add(s.refreshTokenTTL())
	return token.Raw, token.Hash, expiresAt, nil
}

func (s *AuthService) logSecurity(
	ctx context.Context,
	userID *uuid.UUID,
	ipAddress *string,
	action entity.SecurityAction,
	metadata map[string]any,
) error {
	return writeSecurityLog(ctx, s.securityLogs, userID, ipAddress, action, metadata)
}

func writeSecurityLog(
	ctx context.Context,
	logs repository.SecurityLogRepository,
	userID *uuid.UUID,
	ipAddress *string,
	action entity.SecurityAction,
	metadata map[string]any,
) error {
	if logs == nil {
		return nil
	}
	var payload datatypes.JSON
	if metadata != nil {
		bytes, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		payload = datatypes.JSON(bytes)
	}

	log := &entity.SecurityLog{
		UserID:    userID,
		IPAddress: ipAddress,
		Action:    action,
		Metadata:  payload,
	}
	return logs.Log(ctx, log)
}

func linkPurpose(link *entity.MagicLink) string {
	if link.IsRegistration {
		return "registration"
	}
	return "login"
}

func (s *AuthService) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

func (s *AuthService) loginLinkTTL() time.Duration {
	if s.config.LoginLinkTTL > 0 {
		return s.config.LoginLinkTTL
	}
	return 15 * time.Minute
}

func (s *AuthService) registrationLinkTTL() time.Duration {
	if s.config.RegistrationLinkTTL > 0 {
		return s.config.RegistrationLinkTTL
	}
	return 24 * time.Hour
}

func (s *AuthService) refreshTokenTTL() time.Duration {
	if s.config.RefreshTokenTTL > 0 {
		return s.config.RefreshTokenTTL
	}
	return 30 * 24 * time.Hour
}
