package service

import (
	"time"

	"dpp/internal/entity"
	"dpp/internal/utils"

	"github.com/google/uuid"
)

type JWTAccessIssuer struct {
	Manager *utils.JWTManager
}

func (j JWTAccessIssuer) IssueAccessToken(user entity.User, sessionID uuid.UUID) (string, time.Duration, error) {
	if j.Manager == nil {
		return "", 0, ErrInvalidToken
	}
	return j.Manager.IssueAccessToken(utils.AccessSubject{
		UserID:    user.ID.String(),
		Email:     user.Email,
		Role:      string(user.Role),
		SessionID: sessionID.String(),
	})
}
