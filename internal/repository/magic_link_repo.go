package repository

import (
	"context"
	"errors"
	"time"

	"dpp/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MagicLinkRepository interface {
	Upsert(ctx context.Context, link *entity.MagicLink) error
	Consume(ctx context.Context, tokenHash string, registrationOnly bool, now time.Time) (*entity.MagicLink, error)
	FindByUser(ctx context.Context, userID uuid.UUID) (*entity.MagicLink, error)
}

type magicLinkRepository struct {
	db *gorm.DB
}

func NewMagicLinkRepository(db *gorm.DB) MagicLinkRepository {
	return &magicLinkRepository{db: db}
}

// Upsert writes link as the user's only row, replacing the token, purpose
// and used flag of any earlier link.
func (r *magicLinkRepository) Upsert(ctx context.Context, link *entity.MagicLink) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"token_hash", "is_registration", "is_used", "used_at", "expires_at", "created_at"}),
		}).
		Create(link).Error
}

// Consume flips is_used with a single conditional UPDATE and returns the
// consumed row. It returns nil when no unused, unexpired row matches, which
// is also what a concurrent loser observes.
func (r *magicLinkRepository) Consume(
	ctx context.Context,
	tokenHash string,
	registrationOnly bool,
	now time.Time,
) (*entity.MagicLink, error) {
	var consumed *entity.MagicLink
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&entity.MagicLink{}).
			Where("token_hash = ? AND is_used = ? AND expires_at > ?", tokenHash, false, now)
		if registrationOnly {
			query = query.Where("is_registration = ?", true)
		}
		result := query.Updates(map[string]any{"is_used": true, "used_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		var link entity.MagicLink
		if err := tx.Where("token_hash = ?", tokenHash).First(&link).Error; err != nil {
			return err
		}
		consumed = &link
		return nil
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

func (r *magicLinkRepository) FindByUser(ctx context.Context, userID uuid.UUID) (*entity.MagicLink, error) {
	var link entity.MagicLink
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&link).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &link, err
}
