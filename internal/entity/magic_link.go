package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MagicLink is a single-use login or email verification token. Only the
// SHA-256 of the token is stored. A user has at most one row; issuing any
// new link overwrites the previous one in place, whatever its purpose.
type MagicLink struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_magic_links_user"`
	User   User      `gorm:"constraint:OnDelete:CASCADE"`

	TokenHash      string `gorm:"type:varchar(64);not null;uniqueIndex"`
	IsRegistration bool   `gorm:"not null;default:false"`
	IsUsed         bool   `gorm:"not null;default:false"`

	ExpiresAt time.Time `gorm:"not null;index"`
	UsedAt    *time.Time

	CreatedAt time.Time
}

func (m *MagicLink) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Active reports whether the link can still be exchanged at now.
func (m *MagicLink) Active(now time.Time) bool {
	return !m.IsUsed && m.ExpiresAt.After(now)
}
