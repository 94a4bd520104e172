package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Passport is a digital product passport. SustainabilityData holds the
// sealed JSON document; it is never stored in plaintext.
type Passport struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name               string    `gorm:"type:varchar(255);not null;index"`
	QRCode             string    `gorm:"column:qr_code;type:varchar(100);uniqueIndex;not null"`
	SustainabilityData *string   `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (p *Passport) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (p Passport) String() string {
	return fmt.Sprintf("%s (%s)", p.Name, p.QRCode)
}
