package model

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Guild is an organizational unit with a fixed mercenary capacity and a
// registration code shared with its members.
type Guild struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	Name             string    `gorm:"uniqueIndex;size:255;not null" json:"name"`
	RegistrationCode string    `gorm:"size:100;not null" json:"registration_code"`
	MercenaryQuotas  int       `gorm:"not null;default:0" json:"mercenary_quotas"`
	ContactInfo      string    `gorm:"type:text" json:"contact_info"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (g *Guild) BeforeCreate(_ *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

const codeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewRegistrationCode returns a random 6-character alphanumeric code,
// matching the format guild members whisper in-game.
func NewRegistrationCode() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = codeChars[rand.Intn(len(codeChars))]
	}
	return string(b)
}
