package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Mercenary is a named registrant consuming one quota unit under a
// registration. The owning registration's used_quotas is recomputed from
// live mercenary rows after every add or remove, never incremented.
type Mercenary struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	RegistrationID string    `gorm:"size:36;not null;index" json:"registration_id"`
	Name           string    `gorm:"size:255;not null" json:"name"`
	RegisteredAt   time.Time `gorm:"autoCreateTime" json:"registered_at"`
}

func (m *Mercenary) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// MercenaryWithGuild is the roster row: a mercenary joined with its
// guild name and the registration code it signed up under.
type MercenaryWithGuild struct {
	Mercenary
	GuildName        string `json:"guild_name"`
	RegistrationCode string `json:"registration_code"`
}
