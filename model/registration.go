package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BossDateLayout is the wire and storage format for boss dates.
// Boss dates are calendar dates with no time component; storing them as
// ISO strings keeps date filtering a plain equality match on every
// supported database.
const BossDateLayout = "2006-01-02"

// ValidBossDate reports whether s is a well-formed YYYY-MM-DD date.
func ValidBossDate(s string) bool {
	_, err := time.Parse(BossDateLayout, s)
	return err == nil
}

// Registration is one guild's quota-tracking record for one boss date.
// The registration code is copied from the guild at creation time and
// rewritten whenever the guild's code changes; it is not a live link.
type Registration struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	GuildID          string    `gorm:"size:36;not null;uniqueIndex:idx_reg_guild_date" json:"guild_id"`
	RegistrationCode string    `gorm:"size:100;not null" json:"registration_code"`
	UsedQuotas       int       `gorm:"not null;default:0" json:"used_quotas"`
	BossDate         string    `gorm:"size:10;not null;uniqueIndex:idx_reg_guild_date;index" json:"boss_date"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (r *Registration) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// RegistrationWithGuild is the dashboard row: a registration joined with
// its guild's display name.
type RegistrationWithGuild struct {
	Registration
	GuildName string `json:"guild_name"`
}
