// Package store is the durable quota store: guilds, per-date
// registrations and mercenary rows, with the one-registration-per-
// (guild, boss date) invariant enforced at the database level.
package store

import (
	"errors"
	"strings"

	"github.com/heimchen/bossboard/apperror"
	"github.com/heimchen/bossboard/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store wraps the database with the operations the dashboard core needs.
// All mutating operations apply atomically per row; the registration
// upsert is a single insert-or-update statement.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a Store.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}

// ---- Guilds ----

// GuildUpdate carries the mutable guild fields; nil means "leave as is".
type GuildUpdate struct {
	Name             *string `json:"name"`
	RegistrationCode *string `json:"registration_code"`
	MercenaryQuotas  *int    `json:"mercenary_quotas"`
	ContactInfo      *string `json:"contact_info"`
}

// Guilds returns all guilds ordered by name.
func (s *Store) Guilds() ([]model.Guild, error) {
	var guilds []model.Guild
	if err := s.db.Order("name ASC").Find(&guilds).Error; err != nil {
		return nil, apperror.StoreUnavailable(err)
	}
	return guilds, nil
}

// Guild returns one guild by id.
func (s *Store) Guild(id string) (*model.Guild, error) {
	var g model.Guild
	if err := s.db.First(&g, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("guild not found")
		}
		return nil, apperror.StoreUnavailable(err)
	}
	return &g, nil
}

// CreateGuild validates and inserts a guild. A blank registration code
// is replaced with a generated one.
func (s *Store) CreateGuild(g *model.Guild) error {
	if strings.TrimSpace(g.Name) == "" {
		return apperror.Validation("guild name must not be empty")
	}
	if g.MercenaryQuotas < 0 {
		return apperror.Validation("mercenary quotas must not be negative")
	}
	if len(g.RegistrationCode) > 100 {
		return apperror.Validation("registration code must be at most 100 characters")
	}
	if g.RegistrationCode == "" {
		g.RegistrationCode = model.NewRegistrationCode()
	}
	if err := s.db.Create(g).Error; err != nil {
		if isUniqueViolation(err) {
			return apperror.Validation("guild name already taken")
		}
		return apperror.StoreUnavailable(err)
	}
	return nil
}

// UpdateGuild applies a partial update. When the registration code
// changes, every registration of the guild is rewritten with the new
// code in the same transaction, so dashboards converge on the next
// refetch.
func (s *Store) UpdateGuild(id string, upd GuildUpdate) (*model.Guild, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, apperror.Validation("guild name must not be empty")
	}
	if upd.MercenaryQuotas != nil && *upd.MercenaryQuotas < 0 {
		return nil, apperror.Validation("mercenary quotas must not be negative")
	}
	if upd.RegistrationCode != nil && len(*upd.RegistrationCode) > 100 {
		return nil, apperror.Validation("registration code must be at most 100 characters")
	}

	var g model.Guild
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&g, "id = ?", id).Error; err != nil {
			return err
		}
		fields := map[string]interface{}{}
		if upd.Name != nil {
			fields["name"] = *upd.Name
		}
		if upd.MercenaryQuotas != nil {
			fields["mercenary_quotas"] = *upd.MercenaryQuotas
		}
		if upd.ContactInfo != nil {
			fields["contact_info"] = *upd.ContactInfo
		}
		codeChanged := upd.RegistrationCode != nil && *upd.RegistrationCode != g.RegistrationCode
		if codeChanged {
			fields["registration_code"] = *upd.RegistrationCode
		}
		if len(fields) > 0 {
			if err := tx.Model(&g).Updates(fields).Error; err != nil {
				return err
			}
		}
		if codeChanged {
			if err := tx.Model(&model.Registration{}).
				Where("guild_id = ?", id).
				Update("registration_code", *upd.RegistrationCode).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("guild not found")
		}
		if isUniqueViolation(err) {
			return nil, apperror.Validation("guild name already taken")
		}
		return nil, apperror.StoreUnavailable(err)
	}
	return &g, nil
}

// DeleteGuild removes a guild, its registrations, and their mercenaries
// in one transaction.
func (s *Store) DeleteGuild(id string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var g model.Guild
		if err := tx.First(&g, "id = ?", id).Error; err != nil {
			return err
		}
		var regIDs []string
		if err := tx.Model(&model.Registration{}).
			Where("guild_id = ?", id).
			Pluck("id", &regIDs).Error; err != nil {
			return err
		}
		if len(regIDs) > 0 {
			if err := tx.Where("registration_id IN ?", regIDs).
				Delete(&model.Mercenary{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", regIDs).
				Delete(&model.Registration{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&g).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound("guild not found")
		}
		return apperror.StoreUnavailable(err)
	}
	return nil
}
