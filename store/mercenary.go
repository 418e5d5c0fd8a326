package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/heimchen/bossboard/apperror"
	"github.com/heimchen/bossboard/model"
	"gorm.io/gorm"
)

// AddMercenary inserts a mercenary under the given registration and
// rewrites used_quotas with the recomputed live count in the same
// transaction. The recount replaces increment/decrement bookkeeping so
// the counter cannot drift from the roster.
func (s *Store) AddMercenary(registrationID, name string) (*model.Mercenary, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperror.Validation("mercenary name must not be empty")
	}

	merc := model.Mercenary{RegistrationID: registrationID, Name: name}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var reg model.Registration
		if err := tx.First(&reg, "id = ?", registrationID).Error; err != nil {
			return err
		}
		var guild model.Guild
		if err := tx.First(&guild, "id = ?", reg.GuildID).Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&model.Mercenary{}).
			Where("registration_id = ?", registrationID).
			Count(&count).Error; err != nil {
			return err
		}
		if int(count) >= guild.MercenaryQuotas {
			return apperror.Validation(fmt.Sprintf(
				"guild %s is at its quota capacity of %d", guild.Name, guild.MercenaryQuotas))
		}
		if err := tx.Create(&merc).Error; err != nil {
			return err
		}
		return s.recountQuota(tx, registrationID)
	})
	if err != nil {
		return nil, wrapStoreErr(err, "registration not found")
	}
	return &merc, nil
}

// RemoveMercenary deletes a mercenary and rewrites the owning
// registration's used_quotas with the recomputed live count.
func (s *Store) RemoveMercenary(id string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var merc model.Mercenary
		if err := tx.First(&merc, "id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&merc).Error; err != nil {
			return err
		}
		return s.recountQuota(tx, merc.RegistrationID)
	})
	return wrapStoreErr(err, "mercenary not found")
}

// recountQuota writes the authoritative mercenary count into
// used_quotas. Unconditional by design: the count was just derived from
// the rows inside this transaction, so last-writer-wins is correct even
// if it now exceeds a lowered guild capacity.
func (s *Store) recountQuota(tx *gorm.DB, registrationID string) error {
	var count int64
	if err := tx.Model(&model.Mercenary{}).
		Where("registration_id = ?", registrationID).
		Count(&count).Error; err != nil {
		return err
	}
	return tx.Model(&model.Registration{}).
		Where("id = ?", registrationID).
		Update("used_quotas", count).Error
}

// Mercenary returns one mercenary by id.
func (s *Store) Mercenary(id string) (*model.Mercenary, error) {
	var merc model.Mercenary
	if err := s.db.First(&merc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("mercenary not found")
		}
		return nil, apperror.StoreUnavailable(err)
	}
	return &merc, nil
}

// MercenariesByRegistration lists one registration's mercenaries in
// sign-up order.
func (s *Store) MercenariesByRegistration(registrationID string) ([]model.Mercenary, error) {
	if _, err := s.Registration(registrationID); err != nil {
		return nil, err
	}
	mercs := make([]model.Mercenary, 0)
	err := s.db.Where("registration_id = ?", registrationID).
		Order("registered_at ASC, id ASC").
		Find(&mercs).Error
	if err != nil {
		return nil, apperror.StoreUnavailable(err)
	}
	return mercs, nil
}

// MercenariesByDate lists every mercenary registered for one boss date,
// joined with guild name and registration code.
func (s *Store) MercenariesByDate(bossDate string) ([]model.MercenaryWithGuild, error) {
	if !model.ValidBossDate(bossDate) {
		return nil, apperror.Validation(fmt.Sprintf("invalid boss date %q, want YYYY-MM-DD", bossDate))
	}
	rows := make([]model.MercenaryWithGuild, 0)
	err := s.db.Table("mercenaries").
		Select("mercenaries.*, guilds.name AS guild_name, registrations.registration_code AS registration_code").
		Joins("JOIN registrations ON mercenaries.registration_id = registrations.id").
		Joins("JOIN guilds ON registrations.guild_id = guilds.id").
		Where("registrations.boss_date = ?", bossDate).
		Order("guilds.name ASC, mercenaries.registered_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, apperror.StoreUnavailable(err)
	}
	return rows, nil
}

// wrapStoreErr maps gorm not-found to the apperror taxonomy and passes
// apperror values through untouched.
func wrapStoreErr(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	var ae *apperror.AppError
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound(notFoundMsg)
	}
	return apperror.StoreUnavailable(err)
}
