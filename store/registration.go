package store

import (
	"errors"
	"fmt"

	"github.com/heimchen/bossboard/apperror"
	"github.com/heimchen/bossboard/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertRegistration inserts a registration for (guildID, bossDate) or,
// when one already exists, overwrites its registration code and used
// quota count. The insert-or-update is a single atomic statement, so two
// concurrent "initialize registration" calls cannot both insert.
func (s *Store) UpsertRegistration(guildID, bossDate string, usedQuotas int) (*model.Registration, error) {
	if !model.ValidBossDate(bossDate) {
		return nil, apperror.Validation(fmt.Sprintf("invalid boss date %q, want YYYY-MM-DD", bossDate))
	}
	if usedQuotas < 0 {
		return nil, apperror.Validation("used quotas must not be negative")
	}

	guild, err := s.Guild(guildID)
	if err != nil {
		return nil, err
	}

	reg := model.Registration{
		GuildID:          guildID,
		RegistrationCode: guild.RegistrationCode,
		UsedQuotas:       usedQuotas,
		BossDate:         bossDate,
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "boss_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"registration_code", "used_quotas"}),
	}).Create(&reg).Error
	if err != nil {
		return nil, apperror.StoreUnavailable(err)
	}

	// On conflict the generated ID above does not match the surviving
	// row; re-read by the natural key.
	var out model.Registration
	if err := s.db.First(&out, "guild_id = ? AND boss_date = ?", guildID, bossDate).Error; err != nil {
		return nil, apperror.StoreUnavailable(err)
	}
	return &out, nil
}

// RegistrationsByDate lists registrations for one boss date joined with
// the guild name, ordered by guild name.
func (s *Store) RegistrationsByDate(bossDate string) ([]model.RegistrationWithGuild, error) {
	if !model.ValidBossDate(bossDate) {
		return nil, apperror.Validation(fmt.Sprintf("invalid boss date %q, want YYYY-MM-DD", bossDate))
	}
	rows := make([]model.RegistrationWithGuild, 0)
	err := s.db.Table("registrations").
		Select("registrations.*, guilds.name AS guild_name").
		Joins("JOIN guilds ON registrations.guild_id = guilds.id").
		Where("registrations.boss_date = ?", bossDate).
		Order("guilds.name ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, apperror.StoreUnavailable(err)
	}
	return rows, nil
}

// Registration returns one registration by id.
func (s *Store) Registration(id string) (*model.Registration, error) {
	var reg model.Registration
	if err := s.db.First(&reg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("registration not found")
		}
		return nil, apperror.StoreUnavailable(err)
	}
	return &reg, nil
}

// SetUsedQuota overwrites used_quotas unconditionally. Callers use this
// after recomputing the true count from live mercenary rows, where
// last-writer-wins is race-free by construction. Manual values above the
// guild capacity are rejected.
func (s *Store) SetUsedQuota(id string, value int) (*model.Registration, error) {
	if value < 0 {
		return nil, apperror.Validation("used quotas must not be negative")
	}
	reg, err := s.Registration(id)
	if err != nil {
		return nil, err
	}
	guild, err := s.Guild(reg.GuildID)
	if err != nil {
		return nil, err
	}
	if value > guild.MercenaryQuotas {
		return nil, apperror.Validation(fmt.Sprintf(
			"used quotas %d exceeds guild capacity %d", value, guild.MercenaryQuotas))
	}
	if err := s.db.Model(reg).Update("used_quotas", value).Error; err != nil {
		return nil, apperror.StoreUnavailable(err)
	}
	reg.UsedQuotas = value
	return reg, nil
}

// CASUsedQuota applies an optimistic-locking update: used_quotas is set
// to newValue only if it still equals expected at statement time. A lost
// race surfaces as a CONCURRENT_MODIFICATION error instead of a silent
// overwrite. This path serves manual +/- adjustments where no
// authoritative recount exists at call time.
func (s *Store) CASUsedQuota(id string, expected, newValue int) (*model.Registration, error) {
	if newValue < 0 {
		return nil, apperror.Validation("used quotas must not be negative")
	}
	res := s.db.Model(&model.Registration{}).
		Where("id = ? AND used_quotas = ?", id, expected).
		Update("used_quotas", newValue)
	if res.Error != nil {
		return nil, apperror.StoreUnavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		// Distinguish a lost race from a missing row.
		reg, err := s.Registration(id)
		if err != nil {
			return nil, err
		}
		s.logger.Info("quota CAS conflict",
			zap.String("registration_id", id),
			zap.Int("expected", expected),
			zap.Int("stored", reg.UsedQuotas))
		return nil, apperror.ConcurrentModification(fmt.Sprintf(
			"expected used quotas %d but found %d", expected, reg.UsedQuotas))
	}
	return s.Registration(id)
}

// DedupeRegistrations repairs legacy duplicate rows from before the
// unique index existed: for every (guild_id, boss_date) with more than
// one registration, the earliest-created row survives and the rest are
// deleted along with their mercenaries. Returns the number of
// registrations removed.
func (s *Store) DedupeRegistrations() (int, error) {
	removed := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		type pair struct {
			GuildID  string
			BossDate string
		}
		var pairs []pair
		if err := tx.Model(&model.Registration{}).
			Select("guild_id, boss_date").
			Group("guild_id, boss_date").
			Having("COUNT(*) > 1").
			Scan(&pairs).Error; err != nil {
			return err
		}
		for _, p := range pairs {
			var regs []model.Registration
			if err := tx.Where("guild_id = ? AND boss_date = ?", p.GuildID, p.BossDate).
				Order("created_at ASC, id ASC").
				Find(&regs).Error; err != nil {
				return err
			}
			for _, dup := range regs[1:] {
				if err := tx.Where("registration_id = ?", dup.ID).
					Delete(&model.Mercenary{}).Error; err != nil {
					return err
				}
				if err := tx.Delete(&model.Registration{}, "id = ?", dup.ID).Error; err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, apperror.StoreUnavailable(err)
	}
	if removed > 0 {
		s.logger.Warn("removed duplicate registrations", zap.Int("count", removed))
	}
	return removed, nil
}
