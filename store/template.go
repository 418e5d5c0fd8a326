package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/heimchen/bossboard/apperror"
	"github.com/heimchen/bossboard/model"
	"gorm.io/gorm"
)

// BuiltinAnnouncement is the fallback announcement format used when no
// template exists yet.
const BuiltinAnnouncement = "Guild: {guildName}\n" +
	"Registration code: {registrationCode}\n" +
	"Mercenary slots: {mercenaryQuotas}\n" +
	"Boss date: {bossDate}"

// Templates returns all message templates, default first then newest.
func (s *Store) Templates() ([]model.MessageTemplate, error) {
	tpls := make([]model.MessageTemplate, 0)
	err := s.db.Order("is_default DESC, created_at DESC").Find(&tpls).Error
	if err != nil {
		return nil, apperror.StoreUnavailable(err)
	}
	return tpls, nil
}

// Template returns one message template by id.
func (s *Store) Template(id string) (*model.MessageTemplate, error) {
	var tpl model.MessageTemplate
	if err := s.db.First(&tpl, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("template not found")
		}
		return nil, apperror.StoreUnavailable(err)
	}
	return &tpl, nil
}

// DefaultTemplate returns the default template, or nil when none is set.
func (s *Store) DefaultTemplate() (*model.MessageTemplate, error) {
	var tpl model.MessageTemplate
	err := s.db.First(&tpl, "is_default = ?", true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.StoreUnavailable(err)
	}
	return &tpl, nil
}

// CreateTemplate validates and inserts a template. Creating a new
// default clears the previous one.
func (s *Store) CreateTemplate(tpl *model.MessageTemplate) error {
	if strings.TrimSpace(tpl.Name) == "" || strings.TrimSpace(tpl.Content) == "" {
		return apperror.Validation("template name and content are required")
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if tpl.IsDefault {
			if err := tx.Model(&model.MessageTemplate{}).
				Where("is_default = ?", true).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(tpl).Error
	})
	if err != nil {
		return apperror.StoreUnavailable(err)
	}
	return nil
}

// TemplateUpdate carries the mutable template fields.
type TemplateUpdate struct {
	Name      *string `json:"name"`
	Content   *string `json:"content"`
	IsDefault *bool   `json:"is_default"`
}

// UpdateTemplate applies a partial update.
func (s *Store) UpdateTemplate(id string, upd TemplateUpdate) (*model.MessageTemplate, error) {
	tpl, err := s.Template(id)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{}
	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return nil, apperror.Validation("template name must not be empty")
		}
		fields["name"] = *upd.Name
	}
	if upd.Content != nil {
		if strings.TrimSpace(*upd.Content) == "" {
			return nil, apperror.Validation("template content must not be empty")
		}
		fields["content"] = *upd.Content
	}
	if upd.IsDefault != nil {
		fields["is_default"] = *upd.IsDefault
	}
	dbErr := s.db.Transaction(func(tx *gorm.DB) error {
		if upd.IsDefault != nil && *upd.IsDefault {
			if err := tx.Model(&model.MessageTemplate{}).
				Where("is_default = ? AND id <> ?", true, id).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Model(tpl).Updates(fields).Error
	})
	if dbErr != nil {
		return nil, apperror.StoreUnavailable(dbErr)
	}
	return s.Template(id)
}

// SetDefaultTemplate marks one template as the default and clears the
// previous default.
func (s *Store) SetDefaultTemplate(id string) error {
	if _, err := s.Template(id); err != nil {
		return err
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.MessageTemplate{}).
			Where("is_default = ?", true).
			Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&model.MessageTemplate{}).
			Where("id = ?", id).
			Update("is_default", true).Error
	})
	if err != nil {
		return apperror.StoreUnavailable(err)
	}
	return nil
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(id string) error {
	res := s.db.Delete(&model.MessageTemplate{}, "id = ?", id)
	if res.Error != nil {
		return apperror.StoreUnavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("template not found")
	}
	return nil
}

// RenderTemplate substitutes the announcement placeholders. A template
// that references per-guild variables is expanded once per guild, joined
// with a separator; otherwise only {bossDate} is replaced.
func RenderTemplate(content string, guilds []model.Guild, bossDate string) string {
	perGuild := strings.Contains(content, "{guildName}") ||
		strings.Contains(content, "{registrationCode}") ||
		strings.Contains(content, "{mercenaryQuotas}")
	if !perGuild {
		return strings.ReplaceAll(content, "{bossDate}", bossDate)
	}
	if len(guilds) == 0 {
		r := strings.NewReplacer(
			"{guildName}", "No Guild",
			"{registrationCode}", "N/A",
			"{mercenaryQuotas}", "0",
			"{bossDate}", bossDate,
		)
		return r.Replace(content)
	}
	parts := make([]string, 0, len(guilds))
	for _, g := range guilds {
		r := strings.NewReplacer(
			"{guildName}", g.Name,
			"{registrationCode}", g.RegistrationCode,
			"{mercenaryQuotas}", strconv.Itoa(g.MercenaryQuotas),
			"{bossDate}", bossDate,
		)
		parts = append(parts, r.Replace(content))
	}
	return strings.Join(parts, "\n\n---\n\n")
}
