package store

import (
	"strings"
	"testing"

	"github.com/heimchen/bossboard/apperror"
	"github.com/heimchen/bossboard/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTemplate_DefaultClearsPrevious(t *testing.T) {
	s := newTestStore(t)
	first := &model.MessageTemplate{Name: "first", Content: "a", IsDefault: true}
	require.NoError(t, s.CreateTemplate(first))
	second := &model.MessageTemplate{Name: "second", Content: "b", IsDefault: true}
	require.NoError(t, s.CreateTemplate(second))

	def, err := s.DefaultTemplate()
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, second.ID, def.ID)

	got, err := s.Template(first.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDefault)
}

func TestCreateTemplate_Validation(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateTemplate(&model.MessageTemplate{Name: " ", Content: "x"})
	assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
	err = s.CreateTemplate(&model.MessageTemplate{Name: "x", Content: ""})
	assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
}

func TestDefaultTemplate_NoneIsNil(t *testing.T) {
	s := newTestStore(t)
	def, err := s.DefaultTemplate()
	require.NoError(t, err)
	assert.Nil(t, def)
}

func TestSetDefaultTemplate_Moves(t *testing.T) {
	s := newTestStore(t)
	a := &model.MessageTemplate{Name: "a", Content: "a", IsDefault: true}
	require.NoError(t, s.CreateTemplate(a))
	b := &model.MessageTemplate{Name: "b", Content: "b"}
	require.NoError(t, s.CreateTemplate(b))

	require.NoError(t, s.SetDefaultTemplate(b.ID))
	def, err := s.DefaultTemplate()
	require.NoError(t, err)
	assert.Equal(t, b.ID, def.ID)
}

func TestDeleteTemplate(t *testing.T) {
	s := newTestStore(t)
	a := &model.MessageTemplate{Name: "a", Content: "a"}
	require.NoError(t, s.CreateTemplate(a))
	require.NoError(t, s.DeleteTemplate(a.ID))
	err := s.DeleteTemplate(a.ID)
	assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))
}

func TestRenderTemplate_PerGuildExpansion(t *testing.T) {
	guilds := []model.Guild{
		{Name: "Alpha", RegistrationCode: "AAA111", MercenaryQuotas: 10},
		{Name: "Bravo", RegistrationCode: "BBB222", MercenaryQuotas: 5},
	}
	out := RenderTemplate("{guildName}: {registrationCode} ({mercenaryQuotas}) on {bossDate}", guilds, "2024-01-15")

	parts := strings.Split(out, "\n\n---\n\n")
	require.Len(t, parts, 2)
	assert.Equal(t, "Alpha: AAA111 (10) on 2024-01-15", parts[0])
	assert.Equal(t, "Bravo: BBB222 (5) on 2024-01-15", parts[1])
}

func TestRenderTemplate_NoGuilds(t *testing.T) {
	out := RenderTemplate("{guildName}/{registrationCode}/{mercenaryQuotas}", nil, "2024-01-15")
	assert.Equal(t, "No Guild/N/A/0", out)
}

func TestRenderTemplate_DateOnly(t *testing.T) {
	out := RenderTemplate("boss on {bossDate}", []model.Guild{{Name: "Alpha"}}, "2024-01-15")
	assert.Equal(t, "boss on 2024-01-15", out)
}
