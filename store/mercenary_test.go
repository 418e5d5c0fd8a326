package store

import (
	"testing"

	"github.com/heimchen/bossboard/apperror"
	"github.com/heimchen/bossboard/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMercenary_RecountsQuota(t *testing.T) {
	s := newTestStore(t)
	g := mustGuild(t, s, "Alpha", 10)
	reg, err := s.UpsertRegistration(g.ID, testDate, 0)
	require.NoError(t, err)

	_, err = s.AddMercenary(reg.ID, "Bob")
	require.NoError(t, err)
	_, err = s.AddMercenary(reg.ID, "Carl")
	require.NoError(t, err)

	got, err := s.Registration(reg.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsedQuotas)
}

func TestAddRemoveMercenary_Scenario(t *testing.T) {
	s := newTestStore(t)
	g := mustGuild(t, s, "Alpha", 10)
	reg, err := s.UpsertRegistration(g.ID, testDate, 0)
	require.NoError(t, err)

	bob, err := s.AddMercenary(reg.ID, "Bob")
	require.NoError(t, err)
	_, err = s.AddMercenary(reg.ID, "Carl")
	require.NoError(t, err)

	got, err := s.Registration(reg.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.UsedQuotas)

	require.NoError(t, s.RemoveMercenary(bob.ID))

	got, err = s.Registration(reg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedQuotas)

	mercs, err := s.MercenariesByRegistration(reg.ID)
	require.NoError(t, err)
	require.Len(t, mercs, 1)
	assert.Equal(t, "Carl", mercs[0].Name)
}

func TestAddMercenary_RecountCorrectsDrift(t *testing.T) {
	s := newTestStore(t)
	g := mustGuild(t, s, "Alpha", 10)
	reg, err := s.UpsertRegistration(g.ID, testDate, 0)
	require.NoError(t, err)

	// Simulate a drifted counter from a manual write.
	require.NoError(t, s.DB().Model(&model.Registration{}).
		Where("id = ?", reg.ID).Update("used_quotas", 9).Error)

	_, err = s.AddMercenary(reg.ID, "Bob")
	require.NoError(t, err)

	got, err := s.Registration(reg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedQuotas, "recount must replace the drifted value")
}

func TestAddMercenary_CapacityEnforced(t *testing.T) {
	s := newTestStore(t)
	g := mustGuild(t, s, "Tiny", 1)
	reg, err := s.UpsertRegistration(g.ID, testDate, 0)
	require.NoError(t, err)

	_, err = s.AddMercenary(reg.ID, "Bob")
	require.NoError(t, err)
	_, err = s.AddMercenary(reg.ID, "Carl")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))

	got, err := s.Registration(reg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedQuotas)
}

func TestAddMercenary_Validation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddMercenary("missing", "  ")
	assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))

	_, err = s.AddMercenary("missing", "Bob")
	assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))
}

func TestRemoveMercenary_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.RemoveMercenary("missing")
	assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))
}

func TestMercenariesByDate_JoinsGuildAndCode(t *testing.T) {
	s := newTestStore(t)
	a := mustGuild(t, s, "Alpha", 10)
	b := mustGuild(t, s, "Bravo", 10)
	regA, err := s.UpsertRegistration(a.ID, testDate, 0)
	require.NoError(t, err)
	regB, err := s.UpsertRegistration(b.ID, testDate, 0)
	require.NoError(t, err)

	_, err = s.AddMercenary(regB.ID, "Zed")
	require.NoError(t, err)
	_, err = s.AddMercenary(regA.ID, "Bob")
	require.NoError(t, err)

	rows, err := s.MercenariesByDate(testDate)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Bob", rows[0].Name)
	assert.Equal(t, "Alpha", rows[0].GuildName)
	assert.Equal(t, a.RegistrationCode, rows[0].RegistrationCode)
	assert.Equal(t, "Zed", rows[1].Name)
}

func TestMercenary_Getter(t *testing.T) {
	s := newTestStore(t)
	g := mustGuild(t, s, "Alpha", 10)
	reg, err := s.UpsertRegistration(g.ID, testDate, 0)
	require.NoError(t, err)
	merc, err := s.AddMercenary(reg.ID, "Bob")
	require.NoError(t, err)

	got, err := s.Mercenary(merc.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, got.RegistrationID)

	_, err = s.Mercenary("missing")
	assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))
}
