package integration

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/heimchen/bossboard/apperror"
	"github.com/heimchen/bossboard/client"
	"github.com/heimchen/bossboard/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bossDate = "2024-01-15"

func seedGuild(t *testing.T, ts *TestServer, name string, quotas int) model.Guild {
	t.Helper()
	var g model.Guild
	code := ts.PostJSON(t, "/api/guilds",
		map[string]interface{}{"name": name, "mercenary_quotas": quotas}, &g)
	require.Equal(t, http.StatusCreated, code)
	return g
}

func seedRegistration(t *testing.T, ts *TestServer, guildID string, used int) model.Registration {
	t.Helper()
	var reg model.Registration
	code := ts.PostJSON(t, "/api/registrations", map[string]interface{}{
		"guild_id": guildID, "boss_date": bossDate, "used_quotas": used,
	}, &reg)
	require.Equal(t, http.StatusCreated, code)
	return reg
}

// TestPushFlow walks the full loop: REST mutation, hub publish over the
// event bus, SSE delivery, client refetch.
func TestPushFlow(t *testing.T) {
	ts := NewTestServer(t)
	g := seedGuild(t, ts, "Alpha", 10)
	reg := seedRegistration(t, ts, g.ID, 0)

	c := client.New(ts.URL)
	w := client.NewWatcher(c, client.NewStreamUpdates(c), bossDate)
	defer w.Close()

	require.Eventually(t, func() bool {
		st := w.State()
		return st.Connected && !st.Loading && len(st.Registrations) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Alpha", w.State().Registrations[0].GuildName)

	// A mutation through REST must reach the watcher without any client
	// action.
	var merc model.Mercenary
	code := ts.PostJSON(t, "/api/registrations/"+reg.ID+"/mercenaries",
		map[string]interface{}{"name": "Bob"}, &merc)
	require.Equal(t, http.StatusCreated, code)

	require.Eventually(t, func() bool {
		st := w.State()
		return len(st.Registrations) == 1 && st.Registrations[0].UsedQuotas == 1
	}, 2*time.Second, 5*time.Millisecond)
}

// TestPollFlow exercises the fallback strategy against the same server.
func TestPollFlow(t *testing.T) {
	ts := NewTestServer(t)
	g := seedGuild(t, ts, "Alpha", 10)
	reg := seedRegistration(t, ts, g.ID, 0)

	c := client.New(ts.URL)
	w := client.NewWatcher(c, client.NewPollUpdates(c, 20*time.Millisecond), bossDate)
	defer w.Close()

	require.Eventually(t, func() bool {
		st := w.State()
		return st.Connected && len(st.Registrations) == 1
	}, 2*time.Second, 5*time.Millisecond)

	code := ts.PutJSON(t, "/api/registrations/"+reg.ID,
		map[string]interface{}{"usedQuotas": 6}, nil)
	require.Equal(t, http.StatusOK, code)

	require.Eventually(t, func() bool {
		st := w.State()
		return len(st.Registrations) == 1 && st.Registrations[0].UsedQuotas == 6
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDetect_PrefersPush(t *testing.T) {
	ts := NewTestServer(t)
	live := client.Detect(context.Background(), client.New(ts.URL), time.Second)
	assert.IsType(t, &client.StreamUpdates{}, live)
}

func TestCASThroughClient(t *testing.T) {
	ts := NewTestServer(t)
	g := seedGuild(t, ts, "Alpha", 10)
	reg := seedRegistration(t, ts, g.ID, 5)

	c := client.New(ts.URL)
	ctx := context.Background()

	got, err := c.CASUsedQuota(ctx, reg.ID, 5, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, got.UsedQuotas)

	_, err = c.CASUsedQuota(ctx, reg.ID, 5, 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ConcurrentModification("")))

	regs, err := c.Registrations(ctx, bossDate)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, 6, regs[0].UsedQuotas, "loser must not overwrite")
}

func TestManualBroadcastReachesWatchers(t *testing.T) {
	ts := NewTestServer(t)
	g := seedGuild(t, ts, "Alpha", 10)
	reg := seedRegistration(t, ts, g.ID, 0)

	c := client.New(ts.URL)
	w := client.NewWatcher(c, client.NewStreamUpdates(c), bossDate)
	defer w.Close()
	require.Eventually(t, func() bool { return !w.State().Loading }, 2*time.Second, 5*time.Millisecond)

	// Fix data out of band, then use the manual trigger.
	require.NoError(t, ts.Store.DB().Model(&model.Registration{}).
		Where("id = ?", reg.ID).Update("used_quotas", 4).Error)
	code := ts.PostJSON(t, "/api/events/broadcast",
		map[string]interface{}{"bossDate": bossDate}, nil)
	require.Equal(t, http.StatusOK, code)

	require.Eventually(t, func() bool {
		st := w.State()
		return len(st.Registrations) == 1 && st.Registrations[0].UsedQuotas == 4
	}, 2*time.Second, 5*time.Millisecond)
}

func TestVersionBumpsAcrossMutations(t *testing.T) {
	ts := NewTestServer(t)
	g := seedGuild(t, ts, "Alpha", 10)
	reg := seedRegistration(t, ts, g.ID, 0)

	c := client.New(ts.URL)
	ctx := context.Background()
	v1, err := c.Version(ctx, bossDate)
	require.NoError(t, err)
	require.NotEmpty(t, v1)

	time.Sleep(time.Millisecond)
	_, err = c.SetUsedQuota(ctx, reg.ID, 2)
	require.NoError(t, err)

	v2, err := c.Version(ctx, bossDate)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
}

func TestAdminDedupeEndToEnd(t *testing.T) {
	ts := NewTestServer(t)
	g := seedGuild(t, ts, "Alpha", 10)
	seedRegistration(t, ts, g.ID, 0)

	// Legacy duplicates predate the unique index; model that directly.
	require.NoError(t, ts.Store.DB().Exec("DROP INDEX idx_reg_guild_date").Error)
	require.NoError(t, ts.Store.DB().Exec(
		"INSERT INTO registrations (id, guild_id, registration_code, used_quotas, boss_date, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		"legacy-dup", g.ID, g.RegistrationCode, 3, bossDate, time.Now().Add(time.Hour),
	).Error)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/admin/dedupe", nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Key", adminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	regs, err := ts.Store.RegistrationsByDate(bossDate)
	require.NoError(t, err)
	assert.Len(t, regs, 1)
}
