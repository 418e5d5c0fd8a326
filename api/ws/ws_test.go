package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/heimchen/bossboard/config"
	"github.com/heimchen/bossboard/model"
	"github.com/heimchen/bossboard/store"
	"github.com/heimchen/bossboard/sync"
	"github.com/heimchen/bossboard/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupServer(t *testing.T, sec config.SecurityConfig) (*httptest.Server, *store.Store, *sync.Hub) {
	t.Helper()
	st := store.New(testutil.SetupTestDB(t), zap.NewNop())
	c, ps := testutil.SetupTestCache(t)
	hub, err := sync.NewHub(ps, c, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(hub.Close)

	r := gin.New()
	h := NewHandler(st, hub, sec, time.Hour, 16, zap.NewNop())
	r.GET("/api/ws", h.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st, hub
}

func dial(t *testing.T, srv *httptest.Server, bossDate string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?bossDate=" + bossDate
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) sync.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame sync.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestServeWS_InitialDataThenUpdate(t *testing.T) {
	srv, st, hub := setupServer(t, config.SecurityConfig{})

	g := &model.Guild{Name: "Alpha", MercenaryQuotas: 10}
	require.NoError(t, st.CreateGuild(g))
	_, err := st.UpsertRegistration(g.ID, "2024-01-15", 2)
	require.NoError(t, err)

	conn := dial(t, srv, "2024-01-15")

	first := readFrame(t, conn)
	require.Equal(t, sync.TypeInitialData, first.Type)
	rows, ok := first.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, rows, 1)

	hub.NotifyQuotaChange(context.Background(), "2024-01-15")
	next := readFrame(t, conn)
	assert.Equal(t, sync.TypeQuotaUpdate, next.Type)
	assert.Equal(t, "2024-01-15", next.BossDate)
}

func TestServeWS_CloseDetaches(t *testing.T) {
	srv, _, hub := setupServer(t, config.SecurityConfig{})

	conn := dial(t, srv, "2024-01-15")
	readFrame(t, conn)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeWS_OriginRejected(t *testing.T) {
	srv, _, _ := setupServer(t, config.SecurityConfig{
		AllowedOrigins: []string{"https://dashboard.example.com"},
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?bossDate=2024-01-15"
	header := map[string][]string{"Origin": {"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	if resp != nil {
		resp.Body.Close()
	}
}

func TestServeWS_BadDate(t *testing.T) {
	srv, _, _ := setupServer(t, config.SecurityConfig{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?bossDate=nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		resp.Body.Close()
	}
}
