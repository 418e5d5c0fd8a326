package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/heimchen/bossboard/api/rest"
	"github.com/heimchen/bossboard/api/sse"
	apows "github.com/heimchen/bossboard/api/ws"
	"github.com/heimchen/bossboard/cache"
	"github.com/heimchen/bossboard/config"
	mw "github.com/heimchen/bossboard/middleware"
	"github.com/heimchen/bossboard/scheduler"
	"github.com/heimchen/bossboard/store"
	"github.com/heimchen/bossboard/sync"
	"github.com/heimchen/bossboard/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TestServer wraps a real HTTP server with every dashboard subsystem
// wired together, mirroring the dependency wiring in main.go.
type TestServer struct {
	Store  *store.Store
	Cache  cache.Cache
	PubSub cache.PubSub
	Hub    *sync.Hub
	Server *httptest.Server
	URL    string
}

const adminKey = "integration-admin-key"

// NewTestServer creates a fully wired server for integration testing.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	st := store.New(db, logger)
	hub, err := sync.NewHub(pubsub, c, logger)
	require.NoError(t, err)
	t.Cleanup(hub.Close)

	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	sec := config.SecurityConfig{
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	guildH := apirest.NewGuildHandler(st)
	regH := apirest.NewRegistrationHandler(st, hub)
	mercH := apirest.NewMercenaryHandler(st, hub)
	tplH := apirest.NewTemplateHandler(st)
	eventH := apirest.NewEventHandler(hub)
	adminH := apirest.NewAdminHandler(st, hub, sched, logger)

	api := r.Group("/api")
	api.GET("/guilds", guildH.List)
	api.POST("/guilds", guildH.Create)
	api.GET("/guilds/:id", guildH.Detail)
	api.PUT("/guilds/:id", guildH.Update)
	api.DELETE("/guilds/:id", guildH.Delete)
	api.GET("/registrations", regH.List)
	api.POST("/registrations", regH.Upsert)
	api.GET("/registrations/version", regH.Version)
	api.PUT("/registrations/:id", regH.SetQuota)
	api.PUT("/registrations/:id/quota", regH.CASQuota)
	api.GET("/registrations/:id/mercenaries", mercH.ListByRegistration)
	api.POST("/registrations/:id/mercenaries", mercH.Add)
	api.GET("/mercenaries", mercH.ListByDate)
	api.DELETE("/mercenaries/:id", mercH.Remove)
	api.GET("/message-templates", tplH.List)
	api.POST("/message-templates", tplH.Create)
	api.PUT("/message-templates", tplH.Update)
	api.DELETE("/message-templates", tplH.Delete)
	api.POST("/message-templates/render", tplH.Render)
	api.POST("/events/broadcast", eventH.Broadcast)
	adminG := api.Group("/admin", mw.AdminAuth(adminKey))
	adminG.GET("/metrics", adminH.Metrics)
	adminG.GET("/scheduler", adminH.Scheduler)
	adminG.POST("/dedupe", adminH.Dedupe)

	sseH := sse.NewHandler(st, hub, 50*time.Millisecond, 16, logger)
	r.GET("/api/events", sseH.ServeSSE)
	wsH := apows.NewHandler(st, hub, sec, 50*time.Millisecond, 16, logger)
	r.GET("/api/ws", wsH.ServeWS)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &TestServer{
		Store:  st,
		Cache:  c,
		PubSub: pubsub,
		Hub:    hub,
		Server: srv,
		URL:    srv.URL,
	}
}

// PostJSON sends a JSON POST and returns status plus decoded body.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, out interface{}) int {
	t.Helper()
	return ts.requestJSON(t, http.MethodPost, path, body, out)
}

// PutJSON sends a JSON PUT and returns status plus decoded body.
func (ts *TestServer) PutJSON(t *testing.T, path string, body interface{}, out interface{}) int {
	t.Helper()
	return ts.requestJSON(t, http.MethodPut, path, body, out)
}

// GetJSON sends a GET and decodes the response body.
func (ts *TestServer) GetJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()
	return ts.requestJSON(t, http.MethodGet, path, nil, out)
}

// Delete sends a DELETE and returns the status code.
func (ts *TestServer) Delete(t *testing.T, path string) int {
	t.Helper()
	return ts.requestJSON(t, http.MethodDelete, path, nil, nil)
}

func (ts *TestServer) requestJSON(t *testing.T, method, path string, body, out interface{}) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, out), "body: %s", raw)
	}
	return resp.StatusCode
}
