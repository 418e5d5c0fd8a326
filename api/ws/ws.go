// Package ws serves the WebSocket variant of the live channel. It
// delivers exactly the same JSON frames as the SSE endpoint, for clients
// behind proxies that buffer event streams.
package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/heimchen/bossboard/config"
	"github.com/heimchen/bossboard/model"
	"github.com/heimchen/bossboard/store"
	"github.com/heimchen/bossboard/sync"
	"go.uber.org/zap"
)

// Handler is the Gin handler for GET /api/ws.
type Handler struct {
	store        *store.Store
	hub          *sync.Hub
	pingInterval time.Duration
	sinkBuffer   int
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

// NewHandler creates a WebSocket Handler.
// sec.AllowedOrigins controls which origins are accepted; an empty slice
// permits all origins (development only).
func NewHandler(st *store.Store, hub *sync.Hub, sec config.SecurityConfig, pingInterval time.Duration, sinkBuffer int, logger *zap.Logger) *Handler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	h := &Handler{
		store:        st,
		hub:          hub,
		pingInterval: pingInterval,
		sinkBuffer:   sinkBuffer,
		logger:       logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /api/ws?bossDate=YYYY-MM-DD.
func (h *Handler) ServeWS(c *gin.Context) {
	bossDate := c.Query("bossDate")
	if bossDate == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bossDate parameter is required"})
		return
	}
	if !model.ValidBossDate(bossDate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bossDate must be YYYY-MM-DD"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sink := sync.NewBufferedSink(h.sinkBuffer)
	h.hub.Attach(bossDate, sink)
	defer func() {
		h.hub.Detach(sink)
		sink.Close()
	}()

	// Read pump: the client never sends application data; reading only
	// detects the close handshake and network failure.
	go func() {
		defer sink.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var first sync.Frame
	if regs, err := h.store.RegistrationsByDate(bossDate); err != nil {
		h.logger.Error("ws initial snapshot failed",
			zap.String("boss_date", bossDate), zap.Error(err))
		first = sync.ErrorFrame("failed to load initial data")
	} else {
		first = sync.InitialData(regs)
	}
	if conn.WriteJSON(first) != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	// Single writer loop: hub frames, pings, and shutdown all serialize
	// through here, so no write ever races another.
	for {
		select {
		case frame := <-sink.Frames():
			if conn.WriteJSON(frame) != nil {
				return
			}
		case <-ticker.C:
			if conn.WriteJSON(sync.Ping()) != nil {
				return
			}
		case <-sink.Done():
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
