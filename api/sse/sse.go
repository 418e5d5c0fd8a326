package sse

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heimchen/bossboard/model"
	"github.com/heimchen/bossboard/store"
	"github.com/heimchen/bossboard/sync"
	"go.uber.org/zap"
)

// Handler serves the SSE live channel.
type Handler struct {
	store        *store.Store
	hub          *sync.Hub
	pingInterval time.Duration
	sinkBuffer   int
	logger       *zap.Logger
}

// NewHandler creates an SSE Handler.
func NewHandler(st *store.Store, hub *sync.Hub, pingInterval time.Duration, sinkBuffer int, logger *zap.Logger) *Handler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Handler{
		store:        st,
		hub:          hub,
		pingInterval: pingInterval,
		sinkBuffer:   sinkBuffer,
		logger:       logger,
	}
}

// ServeSSE handles GET /api/events?bossDate=YYYY-MM-DD.
// It pushes an initial_data snapshot, then quota_update hints and
// keep-alive pings until the client disconnects.
func (h *Handler) ServeSSE(c *gin.Context) {
	bossDate := c.Query("bossDate")
	if bossDate == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bossDate parameter is required"})
		return
	}
	if !model.ValidBossDate(bossDate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bossDate must be YYYY-MM-DD"})
		return
	}

	// Set SSE headers.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sink := sync.NewBufferedSink(h.sinkBuffer)
	h.hub.Attach(bossDate, sink)
	defer func() {
		h.hub.Detach(sink)
		sink.Close()
	}()

	// Initial snapshot. A store failure degrades to an error frame so
	// the client can fall back to direct fetching.
	var first sync.Frame
	if regs, err := h.store.RegistrationsByDate(bossDate); err != nil {
		h.logger.Error("sse initial snapshot failed",
			zap.String("boss_date", bossDate), zap.Error(err))
		first = sync.ErrorFrame("failed to load initial data")
	} else {
		first = sync.InitialData(regs)
	}
	if !h.writeFrame(c, first) {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-sink.Frames():
			if !h.writeFrame(c, frame) {
				return
			}
		case <-ticker.C:
			if !h.writeFrame(c, sync.Ping()) {
				return
			}
		case <-sink.Done():
			// Removed by the hub after a fan-out failure.
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// writeFrame sends one SSE data event; false means the connection is gone.
func (h *Handler) writeFrame(c *gin.Context, frame sync.Frame) bool {
	payload, err := frame.Encode()
	if err != nil {
		h.logger.Error("sse frame encode failed", zap.Error(err))
		return true
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}
