package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heimchen/bossboard/model"
	"github.com/heimchen/bossboard/sync"
)

// EventHandler exposes the manual broadcast trigger. Operators use it
// to force every dashboard watching a boss date to refetch, e.g. after
// fixing data directly in the database.
type EventHandler struct {
	hub *sync.Hub
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(hub *sync.Hub) *EventHandler {
	return &EventHandler{hub: hub}
}

type broadcastRequest struct {
	Type     string      `json:"type"`
	BossDate string      `json:"bossDate" binding:"required"`
	Data     interface{} `json:"data"`
}

// Broadcast handles POST /api/events/broadcast. The default type is
// quota_update, which also bumps the date's change version for polling
// clients; any other type is passed through to attached sinks as-is.
func (h *EventHandler) Broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if !model.ValidBossDate(req.BossDate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bossDate must be YYYY-MM-DD"})
		return
	}
	if req.Type == "" || req.Type == sync.TypeQuotaUpdate {
		h.hub.NotifyQuotaChange(c.Request.Context(), req.BossDate)
	} else {
		frame := sync.Frame{
			Type:      req.Type,
			BossDate:  req.BossDate,
			Data:      req.Data,
			Timestamp: time.Now().UnixMilli(),
		}
		if err := h.hub.Publish(c.Request.Context(), frame); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "bossDate": req.BossDate})
}
