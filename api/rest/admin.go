package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/heimchen/bossboard/scheduler"
	"github.com/heimchen/bossboard/store"
	"github.com/heimchen/bossboard/sync"
	"go.uber.org/zap"
)

// AdminHandler serves the operator endpoints behind the admin key.
type AdminHandler struct {
	store  *store.Store
	hub    *sync.Hub
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(st *store.Store, hub *sync.Hub, sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{store: st, hub: hub, sched: sched, logger: logger}
}

// Metrics handles GET /api/admin/metrics.
func (h *AdminHandler) Metrics(c *gin.Context) {
	guilds, err := h.store.Guilds()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"connected_sinks": h.hub.Count(),
		"guild_count":     len(guilds),
		"scheduled_tasks": h.sched.ListTasks(),
	})
}

// Scheduler handles GET /api/admin/scheduler.
func (h *AdminHandler) Scheduler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTasks()})
}

// Dedupe handles POST /api/admin/dedupe: collapses duplicate
// (guild, boss date) registrations on demand.
func (h *AdminHandler) Dedupe(c *gin.Context) {
	removed, err := h.store.DedupeRegistrations()
	if err != nil {
		writeError(c, err)
		return
	}
	if removed > 0 {
		h.logger.Info("manual dedupe removed duplicates", zap.Int("removed", removed))
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
