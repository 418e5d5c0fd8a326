package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/heimchen/bossboard/store"
	"github.com/heimchen/bossboard/sync"
)

// MercenaryHandler handles mercenary REST endpoints.
type MercenaryHandler struct {
	store *store.Store
	hub   *sync.Hub
}

// NewMercenaryHandler creates a MercenaryHandler.
func NewMercenaryHandler(st *store.Store, hub *sync.Hub) *MercenaryHandler {
	return &MercenaryHandler{store: st, hub: hub}
}

// ListByDate handles GET /api/mercenaries?bossDate=YYYY-MM-DD.
func (h *MercenaryHandler) ListByDate(c *gin.Context) {
	bossDate := c.Query("bossDate")
	if bossDate == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bossDate parameter is required"})
		return
	}
	mercs, err := h.store.MercenariesByDate(bossDate)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mercs)
}

type addMercenaryRequest struct {
	Name string `json:"name" binding:"required,max=255"`
}

// Add handles POST /api/registrations/:id/mercenaries. The store
// recomputes used_quotas from the live roster in the same transaction.
func (h *MercenaryHandler) Add(c *gin.Context) {
	var req addMercenaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	regID := c.Param("id")
	merc, err := h.store.AddMercenary(regID, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	h.notifyForRegistration(c, regID)
	c.JSON(http.StatusCreated, merc)
}

// ListByRegistration handles GET /api/registrations/:id/mercenaries.
func (h *MercenaryHandler) ListByRegistration(c *gin.Context) {
	mercs, err := h.store.MercenariesByRegistration(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mercs)
}

// Remove handles DELETE /api/mercenaries/:id.
func (h *MercenaryHandler) Remove(c *gin.Context) {
	merc, err := h.store.Mercenary(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.store.RemoveMercenary(merc.ID); err != nil {
		writeError(c, err)
		return
	}
	h.notifyForRegistration(c, merc.RegistrationID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *MercenaryHandler) notifyForRegistration(c *gin.Context, registrationID string) {
	reg, err := h.store.Registration(registrationID)
	if err != nil {
		return
	}
	h.hub.NotifyQuotaChange(c.Request.Context(), reg.BossDate)
}
