package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/heimchen/bossboard/store"
	"github.com/heimchen/bossboard/sync"
)

// RegistrationHandler handles registration REST endpoints. Every
// quota-affecting mutation notifies the hub after the store write, so
// connected dashboards refetch.
type RegistrationHandler struct {
	store *store.Store
	hub   *sync.Hub
}

// NewRegistrationHandler creates a RegistrationHandler.
func NewRegistrationHandler(st *store.Store, hub *sync.Hub) *RegistrationHandler {
	return &RegistrationHandler{store: st, hub: hub}
}

// List handles GET /api/registrations?bossDate=YYYY-MM-DD.
func (h *RegistrationHandler) List(c *gin.Context) {
	bossDate := c.Query("bossDate")
	if bossDate == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bossDate parameter is required"})
		return
	}
	regs, err := h.store.RegistrationsByDate(bossDate)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, regs)
}

type upsertRegistrationRequest struct {
	GuildID    string `json:"guild_id" binding:"required"`
	BossDate   string `json:"boss_date" binding:"required"`
	UsedQuotas int    `json:"used_quotas" binding:"gte=0"`
}

// Upsert handles POST /api/registrations. A second call for the same
// (guild, boss date) updates the existing row instead of duplicating it.
func (h *RegistrationHandler) Upsert(c *gin.Context) {
	var req upsertRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	reg, err := h.store.UpsertRegistration(req.GuildID, req.BossDate, req.UsedQuotas)
	if err != nil {
		writeError(c, err)
		return
	}
	h.hub.NotifyQuotaChange(c.Request.Context(), reg.BossDate)
	c.JSON(http.StatusCreated, reg)
}

type setQuotaRequest struct {
	UsedQuotas *int `json:"usedQuotas" binding:"required"`
}

// SetQuota handles PUT /api/registrations/:id — the unconditional
// overwrite path, used when the caller knows the correct value.
func (h *RegistrationHandler) SetQuota(c *gin.Context) {
	var req setQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	reg, err := h.store.SetUsedQuota(c.Param("id"), *req.UsedQuotas)
	if err != nil {
		writeError(c, err)
		return
	}
	h.hub.NotifyQuotaChange(c.Request.Context(), reg.BossDate)
	c.JSON(http.StatusOK, reg)
}

type casQuotaRequest struct {
	ExpectedCurrentQuota *int `json:"expectedCurrentQuota" binding:"required"`
	NewQuota             *int `json:"newQuota" binding:"required"`
}

// CASQuota handles PUT /api/registrations/:id/quota — the optimistic-
// locking path for manual +/- adjustments. A lost race returns HTTP 409
// with code CONCURRENT_MODIFICATION.
func (h *RegistrationHandler) CASQuota(c *gin.Context) {
	var req casQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	reg, err := h.store.CASUsedQuota(c.Param("id"), *req.ExpectedCurrentQuota, *req.NewQuota)
	if err != nil {
		writeError(c, err)
		return
	}
	h.hub.NotifyQuotaChange(c.Request.Context(), reg.BossDate)
	c.JSON(http.StatusOK, reg)
}

// Version handles GET /api/registrations/version?bossDate=YYYY-MM-DD.
// Polling clients compare successive values to skip redundant refetches.
func (h *RegistrationHandler) Version(c *gin.Context) {
	bossDate := c.Query("bossDate")
	if bossDate == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bossDate parameter is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bossDate": bossDate,
		"version":  h.hub.Version(c.Request.Context(), bossDate),
	})
}
