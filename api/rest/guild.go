package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/heimchen/bossboard/model"
	"github.com/heimchen/bossboard/store"
)

// GuildHandler handles guild REST endpoints.
type GuildHandler struct {
	store *store.Store
}

// NewGuildHandler creates a GuildHandler.
func NewGuildHandler(st *store.Store) *GuildHandler {
	return &GuildHandler{store: st}
}

// List handles GET /api/guilds.
func (h *GuildHandler) List(c *gin.Context) {
	guilds, err := h.store.Guilds()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, guilds)
}

type createGuildRequest struct {
	Name             string `json:"name" binding:"required,max=255"`
	RegistrationCode string `json:"registration_code" binding:"max=100"`
	MercenaryQuotas  int    `json:"mercenary_quotas" binding:"gte=0"`
	ContactInfo      string `json:"contact_info"`
}

// Create handles POST /api/guilds.
func (h *GuildHandler) Create(c *gin.Context) {
	var req createGuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	guild := model.Guild{
		Name:             req.Name,
		RegistrationCode: req.RegistrationCode,
		MercenaryQuotas:  req.MercenaryQuotas,
		ContactInfo:      req.ContactInfo,
	}
	if err := h.store.CreateGuild(&guild); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, guild)
}

// Detail handles GET /api/guilds/:id.
func (h *GuildHandler) Detail(c *gin.Context) {
	guild, err := h.store.Guild(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, guild)
}

// Update handles PUT /api/guilds/:id. Changing the registration code
// rewrites the code on every registration of the guild.
func (h *GuildHandler) Update(c *gin.Context) {
	var upd store.GuildUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		bindError(c, err)
		return
	}
	guild, err := h.store.UpdateGuild(c.Param("id"), upd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, guild)
}

// Delete handles DELETE /api/guilds/:id. Registrations and their
// mercenaries cascade.
func (h *GuildHandler) Delete(c *gin.Context) {
	if err := h.store.DeleteGuild(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
