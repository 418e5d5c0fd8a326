package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/heimchen/bossboard/model"
	"github.com/heimchen/bossboard/store"
)

// TemplateHandler handles announcement message templates.
type TemplateHandler struct {
	store *store.Store
}

// NewTemplateHandler creates a TemplateHandler.
func NewTemplateHandler(st *store.Store) *TemplateHandler {
	return &TemplateHandler{store: st}
}

// List handles GET /api/message-templates, with ?id= and ?default=true
// query forms.
func (h *TemplateHandler) List(c *gin.Context) {
	if id := c.Query("id"); id != "" {
		tpl, err := h.store.Template(id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, tpl)
		return
	}
	if c.Query("default") == "true" {
		tpl, err := h.store.DefaultTemplate()
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, tpl)
		return
	}
	tpls, err := h.store.Templates()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpls)
}

type createTemplateRequest struct {
	Name      string `json:"name" binding:"required,max=255"`
	Content   string `json:"content" binding:"required"`
	IsDefault bool   `json:"is_default"`
}

// Create handles POST /api/message-templates.
func (h *TemplateHandler) Create(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	tpl := model.MessageTemplate{Name: req.Name, Content: req.Content, IsDefault: req.IsDefault}
	if err := h.store.CreateTemplate(&tpl); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

type updateTemplateRequest struct {
	ID           string  `json:"id" binding:"required"`
	Name         *string `json:"name"`
	Content      *string `json:"content"`
	IsDefault    *bool   `json:"is_default"`
	SetAsDefault bool    `json:"set_as_default"`
}

// Update handles PUT /api/message-templates.
func (h *TemplateHandler) Update(c *gin.Context) {
	var req updateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if req.SetAsDefault {
		if err := h.store.SetDefaultTemplate(req.ID); err != nil {
			writeError(c, err)
			return
		}
		tpl, err := h.store.Template(req.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, tpl)
		return
	}
	tpl, err := h.store.UpdateTemplate(req.ID, store.TemplateUpdate{
		Name:      req.Name,
		Content:   req.Content,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// Delete handles DELETE /api/message-templates?id=.
func (h *TemplateHandler) Delete(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "template id is required"})
		return
	}
	if err := h.store.DeleteTemplate(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type renderRequest struct {
	TemplateID string   `json:"template_id"`
	BossDate   string   `json:"boss_date" binding:"required"`
	GuildIDs   []string `json:"guild_ids"`
}

// Render handles POST /api/message-templates/render: substitutes guild
// variables into the chosen (or default) template. Without any template
// it falls back to the built-in announcement format.
func (h *TemplateHandler) Render(c *gin.Context) {
	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if !model.ValidBossDate(req.BossDate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "boss_date must be YYYY-MM-DD"})
		return
	}

	guilds, err := h.selectGuilds(req.GuildIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	var content string
	switch {
	case req.TemplateID != "":
		tpl, err := h.store.Template(req.TemplateID)
		if err != nil {
			writeError(c, err)
			return
		}
		content = tpl.Content
	default:
		tpl, err := h.store.DefaultTemplate()
		if err != nil {
			writeError(c, err)
			return
		}
		if tpl != nil {
			content = tpl.Content
		} else {
			content = store.BuiltinAnnouncement
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message": store.RenderTemplate(content, guilds, req.BossDate),
	})
}

func (h *TemplateHandler) selectGuilds(ids []string) ([]model.Guild, error) {
	all, err := h.store.Guilds()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return all, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	selected := make([]model.Guild, 0, len(ids))
	for _, g := range all {
		if want[g.ID] {
			selected = append(selected, g)
		}
	}
	return selected, nil
}
