package handler

import (
	"log/slog"
	"net/http"

	"github.com/choraleia/chathub/pkg/models"
	"github.com/choraleia/chathub/pkg/service"
	"github.com/choraleia/chathub/pkg/utils"
	"github.com/gin-gonic/gin"
)

// AgentHandler serves saved chat agents.
type AgentHandler struct {
	agents *service.AgentService
	logger *slog.Logger
}

func NewAgentHandler(agents *service.AgentService) *AgentHandler {
	return &AgentHandler{agents: agents, logger: utils.GetLogger()}
}

// RegisterRoutes registers agent routes
func (h *AgentHandler) RegisterRoutes(r *gin.RouterGroup) {
	agents := r.Group("/agents")
	{
		agents.GET("", h.List)
		agents.POST("", h.Create)
		agents.GET("/:id", h.Get)
		agents.PATCH("/:id", h.Update)
		agents.DELETE("/:id", h.Delete)
	}
}

// GET /api/chat/agents
func (h *AgentHandler) List(c *gin.Context) {
	agents, err := h.agents.List(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	ok(c, "Retrieved successfully", agents)
}

// POST /api/chat/agents
func (h *AgentHandler) Create(c *gin.Context) {
	var req models.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	agent, err := h.agents.Create(c.Request.Context(), CurrentUserID(c), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, models.Response{Code: 200, Message: "Created successfully", Data: agent})
}

// GET /api/chat/agents/:id
func (h *AgentHandler) Get(c *gin.Context) {
	agent, err := h.agents.Get(c.Request.Context(), nil, CurrentUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	ok(c, "Retrieved successfully", agent)
}

// PATCH /api/chat/agents/:id
func (h *AgentHandler) Update(c *gin.Context) {
	var req models.UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	agent, err := h.agents.Update(c.Request.Context(), CurrentUserID(c), c.Param("id"), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	ok(c, "Updated successfully", agent)
}

// DELETE /api/chat/agents/:id
func (h *AgentHandler) Delete(c *gin.Context) {
	if err := h.agents.Delete(c.Request.Context(), CurrentUserID(c), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	ok(c, "Deleted successfully", nil)
}
