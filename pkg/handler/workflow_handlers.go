package handler

import (
	"log/slog"
	"net/http"

	"github.com/choraleia/chathub/pkg/models"
	"github.com/choraleia/chathub/pkg/service"
	"github.com/choraleia/chathub/pkg/utils"
	"github.com/choraleia/chathub/pkg/workflow"
	"github.com/gin-gonic/gin"
)

// WorkflowHandler serves the user workflows that answer as the n8n provider.
type WorkflowHandler struct {
	workflows *service.WorkflowService
	logger    *slog.Logger
}

func NewWorkflowHandler(workflows *service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows, logger: utils.GetLogger()}
}

// RegisterRoutes registers workflow routes
func (h *WorkflowHandler) RegisterRoutes(r *gin.RouterGroup) {
	workflows := r.Group("/workflows")
	{
		workflows.GET("", h.List)
		workflows.POST("", h.Create)
		workflows.GET("/:id", h.Get)
		workflows.DELETE("/:id", h.Delete)
	}
}

type createWorkflowRequest struct {
	Name        string               `json:"name" binding:"required"`
	Active      bool                 `json:"active"`
	Nodes       []workflow.Node      `json:"nodes" binding:"required"`
	Connections workflow.Connections `json:"connections"`
}

// GET /api/workflows
func (h *WorkflowHandler) List(c *gin.Context) {
	rows, err := h.workflows.List(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	ok(c, "Retrieved successfully", rows)
}

// POST /api/workflows
func (h *WorkflowHandler) Create(c *gin.Context) {
	var req createWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Connections == nil {
		req.Connections = workflow.Connections{}
	}
	g := &workflow.Graph{Nodes: req.Nodes, Connections: req.Connections}
	wf, err := h.workflows.Create(c.Request.Context(), CurrentUserID(c), req.Name, req.Active, g)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, models.Response{Code: 200, Message: "Created successfully", Data: wf})
}

// GET /api/workflows/:id
func (h *WorkflowHandler) Get(c *gin.Context) {
	wf, err := h.workflows.Get(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	ok(c, "Retrieved successfully", wf)
}

// DELETE /api/workflows/:id
func (h *WorkflowHandler) Delete(c *gin.Context) {
	if err := h.workflows.DeleteOwned(c.Request.Context(), CurrentUserID(c), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	ok(c, "Deleted successfully", nil)
}
