package handler

import (
	"log/slog"
	"net/http"

	"github.com/choraleia/chathub/pkg/models"
	"github.com/choraleia/chathub/pkg/service"
	"github.com/choraleia/chathub/pkg/utils"
	"github.com/gin-gonic/gin"
)

// CredentialHandler serves provider credentials. Secrets are write-only.
type CredentialHandler struct {
	credentials *service.CredentialsService
	logger      *slog.Logger
}

func NewCredentialHandler(credentials *service.CredentialsService) *CredentialHandler {
	return &CredentialHandler{credentials: credentials, logger: utils.GetLogger()}
}

// RegisterRoutes registers credential routes
func (h *CredentialHandler) RegisterRoutes(r *gin.RouterGroup) {
	credentials := r.Group("/credentials")
	{
		credentials.GET("", h.List)
		credentials.POST("", h.Create)
		credentials.DELETE("/:id", h.Delete)
		credentials.POST("/:id/share", h.Share)
	}
}

// GET /api/credentials
func (h *CredentialHandler) List(c *gin.Context) {
	creds, err := h.credentials.List(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	ok(c, "Retrieved successfully", creds)
}

// POST /api/credentials
func (h *CredentialHandler) Create(c *gin.Context) {
	var req models.CreateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cred, err := h.credentials.Create(c.Request.Context(), CurrentUserID(c), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, models.Response{Code: 200, Message: "Created successfully", Data: cred})
}

// DELETE /api/credentials/:id
func (h *CredentialHandler) Delete(c *gin.Context) {
	if err := h.credentials.Delete(c.Request.Context(), CurrentUserID(c), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	ok(c, "Deleted successfully", nil)
}

type shareCredentialRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// POST /api/credentials/:id/share
func (h *CredentialHandler) Share(c *gin.Context) {
	var req shareCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.credentials.Share(c.Request.Context(), CurrentUserID(c), c.Param("id"), req.UserID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	ok(c, "Shared successfully", nil)
}
