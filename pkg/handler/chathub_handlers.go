package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/choraleia/chathub/pkg/models"
	"github.com/choraleia/chathub/pkg/service"
	"github.com/choraleia/chathub/pkg/utils"
	"github.com/gin-gonic/gin"
)

// ChatHubHandler serves the chat hub conversation API.
type ChatHubHandler struct {
	chat   *service.ChatHubService
	models *service.ModelService
	logger *slog.Logger
}

// NewChatHubHandler creates a chat hub handler.
func NewChatHubHandler(chat *service.ChatHubService, modelService *service.ModelService) *ChatHubHandler {
	return &ChatHubHandler{
		chat:   chat,
		models: modelService,
		logger: utils.GetLogger(),
	}
}

// RegisterRoutes registers chat hub routes
func (h *ChatHubHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/models", h.GetModels)

	conversations := r.Group("/conversations")
	{
		conversations.GET("", h.ListConversations)
		conversations.DELETE("", h.DeleteAllConversations)
		conversations.POST("/send", h.SendMessage)
		conversations.GET("/:id", h.GetConversation)
		conversations.GET("/:id/chain", h.GetActiveChain)
		conversations.PATCH("/:id", h.UpdateConversation)
		conversations.DELETE("/:id", h.DeleteConversation)

		conversations.POST("/:id/messages/:messageId/edit", h.EditMessage)
		conversations.POST("/:id/messages/:messageId/regenerate", h.RegenerateMessage)
		conversations.POST("/:id/messages/:messageId/stop", h.StopGeneration)
	}
}

// GetModels lists the selectable models per provider
// POST /api/chat/models
func (h *ChatHubHandler) GetModels(c *gin.Context) {
	var req models.ModelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := h.models.GetModels(c.Request.Context(), CurrentUserID(c), req.Credentials)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListConversations lists the user's sessions
// GET /api/chat/conversations?grouped=true
func (h *ChatHubHandler) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	if grouped, _ := strconv.ParseBool(c.Query("grouped")); grouped {
		groups, err := h.chat.GetGroupedConversations(ctx, CurrentUserID(c), time.Now())
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, groups)
		return
	}

	sessions, err := h.chat.GetConversations(ctx, CurrentUserID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// GetConversation returns a session and all its messages
// GET /api/chat/conversations/:id
func (h *ChatHubHandler) GetConversation(c *gin.Context) {
	conv, err := h.chat.GetConversation(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// GetActiveChain returns the displayed branch of a session
// GET /api/chat/conversations/:id/chain?pointer=
func (h *ChatHubHandler) GetActiveChain(c *gin.Context) {
	var pointer *string
	if p := c.Query("pointer"); p != "" {
		pointer = &p
	}
	chain, err := h.chat.GetActiveChain(c.Request.Context(), CurrentUserID(c), c.Param("id"), pointer)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, chain)
}

// SendMessage stores a human message and streams the reply as NDJSON
// POST /api/chat/conversations/send
func (h *ChatHubHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.chat.SendHumanMessage(c.Request.Context(), CurrentUser(c), &req, c.Writer); err != nil {
		writeError(c, h.logger, err)
	}
}

// EditMessage edits a message; human edits stream a new reply
// POST /api/chat/conversations/:id/messages/:messageId/edit
func (h *ChatHubHandler) EditMessage(c *gin.Context) {
	var req models.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.SessionID = c.Param("id")
	req.EditID = c.Param("messageId")

	if err := h.chat.EditMessage(c.Request.Context(), CurrentUser(c), &req, c.Writer); err != nil {
		writeError(c, h.logger, err)
		return
	}
	// AI messages are edited in place and nothing was streamed.
	if !c.Writer.Written() {
		ok(c, "Message updated", nil)
	}
}

// RegenerateMessage streams a new attempt at an AI message
// POST /api/chat/conversations/:id/messages/:messageId/regenerate
func (h *ChatHubHandler) RegenerateMessage(c *gin.Context) {
	var req models.RegenerateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.SessionID = c.Param("id")
	req.RetryID = c.Param("messageId")

	if err := h.chat.RegenerateAIMessage(c.Request.Context(), CurrentUser(c), &req, c.Writer); err != nil {
		writeError(c, h.logger, err)
	}
}

// StopGeneration cancels a running AI message
// POST /api/chat/conversations/:id/messages/:messageId/stop
func (h *ChatHubHandler) StopGeneration(c *gin.Context) {
	err := h.chat.StopGeneration(c.Request.Context(), CurrentUser(c), c.Param("id"), c.Param("messageId"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	ok(c, "Generation stopped", nil)
}

// UpdateConversation patches a session
// PATCH /api/chat/conversations/:id
func (h *ChatHubHandler) UpdateConversation(c *gin.Context) {
	var req models.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	session, err := h.chat.UpdateSession(c.Request.Context(), CurrentUser(c), c.Param("id"), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	ok(c, "Session updated", session)
}

// DeleteConversation removes a session
// DELETE /api/chat/conversations/:id
func (h *ChatHubHandler) DeleteConversation(c *gin.Context) {
	if err := h.chat.DeleteSession(c.Request.Context(), CurrentUserID(c), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	ok(c, "Session deleted", nil)
}

// DeleteAllConversations removes every session of the user
// DELETE /api/chat/conversations
func (h *ChatHubHandler) DeleteAllConversations(c *gin.Context) {
	if err := h.chat.DeleteAllSessions(c.Request.Context(), CurrentUserID(c)); err != nil {
		writeError(c, h.logger, err)
		return
	}
	ok(c, "Sessions deleted", nil)
}
