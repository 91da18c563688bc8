// API types for the chat hub
package models

import (
	"time"

	"github.com/choraleia/chathub/pkg/db"
)

// ========== Type aliases for database types ==========
// These allow other packages to use models.ChatHubMessage instead of db.ChatHubMessage

type ChatHubSession = db.ChatHubSession
type ChatHubMessage = db.ChatHubMessage
type ChatHubAgent = db.ChatHubAgent

// ========== Constant aliases from db package ==========

const (
	MessageTypeHuman  = db.MessageTypeHuman
	MessageTypeAI     = db.MessageTypeAI
	MessageTypeSystem = db.MessageTypeSystem
)

const (
	MessageStatusRunning   = db.MessageStatusRunning
	MessageStatusSuccess   = db.MessageStatusSuccess
	MessageStatusError     = db.MessageStatusError
	MessageStatusCancelled = db.MessageStatusCancelled
)

// User is the acting user of a request.
type User struct {
	ID        string
	FirstName string
}

// DisplayName is used as the name of the user's messages.
func (u User) DisplayName() string {
	if u.FirstName == "" {
		return "User"
	}
	return u.FirstName
}

const (
	ProviderOpenAI      = db.ProviderOpenAI
	ProviderAnthropic   = db.ProviderAnthropic
	ProviderGoogle      = db.ProviderGoogle
	ProviderN8n         = db.ProviderN8n
	ProviderCustomAgent = db.ProviderCustomAgent
)

const DefaultSessionTitle = db.DefaultSessionTitle

// ========== Requests ==========

// SendMessageRequest starts a new turn. MessageID is allocated by the client
// for the human message.
type SendMessageRequest struct {
	MessageID         string               `json:"messageId" binding:"required"`
	SessionID         string               `json:"sessionId" binding:"required"`
	Message           string               `json:"message" binding:"required"`
	Model             ConversationModelDTO `json:"model"`
	PreviousMessageID *string              `json:"previousMessageId"`
	Credentials       Credentials          `json:"credentials"`
}

// EditMessageRequest replaces the content of EditID. For human messages a
// new revision with id MessageID is created and the turn re-runs.
type EditMessageRequest struct {
	SessionID   string               `json:"-"`
	EditID      string               `json:"-"`
	MessageID   string               `json:"messageId" binding:"required"`
	Message     string               `json:"message" binding:"required"`
	Model       ConversationModelDTO `json:"model"`
	Credentials Credentials          `json:"credentials"`
}

// RegenerateMessageRequest reruns the turn that produced RetryID.
type RegenerateMessageRequest struct {
	SessionID   string               `json:"-"`
	RetryID     string               `json:"-"`
	Model       ConversationModelDTO `json:"model"`
	Credentials Credentials          `json:"credentials"`
}

// UpdateSessionRequest patches a session. Switching Provider clears the
// fields that belong to the other providers.
type UpdateSessionRequest struct {
	Title        *string `json:"title"`
	Provider     *string `json:"provider"`
	Model        *string `json:"model"`
	CredentialID *string `json:"credentialId"`
	WorkflowID   *string `json:"workflowId"`
	AgentID      *string `json:"agentId"`
	AgentName    *string `json:"-"`
}

// ModelsRequest carries the credential selected per provider.
type ModelsRequest struct {
	Credentials map[string]*string `json:"credentials"`
}

// ========== Responses ==========

// ConversationResponse is a session with every message keyed by id.
type ConversationResponse struct {
	Session      *ChatHubSession `json:"session"`
	Conversation struct {
		Messages map[string]*ChatHubMessage `json:"messages"`
	} `json:"conversation"`
}

// GroupedConversations is one sidebar bucket (Today, Yesterday, ...).
type GroupedConversations struct {
	Group    string           `json:"group"`
	Sessions []ChatHubSession `json:"sessions"`
}

// ChatModel is one selectable entry in the model picker.
type ChatModel struct {
	Name        string               `json:"name"`
	Description *string              `json:"description"`
	Model       ConversationModelDTO `json:"model"`
	CreatedAt   *time.Time           `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time           `json:"updatedAt,omitempty"`
}

// ProviderModels is the model list of one provider.
type ProviderModels struct {
	Models []ChatModel `json:"models"`
	Error  string      `json:"error,omitempty"`
}

// ChatModelsResponse is keyed by provider.
type ChatModelsResponse map[string]ProviderModels

// Response is the envelope for non-streaming JSON endpoints.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
