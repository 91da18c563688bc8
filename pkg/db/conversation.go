// Database models for chat hub sessions
package db

import "time"

// ChatHubSession groups the messages of one conversation and remembers the
// last model selection so the next turn can be prefilled.
type ChatHubSession struct {
	ID      string `json:"id" gorm:"primaryKey;size:36"`
	OwnerID string `json:"ownerId" gorm:"index;size:36;not null"`
	Title   string `json:"title" gorm:"size:256;default:'New Chat'"`

	// Last selected model. Only the fields that belong to Provider are set.
	Provider     *string `json:"provider" gorm:"size:16"`
	Model        *string `json:"model" gorm:"size:64"`
	CredentialID *string `json:"credentialId" gorm:"size:36"`
	WorkflowID   *string `json:"workflowId" gorm:"size:36"`
	AgentID      *string `json:"agentId" gorm:"size:36"`
	AgentName    *string `json:"agentName" gorm:"size:128"`

	LastMessageAt *time.Time `json:"lastMessageAt" gorm:"index"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (ChatHubSession) TableName() string {
	return "chat_hub_sessions"
}

// DefaultSessionTitle is used until title generation succeeds.
const DefaultSessionTitle = "New Chat"

// Providers
const (
	ProviderOpenAI      = "openai"
	ProviderAnthropic   = "anthropic"
	ProviderGoogle      = "google"
	ProviderN8n         = "n8n"
	ProviderCustomAgent = "custom-agent"
)

// LLMProviders are the providers that are backed by a model node.
var LLMProviders = []string{ProviderOpenAI, ProviderAnthropic, ProviderGoogle}

// IsLLMProvider reports whether provider is backed by a model node.
func IsLLMProvider(provider string) bool {
	switch provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle:
		return true
	}
	return false
}
