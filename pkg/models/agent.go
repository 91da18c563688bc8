package models

import "time"

type CreateAgentRequest struct {
	Name         string  `json:"name" binding:"required"`
	Description  *string `json:"description"`
	SystemPrompt string  `json:"systemPrompt" binding:"required"`
	CredentialID string  `json:"credentialId" binding:"required"`
	Provider     string  `json:"provider" binding:"required"`
	Model        string  `json:"model" binding:"required"`
}

// UpdateAgentRequest leaves nil fields untouched.
type UpdateAgentRequest struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	SystemPrompt *string `json:"systemPrompt"`
	CredentialID *string `json:"credentialId"`
	Provider     *string `json:"provider"`
	Model        *string `json:"model"`
}

type CreateCredentialRequest struct {
	Name string `json:"name" binding:"required"`
	Type string `json:"type" binding:"required"`
	// Data holds apiKey and optionally url (base URL override).
	Data map[string]string `json:"data" binding:"required"`
}

// CredentialDTO never carries the secret itself.
type CredentialDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	OwnerID   string    `json:"ownerId"`
	APIKey    string    `json:"apiKey"` // masked
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CredentialData is the decrypted credential payload.
type CredentialData struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"url,omitempty"`
}
