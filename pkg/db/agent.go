// Database models for saved chat agents
package db

import "time"

// ChatHubAgent is a reusable model + system prompt configuration owned by
// one user.
type ChatHubAgent struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	Name         string    `json:"name" gorm:"size:256;not null"`
	Description  *string   `json:"description" gorm:"size:512"`
	SystemPrompt string    `json:"systemPrompt" gorm:"type:text"`
	OwnerID      string    `json:"ownerId" gorm:"index;size:36;not null"`
	CredentialID *string   `json:"credentialId" gorm:"size:36"`
	Provider     string    `json:"provider" gorm:"size:16;not null"`
	Model        *string   `json:"model" gorm:"size:64"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (ChatHubAgent) TableName() string {
	return "chat_hub_agents"
}
