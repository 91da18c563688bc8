// Database models for chat hub messages
package db

import "time"

// ChatHubMessage is a node in the per-session message DAG. Branches are
// formed by PreviousMessageID back-links; retries and edits point back to the
// message they replace.
type ChatHubMessage struct {
	ID        string `json:"id" gorm:"primaryKey;size:36"`
	SessionID string `json:"sessionId" gorm:"index;size:36;not null"`

	Type    string `json:"type" gorm:"size:16;not null"` // human, ai, system
	Name    string `json:"name" gorm:"size:128"`
	Content string `json:"content" gorm:"type:text"`
	Status  string `json:"status" gorm:"size:16;default:'success'"`

	// Branch support
	PreviousMessageID   *string `json:"previousMessageId" gorm:"index;size:36"`
	RetryOfMessageID    *string `json:"retryOfMessageId" gorm:"index;size:36"`
	RevisionOfMessageID *string `json:"revisionOfMessageId" gorm:"index;size:36"`

	// Which backend produced (or will produce) the message
	Provider     *string `json:"provider" gorm:"size:16"`
	Model        *string `json:"model" gorm:"size:64"`
	CredentialID *string `json:"credentialId,omitempty" gorm:"size:36"`
	WorkflowID   *string `json:"workflowId" gorm:"size:36"`
	AgentID      *string `json:"agentId" gorm:"size:36"`
	ExecutionID  *string `json:"executionId" gorm:"index;size:36"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (ChatHubMessage) TableName() string {
	return "chat_hub_messages"
}

// Message types
const (
	MessageTypeHuman  = "human"
	MessageTypeAI     = "ai"
	MessageTypeSystem = "system"
)

// Message status
const (
	MessageStatusRunning   = "running"
	MessageStatusSuccess   = "success"
	MessageStatusError     = "error"
	MessageStatusCancelled = "cancelled"
)
