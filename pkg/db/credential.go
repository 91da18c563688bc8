// Database models for provider credentials
package db

import "time"

// Credential holds an encrypted provider secret. Data is the sealed JSON
// payload produced by utils.Cipher.
type Credential struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Name      string    `json:"name" gorm:"size:128;not null"`
	Type      string    `json:"type" gorm:"size:32;not null"` // openAiApi, anthropicApi, googlePalmApi
	OwnerID   string    `json:"ownerId" gorm:"index;size:36;not null"`
	Data      string    `json:"-" gorm:"type:text"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Credential) TableName() string {
	return "credentials"
}

// CredentialLink grants a project (a user's personal project, or a shared
// one) use of a credential.
type CredentialLink struct {
	CredentialID string    `json:"credentialId" gorm:"primaryKey;size:36"`
	ProjectID    string    `json:"projectId" gorm:"primaryKey;size:64"`
	Role         string    `json:"role" gorm:"size:32"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (CredentialLink) TableName() string {
	return "credential_links"
}

// Credential link roles
const (
	CredentialRoleOwner = "credential:owner"
	CredentialRoleUser  = "credential:user"
)

// Credential types per provider
const (
	CredentialTypeOpenAI    = "openAiApi"
	CredentialTypeAnthropic = "anthropicApi"
	CredentialTypeGoogle    = "googlePalmApi"
)

// PersonalProjectID is the project every user owns implicitly.
func PersonalProjectID(userID string) string {
	return "personal-" + userID
}
