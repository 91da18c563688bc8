// Database models for stored workflow graphs
package db

import (
	"time"

	"gorm.io/datatypes"
)

// Workflow is a persisted node graph. Chat turns save a transient copy for
// the duration of an execution; user workflows (the n8n provider) are
// permanent and read-only to the chat hub.
type Workflow struct {
	ID          string         `json:"id" gorm:"primaryKey;size:36"`
	Name        string         `json:"name" gorm:"size:256;not null"`
	Active      bool           `json:"active" gorm:"default:false"`
	Transient   bool           `json:"transient" gorm:"index;default:false"`
	OwnerID     string         `json:"ownerId" gorm:"index;size:36;not null"`
	ProjectID   string         `json:"projectId" gorm:"index;size:64"`
	VersionID   string         `json:"versionId" gorm:"size:36"`
	Nodes       datatypes.JSON `json:"nodes"`
	Connections datatypes.JSON `json:"connections"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func (Workflow) TableName() string {
	return "workflows"
}
