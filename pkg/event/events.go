package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	MessageStatusChanged = "chat.messageStatusChanged"
	SessionTitleUpdated  = "chat.sessionTitleUpdated"
	SessionDeleted       = "chat.sessionDeleted"
)

// ============================================================================
// Chat Events
// ============================================================================

// MessageStatusChangedEvent is emitted when an AI message leaves running.
type MessageStatusChangedEvent struct {
	UserID    string `json:"-"`
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"` // "success", "error", "cancelled"
}

func (e MessageStatusChangedEvent) EventName() string { return MessageStatusChanged }
func (e MessageStatusChangedEvent) Recipient() string { return e.UserID }

// SessionTitleUpdatedEvent is emitted after title generation renamed a session.
type SessionTitleUpdatedEvent struct {
	UserID    string `json:"-"`
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
}

func (e SessionTitleUpdatedEvent) EventName() string { return SessionTitleUpdated }
func (e SessionTitleUpdatedEvent) Recipient() string { return e.UserID }

// SessionDeletedEvent is emitted when a session is removed. An empty
// SessionID means every session of the user was removed.
type SessionDeletedEvent struct {
	UserID    string `json:"-"`
	SessionID string `json:"sessionId,omitempty"`
}

func (e SessionDeletedEvent) EventName() string { return SessionDeleted }
func (e SessionDeletedEvent) Recipient() string { return e.UserID }
