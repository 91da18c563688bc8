// Package conversation works on the flat message DAG of a chat session:
// linear history for a branch, the children index and the active chain.
package conversation

import "github.com/choraleia/chathub/pkg/models"

// ResolveHistory returns the branch ending at fromID, root first. It walks
// PreviousMessageID back-links until a root, an id missing from messages, or
// an id already visited.
func ResolveHistory(messages map[string]*models.ChatHubMessage, fromID *string) []*models.ChatHubMessage {
	if fromID == nil || *fromID == "" {
		return []*models.ChatHubMessage{}
	}

	var reversed []*models.ChatHubMessage
	visited := make(map[string]bool)

	current := *fromID
	for current != "" && !visited[current] {
		msg, ok := messages[current]
		if !ok {
			break
		}
		visited[current] = true
		reversed = append(reversed, msg)

		current = ""
		if msg.PreviousMessageID != nil {
			current = *msg.PreviousMessageID
		}
	}

	history := make([]*models.ChatHubMessage, len(reversed))
	for i, msg := range reversed {
		history[len(reversed)-1-i] = msg
	}
	return history
}

// ByID indexes a message slice by id.
func ByID(messages []models.ChatHubMessage) map[string]*models.ChatHubMessage {
	out := make(map[string]*models.ChatHubMessage, len(messages))
	for i := range messages {
		out[messages[i].ID] = &messages[i]
	}
	return out
}

// LastOfType returns the index of the last message of type t, or -1.
func LastOfType(history []*models.ChatHubMessage, t string) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Type == t {
			return i
		}
	}
	return -1
}
