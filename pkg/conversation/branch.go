package conversation

import (
	"sort"

	"github.com/choraleia/chathub/pkg/models"
)

// RootKey is the ChildrenIndex key for messages without a predecessor.
const RootKey = ""

// ChildrenIndex groups message ids by PreviousMessageID. Roots are listed
// under RootKey. Siblings are ordered by creation time, then id.
func ChildrenIndex(messages map[string]*models.ChatHubMessage) map[string][]string {
	index := make(map[string][]string)
	for id, msg := range messages {
		key := RootKey
		if msg.PreviousMessageID != nil {
			key = *msg.PreviousMessageID
		}
		index[key] = append(index[key], id)
	}

	for key, ids := range index {
		sort.Slice(ids, func(i, j int) bool {
			return olderThan(messages[ids[i]], messages[ids[j]])
		})
		index[key] = ids
	}
	return index
}

// olderThan orders by (CreatedAt, ID).
func olderThan(a, b *models.ChatHubMessage) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// ActiveChain resolves the branch the user is looking at, root first.
//
// The anchor is pointerID when it names a known message, otherwise the most
// recently created message. From the anchor the newest descendant is
// selected, then the newest child is followed until a leaf is reached, and
// the chain is read back to the root.
func ActiveChain(messages map[string]*models.ChatHubMessage, index map[string][]string, pointerID *string) []*models.ChatHubMessage {
	anchor := ""
	if pointerID != nil {
		if _, ok := messages[*pointerID]; ok {
			anchor = *pointerID
		}
	}
	if anchor == "" {
		anchor = newest(messages)
	}
	if anchor == "" {
		return []*models.ChatHubMessage{}
	}

	leaf := newestDescendant(messages, index, anchor)
	// Timestamps can be skewed; make sure the chain really ends at a leaf.
	seen := map[string]bool{leaf: true}
	for {
		children := index[leaf]
		if len(children) == 0 {
			break
		}
		next := children[len(children)-1]
		if seen[next] {
			break
		}
		seen[next] = true
		leaf = next
	}

	return ResolveHistory(messages, &leaf)
}

func newest(messages map[string]*models.ChatHubMessage) string {
	var latest *models.ChatHubMessage
	for _, msg := range messages {
		if latest == nil || olderThan(latest, msg) {
			latest = msg
		}
	}
	if latest == nil {
		return ""
	}
	return latest.ID
}

// newestDescendant returns the most recently created message in the subtree
// rooted at id, id included.
func newestDescendant(messages map[string]*models.ChatHubMessage, index map[string][]string, id string) string {
	latest := id
	visited := map[string]bool{}
	stack := []string{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[current] {
			continue
		}
		visited[current] = true

		msg, ok := messages[current]
		if !ok {
			continue
		}
		if olderThan(messages[latest], msg) {
			latest = current
		}
		stack = append(stack, index[current]...)
	}
	return latest
}
