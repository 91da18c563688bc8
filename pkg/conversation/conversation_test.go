package conversation

import (
	"testing"
	"time"

	"github.com/choraleia/chathub/pkg/models"
	"github.com/google/go-cmp/cmp"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func msg(id string, prev string, offset int, typ string) *models.ChatHubMessage {
	m := &models.ChatHubMessage{
		ID:        id,
		SessionID: "s1",
		Type:      typ,
		Content:   id,
		CreatedAt: base.Add(time.Duration(offset) * time.Second),
	}
	if prev != "" {
		p := prev
		m.PreviousMessageID = &p
	}
	return m
}

func index(msgs ...*models.ChatHubMessage) map[string]*models.ChatHubMessage {
	out := make(map[string]*models.ChatHubMessage, len(msgs))
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out
}

func ids(chain []*models.ChatHubMessage) []string {
	out := make([]string, 0, len(chain))
	for _, m := range chain {
		out = append(out, m.ID)
	}
	return out
}

func strPtr(s string) *string { return &s }

func TestResolveHistory(t *testing.T) {
	messages := index(
		msg("h1", "", 0, models.MessageTypeHuman),
		msg("a1", "h1", 1, models.MessageTypeAI),
		msg("h2", "a1", 2, models.MessageTypeHuman),
		msg("a2", "h2", 3, models.MessageTypeAI),
	)

	tests := []struct {
		name string
		from *string
		want []string
	}{
		{"nil start", nil, []string{}},
		{"absent start", strPtr("missing"), []string{}},
		{"root only", strPtr("h1"), []string{"h1"}},
		{"full branch", strPtr("a2"), []string{"h1", "a1", "h2", "a2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(ResolveHistory(messages, tt.from))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("ResolveHistory() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveHistory_AdjacentLinks(t *testing.T) {
	messages := index(
		msg("h1", "", 0, models.MessageTypeHuman),
		msg("a1", "h1", 1, models.MessageTypeAI),
		msg("h2", "a1", 2, models.MessageTypeHuman),
	)
	history := ResolveHistory(messages, strPtr("h2"))
	if last := history[len(history)-1].ID; last != "h2" {
		t.Fatalf("last element = %s, want h2", last)
	}
	for i := 1; i < len(history); i++ {
		if *history[i].PreviousMessageID != history[i-1].ID {
			t.Fatalf("history[%d].PreviousMessageID = %s, want %s", i, *history[i].PreviousMessageID, history[i-1].ID)
		}
	}
}

func TestResolveHistory_StopsOnCycle(t *testing.T) {
	messages := index(
		msg("x", "y", 0, models.MessageTypeHuman),
		msg("y", "x", 1, models.MessageTypeAI),
	)
	got := ids(ResolveHistory(messages, strPtr("y")))
	if diff := cmp.Diff([]string{"x", "y"}, got); diff != "" {
		t.Fatalf("ResolveHistory() mismatch (-want +got):\n%s", diff)
	}
}

func TestChildrenIndex_SortsSiblings(t *testing.T) {
	messages := index(
		msg("h1", "", 0, models.MessageTypeHuman),
		msg("b", "h1", 5, models.MessageTypeAI),
		msg("a", "h1", 5, models.MessageTypeAI),
		msg("c", "h1", 1, models.MessageTypeAI),
	)
	got := ChildrenIndex(messages)

	if diff := cmp.Diff([]string{"c", "a", "b"}, got["h1"]); diff != "" {
		t.Fatalf("children of h1 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"h1"}, got[RootKey]); diff != "" {
		t.Fatalf("roots mismatch (-want +got):\n%s", diff)
	}
}

func TestActiveChain(t *testing.T) {
	// h1 -> a1 -> h2 -> a2
	//    \-> a1r (retry of a1, newer)
	//             h2e (edit of h2, child of a1, newest) -> a3
	messages := index(
		msg("h1", "", 0, models.MessageTypeHuman),
		msg("a1", "h1", 1, models.MessageTypeAI),
		msg("h2", "a1", 2, models.MessageTypeHuman),
		msg("a2", "h2", 3, models.MessageTypeAI),
		msg("a1r", "h1", 4, models.MessageTypeAI),
		msg("h2e", "a1", 5, models.MessageTypeHuman),
		msg("a3", "h2e", 6, models.MessageTypeAI),
	)
	idx := ChildrenIndex(messages)

	tests := []struct {
		name    string
		pointer *string
		want    []string
	}{
		{"default to newest", nil, []string{"h1", "a1", "h2e", "a3"}},
		{"unknown pointer", strPtr("nope"), []string{"h1", "a1", "h2e", "a3"}},
		{"pinned retry", strPtr("a1r"), []string{"h1", "a1r"}},
		{"pinned old edit", strPtr("h2"), []string{"h1", "a1", "h2", "a2"}},
		{"pinned root", strPtr("h1"), []string{"h1", "a1", "h2e", "a3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(ActiveChain(messages, idx, tt.pointer))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("ActiveChain() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestActiveChain_RootToLeafUnique(t *testing.T) {
	// Child timestamp older than its parent: chain must still end at a leaf.
	messages := index(
		msg("h1", "", 10, models.MessageTypeHuman),
		msg("a1", "h1", 20, models.MessageTypeAI),
		msg("h2", "a1", 5, models.MessageTypeHuman),
	)
	chain := ActiveChain(messages, ChildrenIndex(messages), strPtr("h1"))

	if chain[0].PreviousMessageID != nil {
		t.Fatalf("chain does not start at a root: %s", chain[0].ID)
	}
	last := chain[len(chain)-1].ID
	if last != "h2" {
		t.Fatalf("chain ends at %s, want leaf h2", last)
	}
	seen := map[string]bool{}
	for _, m := range chain {
		if seen[m.ID] {
			t.Fatalf("duplicate %s in chain", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestActiveChain_Empty(t *testing.T) {
	got := ActiveChain(map[string]*models.ChatHubMessage{}, map[string][]string{}, nil)
	if len(got) != 0 {
		t.Fatalf("ActiveChain() = %v, want empty", ids(got))
	}
}

func TestGroupByDate(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}
	sessions := []models.ChatHubSession{
		{ID: "today-early", LastMessageAt: at(-10 * time.Hour)},
		{ID: "today-late", LastMessageAt: at(-1 * time.Hour)},
		{ID: "never", LastMessageAt: nil},
		{ID: "yesterday", LastMessageAt: at(-24 * time.Hour)},
		{ID: "week", LastMessageAt: at(-4 * 24 * time.Hour)},
		{ID: "old", LastMessageAt: at(-30 * 24 * time.Hour)},
	}

	groups := GroupByDate(sessions, now)

	var got [][]string
	var names []string
	for _, g := range groups {
		names = append(names, g.Group)
		var row []string
		for _, s := range g.Sessions {
			row = append(row, s.ID)
		}
		got = append(got, row)
	}

	if diff := cmp.Diff([]string{GroupToday, GroupYesterday, GroupThisWeek, GroupOlder}, names); diff != "" {
		t.Fatalf("group names mismatch (-want +got):\n%s", diff)
	}
	want := [][]string{
		{"never", "today-late", "today-early"},
		{"yesterday"},
		{"week"},
		{"old"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("grouped sessions mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupByDate_OmitsEmptyGroups(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	old := now.AddDate(0, -2, 0)
	groups := GroupByDate([]models.ChatHubSession{{ID: "x", LastMessageAt: &old}}, now)
	if len(groups) != 1 || groups[0].Group != GroupOlder {
		t.Fatalf("GroupByDate() = %+v, want single Older group", groups)
	}
}
