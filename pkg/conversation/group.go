package conversation

import (
	"sort"
	"time"

	"github.com/choraleia/chathub/pkg/models"
)

// Date buckets in display order.
const (
	GroupToday     = "Today"
	GroupYesterday = "Yesterday"
	GroupThisWeek  = "This week"
	GroupOlder     = "Older"
)

var groupOrder = []string{GroupToday, GroupYesterday, GroupThisWeek, GroupOlder}

// RelativeDate buckets t relative to now using calendar days in now's
// location. A nil t counts as now.
func RelativeDate(now time.Time, t *time.Time) string {
	date := now
	if t != nil {
		date = t.In(now.Location())
	}

	today := startOfDay(now)
	yesterday := today.AddDate(0, 0, -1)
	lastWeek := today.AddDate(0, 0, -7)
	day := startOfDay(date)

	switch {
	case day.Equal(today):
		return GroupToday
	case day.Equal(yesterday):
		return GroupYesterday
	case !day.Before(lastWeek):
		return GroupThisWeek
	default:
		return GroupOlder
	}
}

// GroupByDate buckets sessions by LastMessageAt. Empty buckets are omitted
// and each bucket is sorted newest first.
func GroupByDate(sessions []models.ChatHubSession, now time.Time) []models.GroupedConversations {
	groups := make(map[string][]models.ChatHubSession)
	for _, s := range sessions {
		g := RelativeDate(now, s.LastMessageAt)
		groups[g] = append(groups[g], s)
	}

	lastAt := func(s models.ChatHubSession) time.Time {
		if s.LastMessageAt == nil {
			return now
		}
		return *s.LastMessageAt
	}

	result := make([]models.GroupedConversations, 0, len(groupOrder))
	for _, name := range groupOrder {
		list := groups[name]
		if len(list) == 0 {
			continue
		}
		sort.SliceStable(list, func(i, j int) bool {
			return lastAt(list[i]).After(lastAt(list[j]))
		})
		result = append(result, models.GroupedConversations{Group: name, Sessions: list})
	}
	return result
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
