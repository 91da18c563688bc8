package workflow

import (
	"strings"

	"github.com/choraleia/chathub/pkg/db"
)

type contextLimit struct {
	prefix string
	tokens int
}

// Ordered most specific first; the first matching prefix wins.
var contextLimits = map[string][]contextLimit{
	db.ProviderOpenAI: {
		{"gpt-4.1", 1047576},
		{"gpt-4o", 128000},
		{"gpt-4-turbo", 128000},
		{"gpt-4-32k", 32768},
		{"gpt-4", 8192},
		{"gpt-3.5-turbo", 16385},
		{"gpt-5", 400000},
		{"o1-mini", 128000},
		{"o1", 200000},
		{"o3", 200000},
		{"o4", 200000},
	},
	db.ProviderAnthropic: {
		{"claude-2", 100000},
		{"claude-", 200000},
	},
	db.ProviderGoogle: {
		{"gemini-1.5-pro", 2097152},
		{"gemini-1.5-flash", 1048576},
		{"gemini-2", 1048576},
		{"gemini-1.0", 32760},
		{"gemini-pro", 32760},
	},
}

var defaultContextLimits = map[string]int{
	db.ProviderOpenAI:    128000,
	db.ProviderAnthropic: 200000,
	db.ProviderGoogle:    1048576,
}

// fallbackContextLimit applies to providers missing from the table.
const fallbackContextLimit = 8192

// MaxContextWindowTokens returns the context window of model. Provider
// prefixes like "models/" are ignored.
func MaxContextWindowTokens(provider, model string) int {
	name := strings.TrimPrefix(strings.ToLower(model), "models/")
	for _, l := range contextLimits[provider] {
		if strings.HasPrefix(name, l.prefix) {
			return l.tokens
		}
	}
	if n, ok := defaultContextLimits[provider]; ok {
		return n
	}
	return fallbackContextLimit
}
