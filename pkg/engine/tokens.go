package engine

import (
	"sync"

	"github.com/choraleia/chathub/pkg/memory"
	"github.com/choraleia/chathub/pkg/utils"
	"github.com/pkoukk/tiktoken-go"
)

const tokenEncoding = "cl100k_base"

// newTiktokenCounter counts tokens with cl100k_base. The encoding is loaded
// on first use; if it cannot be loaded, four bytes count as one token.
func newTiktokenCounter() func(string) int {
	var (
		once sync.Once
		enc  *tiktoken.Tiktoken
	)
	return func(s string) int {
		once.Do(func() {
			e, err := tiktoken.GetEncoding(tokenEncoding)
			if err != nil {
				utils.GetLogger().Warn("Token encoding unavailable, estimating", "encoding", tokenEncoding, "error", err)
				return
			}
			enc = e
		})
		if enc == nil {
			return (len(s) + 3) / 4
		}
		return len(enc.Encode(s, nil, nil))
	}
}

// trimToTokens drops the oldest entries until the rest fits in budget.
func trimToTokens(entries []memory.Entry, budget int, count func(string) int) []memory.Entry {
	if budget <= 0 {
		return []memory.Entry{}
	}
	total := 0
	start := len(entries)
	for i := len(entries) - 1; i >= 0; i-- {
		n := count(entries[i].Content)
		if total+n > budget {
			break
		}
		total += n
		start = i
	}
	return entries[start:]
}
