package node

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/gateflow/gateflow/types"
)

// DefaultEncoding is the tokenizer encoding used when a node config does not
// name one.
const DefaultEncoding = "cl100k_base"

// HistoryWindow trims a message history to a token budget. System messages
// are always kept; the remainder is filled with the newest messages that
// fit. Generating nodes apply a window when their config sets
// "history_tokens".
type HistoryWindow struct {
	enc    *tiktoken.Tiktoken
	budget int
}

// NewHistoryWindow creates a window with the given encoding name and budget.
func NewHistoryWindow(encoding string, budget int) (*HistoryWindow, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer encoding %q: %w", encoding, err)
	}
	return &HistoryWindow{enc: enc, budget: budget}, nil
}

// Count returns the token count of one message's content.
func (w *HistoryWindow) Count(m types.Message) int {
	return len(w.enc.Encode(m.Content, nil, nil))
}

// Apply returns the history trimmed to the budget. The relative order of the
// kept messages is preserved.
func (w *HistoryWindow) Apply(history []types.Message) []types.Message {
	if w.budget <= 0 {
		return history
	}

	used := 0
	keep := make([]bool, len(history))
	for idx, m := range history {
		if m.Role == types.RoleSystem {
			used += w.Count(m)
			keep[idx] = true
		}
	}

	// Walk newest-first; stop at the first message that no longer fits so
	// the kept non-system messages form a contiguous suffix.
	for idx := len(history) - 1; idx >= 0; idx-- {
		m := history[idx]
		if m.Role == types.RoleSystem {
			continue
		}
		cost := w.Count(m)
		if used+cost > w.budget {
			break
		}
		used += cost
		keep[idx] = true
	}

	out := make([]types.Message, 0, len(history))
	for idx, m := range history {
		if keep[idx] {
			out = append(out, m)
		}
	}
	return out
}
