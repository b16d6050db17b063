package node

import (
	"context"
	"strings"
	"sync"

	"github.com/gateflow/gateflow/types"
)

// ScriptedCompleter replays a fixed sequence of completions, one per call.
// It is deterministic, which makes it the completer of choice for replay
// verification, smoke runs, and tests. When the script is exhausted the
// last completion repeats.
type ScriptedCompleter struct {
	mu     sync.Mutex
	script []Completion
	calls  int
	// ChunkSize controls how streamed content is split into tokens.
	// Zero means whitespace-preserving word chunks.
	ChunkSize int
}

// NewScriptedCompleter creates a completer replaying the given completions.
func NewScriptedCompleter(script ...Completion) *ScriptedCompleter {
	return &ScriptedCompleter{script: script}
}

// Calls returns how many completions have been served.
func (c *ScriptedCompleter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Complete implements Completer.
func (c *ScriptedCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	return c.next(ctx)
}

// StreamComplete implements Completer, emitting the scripted content as a
// sequence of token fragments before returning the completion.
func (c *ScriptedCompleter) StreamComplete(ctx context.Context, req CompletionRequest, onToken TokenFunc) (*Completion, error) {
	completion, err := c.next(ctx)
	if err != nil {
		return nil, err
	}
	if onToken != nil {
		for _, tok := range c.tokenize(completion.Content) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			onToken(tok)
		}
	}
	return completion, nil
}

func (c *ScriptedCompleter) next(ctx context.Context) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.script) == 0 {
		return &Completion{}, nil
	}
	idx := c.calls
	if idx >= len(c.script) {
		idx = len(c.script) - 1
	}
	c.calls++
	completion := c.script[idx]
	completion.ToolCalls = append([]types.ToolCall(nil), c.script[idx].ToolCalls...)
	return &completion, nil
}

func (c *ScriptedCompleter) tokenize(content string) []string {
	if content == "" {
		return nil
	}
	if c.ChunkSize > 0 {
		var out []string
		runes := []rune(content)
		for i := 0; i < len(runes); i += c.ChunkSize {
			end := i + c.ChunkSize
			if end > len(runes) {
				end = len(runes)
			}
			out = append(out, string(runes[i:end]))
		}
		return out
	}
	// Word chunks keep their trailing space so the concatenation of all
	// tokens reproduces the content exactly.
	words := strings.SplitAfter(content, " ")
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
