package node

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedCompleter_TokensConcatenateToContent(t *testing.T) {
	t.Parallel()
	c := NewScriptedCompleter(Completion{Content: "the quick brown fox"})

	var tokens []string
	completion, err := c.StreamComplete(context.Background(), CompletionRequest{}, func(token string) {
		tokens = append(tokens, token)
	})
	require.NoError(t, err)
	assert.Greater(t, len(tokens), 1)
	assert.Equal(t, completion.Content, strings.Join(tokens, ""))
}

func TestScriptedCompleter_RepeatsLastEntry(t *testing.T) {
	t.Parallel()
	c := NewScriptedCompleter(
		Completion{Content: "first"},
		Completion{Content: "second"},
	)

	for _, want := range []string{"first", "second", "second", "second"} {
		got, err := c.Complete(context.Background(), CompletionRequest{})
		require.NoError(t, err)
		assert.Equal(t, want, got.Content)
	}
	assert.Equal(t, 4, c.Calls())
}

func TestScriptedCompleter_EmptyScript(t *testing.T) {
	t.Parallel()
	c := NewScriptedCompleter()
	got, err := c.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Empty(t, got.Content)
}

func TestScriptedCompleter_ChunkSize(t *testing.T) {
	t.Parallel()
	c := NewScriptedCompleter(Completion{Content: "abcdef"})
	c.ChunkSize = 2

	var tokens []string
	_, err := c.StreamComplete(context.Background(), CompletionRequest{}, func(token string) {
		tokens = append(tokens, token)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ab", "cd", "ef"}, tokens)
}
