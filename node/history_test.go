package node

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateflow/gateflow/types"
)

func TestHistoryWindow_SystemAlwaysKept(t *testing.T) {
	t.Parallel()
	w, err := NewHistoryWindow(DefaultEncoding, 8)
	require.NoError(t, err)

	history := []types.Message{
		types.NewSystemMessage("rules"),
		types.NewUserMessage(strings.Repeat("filler word ", 100)),
		types.NewUserMessage("latest"),
	}
	out := w.Apply(history)
	require.NotEmpty(t, out)
	assert.Equal(t, types.RoleSystem, out[0].Role)
	assert.Equal(t, "latest", out[len(out)-1].Content)
}

func TestHistoryWindow_KeepsContiguousNewestSuffix(t *testing.T) {
	t.Parallel()
	w, err := NewHistoryWindow(DefaultEncoding, 6)
	require.NoError(t, err)

	history := []types.Message{
		types.NewUserMessage("alpha"),
		types.NewUserMessage(strings.Repeat("beta ", 50)),
		types.NewUserMessage("gamma"),
		types.NewUserMessage("delta"),
	}
	out := w.Apply(history)

	// The oversized entry blocks everything older than it, even when the
	// oldest message alone would have fit.
	require.Len(t, out, 2)
	assert.Equal(t, "gamma", out[0].Content)
	assert.Equal(t, "delta", out[1].Content)
}

func TestHistoryWindow_ZeroBudgetDisablesTrimming(t *testing.T) {
	t.Parallel()
	w, err := NewHistoryWindow(DefaultEncoding, 0)
	require.NoError(t, err)

	history := []types.Message{
		types.NewUserMessage(strings.Repeat("x ", 500)),
		types.NewUserMessage("y"),
	}
	assert.Len(t, w.Apply(history), 2)
}

func TestHistoryWindow_UnknownEncoding(t *testing.T) {
	t.Parallel()
	_, err := NewHistoryWindow("definitely-not-an-encoding", 100)
	assert.Error(t, err)
}

func TestHistoryWindow_OrderPreserved(t *testing.T) {
	t.Parallel()
	w, err := NewHistoryWindow(DefaultEncoding, 1000)
	require.NoError(t, err)

	history := []types.Message{
		types.NewUserMessage("one"),
		types.NewSystemMessage("rules"),
		types.NewAssistantMessage("two"),
		types.NewUserMessage("three"),
	}
	out := w.Apply(history)
	require.Len(t, out, 4)
	for i := range history {
		assert.Equal(t, history[i].Content, out[i].Content)
	}
}
