package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateflow/gateflow/flow"
)

func TestMemoryStore_Definitions(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	def := testDefinition("d1")
	require.NoError(t, s.SaveDefinition(ctx, def))

	got, err := s.GetDefinition(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, def.Name, got.Name)
	assert.Len(t, got.Nodes, 2)

	// The store holds its own copy.
	got.Name = "mutated"
	again, err := s.GetDefinition(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, def.Name, again.Name)

	_, err = s.GetDefinition(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListDefinitionsSorted(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.SaveDefinition(ctx, testDefinition(id)))
	}
	defs, err := s.ListDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, "def-a", defs[0].Name)
	assert.Equal(t, "def-c", defs[2].Name)
}

func TestMemoryStore_Instances(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	inst := testInstance("i1", "d1")
	require.NoError(t, s.SaveInstance(ctx, inst))

	got, err := s.GetInstance(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, inst.DefinitionID, got.DefinitionID)
	assert.Len(t, got.Messages, 2)
	assert.Len(t, got.ToolLog, 1)

	// Mutating the caller's copy after save must not affect the store.
	inst.Status = flow.StatusError
	again, err := s.GetInstance(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, flow.StatusCreated, again.Status)

	_, err = s.GetInstance(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListInstancesByDefinition(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	a := testInstance("i1", "d1")
	a.CreatedAt = time.Now().Add(-time.Hour)
	b := testInstance("i2", "d1")
	c := testInstance("i3", "d2")
	for _, inst := range []*flow.FlowInstance{b, a, c} {
		require.NoError(t, s.SaveInstance(ctx, inst))
	}

	d1, err := s.ListInstances(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, d1, 2)
	assert.Equal(t, "i1", d1[0].ID, "instances ordered by creation time")

	all, err := s.ListInstances(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStore_Checkpoints(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	first := testCheckpoint("c1", "i1", 0)
	second := testCheckpoint("c2", "i1", 1)
	require.NoError(t, s.SaveCheckpoint(ctx, first))
	require.NoError(t, s.SaveCheckpoint(ctx, second))

	got, err := s.GetCheckpoint(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.ExecutionIndex)

	at, err := s.GetCheckpointAt(ctx, "i1", 1)
	require.NoError(t, err)
	assert.Equal(t, "c2", at.ID)

	_, err = s.GetCheckpointAt(ctx, "i1", 5)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListCheckpoints(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 0, list[0].ExecutionIndex)
	assert.Equal(t, 1, list[1].ExecutionIndex)
}

func TestMemoryStore_CheckpointAtPrefersNewest(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	old := testCheckpoint("c1", "i1", 2)
	old.CreatedAt = time.Now().Add(-time.Minute)
	newer := testCheckpoint("c2", "i1", 2)
	require.NoError(t, s.SaveCheckpoint(ctx, old))
	require.NoError(t, s.SaveCheckpoint(ctx, newer))

	at, err := s.GetCheckpointAt(ctx, "i1", 2)
	require.NoError(t, err)
	assert.Equal(t, "c2", at.ID)
}

func TestMemoryStore_GeneratesCheckpointID(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	cp := testCheckpoint("", "i1", 0)
	require.NoError(t, s.SaveCheckpoint(context.Background(), cp))
	assert.NotEmpty(t, cp.ID)
}

func TestMemoryStore_InvalidInput(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()
	assert.ErrorIs(t, s.SaveDefinition(ctx, nil), ErrInvalidInput)
	assert.ErrorIs(t, s.SaveDefinition(ctx, &flow.FlowDefinition{}), ErrInvalidInput)
	assert.ErrorIs(t, s.SaveInstance(ctx, nil), ErrInvalidInput)
	assert.ErrorIs(t, s.SaveCheckpoint(ctx, &flow.Checkpoint{}), ErrInvalidInput)
}

func TestMemoryStore_Closed(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	ctx := context.Background()
	assert.ErrorIs(t, s.SaveDefinition(ctx, testDefinition("d1")), ErrStoreClosed)
	_, err := s.GetInstance(ctx, "i1")
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.ListCheckpoints(ctx, "i1")
	assert.ErrorIs(t, err, ErrStoreClosed)
}
