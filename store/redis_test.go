package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateflow/gateflow/types"
)

func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client, "test:")
}

func TestRedisStore_DefinitionRoundTrip(t *testing.T) {
	t.Parallel()
	s := newRedisTestStore(t)
	ctx := context.Background()

	def := testDefinition("d1")
	require.NoError(t, s.SaveDefinition(ctx, def))

	got, err := s.GetDefinition(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, def.Name, got.Name)
	assert.Len(t, got.Edges, 4)

	spec, ok := got.Node("gate")
	require.True(t, ok)
	assert.Equal(t, "gate", spec.Kind)

	_, err = s.GetDefinition(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ListDefinitions(t *testing.T) {
	t.Parallel()
	s := newRedisTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"b", "a"} {
		require.NoError(t, s.SaveDefinition(ctx, testDefinition(id)))
	}
	defs, err := s.ListDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}

func TestRedisStore_InstanceRoundTrip(t *testing.T) {
	t.Parallel()
	s := newRedisTestStore(t)
	ctx := context.Background()

	inst := testInstance("i1", "d1")
	require.NoError(t, s.SaveInstance(ctx, inst))

	got, err := s.GetInstance(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, inst.Turn, got.Turn)
	require.Len(t, got.ToolLog, 1)
	assert.Equal(t, types.InvocationPending, got.ToolLog[0].Status)
	assert.Equal(t, 0.5, got.Overrides["respond"]["temperature"])

	_, err = s.GetInstance(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ListInstancesByDefinition(t *testing.T) {
	t.Parallel()
	s := newRedisTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveInstance(ctx, testInstance("i1", "d1")))
	require.NoError(t, s.SaveInstance(ctx, testInstance("i2", "d1")))
	require.NoError(t, s.SaveInstance(ctx, testInstance("i3", "d2")))

	insts, err := s.ListInstances(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, insts, 2)
}

func TestRedisStore_CheckpointIndex(t *testing.T) {
	t.Parallel()
	s := newRedisTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCheckpoint(ctx, testCheckpoint("c0", "i1", 0)))
	require.NoError(t, s.SaveCheckpoint(ctx, testCheckpoint("c1", "i1", 1)))

	at, err := s.GetCheckpointAt(ctx, "i1", 1)
	require.NoError(t, err)
	assert.Equal(t, "c1", at.ID)
	assert.Equal(t, "respond", at.NodeID)

	_, err = s.GetCheckpointAt(ctx, "i1", 7)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListCheckpoints(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 0, list[0].ExecutionIndex)
}

func TestRedisStore_CheckpointAtPrefersNewest(t *testing.T) {
	t.Parallel()
	s := newRedisTestStore(t)
	ctx := context.Background()

	old := testCheckpoint("c-old", "i1", 3)
	old.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, s.SaveCheckpoint(ctx, old))
	require.NoError(t, s.SaveCheckpoint(ctx, testCheckpoint("c-new", "i1", 3)))

	at, err := s.GetCheckpointAt(ctx, "i1", 3)
	require.NoError(t, err)
	assert.Equal(t, "c-new", at.ID)
}

func TestRedisStore_InvalidInput(t *testing.T) {
	t.Parallel()
	s := newRedisTestStore(t)
	ctx := context.Background()
	assert.ErrorIs(t, s.SaveDefinition(ctx, nil), ErrInvalidInput)
	assert.ErrorIs(t, s.SaveInstance(ctx, nil), ErrInvalidInput)
}
