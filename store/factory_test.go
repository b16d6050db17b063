package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsToMemory(t *testing.T) {
	t.Parallel()
	stores, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, stores.Definitions)
	assert.Same(t, stores.Definitions, stores.Instances)
}

func TestNew_SQLiteBackend(t *testing.T) {
	t.Parallel()
	stores, err := New(Config{
		Type: BackendSQL,
		SQL:  SQLConfig{Driver: "sqlite", DSN: ":memory:"},
	})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, stores.Checkpoints)
}

func TestNew_UnknownBackend(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Type: "etcd"})
	assert.Error(t, err)
}
