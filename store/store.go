// Package store provides the persistence collaborator for the flow engine:
// load/save of flow definitions, flow instances, and checkpoints keyed by
// id.
//
// Supported backends:
//   - Memory: for development and testing (default)
//   - Redis: for distributed deployments
//   - SQL (GORM): for single-database deployments (sqlite, postgres, mysql)
package store

import (
	"context"
	"errors"
	"time"

	"github.com/gateflow/gateflow/flow"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// BackendType selects the storage backend.
type BackendType string

const (
	BackendMemory BackendType = "memory"
	BackendRedis  BackendType = "redis"
	BackendSQL    BackendType = "sql"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Host      string        `json:"host" yaml:"host"`
	Port      int           `json:"port" yaml:"port"`
	Password  string        `json:"password" yaml:"password"`
	DB        int           `json:"db" yaml:"db"`
	PoolSize  int           `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string        `json:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `json:"ttl" yaml:"ttl"`
}

// SQLConfig configures the GORM backend.
type SQLConfig struct {
	// Driver is one of sqlite, postgres, mysql.
	Driver string `json:"driver" yaml:"driver"`
	// DSN is the driver-specific data source name.
	DSN string `json:"dsn" yaml:"dsn"`
}

// Config is the backend selection for all three stores.
type Config struct {
	Type  BackendType `json:"type" yaml:"type"`
	Redis RedisConfig `json:"redis" yaml:"redis"`
	SQL   SQLConfig   `json:"sql" yaml:"sql"`
}

// DefinitionStore persists immutable flow definitions.
type DefinitionStore interface {
	SaveDefinition(ctx context.Context, def *flow.FlowDefinition) error
	GetDefinition(ctx context.Context, id string) (*flow.FlowDefinition, error)
	ListDefinitions(ctx context.Context) ([]*flow.FlowDefinition, error)
}

// InstanceStore persists flow instances. Instances are archived, never
// destroyed, so completed conversations stay replayable.
type InstanceStore interface {
	SaveInstance(ctx context.Context, inst *flow.FlowInstance) error
	GetInstance(ctx context.Context, id string) (*flow.FlowInstance, error)
	ListInstances(ctx context.Context, definitionID string) ([]*flow.FlowInstance, error)
}

// CheckpointStore persists node-boundary checkpoints.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp *flow.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (*flow.Checkpoint, error)
	GetCheckpointAt(ctx context.Context, instanceID string, executionIndex int) (*flow.Checkpoint, error)
	ListCheckpoints(ctx context.Context, instanceID string) ([]*flow.Checkpoint, error)
}

// Stores bundles the three store interfaces one backend provides.
type Stores struct {
	Definitions DefinitionStore
	Instances   InstanceStore
	Checkpoints CheckpointStore
}
