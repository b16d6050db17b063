package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gateflow/gateflow/flow"
)

// RedisStore is a Redis-backed implementation of all three store interfaces.
// Records are stored as JSON values; per-instance indexes use sorted sets
// keyed by execution index.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore connects to Redis and returns the store. The connection is
// verified with a ping.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "gateflow:"
	}
	return &RedisStore{client: client, keyPrefix: prefix, ttl: cfg.TTL}, nil
}

// NewRedisStoreWithClient wraps an existing client (used by tests with
// miniredis).
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "gateflow:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) definitionKey(id string) string { return s.keyPrefix + "def:" + id }
func (s *RedisStore) instanceKey(id string) string   { return s.keyPrefix + "inst:" + id }
func (s *RedisStore) checkpointKey(id string) string { return s.keyPrefix + "ckpt:" + id }

// index keys
func (s *RedisStore) definitionIndex() string { return s.keyPrefix + "defs" }
func (s *RedisStore) instanceIndex(definitionID string) string {
	return s.keyPrefix + "insts:" + definitionID
}
func (s *RedisStore) checkpointIndex(instanceID string) string {
	return s.keyPrefix + "ckpts:" + instanceID
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// SaveDefinition implements DefinitionStore.
func (s *RedisStore) SaveDefinition(ctx context.Context, def *flow.FlowDefinition) error {
	if def == nil || def.ID == "" {
		return ErrInvalidInput
	}
	if err := s.setJSON(ctx, s.definitionKey(def.ID), def); err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.definitionIndex(), def.ID).Err()
}

// GetDefinition implements DefinitionStore.
func (s *RedisStore) GetDefinition(ctx context.Context, id string) (*flow.FlowDefinition, error) {
	var def flow.FlowDefinition
	if err := s.getJSON(ctx, s.definitionKey(id), &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ListDefinitions implements DefinitionStore.
func (s *RedisStore) ListDefinitions(ctx context.Context) ([]*flow.FlowDefinition, error) {
	ids, err := s.client.SMembers(ctx, s.definitionIndex()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	out := make([]*flow.FlowDefinition, 0, len(ids))
	for _, id := range ids {
		def, err := s.GetDefinition(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// SaveInstance implements InstanceStore.
func (s *RedisStore) SaveInstance(ctx context.Context, inst *flow.FlowInstance) error {
	if inst == nil || inst.ID == "" {
		return ErrInvalidInput
	}
	if err := s.setJSON(ctx, s.instanceKey(inst.ID), inst); err != nil {
		return err
	}
	score := float64(inst.CreatedAt.UnixNano())
	return s.client.ZAdd(ctx, s.instanceIndex(inst.DefinitionID), redis.Z{
		Score:  score,
		Member: inst.ID,
	}).Err()
}

// GetInstance implements InstanceStore.
func (s *RedisStore) GetInstance(ctx context.Context, id string) (*flow.FlowInstance, error) {
	var inst flow.FlowInstance
	if err := s.getJSON(ctx, s.instanceKey(id), &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstances implements InstanceStore.
func (s *RedisStore) ListInstances(ctx context.Context, definitionID string) ([]*flow.FlowInstance, error) {
	ids, err := s.client.ZRange(ctx, s.instanceIndex(definitionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	out := make([]*flow.FlowInstance, 0, len(ids))
	for _, id := range ids {
		inst, err := s.GetInstance(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// SaveCheckpoint implements CheckpointStore.
func (s *RedisStore) SaveCheckpoint(ctx context.Context, cp *flow.Checkpoint) error {
	if cp == nil || cp.InstanceID == "" {
		return ErrInvalidInput
	}
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if err := s.setJSON(ctx, s.checkpointKey(cp.ID), cp); err != nil {
		return err
	}
	return s.client.ZAdd(ctx, s.checkpointIndex(cp.InstanceID), redis.Z{
		Score:  float64(cp.ExecutionIndex),
		Member: cp.ID,
	}).Err()
}

// GetCheckpoint implements CheckpointStore.
func (s *RedisStore) GetCheckpoint(ctx context.Context, id string) (*flow.Checkpoint, error) {
	var cp flow.Checkpoint
	if err := s.getJSON(ctx, s.checkpointKey(id), &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// GetCheckpointAt implements CheckpointStore. The sorted-set score is the
// execution index, so the lookup is a range query.
func (s *RedisStore) GetCheckpointAt(ctx context.Context, instanceID string, executionIndex int) (*flow.Checkpoint, error) {
	score := fmt.Sprintf("%d", executionIndex)
	ids, err := s.client.ZRangeByScore(ctx, s.checkpointIndex(instanceID), &redis.ZRangeBy{
		Min: score,
		Max: score,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	// Multiple checkpoints at one boundary: keep the newest.
	var latest *flow.Checkpoint
	for _, id := range ids {
		cp, err := s.GetCheckpoint(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if latest == nil || cp.CreatedAt.After(latest.CreatedAt) {
			latest = cp
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// ListCheckpoints implements CheckpointStore.
func (s *RedisStore) ListCheckpoints(ctx context.Context, instanceID string) ([]*flow.Checkpoint, error) {
	ids, err := s.client.ZRange(ctx, s.checkpointIndex(instanceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	out := make([]*flow.Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.GetCheckpoint(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}
