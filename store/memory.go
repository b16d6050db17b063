package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/gateflow/gateflow/flow"
)

// MemoryStore is an in-memory implementation of all three store interfaces.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	definitions map[string]*flow.FlowDefinition
	instances   map[string]*flow.FlowInstance
	checkpoints map[string]*flow.Checkpoint
	closed      bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[string]*flow.FlowDefinition),
		instances:   make(map[string]*flow.FlowInstance),
		checkpoints: make(map[string]*flow.Checkpoint),
	}
}

// Close marks the store closed; further calls fail with ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SaveDefinition stores a deep copy of the definition.
func (s *MemoryStore) SaveDefinition(ctx context.Context, def *flow.FlowDefinition) error {
	if def == nil || def.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.definitions[def.ID] = def.Clone()
	return nil
}

// GetDefinition returns a deep copy of the definition.
func (s *MemoryStore) GetDefinition(ctx context.Context, id string) (*flow.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	def, ok := s.definitions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return def.Clone(), nil
}

// ListDefinitions returns all definitions ordered by name.
func (s *MemoryStore) ListDefinitions(ctx context.Context) ([]*flow.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]*flow.FlowDefinition, 0, len(s.definitions))
	for _, def := range s.definitions {
		out = append(out, def.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveInstance stores a deep copy of the instance.
func (s *MemoryStore) SaveInstance(ctx context.Context, inst *flow.FlowInstance) error {
	if inst == nil || inst.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.instances[inst.ID] = inst.Clone()
	return nil
}

// GetInstance returns a deep copy of the instance.
func (s *MemoryStore) GetInstance(ctx context.Context, id string) (*flow.FlowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inst.Clone(), nil
}

// ListInstances returns instances for a definition (or all when the
// definition ID is empty), ordered by creation time.
func (s *MemoryStore) ListInstances(ctx context.Context, definitionID string) ([]*flow.FlowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]*flow.FlowInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		if definitionID == "" || inst.DefinitionID == definitionID {
			out = append(out, inst.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveCheckpoint stores a deep copy of the checkpoint, generating an ID if
// unset.
func (s *MemoryStore) SaveCheckpoint(ctx context.Context, cp *flow.Checkpoint) error {
	if cp == nil || cp.InstanceID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	s.checkpoints[cp.ID] = cp.Clone()
	return nil
}

// GetCheckpoint returns a deep copy of the checkpoint.
func (s *MemoryStore) GetCheckpoint(ctx context.Context, id string) (*flow.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cp.Clone(), nil
}

// GetCheckpointAt returns the latest checkpoint recorded for the given
// node-execution-log index of an instance.
func (s *MemoryStore) GetCheckpointAt(ctx context.Context, instanceID string, executionIndex int) (*flow.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var latest *flow.Checkpoint
	for _, cp := range s.checkpoints {
		if cp.InstanceID != instanceID || cp.ExecutionIndex != executionIndex {
			continue
		}
		if latest == nil || cp.CreatedAt.After(latest.CreatedAt) {
			latest = cp
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

// ListCheckpoints returns an instance's checkpoints ordered by execution
// index.
func (s *MemoryStore) ListCheckpoints(ctx context.Context, instanceID string) ([]*flow.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var out []*flow.Checkpoint
	for _, cp := range s.checkpoints {
		if cp.InstanceID == instanceID {
			out = append(out, cp.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionIndex < out[j].ExecutionIndex })
	return out, nil
}
