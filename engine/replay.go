package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gateflow/gateflow/flow"
	"github.com/gateflow/gateflow/store"
	"github.com/gateflow/gateflow/types"
)

// Checkpoint returns the checkpoint at the given node-execution-log index.
// The stored boundary snapshot is preferred; when the store has none the
// checkpoint is rebuilt from the execution log and persisted.
func (e *Engine) Checkpoint(ctx context.Context, instanceID string, executionIndex int) (*flow.Checkpoint, error) {
	cp, err := e.stores.Checkpoints.GetCheckpointAt(ctx, instanceID, executionIndex)
	if err == nil {
		return cp, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load checkpoint for instance %s at %d: %w", instanceID, executionIndex, err)
	}

	inst, err := e.stores.Instances.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("instance %s not found", instanceID)).WithCause(err)
	}
	cp, err = flow.CheckpointAt(inst, executionIndex)
	if err != nil {
		return nil, err
	}
	cp.ID = uuid.NewString()
	if serr := e.stores.Checkpoints.SaveCheckpoint(ctx, cp); serr != nil {
		e.logger.Warn("rebuilt checkpoint could not be persisted",
			zap.String("instance_id", instanceID),
			zap.Int("execution_index", executionIndex),
			zap.Error(serr),
		)
	} else {
		e.metrics.CheckpointSaved()
	}
	return cp, nil
}

// ReplayFromCheckpoint forks a new instance from the checkpoint at
// executionIndex and re-executes the flow from the checkpointed node, with
// the given config override installed for that node. The original instance
// is never mutated; the fork records its lineage in ForkedFrom/ForkIndex.
// Upstream node results are taken from the snapshot, never recomputed.
//
// The replayed run is synchronous: the returned instance is in its final
// state (completed or error). A replayed node that requests confirmation
// has its invocation auto-expired rather than suspending the caller.
func (e *Engine) ReplayFromCheckpoint(ctx context.Context, instanceID string, executionIndex int, override map[string]any) (*flow.FlowInstance, error) {
	cp, err := e.Checkpoint(ctx, instanceID, executionIndex)
	if err != nil {
		return nil, err
	}
	def, err := e.stores.Definitions.GetDefinition(ctx, cp.DefinitionID)
	if err != nil {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("definition %s not found", cp.DefinitionID)).WithCause(err)
	}

	fork := flow.NewInstance(uuid.NewString(), cp.DefinitionID, cp.Overrides)
	fork.Messages = append([]types.Message(nil), cp.Messages...)
	fork.State = cp.State.Clone()
	fork.ToolLog = append([]types.ToolInvocation(nil), cp.ToolLog...)
	fork.Turn = cp.Turn
	fork.ForkedFrom = instanceID
	fork.ForkIndex = executionIndex
	if len(override) > 0 {
		if fork.Overrides == nil {
			fork.Overrides = make(flow.Overrides)
		}
		merged := fork.Overrides[cp.NodeID]
		if merged == nil {
			merged = make(map[string]any, len(override))
		}
		for k, v := range override {
			merged[k] = v
		}
		fork.Overrides[cp.NodeID] = merged
	}

	if !e.acquireInstance(fork.ID) {
		return nil, types.NewError(types.ErrConcurrencyViolation,
			fmt.Sprintf("instance %s already has a turn in flight", fork.ID))
	}
	defer e.releaseInstance(fork.ID)

	fork.Status = flow.StatusRunning
	fork.CurrentNode = cp.NodeID
	if err := e.commit(ctx, fork); err != nil {
		return nil, err
	}
	e.metrics.ReplayStarted()
	e.logger.Info("replaying from checkpoint",
		zap.String("source_instance_id", instanceID),
		zap.String("fork_instance_id", fork.ID),
		zap.Int("execution_index", executionIndex),
		zap.String("node_id", cp.NodeID),
	)

	// Replay runs without observers; a nil stream drops all events.
	runErr := e.runLoop(ctx, def, fork, cp.NodeID, nil)
	e.metrics.TurnFinished(string(fork.Status))
	if runErr != nil {
		return fork.Clone(), runErr
	}
	return fork.Clone(), nil
}
