package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/gateflow/gateflow/flow"
	"github.com/gateflow/gateflow/internal/metrics"
	"github.com/gateflow/gateflow/node"
	"github.com/gateflow/gateflow/store"
	"github.com/gateflow/gateflow/types"
)

// Options tunes engine behavior. The zero value gets sane defaults.
type Options struct {
	// Logger is the structured logger; nil means no logging.
	Logger *zap.Logger
	// Retry bounds the automatic retry of transient node failures. A nil
	// Retry means DefaultRetryConfig; an explicit zero MaxRetries disables
	// retries entirely.
	Retry *RetryConfig
	// MaxConcurrentTurns caps turns in flight across all instances.
	// Zero means unbounded.
	MaxConcurrentTurns int64
	// ConfirmationTimeout bounds how long a suspended turn waits for an
	// external confirm/reject before the invocation expires.
	ConfirmationTimeout time.Duration
	// EventBuffer is the per-turn event channel capacity.
	EventBuffer int
	// Metrics receives engine counters; nil means an unregistered collector.
	Metrics *metrics.Collector
}

// Engine executes flow instances against validated definitions. It is safe
// for concurrent use; node execution within one instance is sequential and
// guarded so each instance has exactly one writer at a time.
type Engine struct {
	registry *node.Registry
	stores   *store.Stores
	logger   *zap.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer

	retry          RetryConfig
	confirmTimeout time.Duration
	eventBuffer    int

	sem           *semaphore.Weighted
	confirmations *confirmations

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates an engine over the given node registry and stores.
func New(registry *node.Registry, stores *store.Stores, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	confirmTimeout := opts.ConfirmationTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 5 * time.Minute
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewCollector("gateflow", prometheus.NewRegistry(), logger)
	}
	var sem *semaphore.Weighted
	if opts.MaxConcurrentTurns > 0 {
		sem = semaphore.NewWeighted(opts.MaxConcurrentTurns)
	}
	return &Engine{
		registry:       registry,
		stores:         stores,
		logger:         logger.With(zap.String("component", "engine")),
		metrics:        collector,
		tracer:         otel.Tracer("gateflow/engine"),
		retry:          retry,
		confirmTimeout: confirmTimeout,
		eventBuffer:    opts.EventBuffer,
		sem:            sem,
		confirmations:  newConfirmations(),
		active:         make(map[string]struct{}),
	}
}

// SaveDefinition validates a definition against the registered node kinds
// and persists it. Validation failures never reach the store.
func (e *Engine) SaveDefinition(ctx context.Context, def *flow.FlowDefinition) error {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if err := flow.Validate(def, e.registry.Routes()); err != nil {
		return err
	}
	now := time.Now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	if err := e.stores.Definitions.SaveDefinition(ctx, def); err != nil {
		return fmt.Errorf("save definition %s: %w", def.ID, err)
	}
	e.logger.Info("definition saved",
		zap.String("definition_id", def.ID),
		zap.String("name", def.Name),
		zap.Int("nodes", len(def.Nodes)),
	)
	return nil
}

// CreateInstance creates a fresh instance of a stored definition, optionally
// carrying per-node parameter overrides.
func (e *Engine) CreateInstance(ctx context.Context, definitionID string, overrides flow.Overrides) (*flow.FlowInstance, error) {
	def, err := e.stores.Definitions.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("definition %s not found", definitionID)).WithCause(err)
	}
	for nodeID := range overrides {
		if _, ok := def.Node(nodeID); !ok {
			return nil, types.NewError(types.ErrDefinitionInvalid,
				fmt.Sprintf("override references unknown node %q", nodeID))
		}
	}
	inst := flow.NewInstance(uuid.NewString(), def.ID, overrides)
	if err := e.stores.Instances.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("save instance %s: %w", inst.ID, err)
	}
	e.logger.Info("instance created",
		zap.String("instance_id", inst.ID),
		zap.String("definition_id", def.ID),
	)
	return inst.Clone(), nil
}

// GetInstance returns a deep copy of the instance. Reads never mutate, so
// repeated calls on a quiet instance observe identical state.
func (e *Engine) GetInstance(ctx context.Context, id string) (*flow.FlowInstance, error) {
	inst, err := e.stores.Instances.GetInstance(ctx, id)
	if err != nil {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("instance %s not found", id)).WithCause(err)
	}
	return inst, nil
}

// StartTurn appends the user input to the instance history and drives the
// flow from its entry node, returning the ordered event stream for the turn.
// A second turn on an instance whose previous turn is still in flight fails
// with CONCURRENCY_VIOLATION.
func (e *Engine) StartTurn(ctx context.Context, instanceID, input string) (*TurnStream, error) {
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, types.NewError(types.ErrTurnCanceled, "turn canceled while waiting for capacity").WithCause(err)
		}
	}
	release := func() {
		if e.sem != nil {
			e.sem.Release(1)
		}
	}

	if !e.acquireInstance(instanceID) {
		release()
		return nil, types.NewError(types.ErrConcurrencyViolation,
			fmt.Sprintf("instance %s already has a turn in flight", instanceID))
	}

	inst, err := e.stores.Instances.GetInstance(ctx, instanceID)
	if err != nil {
		e.releaseInstance(instanceID)
		release()
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("instance %s not found", instanceID)).WithCause(err)
	}
	switch inst.Status {
	case flow.StatusRunning:
		e.releaseInstance(instanceID)
		release()
		return nil, types.NewError(types.ErrConcurrencyViolation,
			fmt.Sprintf("instance %s is already running", instanceID))
	case flow.StatusSuspended:
		e.releaseInstance(instanceID)
		release()
		return nil, types.NewError(types.ErrInvalidState,
			fmt.Sprintf("instance %s is suspended awaiting confirmation", instanceID))
	}

	def, err := e.stores.Definitions.GetDefinition(ctx, inst.DefinitionID)
	if err != nil {
		e.releaseInstance(instanceID)
		release()
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("definition %s not found", inst.DefinitionID)).WithCause(err)
	}
	entry, err := def.Entry()
	if err != nil {
		e.releaseInstance(instanceID)
		release()
		return nil, types.NewError(types.ErrDefinitionInvalid, err.Error())
	}

	stream := newTurnStream(e.eventBuffer)
	go func() {
		defer func() {
			e.releaseInstance(instanceID)
			release()
			stream.close()
		}()
		e.runTurn(ctx, def, inst, entry, input, stream)
	}()
	return stream, nil
}

// ConfirmTool resolves a suspended tool invocation. approve=true lets the
// tool execute; approve=false rejects it and the turn resumes on the
// REJECTED route without executing the tool.
func (e *Engine) ConfirmTool(ctx context.Context, instanceID, invocationID string, approve bool) error {
	inst, err := e.stores.Instances.GetInstance(ctx, instanceID)
	if err != nil {
		return types.NewError(types.ErrNotFound,
			fmt.Sprintf("instance %s not found", instanceID)).WithCause(err)
	}
	if inst.Status != flow.StatusSuspended {
		return types.NewError(types.ErrInvalidState,
			fmt.Sprintf("instance %s is not suspended", instanceID))
	}
	if inst.Pending == nil || inst.Pending.ID != invocationID {
		return types.NewError(types.ErrNotFound,
			fmt.Sprintf("instance %s has no pending invocation %s", instanceID, invocationID))
	}
	return e.confirmations.resolve(invocationID, approve)
}

// runTurn appends the user input, commits it, and walks the graph until End,
// suspension timeout expiry, error, or cancellation. It always emits a
// terminal event.
func (e *Engine) runTurn(ctx context.Context, def *flow.FlowDefinition, inst *flow.FlowInstance, entry, input string, stream *TurnStream) {
	ctx, span := e.tracer.Start(ctx, "engine.turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("gateflow.instance_id", inst.ID),
		attribute.String("gateflow.definition_id", inst.DefinitionID),
	)

	inst.Turn++
	inst.Messages = append(inst.Messages, types.NewUserMessage(input))
	inst.Status = flow.StatusRunning
	inst.CurrentNode = entry
	if err := e.commit(ctx, inst); err != nil {
		e.finishTurn(inst, stream, err)
		return
	}

	start := time.Now()
	err := e.runLoop(ctx, def, inst, entry, stream)
	e.logger.Info("turn finished",
		zap.String("instance_id", inst.ID),
		zap.Int("turn", inst.Turn),
		zap.String("status", string(inst.Status)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	e.finishTurn(inst, stream, err)
}

// runLoop is the shared node-walking loop for turns and replays. On entry
// the instance must already be committed with Status running and inst.Turn
// set. It persists the terminal status itself and returns the turn error,
// but does not emit the terminal event.
func (e *Engine) runLoop(ctx context.Context, def *flow.FlowDefinition, inst *flow.FlowInstance, startNode string, stream *TurnStream) error {
	current := startNode
	for current != flow.End {
		spec, ok := def.Node(current)
		if !ok {
			return e.failTurn(ctx, inst, types.NewError(types.ErrDefinitionInvalid,
				fmt.Sprintf("definition %s has no node %q", def.ID, current)).WithNode(current, inst.Turn))
		}
		impl, ok := e.registry.Resolve(spec.Kind)
		if !ok {
			return e.failTurn(ctx, inst, types.NewError(types.ErrDefinitionInvalid,
				fmt.Sprintf("node kind %q is not registered", spec.Kind)).WithNode(current, inst.Turn))
		}

		inst.CurrentNode = current
		e.saveCheckpoint(ctx, inst, current)

		var invocation *types.ToolInvocation
		if e.registry.HandlesInvocations(spec.Kind) {
			invocation = e.nextInvocation(inst)
		}
		req := &node.Request{
			InstanceID: inst.ID,
			NodeID:     current,
			Turn:       inst.Turn,
			Config:     inst.EffectiveConfig(spec),
			History:    append([]types.Message(nil), inst.Messages...),
			State:      inst.NodeStateFor(current),
			Invocation: invocation,
		}

		historyBefore := len(inst.Messages)
		stateBefore := inst.State.Clone()
		startedAt := time.Now()

		result, err := e.invokeNode(ctx, impl, spec, req, inst, stream)
		if err != nil {
			e.metrics.NodeExecuted(spec.Kind, "error", time.Since(startedAt).Seconds())
			if invocation != nil {
				e.settleInvocation(inst, invocation.ID, types.InvocationFailed, "", err.Error())
			}
			return e.failTurn(ctx, inst, err)
		}

		// A confirmation-required invocation suspends the turn before any
		// execution entry is committed for this node.
		if result.Confirmation != nil {
			if err := e.suspendForConfirmation(ctx, inst, current, result.Confirmation, stream); err != nil {
				return e.failTurn(ctx, inst, err)
			}
			// Re-invoke the same node with the settled invocation.
			continue
		}

		inst.Messages = append(inst.Messages, result.Messages...)
		if result.State != nil {
			if inst.State == nil {
				inst.State = make(flow.NodeState)
			}
			inst.State[current] = result.State
		}
		if invocation != nil && result.Route != "" {
			e.applyInvocationResult(inst, invocation.ID, result)
		}
		e.enqueueToolCalls(inst, current, result.ToolCalls)

		exec := flow.NodeExecution{
			Index:         len(inst.Executions),
			Turn:          inst.Turn,
			NodeID:        current,
			Route:         result.Route,
			Decision:      result.Decision,
			Rationale:     result.Rationale,
			HistoryBefore: historyBefore,
			HistoryAfter:  len(inst.Messages),
			StateBefore:   stateBefore,
			StartedAt:     startedAt,
			DurationMs:    time.Since(startedAt).Milliseconds(),
		}
		inst.Executions = append(inst.Executions, exec)
		if err := e.commit(ctx, inst); err != nil {
			return e.failTurn(ctx, inst, err)
		}
		e.metrics.NodeExecuted(spec.Kind, "success", time.Since(startedAt).Seconds())

		var terminal *types.Message
		if n := len(result.Messages); n > 0 {
			terminal = &result.Messages[n-1]
		}
		stream.emit(TurnEvent{
			Type:       EventNodeComplete,
			InstanceID: inst.ID,
			Turn:       inst.Turn,
			NodeID:     current,
			Message:    terminal,
			Route:      result.Route,
			Decision:   result.Decision,
			Rationale:  result.Rationale,
		})

		// Remaining unresolved invocations keep the turn at this node so
		// every requested tool call is settled before routing onward.
		if invocation != nil && e.nextInvocation(inst) != nil {
			continue
		}

		next, err := flow.ResolveNext(def, current, result.Route)
		if err != nil {
			return e.failTurn(ctx, inst, err)
		}
		current = next
	}

	inst.Status = flow.StatusCompleted
	inst.CurrentNode = ""
	inst.Pending = nil
	inst.LastError = nil
	return e.commit(ctx, inst)
}

// invokeNode runs one node with token streaming and transient-error retry.
// A node that already streamed tokens is never retried, so observers never
// see duplicated output.
func (e *Engine) invokeNode(ctx context.Context, impl node.Node, spec flow.NodeSpec, req *node.Request, inst *flow.FlowInstance, stream *TurnStream) (*node.Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.node")
	defer span.End()
	span.SetAttributes(
		attribute.String("gateflow.node_id", spec.ID),
		attribute.String("gateflow.node_kind", spec.Kind),
	)

	attempt := 0
	for {
		tokens := 0
		onToken := func(token string) {
			tokens++
			e.metrics.TokenStreamed()
			stream.emit(TurnEvent{
				Type:       EventToken,
				InstanceID: inst.ID,
				Turn:       inst.Turn,
				NodeID:     spec.ID,
				Token:      token,
			})
		}

		result, err := impl.Stream(ctx, req, onToken)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrTurnCanceled, "turn canceled").
				WithCause(ctx.Err()).WithNode(spec.ID, inst.Turn)
		}
		if ferr, ok := err.(*types.Error); ok && ferr.NodeID == "" {
			ferr.WithNode(spec.ID, inst.Turn)
		}
		if !types.IsRetryable(err) || attempt >= e.retry.MaxRetries || tokens > 0 {
			return nil, err
		}

		attempt++
		e.metrics.NodeRetried()
		backoff := e.retry.Backoff(attempt)
		e.logger.Warn("retrying node after transient failure",
			zap.String("instance_id", inst.ID),
			zap.String("node_id", spec.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if serr := sleep(ctx, backoff); serr != nil {
			return nil, types.NewError(types.ErrTurnCanceled, "turn canceled during retry backoff").
				WithCause(serr).WithNode(spec.ID, inst.Turn)
		}
	}
}

// suspendForConfirmation commits the suspended state, announces the pending
// invocation, and blocks until it is confirmed, rejected, expired, or the
// turn is canceled. On return the invocation is settled and the instance is
// committed back to running.
func (e *Engine) suspendForConfirmation(ctx context.Context, inst *flow.FlowInstance, nodeID string, confirm *types.ToolInvocation, stream *TurnStream) error {
	expires := time.Now().Add(e.confirmTimeout)
	confirm.ExpiresAt = &expires
	e.updateInvocation(inst, confirm.ID, func(inv *types.ToolInvocation) {
		inv.Title = confirm.Title
		inv.Description = confirm.Description
		inv.ExpiresAt = confirm.ExpiresAt
	})
	// Without observers (replay) there is nobody to confirm; the invocation
	// expires immediately and the node resumes on the rejected path.
	if stream == nil {
		e.updateInvocation(inst, confirm.ID, func(inv *types.ToolInvocation) {
			inv.Status = types.InvocationExpired
		})
		e.metrics.ConfirmationResolved("timeout")
		return nil
	}

	// The waiter is registered before the suspended status is visible, so a
	// caller reacting to GetInstance can never hit a window where the
	// confirmation is not yet accepting verdicts.
	wait := e.confirmations.register(confirm.ID)

	inst.Pending = confirm
	inst.Status = flow.StatusSuspended
	inst.CurrentNode = nodeID
	if err := e.commit(ctx, inst); err != nil {
		e.confirmations.drop(confirm.ID)
		return err
	}

	stream.emit(TurnEvent{
		Type:       EventConfirmationRequired,
		InstanceID: inst.ID,
		Turn:       inst.Turn,
		NodeID:     nodeID,
		Invocation: confirm,
	})
	e.logger.Info("turn suspended for confirmation",
		zap.String("instance_id", inst.ID),
		zap.String("invocation_id", confirm.ID),
		zap.String("tool", confirm.ToolName),
		zap.Time("expires_at", expires),
	)

	timer := time.NewTimer(e.confirmTimeout)
	defer timer.Stop()

	var status types.InvocationStatus
	select {
	case resp := <-wait:
		if resp.Approve {
			status = types.InvocationApproved
			e.metrics.ConfirmationResolved("approved")
		} else {
			status = types.InvocationRejected
			e.metrics.ConfirmationResolved("rejected")
		}
	case <-timer.C:
		e.confirmations.drop(confirm.ID)
		// resolve sends under the lock drop takes, so a verdict accepted
		// before the drop is already buffered here and must win over expiry.
		select {
		case resp := <-wait:
			if resp.Approve {
				status = types.InvocationApproved
				e.metrics.ConfirmationResolved("approved")
			} else {
				status = types.InvocationRejected
				e.metrics.ConfirmationResolved("rejected")
			}
		default:
			status = types.InvocationExpired
			e.metrics.ConfirmationResolved("timeout")
			e.logger.Warn("confirmation timed out, invocation auto-rejected",
				zap.String("instance_id", inst.ID),
				zap.String("invocation_id", confirm.ID),
			)
		}
	case <-ctx.Done():
		e.confirmations.drop(confirm.ID)
		// Settle the invocation so a later turn does not inherit it as a
		// pending entry the tool node was never asked about.
		e.settleInvocation(inst, confirm.ID, types.InvocationExpired, "",
			"turn canceled while awaiting confirmation")
		inst.Pending = nil
		return types.NewError(types.ErrTurnCanceled, "turn canceled while suspended").
			WithCause(ctx.Err()).WithNode(nodeID, inst.Turn)
	}

	// ResolvedAt stays nil here: the verdict is recorded, but the invocation
	// is settled only once the tool node has processed it and produced its
	// route.
	e.updateInvocation(inst, confirm.ID, func(inv *types.ToolInvocation) {
		inv.Status = status
	})
	inst.Status = flow.StatusRunning
	inst.Pending = nil
	return e.commit(ctx, inst)
}

// enqueueToolCalls records requested tool invocations in arrival order.
func (e *Engine) enqueueToolCalls(inst *flow.FlowInstance, nodeID string, calls []types.ToolCall) {
	for _, call := range calls {
		id := call.ID
		if id == "" {
			id = uuid.NewString()
		}
		inst.ToolLog = append(inst.ToolLog, types.ToolInvocation{
			ID:          id,
			NodeID:      nodeID,
			ToolName:    call.Name,
			Arguments:   call.Arguments,
			Status:      types.InvocationPending,
			RequestedAt: time.Now(),
		})
	}
}

// nextInvocation returns a copy of the oldest tool invocation the tool node
// has not yet processed. An invocation counts as processed once ResolvedAt
// is set, which happens when the node's route for it is committed.
func (e *Engine) nextInvocation(inst *flow.FlowInstance) *types.ToolInvocation {
	for i := range inst.ToolLog {
		if inst.ToolLog[i].ResolvedAt == nil {
			inv := inst.ToolLog[i]
			return &inv
		}
	}
	return nil
}

// applyInvocationResult settles the invocation the tool node just handled.
func (e *Engine) applyInvocationResult(inst *flow.FlowInstance, invocationID string, result *node.Result) {
	switch result.Route {
	case types.RouteExecuted:
		output := ""
		if n := len(result.Messages); n > 0 {
			output = result.Messages[n-1].Content
		}
		e.settleInvocation(inst, invocationID, types.InvocationExecuted, output, "")
	case types.RouteRejected:
		e.updateInvocation(inst, invocationID, func(inv *types.ToolInvocation) {
			now := time.Now()
			if inv.Status != types.InvocationExpired {
				inv.Status = types.InvocationRejected
			}
			inv.ResolvedAt = &now
		})
	}
}

func (e *Engine) settleInvocation(inst *flow.FlowInstance, invocationID string, status types.InvocationStatus, result, errText string) {
	now := time.Now()
	e.updateInvocation(inst, invocationID, func(inv *types.ToolInvocation) {
		inv.Status = status
		inv.Result = result
		inv.Error = errText
		inv.ResolvedAt = &now
	})
}

func (e *Engine) updateInvocation(inst *flow.FlowInstance, invocationID string, fn func(*types.ToolInvocation)) {
	for i := range inst.ToolLog {
		if inst.ToolLog[i].ID == invocationID {
			fn(&inst.ToolLog[i])
			return
		}
	}
}

// saveCheckpoint persists the node-boundary checkpoint. A store failure is
// logged but does not fail the turn; replay can rebuild the checkpoint from
// the execution log.
func (e *Engine) saveCheckpoint(ctx context.Context, inst *flow.FlowInstance, nodeID string) {
	cp := &flow.Checkpoint{
		ID:             uuid.NewString(),
		InstanceID:     inst.ID,
		DefinitionID:   inst.DefinitionID,
		ExecutionIndex: len(inst.Executions),
		NodeID:         nodeID,
		Turn:           inst.Turn,
		Messages:       append([]types.Message(nil), inst.Messages...),
		State:          inst.State.Clone(),
		Overrides:      inst.Overrides.Clone(),
		ToolLog:        append([]types.ToolInvocation(nil), inst.ToolLog...),
		CreatedAt:      time.Now(),
	}
	if err := e.stores.Checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		e.logger.Error("checkpoint save failed",
			zap.String("instance_id", inst.ID),
			zap.String("node_id", nodeID),
			zap.Int("execution_index", cp.ExecutionIndex),
			zap.Error(err),
		)
		return
	}
	e.metrics.CheckpointSaved()
}

// commit persists the instance. Commits happen only at node boundaries and
// lifecycle transitions, so a crash or cancellation between commits leaves
// the last fully-committed state with no partial log entries.
func (e *Engine) commit(ctx context.Context, inst *flow.FlowInstance) error {
	inst.UpdatedAt = time.Now()
	if err := e.stores.Instances.SaveInstance(ctx, inst); err != nil {
		return types.NewError(types.ErrInvalidState,
			fmt.Sprintf("persist instance %s", inst.ID)).WithCause(err)
	}
	return nil
}

// failTurn records the error on the instance and persists the error status.
// It returns the error for the caller's terminal event.
func (e *Engine) failTurn(ctx context.Context, inst *flow.FlowInstance, cause error) error {
	code := types.GetErrorCode(cause)
	if code == "" {
		code = types.ErrNodeFatal
	}
	nodeID := inst.CurrentNode
	if ferr, ok := cause.(*types.Error); ok && ferr.NodeID != "" {
		nodeID = ferr.NodeID
	}
	inst.Status = flow.StatusError
	inst.Pending = nil
	inst.LastError = &flow.ErrorInfo{
		Code:    code,
		Message: cause.Error(),
		NodeID:  nodeID,
		Turn:    inst.Turn,
	}
	// Persist with a background-derived context so cancellation does not
	// swallow the terminal status write.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.commit(saveCtx, inst); err != nil {
		e.logger.Error("failed to persist error status",
			zap.String("instance_id", inst.ID),
			zap.Error(err),
		)
	}
	return cause
}

// finishTurn emits the terminal event and records the turn outcome.
func (e *Engine) finishTurn(inst *flow.FlowInstance, stream *TurnStream, err error) {
	ev := TurnEvent{
		Type:       EventTerminal,
		InstanceID: inst.ID,
		Turn:       inst.Turn,
		Status:     inst.Status,
	}
	if err != nil {
		ev.ErrorCode = types.GetErrorCode(err)
		if ev.ErrorCode == "" {
			ev.ErrorCode = types.ErrNodeFatal
		}
		ev.Error = err.Error()
	}
	stream.emit(ev)
	e.metrics.TurnFinished(string(inst.Status))
}

func (e *Engine) acquireInstance(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.active[id]; busy {
		return false
	}
	e.active[id] = struct{}{}
	return true
}

func (e *Engine) releaseInstance(id string) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}
