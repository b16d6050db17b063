package node

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gateflow/gateflow/flow"
	"github.com/gateflow/gateflow/types"
)

// Built-in node kinds. The kind set is closed at registration time: every
// kind a definition references must be registered, with its legal route
// labels declared, before the definition validates.
const (
	KindGate     = "gate"
	KindGenerate = "generate"
	KindTool     = "tool"
)

// registration pairs a node implementation with the route labels its kind
// may produce.
type registration struct {
	node   Node
	routes []string
}

// Registry maps node kinds to implementations. Kinds are checked at
// definition-validation time, not at invocation time.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]registration),
		logger:  logger.With(zap.String("component", "node_registry")),
	}
}

// Register adds a node kind with its declared route labels. Registering the
// same kind twice is an error: the kind set is closed once assembled.
func (r *Registry) Register(n Node, routes []string) error {
	kind := n.Kind()
	if kind == "" {
		return fmt.Errorf("node kind cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[kind]; exists {
		return fmt.Errorf("node kind %q already registered", kind)
	}
	r.entries[kind] = registration{node: n, routes: append([]string(nil), routes...)}
	r.logger.Debug("node kind registered",
		zap.String("kind", kind),
		zap.Strings("routes", routes),
	)
	return nil
}

// RegisterBuiltins registers the gate, generate, and tool kinds backed by
// the given completer and tool set.
func (r *Registry) RegisterBuiltins(completer Completer, tools *ToolSet) error {
	gateRoutes := make([]string, 0, 4)
	for _, d := range types.GateDecisions() {
		gateRoutes = append(gateRoutes, d.Route())
	}
	if err := r.Register(NewGateNode(completer, r.logger), gateRoutes); err != nil {
		return err
	}
	if err := r.Register(NewGenerateNode(completer, r.logger), []string{types.RouteDone, types.RouteToolRequest}); err != nil {
		return err
	}
	return r.Register(NewToolNode(tools, r.logger), []string{types.RouteExecuted, types.RouteRejected})
}

// HandlesInvocations reports whether a kind consumes pending tool
// invocations, indicated by the EXECUTED route in its declared label set.
// Kinds that do not handle invocations never receive one and never hold a
// turn waiting for unresolved entries.
func (r *Registry) HandlesInvocations(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, route := range r.entries[kind].routes {
		if route == types.RouteExecuted {
			return true
		}
	}
	return false
}

// Resolve returns the node implementation for a kind.
func (r *Registry) Resolve(kind string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[kind]
	return entry.node, ok
}

// Routes returns the declared route-label sets for definition validation.
func (r *Registry) Routes() flow.RouteSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	routes := make(flow.RouteSet, len(r.entries))
	for kind, entry := range r.entries {
		routes[kind] = append([]string(nil), entry.routes...)
	}
	return routes
}
