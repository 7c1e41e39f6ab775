package vm

import (
	"fmt"
	"sync"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/events"
)

// Context is passed to every Handler: the staged state, the validator
// registry (for RegisterValidator/UnregisterValidator), the block the
// transaction executes in, the transaction itself, and the event emitter.
type Context struct {
	State      core.State
	Validators core.ValidatorRegistry
	Block      *core.Block
	Tx         *core.Transaction
	Emitter    *events.Emitter
}

// Handler applies one transaction variant's effect to the staged state.
type Handler func(ctx *Context, data core.TxData) error

// Registry maps TxTypes to Handlers. Thread-safe for concurrent registration.
type Registry struct {
	mu       sync.RWMutex
	handlers map[core.TxType]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[core.TxType]Handler)}
}

// Register associates typ with h. Panics on duplicate registration.
func (r *Registry) Register(typ core.TxType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[typ]; exists {
		panic(fmt.Sprintf("vm: handler already registered for TxType %q", typ))
	}
	r.handlers[typ] = h
}

// Execute dispatches data to the handler registered for its tag.
func (r *Registry) Execute(ctx *Context, data core.TxData) error {
	r.mu.RLock()
	h, ok := r.handlers[data.Tag()]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("vm: no handler registered for TxType %q", data.Tag())
	}
	return h(ctx, data)
}

// globalRegistry is the package-level singleton that modules register into.
var globalRegistry = NewRegistry()

// Register adds a handler to the global registry. Module init() functions
// call this to self-register.
func Register(typ core.TxType, h Handler) {
	globalRegistry.Register(typ, h)
}

// Dispatch runs data through the global registry.
func Dispatch(ctx *Context, data core.TxData) error {
	return globalRegistry.Execute(ctx, data)
}
