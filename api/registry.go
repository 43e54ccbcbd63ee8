// Package api dispatches signed calls to the public game operations.
// Operation modules register their handlers from init, so a binary enables
// an operation by importing its module.
package api

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tolelom/commons/core"
)

// Handler runs one public operation. The returned value is encoded as the
// call result.
type Handler func(ctx *Context, payload json.RawMessage) (any, error)

// Registry maps function names to Handlers. Thread-safe for concurrent
// registration.
type Registry struct {
	mu       sync.RWMutex
	handlers map[core.Function]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[core.Function]Handler)}
}

// Register associates fn with h. Panics on duplicate registration.
func (r *Registry) Register(fn core.Function, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[fn]; exists {
		panic(fmt.Sprintf("api: handler already registered for %q", fn))
	}
	r.handlers[fn] = h
}

// Execute dispatches payload to the handler registered for fn.
func (r *Registry) Execute(fn core.Function, ctx *Context, payload json.RawMessage) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[fn]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, fn)
	}
	return h(ctx, payload)
}

// Functions lists the registered function names in sorted order.
func (r *Registry) Functions() []core.Function {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Function, 0, len(r.handlers))
	for fn := range r.handlers {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// globalRegistry is the package-level singleton that modules register into.
var globalRegistry = NewRegistry()

// Register adds a handler to the global registry.
// Module init() functions call this to self-register.
func Register(fn core.Function, h Handler) {
	globalRegistry.Register(fn, h)
}

// Functions lists the operations registered in the global registry.
func Functions() []core.Function {
	return globalRegistry.Functions()
}

// Decode unmarshals a call payload, mapping failures to ErrInvalidInput.
func Decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing payload", core.ErrInvalidInput)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: payload: %v", core.ErrInvalidInput, err)
	}
	return nil
}
