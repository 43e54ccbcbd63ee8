package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/game"
)

var (
	// ErrUnauthorized is returned when a call's signature does not verify.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnknownFunction is returned for a function nobody registered.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrReplay is returned for a call outside the accepted time window or
	// one already executed.
	ErrReplay = errors.New("replayed call")
)

const (
	maxCallAge    = int64(time.Hour)
	maxCallFuture = int64(5 * time.Minute)
	maxSeenCalls  = 100_000
)

// Context is passed to every Handler. Caller is the verified identity of
// the call's signer, never taken from the payload.
type Context struct {
	Ctx    context.Context
	Caller core.AgentID
	Call   *core.Call
	Engine *game.Engine
}

// Executor verifies signed calls and runs them through the global registry.
type Executor struct {
	engine *game.Engine
	now    func() int64

	mu   sync.Mutex
	seen map[string]int64 // call ID -> call timestamp
}

// NewExecutor creates an Executor for engine.
func NewExecutor(engine *game.Engine) *Executor {
	return &Executor{
		engine: engine,
		now:    func() int64 { return time.Now().UnixNano() },
		seen:   make(map[string]int64),
	}
}

// Engine returns the engine calls run against.
func (e *Executor) Engine() *game.Engine { return e.engine }

// Execute verifies call and dispatches it. The caller identity handed to
// the operation is call.From, which the signature proves.
func (e *Executor) Execute(ctx context.Context, call *core.Call) (any, error) {
	if call == nil {
		return nil, fmt.Errorf("%w: nil call", core.ErrInvalidInput)
	}
	if err := call.Verify(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if err := e.admit(call); err != nil {
		return nil, err
	}
	return globalRegistry.Execute(call.Function, &Context{
		Ctx:    ctx,
		Caller: call.From,
		Call:   call,
		Engine: e.engine,
	}, call.Payload)
}

// admit enforces the timestamp window and rejects a call ID seen within it.
func (e *Executor) admit(call *core.Call) error {
	now := e.now()
	if now-call.Timestamp > maxCallAge {
		return fmt.Errorf("%w: call expired", ErrReplay)
	}
	if call.Timestamp-now > maxCallFuture {
		return fmt.Errorf("%w: call timestamp too far in the future", ErrReplay)
	}
	id := call.Hash()

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.seen[id]; dup {
		return fmt.Errorf("%w: %s", ErrReplay, id)
	}
	if len(e.seen) >= maxSeenCalls {
		e.pruneLocked(now)
	}
	e.seen[id] = call.Timestamp
	return nil
}

// pruneLocked forgets calls that are old enough to fail the window check.
func (e *Executor) pruneLocked(now int64) {
	for id, ts := range e.seen {
		if now-ts > maxCallAge {
			delete(e.seen, id)
		}
	}
}
