package events

import (
	"log"
	"sync"

	"github.com/tolelom/commons/core"
)

// EventType labels what happened.
type EventType string

const (
	// EventOp fires for every ledger write that was new to this node,
	// whether it was authored here or arrived from a peer. Data["op"]
	// holds the storage.Op.
	EventOp EventType = "ledger_op"
	// EventSignal carries a best-effort notification. Data["signal"] holds
	// the Signal.
	EventSignal EventType = "signal"
	// EventRoundAdvanced fires after this node wrote round N+1.
	EventRoundAdvanced EventType = "round_advanced"
	// EventSessionEnded fires after this node wrote a terminal session update.
	EventSessionEnded EventType = "session_ended"
)

// Event is what the ledger and the game engine publish after they change
// something. Ref is the record the change produced.
type Event struct {
	Type   EventType      `json:"type"`
	Ref    string         `json:"ref"`
	Agent  core.AgentID   `json:"agent,omitempty"`
	Remote bool           `json:"remote,omitempty"` // arrived from a peer
	Data   map[string]any `json:"data,omitempty"`
}

type Handler func(Event)

// Emitter fans ledger and game events out to the journal, the indexer,
// the poller, the replicator and the signal hub. Wire subscribers before
// the ledger starts writing.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe adds h for typ. Handlers run in subscription order.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit runs every handler for ev.Type on the caller's goroutine, after the
// write is committed. A panicking handler is logged and skipped; the write
// it observed stands.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[events] %s subscriber panicked on %s: %v", ev.Type, short(ev.Ref), r)
				}
			}()
			h(ev)
		}()
	}
}

func short(ref string) string {
	if len(ref) > 12 {
		return ref[:12]
	}
	return ref
}
