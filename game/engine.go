// Package game runs the commons game on top of a core.Ledger: game codes
// and player profiles, sessions, moves and round progression. Every
// operation takes the caller's identity explicitly.
package game

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/events"
)

const tracerName = "github.com/tolelom/commons/game"

// Engine executes game operations against a ledger. It holds no game state
// of its own; everything is read back from the ledger on each call.
type Engine struct {
	ledger   core.Ledger
	emitter  *events.Emitter
	defaults core.GameParams
	tracer   trace.Tracer
	now      func() int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaults sets the parameters used by StartSessionWithCode.
func WithDefaults(p core.GameParams) Option {
	return func(e *Engine) { e.defaults = p }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock overrides the session creation clock.
func WithClock(now func() int64) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. emitter may be nil, in which case no signals or
// events are sent.
func New(ledger core.Ledger, emitter *events.Emitter, opts ...Option) *Engine {
	e := &Engine{
		ledger:   ledger,
		emitter:  emitter,
		defaults: core.DefaultGameParams(),
		now:      func() int64 { return time.Now().UnixNano() },
	}
	for _, o := range opts {
		o(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// Defaults returns the parameters new sessions start with.
func (e *Engine) Defaults() core.GameParams { return e.defaults }

// Ledger returns the underlying ledger.
func (e *Engine) Ledger() core.Ledger { return e.ledger }

// Round returns the round stored at ref.
func (e *Engine) Round(ref string) (*core.Round, error) {
	entry, err := e.ledger.Get(ref)
	if err != nil {
		return nil, fmt.Errorf("round: %w", err)
	}
	var r core.Round
	if err := entry.Decode(core.EntryRound, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Session resolves ref to the session's current version.
func (e *Engine) Session(ref string) (*core.SessionView, error) {
	head, err := e.ledger.Latest(ref)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	entry, err := e.ledger.Get(head)
	if err != nil {
		return nil, fmt.Errorf("session head: %w", err)
	}
	var s core.Session
	if err := entry.Decode(core.EntrySession, &s); err != nil {
		return nil, err
	}
	return &core.SessionView{Ref: ref, Head: head, Session: &s}, nil
}

// CurrentRound returns the head of the session's round chain.
func (e *Engine) CurrentRound(sessionRef string) (string, *core.Round, error) {
	links, err := e.ledger.Links(sessionRef, core.TagGameRound)
	if err != nil {
		return "", nil, err
	}
	if len(links) == 0 {
		return "", nil, fmt.Errorf("round zero of session %s: %w", short(sessionRef), core.ErrNotFound)
	}
	head, err := e.ledger.Latest(links[0].Target)
	if err != nil {
		return "", nil, err
	}
	r, err := e.Round(head)
	if err != nil {
		return "", nil, err
	}
	return head, r, nil
}

func (e *Engine) notify(sig events.Signal) {
	events.Notify(e.emitter, sig)
}

func (e *Engine) emit(ev events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// missing reports whether err means a record has not arrived yet.
func missing(err error) bool {
	return errors.Is(err, core.ErrNotFound)
}

func short(ref string) string {
	if len(ref) > 12 {
		return ref[:12]
	}
	return ref
}

func except(players []core.AgentID, who core.AgentID) []core.AgentID {
	out := make([]core.AgentID, 0, len(players))
	for _, p := range players {
		if p != who {
			out = append(out, p)
		}
	}
	return out
}
