// Package poller drives round progression for the local agent. Every round
// the agent has moved in, or has been told about by a signal, is polled
// with TryCloseRound on a fixed interval until it advances or the game
// ends. Polling is the only convergence mechanism; signals just add rounds
// to the watch list sooner.
package poller

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/events"
	"github.com/tolelom/commons/game"
	"github.com/tolelom/commons/storage"
)

// Poller closes rounds on behalf of one agent.
type Poller struct {
	engine *game.Engine
	agent  core.AgentID

	mu      sync.Mutex
	watched map[string]struct{}
}

// New creates a Poller for agent and subscribes it to emitter.
func New(engine *game.Engine, agent core.AgentID, emitter *events.Emitter) *Poller {
	p := &Poller{
		engine:  engine,
		agent:   agent,
		watched: make(map[string]struct{}),
	}
	emitter.Subscribe(events.EventOp, p.onOp)
	emitter.Subscribe(events.EventSignal, p.onSignal)
	return p
}

// Watch adds a round to the poll list.
func (p *Poller) Watch(roundRef string) {
	if roundRef == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watched[roundRef] = struct{}{}
}

// Watched returns the rounds currently being polled, sorted.
func (p *Poller) Watched() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.watched))
	for ref := range p.watched {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}

func (p *Poller) forget(roundRef string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watched, roundRef)
}

// onOp watches the round of every move the local agent writes.
func (p *Poller) onOp(ev events.Event) {
	op, _ := ev.Data["op"].(*storage.Op)
	if op == nil || op.Kind != storage.OpWrite || op.Entry.Type != core.EntryMove {
		return
	}
	if op.Action.Author != p.agent {
		return
	}
	var m core.Move
	if err := op.Entry.Decode(core.EntryMove, &m); err != nil {
		return
	}
	p.Watch(m.RoundHash)
}

// onSignal watches rounds announced to the local agent.
func (p *Poller) onSignal(ev events.Event) {
	sig, ok := events.SignalOf(ev)
	if !ok || !sig.Addressed(p.agent) {
		return
	}
	switch sig.Name {
	case events.SignalStartGame, events.SignalStartNextRound:
		p.Watch(sig.RoundRef)
	}
}

// Tick polls every watched round once. Rounds that advanced or whose game
// ended are dropped; rounds not yet replicated stay on the list.
func (p *Poller) Tick(ctx context.Context) []*core.RoundProgress {
	var out []*core.RoundProgress
	for _, ref := range p.Watched() {
		prog, err := p.engine.TryCloseRound(ctx, p.agent, ref)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			log.Printf("[poller] drop round %s: %v", short(ref), err)
			p.forget(ref)
			continue
		}
		out = append(out, prog)
		switch prog.Status {
		case core.ProgressWaiting:
		case core.ProgressAdvance:
			log.Printf("[poller] round %s closed, now round %d", short(ref), prog.RoundNum)
			p.forget(ref)
		case core.ProgressTerminate:
			log.Printf("[poller] round %s closed, game %s", short(ref), prog.Outcome)
			p.forget(ref)
		}
	}
	return out
}

// Run starts the poll loop with the given interval. It blocks until done
// is closed.
func (p *Poller) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.Tick(context.Background())
		}
	}
}

func short(ref string) string {
	if len(ref) > 12 {
		return ref[:12]
	}
	return ref
}
