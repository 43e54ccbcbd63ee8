package game

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/events"
	"github.com/tolelom/commons/rules"
)

// NewSession creates a session owned by caller together with its round
// zero, and returns the round zero reference.
func (e *Engine) NewSession(ctx context.Context, caller core.AgentID, players []core.AgentID, params core.GameParams, anchor string) (ref string, err error) {
	_, span := e.tracer.Start(ctx, "game.NewSession")
	span.SetAttributes(attribute.Int("players", len(players)))
	defer func() { endSpan(span, err) }()

	if len(players) == 0 {
		return "", fmt.Errorf("%w: session needs at least one player", core.ErrInvalidInput)
	}
	seen := make(map[core.AgentID]bool, len(players))
	for _, p := range players {
		if p == "" {
			return "", fmt.Errorf("%w: empty player id", core.ErrInvalidInput)
		}
		if seen[p] {
			return "", fmt.Errorf("%w: player %s listed twice", core.ErrInvalidInput, short(string(p)))
		}
		seen[p] = true
	}
	if err := params.Validate(); err != nil {
		return "", err
	}

	sess := core.Session{
		Owner:      caller,
		Status:     core.InProgress(),
		GameParams: params,
		Players:    players,
		Scores:     core.PlayerStats{},
		Anchor:     anchor,
		CreatedAt:  e.now(),
	}
	sessRef, err := e.ledger.Create(caller, core.EntrySession, sess)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if err := e.ledger.Link(caller, string(caller), sessRef, core.TagMyGames); err != nil {
		return "", fmt.Errorf("link session owner: %w", err)
	}
	if anchor != "" {
		if err := e.ledger.Link(caller, anchor, sessRef, core.TagGameSession); err != nil {
			return "", fmt.Errorf("link session anchor: %w", err)
		}
	}

	round := core.Round{
		RoundNum: 0,
		Session:  sessRef,
		State: core.RoundState{
			ResourcesLeft: params.StartAmount,
			PlayerStats:   core.PlayerStats{},
		},
	}
	roundRef, err := e.ledger.Create(caller, core.EntryRound, round)
	if err != nil {
		return "", fmt.Errorf("create round zero: %w", err)
	}
	if err := e.ledger.Link(caller, sessRef, roundRef, core.TagGameRound); err != nil {
		return "", fmt.Errorf("link round zero: %w", err)
	}
	log.Printf("[game] session %s started by %s with %d players", short(sessRef), short(string(caller)), len(players))

	e.notify(events.Signal{
		Name:       events.SignalStartGame,
		From:       caller,
		To:         except(players, caller),
		SessionRef: sessRef,
		RoundRef:   roundRef,
	})
	return roundRef, nil
}

// EndGame writes the terminal session update after lastRound closed with
// final. If the session has already ended it returns the current head and
// writes nothing.
func (e *Engine) EndGame(ctx context.Context, caller core.AgentID, sessionRef, lastRound string, final core.RoundState) (ref string, err error) {
	_, span := e.tracer.Start(ctx, "game.EndGame")
	span.SetAttributes(attribute.String("session", sessionRef))
	defer func() { endSpan(span, err) }()

	view, err := e.Session(sessionRef)
	if err != nil {
		return "", err
	}
	if view.Session.Status.Terminal() {
		return view.Head, nil
	}

	ended := *view.Session
	ended.Status = rules.TerminalStatus(lastRound, final)
	ended.Scores = make(core.PlayerStats, len(final.PlayerStats))
	for k, v := range final.PlayerStats {
		ended.Scores[k] = v
	}
	ref, err = e.ledger.Update(caller, view.Head, core.EntrySession, ended)
	if err != nil {
		return "", fmt.Errorf("end session: %w", err)
	}
	log.Printf("[game] session %s ended %s (left=%d)", short(sessionRef), ended.Status.Kind, final.ResourcesLeft)

	e.emit(events.Event{
		Type:  events.EventSessionEnded,
		Ref:   ref,
		Agent: caller,
		Data:  map[string]any{"session": sessionRef, "status": string(ended.Status.Kind)},
	})
	e.notify(events.Signal{
		Name:       events.SignalGameOver,
		From:       caller,
		To:         ended.Players,
		SessionRef: sessionRef,
		RoundRef:   lastRound,
	})
	return ref, nil
}
