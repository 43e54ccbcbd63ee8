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

// TryCloseRound closes a round once every player has moved.
//
// It returns WAITING while moves are missing, ADVANCE with the next round
// once it exists, and TERMINATE once the session has ended. A round that
// lost a sibling race is never closed; the winning head is reported instead. Calling it again
// after a round was closed, on this node or another, writes nothing and
// reports the existing outcome. When two nodes close the same round at once
// both write identical content, so they agree on the result.
func (e *Engine) TryCloseRound(ctx context.Context, caller core.AgentID, roundRef string) (p *core.RoundProgress, err error) {
	ctx, span := e.tracer.Start(ctx, "game.TryCloseRound")
	span.SetAttributes(attribute.String("round", roundRef))
	defer func() {
		if p != nil {
			span.SetAttributes(attribute.String("progress", string(p.Status)))
		}
		endSpan(span, err)
	}()

	round, err := e.Round(roundRef)
	if err != nil {
		return nil, err
	}
	view, err := e.Session(round.Session)
	if err != nil {
		return nil, err
	}
	sess := view.Session

	if sess.Status.Terminal() {
		return &core.RoundProgress{
			Status:     core.ProgressTerminate,
			RoundNum:   round.RoundNum,
			SessionRef: view.Head,
			Outcome:    sess.Status.Kind,
		}, nil
	}

	if head, ok, err := e.winningRound(round.Session, roundRef); err != nil {
		return nil, err
	} else if !ok {
		next, err := e.Round(head)
		if err != nil {
			return nil, err
		}
		return advance(head, next), nil
	}

	ups, err := e.ledger.Updates(roundRef)
	if err != nil {
		return nil, err
	}
	if len(ups) > 0 {
		head, err := e.ledger.Latest(roundRef)
		if err != nil {
			return nil, err
		}
		next, err := e.Round(head)
		if err != nil {
			return nil, err
		}
		return advance(head, next), nil
	}

	moves, err := e.ListMoves(ctx, roundRef)
	if err != nil {
		return nil, err
	}
	final, ok := rules.Finalize(rules.FromPlayers(moves, sess.Players), len(sess.Players))
	if !ok {
		return &core.RoundProgress{
			Status:         core.ProgressWaiting,
			RoundNum:       round.RoundNum,
			RoundRef:       roundRef,
			SessionRef:     round.Session,
			ResourcesLeft:  round.State.ResourcesLeft,
			ResourcesTaken: round.State.ResourcesTaken,
			ResourcesGrown: round.State.ResourcesGrown,
		}, nil
	}

	nextState, err := rules.CalculateNextState(round.State, sess.GameParams, final)
	if err != nil {
		return nil, fmt.Errorf("round %d: %w", round.RoundNum, err)
	}

	if !rules.CanAdvance(round.RoundNum, sess.GameParams, nextState) {
		ref, err := e.EndGame(ctx, caller, round.Session, roundRef, nextState)
		if err != nil {
			return nil, err
		}
		return &core.RoundProgress{
			Status:         core.ProgressTerminate,
			RoundNum:       round.RoundNum,
			SessionRef:     ref,
			ResourcesLeft:  nextState.ResourcesLeft,
			ResourcesTaken: nextState.ResourcesTaken,
			ResourcesGrown: nextState.ResourcesGrown,
			Outcome:        rules.TerminalStatus(roundRef, nextState).Kind,
		}, nil
	}

	next := &core.Round{RoundNum: round.RoundNum + 1, Session: round.Session, State: nextState}
	ref, err := e.ledger.Update(caller, roundRef, core.EntryRound, next)
	if err != nil {
		return nil, fmt.Errorf("advance round %d: %w", round.RoundNum, err)
	}
	log.Printf("[game] session %s: round %d -> %d (left=%d taken=%d grown=%d)",
		short(round.Session), round.RoundNum, next.RoundNum,
		nextState.ResourcesLeft, nextState.ResourcesTaken, nextState.ResourcesGrown)

	e.emit(events.Event{
		Type:  events.EventRoundAdvanced,
		Ref:   ref,
		Agent: caller,
		Data:  map[string]any{"session": round.Session, "round_num": next.RoundNum},
	})
	e.notify(events.Signal{
		Name:       events.SignalStartNextRound,
		From:       caller,
		To:         sess.Players,
		SessionRef: round.Session,
		RoundRef:   ref,
	})
	return advance(ref, next), nil
}

func advance(ref string, r *core.Round) *core.RoundProgress {
	return &core.RoundProgress{
		Status:         core.ProgressAdvance,
		RoundNum:       r.RoundNum,
		RoundRef:       ref,
		SessionRef:     r.Session,
		ResourcesLeft:  r.State.ResourcesLeft,
		ResourcesTaken: r.State.ResourcesTaken,
		ResourcesGrown: r.State.ResourcesGrown,
	}
}

// winningRound walks the session's winning round chain from round zero. It
// reports true when roundRef lies on it, otherwise the chain head. A session
// whose round zero link has not replicated yet is treated as on chain.
func (e *Engine) winningRound(sessionRef, roundRef string) (string, bool, error) {
	links, err := e.ledger.Links(sessionRef, core.TagGameRound)
	if err != nil {
		return "", false, err
	}
	if len(links) == 0 {
		return "", true, nil
	}
	cur := links[0].Target
	seen := map[string]bool{}
	for !seen[cur] {
		if cur == roundRef {
			return "", true, nil
		}
		seen[cur] = true
		ups, err := e.ledger.Updates(cur)
		if err != nil {
			return "", false, err
		}
		if len(ups) == 0 {
			break
		}
		cur = ups[0].EntryHash
	}
	return cur, false, nil
}
