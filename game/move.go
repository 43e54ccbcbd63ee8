package game

import (
	"context"
	"fmt"
	"sort"

	"github.com/tolelom/commons/core"
)

// SubmitMove records the caller's consumption for a round. It does not
// check that the round is still open or clamp the amount; a move for a
// closed round is simply never counted.
func (e *Engine) SubmitMove(_ context.Context, caller core.AgentID, roundRef string, amount core.ResourceAmount) (string, error) {
	if _, err := e.Round(roundRef); err != nil {
		return "", err
	}
	m := core.Move{Owner: caller, RoundHash: roundRef, ResourceAmount: amount}
	ref, err := e.ledger.Create(caller, core.EntryMove, m)
	if err != nil {
		return "", fmt.Errorf("create move: %w", err)
	}
	if err := e.ledger.Link(caller, roundRef, ref, core.TagGameMove); err != nil {
		return "", fmt.Errorf("link move: %w", err)
	}
	return ref, nil
}

// ListMoves returns the moves linked from a round, ordered by move
// reference. A move only counts when it names this round and was linked by
// its own owner. Moves that have not replicated yet are skipped.
func (e *Engine) ListMoves(_ context.Context, roundRef string) ([]core.Move, error) {
	links, err := e.ledger.Links(roundRef, core.TagGameMove)
	if err != nil {
		return nil, err
	}
	type keyed struct {
		ref string
		m   core.Move
	}
	seen := make(map[string]bool, len(links))
	var found []keyed
	for _, l := range links {
		if seen[l.Target] {
			continue
		}
		entry, err := e.ledger.Get(l.Target)
		if missing(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var m core.Move
		if err := entry.Decode(core.EntryMove, &m); err != nil {
			return nil, err
		}
		if m.RoundHash != roundRef || m.Owner != l.Author {
			continue
		}
		seen[l.Target] = true
		found = append(found, keyed{ref: l.Target, m: m})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ref < found[j].ref })

	out := make([]core.Move, len(found))
	for i, k := range found {
		out[i] = k.m
	}
	return out, nil
}
