// Package rules holds the pure round arithmetic: move aggregation, the next
// round state and the continuation decision. Nothing here touches storage,
// so every node computes bit-identical results from the same inputs.
package rules

import "github.com/tolelom/commons/core"

// Finalize checks that every expected player has moved and keeps one move
// per author, the first encountered in input order. The result holds exactly
// expected moves; authors past the first expected are dropped. It reports
// false when fewer than expected distinct authors are present.
func Finalize(moves []core.Move, expected int) ([]core.Move, bool) {
	if expected <= 0 || len(moves) < expected {
		return nil, false
	}
	seen := make(map[core.AgentID]bool, expected)
	out := make([]core.Move, 0, expected)
	for _, m := range moves {
		if seen[m.Owner] {
			continue
		}
		seen[m.Owner] = true
		out = append(out, m)
		if len(out) == expected {
			break
		}
	}
	if len(out) < expected {
		return nil, false
	}
	return out, true
}

// FromPlayers keeps the moves whose owner is one of players, preserving order.
func FromPlayers(moves []core.Move, players []core.AgentID) []core.Move {
	allowed := make(map[core.AgentID]bool, len(players))
	for _, p := range players {
		allowed[p] = true
	}
	out := moves[:0:0]
	for _, m := range moves {
		if allowed[m.Owner] {
			out = append(out, m)
		}
	}
	return out
}
