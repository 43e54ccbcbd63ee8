package rules

import (
	"fmt"
	"math"

	"github.com/tolelom/commons/core"
)

// CalculateNextState applies one round of consumption and regrowth to prev.
//
// The pool left after consumption is scaled by the regeneration factor in
// float32 and truncated toward zero. player_stats holds only this round's
// amounts. Any value leaving int32 range is an ErrArithmetic.
func CalculateNextState(prev core.RoundState, params core.GameParams, moves []core.Move) (core.RoundState, error) {
	var consumed int32
	stats := make(core.PlayerStats, len(moves))
	for _, m := range moves {
		sum, ok := add32(consumed, m.ResourceAmount)
		if !ok {
			return core.RoundState{}, fmt.Errorf("%w: consumed %d + %d", core.ErrArithmetic, consumed, m.ResourceAmount)
		}
		consumed = sum
		stats[m.Owner] = m.ResourceAmount
	}

	post, ok := sub32(prev.ResourcesLeft, consumed)
	if !ok {
		return core.RoundState{}, fmt.Errorf("%w: resources_left %d - consumed %d", core.ErrArithmetic, prev.ResourcesLeft, consumed)
	}

	total, err := regenerate(post, params.RegenerationFactor)
	if err != nil {
		return core.RoundState{}, err
	}

	grown, ok := sub32(total, post)
	if !ok {
		return core.RoundState{}, fmt.Errorf("%w: grown %d - %d", core.ErrArithmetic, total, post)
	}

	return core.RoundState{
		ResourcesLeft:  total,
		ResourcesTaken: consumed,
		ResourcesGrown: grown,
		PlayerStats:    stats,
	}, nil
}

// regenerate returns trunc(float32(post) * factor).
func regenerate(post int32, factor float32) (int32, error) {
	scaled := float32(float32(post) * factor)
	f := float64(scaled)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %d * %v is not finite", core.ErrArithmetic, post, factor)
	}
	t := math.Trunc(f)
	if t < math.MinInt32 || t > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d * %v overflows int32", core.ErrArithmetic, post, factor)
	}
	return int32(t), nil
}

func add32(a, b int32) (int32, bool) {
	s := int64(a) + int64(b)
	if s < math.MinInt32 || s > math.MaxInt32 {
		return 0, false
	}
	return int32(s), true
}

func sub32(a, b int32) (int32, bool) {
	d := int64(a) - int64(b)
	if d < math.MinInt32 || d > math.MaxInt32 {
		return 0, false
	}
	return int32(d), true
}

// CanAdvance reports whether the round after roundNum should be played:
// there is a next round index and the pool is not exhausted.
func CanAdvance(roundNum uint32, params core.GameParams, next core.RoundState) bool {
	return uint64(roundNum)+1 < uint64(params.NumRounds) && next.ResourcesLeft > 0
}

// TerminalStatus is the status a session ends with after lastRound.
func TerminalStatus(lastRound string, final core.RoundState) core.SessionStatus {
	if final.ResourcesLeft <= 0 {
		return core.Lost(lastRound)
	}
	return core.Finished(lastRound)
}
