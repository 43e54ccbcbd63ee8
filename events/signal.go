package events

import "github.com/tolelom/commons/core"

// SignalName identifies a notification kind.
type SignalName string

const (
	SignalPlayerJoined   SignalName = "PlayerJoined"
	SignalStartGame      SignalName = "StartGame"
	SignalStartNextRound SignalName = "StartNextRound"
	SignalGameOver       SignalName = "GameOver"
)

// Signal tells players something changed. It is advisory only: players
// converge by polling the ledger, never by relying on a signal arriving.
type Signal struct {
	Name       SignalName          `json:"signal_name"`
	From       core.AgentID        `json:"from"`
	To         []core.AgentID      `json:"to"`
	SessionRef string              `json:"session_ref,omitempty"`
	RoundRef   string              `json:"round_ref,omitempty"`
	Player     *core.PlayerProfile `json:"player,omitempty"`
}

// Addressed reports whether agent is one of the recipients.
func (s *Signal) Addressed(agent core.AgentID) bool {
	for _, to := range s.To {
		if to == agent {
			return true
		}
	}
	return false
}

// Notify emits sig to its recipients. It never fails: an emitter-less
// caller or a signal with no recipients is a no-op.
func Notify(e *Emitter, sig Signal) {
	if e == nil || len(sig.To) == 0 {
		return
	}
	e.Emit(Event{
		Type:  EventSignal,
		Ref:   sig.SessionRef,
		Agent: sig.From,
		Data:  map[string]any{"signal": sig},
	})
}

// SignalOf extracts the Signal carried by an EventSignal event.
func SignalOf(ev Event) (Signal, bool) {
	sig, ok := ev.Data["signal"].(Signal)
	return sig, ok
}
