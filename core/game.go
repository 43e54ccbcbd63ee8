package core

import (
	"fmt"
	"math"
)

// ResourceAmount is the unit of the shared pool. All round arithmetic is
// done in 32-bit signed integers.
type ResourceAmount = int32

// PlayerStats maps a player to a resource amount.
type PlayerStats map[AgentID]ResourceAmount

// GameParams is fixed when a session is created.
type GameParams struct {
	RegenerationFactor float32        `json:"regeneration_factor" yaml:"regeneration_factor"`
	StartAmount        ResourceAmount `json:"start_amount" yaml:"start_amount"`
	NumRounds          uint32         `json:"num_rounds" yaml:"num_rounds"`
}

// DefaultGameParams are the parameters a session started from a game code
// uses unless configured otherwise.
func DefaultGameParams() GameParams {
	return GameParams{RegenerationFactor: 1.1, StartAmount: 100, NumRounds: 3}
}

// Validate checks the parameter ranges.
func (p GameParams) Validate() error {
	f := float64(p.RegenerationFactor)
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return fmt.Errorf("%w: regeneration_factor must be > 0, got %v", ErrInvalidInput, p.RegenerationFactor)
	}
	if p.StartAmount < 0 {
		return fmt.Errorf("%w: start_amount must be >= 0, got %d", ErrInvalidInput, p.StartAmount)
	}
	if p.NumRounds < 1 {
		return fmt.Errorf("%w: num_rounds must be >= 1", ErrInvalidInput)
	}
	return nil
}

// StatusKind is the tag of SessionStatus.
type StatusKind string

const (
	StatusInProgress StatusKind = "IN_PROGRESS"
	StatusFinished   StatusKind = "FINISHED" // every round played, resources left
	StatusLost       StatusKind = "LOST"     // resources depleted
)

// SessionStatus is a tagged union: InProgress, or Finished/Lost carrying the
// reference of the last round played.
type SessionStatus struct {
	Kind      StatusKind `json:"kind"`
	LastRound string     `json:"last_round,omitempty"`
}

func InProgress() SessionStatus { return SessionStatus{Kind: StatusInProgress} }

func Finished(lastRound string) SessionStatus {
	return SessionStatus{Kind: StatusFinished, LastRound: lastRound}
}

func Lost(lastRound string) SessionStatus {
	return SessionStatus{Kind: StatusLost, LastRound: lastRound}
}

// Terminal reports whether the session has ended.
func (s SessionStatus) Terminal() bool {
	switch s.Kind {
	case StatusInProgress:
		return false
	case StatusFinished, StatusLost:
		return true
	default:
		return false
	}
}

// Session is one play-through. Status and Scores change once, through an
// update record, when the game ends. CreatedAt keeps two games with the
// same owner, players and parameters from sharing an entry.
type Session struct {
	Owner      AgentID       `json:"owner"`
	Status     SessionStatus `json:"status"`
	GameParams GameParams    `json:"game_params"`
	Players    []AgentID     `json:"players"`
	Scores     PlayerStats   `json:"scores"`
	Anchor     string        `json:"anchor"`
	CreatedAt  int64         `json:"created_at"`
}

// HasPlayer reports whether id is one of the session's players.
func (s *Session) HasPlayer(id AgentID) bool {
	for _, p := range s.Players {
		if p == id {
			return true
		}
	}
	return false
}

// RoundState is the shared pool after a round closed.
type RoundState struct {
	ResourcesLeft  ResourceAmount `json:"resources_left"`
	ResourcesTaken ResourceAmount `json:"resources_taken"`
	ResourcesGrown ResourceAmount `json:"resources_grown"`
	PlayerStats    PlayerStats    `json:"player_stats"`
}

// Round is one decision epoch. Round N+1 is written as an update of round N.
type Round struct {
	RoundNum uint32     `json:"round_num"`
	Session  string     `json:"session"`
	State    RoundState `json:"state"`
}

// Move is one player's consumption decision for one round.
type Move struct {
	Owner          AgentID        `json:"owner"`
	RoundHash      string         `json:"round_hash"`
	ResourceAmount ResourceAmount `json:"resource_amount"`
}

// GameCodesAnchor is the anchor type every game code hangs from.
const GameCodesAnchor = "GAME_CODES"

// Anchor is a well-known entry whose reference anyone can compute from its
// text, so players sharing a short code find the same game.
type Anchor struct {
	AnchorType string `json:"anchor_type"`
	AnchorText string `json:"anchor_text,omitempty"`
}

// PlayerProfile registers a player under a game code.
type PlayerProfile struct {
	PlayerID AgentID `json:"player_id"`
	Nickname string  `json:"nickname"`
}

// ProgressStatus is the outcome of one try_close_round poll.
type ProgressStatus string

const (
	ProgressWaiting   ProgressStatus = "WAITING"
	ProgressAdvance   ProgressStatus = "ADVANCE"
	ProgressTerminate ProgressStatus = "TERMINATE"
)

// RoundProgress reports what a close attempt did. RoundRef is the round
// still collecting moves (WAITING) or the new round (ADVANCE); it is empty
// on TERMINATE, where SessionRef names the updated session instead.
type RoundProgress struct {
	Status         ProgressStatus `json:"status"`
	RoundNum       uint32         `json:"round_num"`
	RoundRef       string         `json:"round_ref,omitempty"`
	SessionRef     string         `json:"session_ref"`
	ResourcesLeft  ResourceAmount `json:"resources_left"`
	ResourcesTaken ResourceAmount `json:"resources_taken"`
	ResourcesGrown ResourceAmount `json:"resources_grown"`
	Outcome        StatusKind     `json:"outcome,omitempty"`
}

// SessionView pairs a session's original reference with its current head.
type SessionView struct {
	Ref     string   `json:"ref"`
	Head    string   `json:"head"`
	Session *Session `json:"session"`
}
