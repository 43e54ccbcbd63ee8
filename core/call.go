package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/commons/crypto"
)

// Function names the public operations a Call can invoke.
type Function string

const (
	FnCreateGameCodeAnchor Function = "create_game_code_anchor"
	FnJoinGameWithCode     Function = "join_game_with_code"
	FnListPlayersForCode   Function = "list_players_for_code"
	FnStartSessionWithCode Function = "start_session_with_code"
	FnListMySessions       Function = "list_my_sessions"
	FnSubmitMove           Function = "submit_move"
	FnTryCloseRound        Function = "try_close_round"
)

// Call is a signed request to run one public operation as From.
// From is the caller's hex-encoded ed25519 public key; the signature covers
// every field except ID and Signature, so the caller cannot be spoofed.
type Call struct {
	ID        string          `json:"id"`
	Function  Function        `json:"function"`
	From      AgentID         `json:"from"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

type callBody struct {
	Function  Function        `json:"function"`
	From      AgentID         `json:"from"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the call (sans ID and Signature).
func (c *Call) Hash() string {
	h, err := crypto.HashJSON(callBody{
		Function:  c.Function,
		From:      c.From,
		Timestamp: c.Timestamp,
		Payload:   c.Payload,
	})
	if err != nil {
		return ""
	}
	return h
}

// Sign computes the signature and sets ID.
func (c *Call) Sign(priv crypto.PrivateKey) {
	hash := c.Hash()
	c.Signature = crypto.Sign(priv, []byte(hash))
	c.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (c *Call) Verify() error {
	if c.From == "" {
		return errors.New("missing from field")
	}
	if err := crypto.VerifyHex(string(c.From), []byte(c.Hash()), c.Signature); err != nil {
		return fmt.Errorf("call %s: %w", c.Function, err)
	}
	return nil
}

// NewCall creates an unsigned call with the current timestamp.
func NewCall(fn Function, from AgentID, payload any) (*Call, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}
	return &Call{
		Function:  fn,
		From:      from,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// GameCodePayload carries a short game code.
type GameCodePayload struct {
	GameCode string `json:"game_code"`
}

// JoinGamePayload registers the caller under a game code.
type JoinGamePayload struct {
	GameCode string `json:"game_code"`
	Nickname string `json:"nickname"`
}

// SubmitMovePayload records the caller's move for a round.
type SubmitMovePayload struct {
	RoundHash      string         `json:"round_hash"`
	ResourceAmount ResourceAmount `json:"resource_amount"`
}

// RoundPayload names a round to close.
type RoundPayload struct {
	RoundHash string `json:"round_hash"`
}

// RefResult is returned by operations that produce a single reference.
type RefResult struct {
	Ref string `json:"ref"`
}
