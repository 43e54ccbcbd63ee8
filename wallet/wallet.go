package wallet

import (
	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/crypto"
)

// Wallet holds an agent's key pair and signs calls on its behalf.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// Agent returns the identity this wallet acts as.
func (w *Wallet) Agent() core.AgentID {
	return core.AgentID(w.pub.Hex())
}

// Short returns an abbreviated identity for display.
func (w *Wallet) Short() string {
	return w.pub.Short()
}

// Sign signs arbitrary bytes, e.g. a websocket hello challenge.
func (w *Wallet) Sign(data []byte) string {
	return crypto.Sign(w.priv, data)
}

// NewCall builds a signed call of fn with payload.
func (w *Wallet) NewCall(fn core.Function, payload any) (*core.Call, error) {
	call, err := core.NewCall(fn, w.Agent(), payload)
	if err != nil {
		return nil, err
	}
	call.Sign(w.priv)
	return call, nil
}

// SubmitMove builds a signed submit_move call.
func (w *Wallet) SubmitMove(roundRef string, amount core.ResourceAmount) (*core.Call, error) {
	return w.NewCall(core.FnSubmitMove, core.SubmitMovePayload{
		RoundHash:      roundRef,
		ResourceAmount: amount,
	})
}

// TryCloseRound builds a signed try_close_round call.
func (w *Wallet) TryCloseRound(roundRef string) (*core.Call, error) {
	return w.NewCall(core.FnTryCloseRound, core.RoundPayload{RoundHash: roundRef})
}
