package core

import (
	"errors"
	"testing"

	"github.com/tolelom/commons/crypto"
)

func TestEntryHashIsContentAddress(t *testing.T) {
	m := Move{Owner: "aa", RoundHash: "r1", ResourceAmount: 5}
	e1, err := NewEntry(EntryMove, m)
	if err != nil {
		t.Fatal(err)
	}
	e2, _ := NewEntry(EntryMove, m)
	if e1.Hash() == "" || e1.Hash() != e2.Hash() {
		t.Fatalf("equal content must share a hash: %q vs %q", e1.Hash(), e2.Hash())
	}
	h, _ := HashOf(EntryMove, Move{Owner: "aa", RoundHash: "r1", ResourceAmount: 6})
	if h == e1.Hash() {
		t.Fatal("different content produced the same hash")
	}
	other, _ := HashOf(EntryRound, m)
	if other == e1.Hash() {
		t.Fatal("entry type must be part of the hash")
	}
}

func TestEntryDecodeChecksType(t *testing.T) {
	e, _ := NewEntry(EntryRound, Round{RoundNum: 2})
	var m Move
	if err := e.Decode(EntryMove, &m); !errors.Is(err, ErrDecode) {
		t.Fatalf("got %v want ErrDecode", err)
	}
	var r Round
	if err := e.Decode(EntryRound, &r); err != nil || r.RoundNum != 2 {
		t.Fatalf("decode round: %v %+v", err, r)
	}
	bad := &Entry{Type: EntryRound, Content: []byte(`{"round_num":"x"}`)}
	if err := bad.Decode(EntryRound, &r); !errors.Is(err, ErrDecode) {
		t.Fatalf("got %v want ErrDecode", err)
	}
}

func TestActionSupersedes(t *testing.T) {
	a := &Action{Hash: "b", Timestamp: 1}
	b := &Action{Hash: "a", Timestamp: 2}
	if !a.Supersedes(b) || b.Supersedes(a) {
		t.Error("earlier timestamp must win")
	}
	c := &Action{Hash: "a", Timestamp: 1}
	if !c.Supersedes(a) {
		t.Error("equal timestamps must fall back to the smaller hash")
	}
}

func TestGameParamsValidate(t *testing.T) {
	tests := []struct {
		name string
		p    GameParams
		ok   bool
	}{
		{"defaults", DefaultGameParams(), true},
		{"zero factor", GameParams{RegenerationFactor: 0, StartAmount: 1, NumRounds: 1}, false},
		{"negative start", GameParams{RegenerationFactor: 1, StartAmount: -1, NumRounds: 1}, false},
		{"no rounds", GameParams{RegenerationFactor: 1, StartAmount: 1, NumRounds: 0}, false},
	}
	for _, tt := range tests {
		err := tt.p.Validate()
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: got %v want ErrInvalidInput", tt.name, err)
		}
	}
}

func TestSessionStatusTerminal(t *testing.T) {
	if InProgress().Terminal() {
		t.Error("in progress is not terminal")
	}
	if !Finished("r").Terminal() || !Lost("r").Terminal() {
		t.Error("finished and lost are terminal")
	}
}

func TestCallSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	call, err := NewCall(FnSubmitMove, AgentID(pub.Hex()), SubmitMovePayload{RoundHash: "r", ResourceAmount: 3})
	if err != nil {
		t.Fatal(err)
	}
	call.Sign(priv)
	if call.ID == "" {
		t.Fatal("ID should be set after signing")
	}
	if err := call.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	_, otherPub, _ := crypto.GenerateKeyPair()
	call.From = AgentID(otherPub.Hex())
	if err := call.Verify(); err == nil {
		t.Error("call re-attributed to another agent should fail verification")
	}
}
