package indexer

import (
	"context"
	"reflect"
	"testing"

	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/events"
	"github.com/tolelom/commons/game"
	"github.com/tolelom/commons/internal/testutil"
	"github.com/tolelom/commons/storage"
)

func TestSessionsByPlayer(t *testing.T) {
	em := events.NewEmitter()
	db := testutil.NewMemDB()
	idx := New(db, em)
	l, err := storage.NewLedger(db, em)
	if err != nil {
		t.Fatal(err)
	}
	eng := game.New(l, em)

	r0, err := eng.NewSession(context.Background(), "alice", []core.AgentID{"alice", "bob"}, core.DefaultGameParams(), "")
	if err != nil {
		t.Fatal(err)
	}
	r, _ := eng.Round(r0)

	// Ending the game updates the session; the index keeps the original ref.
	if _, err := eng.EndGame(context.Background(), "alice", r.Session, r0, core.RoundState{ResourcesLeft: 1}); err != nil {
		t.Fatal(err)
	}

	for _, p := range []core.AgentID{"alice", "bob"} {
		got, err := idx.GetSessionsByPlayer(p)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, []string{r.Session}) {
			t.Errorf("%s: got %v want [%s]", p, got, r.Session)
		}
	}
	if got, _ := idx.GetSessionsByPlayer("carol"); len(got) != 0 {
		t.Errorf("carol: %v", got)
	}
}

func TestReplicatedSessionIndexedOnce(t *testing.T) {
	src := testutil.NewLedger(nil)
	_, _ = game.New(src, nil).NewSession(context.Background(), "alice", []core.AgentID{"alice"}, core.DefaultGameParams(), "")

	em := events.NewEmitter()
	db := testutil.NewMemDB()
	idx := New(db, em)
	dst, _ := storage.NewLedger(db, em)

	ops, _, _ := src.OpsSince(0, 100)
	for i := 0; i < 2; i++ {
		for _, op := range ops {
			if _, err := dst.Apply(op); err != nil {
				t.Fatal(err)
			}
		}
	}
	got, _ := idx.GetSessionsByPlayer("alice")
	if len(got) != 1 {
		t.Errorf("want one indexed session, got %v", got)
	}
}
