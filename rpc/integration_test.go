package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/tolelom/commons/api"
	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/events"
	"github.com/tolelom/commons/game"
	"github.com/tolelom/commons/indexer"
	"github.com/tolelom/commons/internal/testutil"
	"github.com/tolelom/commons/network"
	"github.com/tolelom/commons/poller"
	"github.com/tolelom/commons/storage"
	"github.com/tolelom/commons/wallet"
)

// fullNode is everything cmd/node wires, on loopback ports.
type fullNode struct {
	p2p    *network.Node
	client *Client
	wallet *wallet.Wallet
}

func startFullNode(t *testing.T, id string, w *wallet.Wallet) *fullNode {
	t.Helper()
	em := events.NewEmitter()
	db := testutil.NewMemDB()
	l, err := storage.NewLedger(db, em)
	if err != nil {
		t.Fatal(err)
	}
	eng := game.New(l, em)
	exec := api.NewExecutor(eng)
	idx := indexer.New(db, em)

	p2p := network.NewNode(id, "127.0.0.1:0", nil)
	repl := network.NewReplicator(p2p, l, em)
	if err := p2p.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p2p.Stop)

	srv := NewServer("127.0.0.1:0", NewHandler(exec, idx, p2p), "", NewSignalHub(em))
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go poller.New(eng, w.Agent(), em).Run(20*time.Millisecond, done)
	go repl.Run(200*time.Millisecond, done)

	return &fullNode{p2p: p2p, client: NewClient("http://"+srv.Addr(), ""), wallet: w}
}

func (n *fullNode) exec(t *testing.T, fn core.Function, payload, out any) {
	t.Helper()
	if err := n.client.Execute(context.Background(), signed(t, n.wallet, fn, payload), out); err != nil {
		t.Fatalf("%s: %v", fn, err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestTwoNodeGame plays a full game where each player talks only to their
// own node. Rounds are closed by the nodes' pollers, never by the players.
func TestTwoNodeGame(t *testing.T) {
	ctx := context.Background()
	aw, _ := wallet.Generate()
	bw, _ := wallet.Generate()
	a := startFullNode(t, "a", aw)
	b := startFullNode(t, "b", bw)
	if _, err := b.p2p.AddPeer("a", a.p2p.Addr()); err != nil {
		t.Fatal(err)
	}
	eventually(t, "peering", func() bool { return a.p2p.PeerCount() == 1 && b.p2p.PeerCount() == 1 })

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	bobSignals, err := b.client.Signals(sctx, bw)
	if err != nil {
		t.Fatal(err)
	}

	a.exec(t, core.FnJoinGameWithCode, core.JoinGamePayload{GameCode: "lake", Nickname: "Alice"}, nil)
	b.exec(t, core.FnJoinGameWithCode, core.JoinGamePayload{GameCode: "lake", Nickname: "Bob"}, nil)
	eventually(t, "both profiles on a", func() bool {
		var players []core.PlayerProfile
		call := signed(t, aw, core.FnListPlayersForCode, core.GameCodePayload{GameCode: "lake"})
		return a.client.Execute(ctx, call, &players) == nil && len(players) == 2
	})

	var start core.RefResult
	a.exec(t, core.FnStartSessionWithCode, core.GameCodePayload{GameCode: "lake"}, &start)

	// Bob learns about the game from a signal relayed across the nodes.
	var r0 string
	select {
	case sig := <-bobSignals:
		if sig.Name != events.SignalStartGame {
			t.Fatalf("first signal for bob: %+v", sig)
		}
		r0 = sig.RoundRef
	case <-time.After(10 * time.Second):
		t.Fatal("bob never heard about the game")
	}
	if r0 != start.Ref {
		t.Fatalf("signal round %s, started %s", r0, start.Ref)
	}
	var round core.Round
	eventually(t, "round zero on b", func() bool {
		return b.client.Call(ctx, "getRound", map[string]string{"ref": r0}, &round) == nil
	})
	session := round.Session

	for num := uint32(0); num < 3; num++ {
		for _, n := range []*fullNode{a, b} {
			var cur CurrentRound
			eventually(t, "round on own node", func() bool {
				return n.client.Call(ctx, "getCurrentRound", map[string]string{"ref": session}, &cur) == nil &&
					cur.Round.RoundNum == num
			})
			n.exec(t, core.FnSubmitMove, core.SubmitMovePayload{RoundHash: cur.Ref, ResourceAmount: 2}, nil)
		}
	}

	for _, n := range []*fullNode{a, b} {
		var v core.SessionView
		eventually(t, "game over everywhere", func() bool {
			return n.client.Call(ctx, "getSession", map[string]string{"ref": session}, &v) == nil &&
				v.Session.Status.Kind == core.StatusFinished
		})
		if v.Session.Scores[aw.Agent()] != 2 || v.Session.Scores[bw.Agent()] != 2 {
			t.Errorf("scores: %v", v.Session.Scores)
		}
	}
}
