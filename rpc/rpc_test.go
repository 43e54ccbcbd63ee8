package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tolelom/commons/api"
	_ "github.com/tolelom/commons/api/modules/lobby"
	_ "github.com/tolelom/commons/api/modules/play"
	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/events"
	"github.com/tolelom/commons/game"
	"github.com/tolelom/commons/indexer"
	"github.com/tolelom/commons/internal/testutil"
	"github.com/tolelom/commons/storage"
	"github.com/tolelom/commons/wallet"
)

type fixedPeers int

func (f fixedPeers) PeerCount() int { return int(f) }

type node struct {
	handler *Handler
	emitter *events.Emitter
	ledger  *storage.Ledger
}

func newTestNode(t *testing.T) *node {
	t.Helper()
	em := events.NewEmitter()
	db := testutil.NewMemDB()
	l, err := storage.NewLedger(db, em)
	if err != nil {
		t.Fatal(err)
	}
	idx := indexer.New(db, em)
	exec := api.NewExecutor(game.New(l, em))
	return &node{handler: NewHandler(exec, idx, fixedPeers(3)), emitter: em, ledger: l}
}

func dispatch(h *Handler, method string, params any) Response {
	raw, _ := json.Marshal(params)
	return h.Dispatch(context.Background(), Request{JSONRPC: "2.0", ID: 1, Method: method, Params: raw})
}

func mustOK(t *testing.T, resp Response, out any) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("rpc error: [%d] %s", resp.Error.Code, resp.Error.Message)
	}
	if out == nil {
		return
	}
	raw, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func signed(t *testing.T, w *wallet.Wallet, fn core.Function, payload any) *core.Call {
	t.Helper()
	c, err := w.NewCall(fn, payload)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestDispatchGame(t *testing.T) {
	n := newTestNode(t)
	a, _ := wallet.Generate()
	b, _ := wallet.Generate()

	mustOK(t, dispatch(n.handler, "call", signed(t, a, core.FnJoinGameWithCode, core.JoinGamePayload{GameCode: "k", Nickname: "A"})), nil)
	mustOK(t, dispatch(n.handler, "call", signed(t, b, core.FnJoinGameWithCode, core.JoinGamePayload{GameCode: "k", Nickname: "B"})), nil)

	var start core.RefResult
	mustOK(t, dispatch(n.handler, "call", signed(t, a, core.FnStartSessionWithCode, core.GameCodePayload{GameCode: "k"})), &start)

	var round core.Round
	mustOK(t, dispatch(n.handler, "getRound", map[string]string{"ref": start.Ref}), &round)
	if round.RoundNum != 0 || round.State.ResourcesLeft != 100 {
		t.Fatalf("round zero: %+v", round)
	}

	var sessions []string
	mustOK(t, dispatch(n.handler, "getSessionsByPlayer", map[string]string{"player": string(b.Agent())}), &sessions)
	if len(sessions) != 1 || sessions[0] != round.Session {
		t.Fatalf("sessions by player: %v", sessions)
	}

	for _, w := range []*wallet.Wallet{a, b} {
		c, _ := w.SubmitMove(start.Ref, 10)
		mustOK(t, dispatch(n.handler, "call", c), nil)
	}
	var moves []core.Move
	mustOK(t, dispatch(n.handler, "getMoves", map[string]string{"ref": start.Ref}), &moves)
	if len(moves) != 2 {
		t.Fatalf("moves: %+v", moves)
	}

	closeCall, _ := a.TryCloseRound(start.Ref)
	var p core.RoundProgress
	mustOK(t, dispatch(n.handler, "call", closeCall), &p)
	if p.Status != core.ProgressAdvance || p.RoundNum != 1 {
		t.Fatalf("progress: %+v", p)
	}

	var latest map[string]string
	mustOK(t, dispatch(n.handler, "getLatest", map[string]string{"ref": start.Ref}), &latest)
	if latest["head"] != p.RoundRef {
		t.Errorf("getLatest: %v want head %s", latest, p.RoundRef)
	}
	var cur CurrentRound
	mustOK(t, dispatch(n.handler, "getCurrentRound", map[string]string{"ref": round.Session}), &cur)
	if cur.Ref != p.RoundRef || cur.Round.RoundNum != 1 {
		t.Errorf("getCurrentRound: %+v", cur)
	}

	var links []core.Link
	mustOK(t, dispatch(n.handler, "getLinks", map[string]string{"base": start.Ref, "tag": string(core.TagGameMove)}), &links)
	if len(links) != 2 {
		t.Errorf("links: %d", len(links))
	}
	var entry core.Entry
	mustOK(t, dispatch(n.handler, "getRecord", map[string]string{"ref": round.Session}), &entry)
	if entry.Type != core.EntrySession {
		t.Errorf("record type %s", entry.Type)
	}
}

func TestDispatchErrors(t *testing.T) {
	n := newTestNode(t)
	a, _ := wallet.Generate()
	b, _ := wallet.Generate()

	resp := dispatch(n.handler, "getRecord", map[string]string{"ref": "missing"})
	if resp.Error == nil || resp.Error.Code != CodeNotFound {
		t.Errorf("missing record: %+v", resp.Error)
	}
	resp = dispatch(n.handler, "getRecord", map[string]string{})
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("no ref: %+v", resp.Error)
	}

	spoof := signed(t, a, core.FnCreateGameCodeAnchor, core.GameCodePayload{GameCode: "z"})
	spoof.From = b.Agent()
	resp = dispatch(n.handler, "call", spoof)
	if resp.Error == nil || resp.Error.Code != CodeUnauthorized {
		t.Errorf("spoofed call: %+v", resp.Error)
	}

	resp = dispatch(n.handler, "call", signed(t, a, core.FnCreateGameCodeAnchor, core.GameCodePayload{GameCode: " "}))
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("empty code: %+v", resp.Error)
	}

	resp = dispatch(n.handler, "drainPond", nil)
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Errorf("unknown method: %+v", resp.Error)
	}

	var peers int
	mustOK(t, dispatch(n.handler, "getPeerCount", nil), &peers)
	if peers != 3 {
		t.Errorf("peers: %d", peers)
	}
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrInvalidInput, CodeInvalidParams},
		{core.ErrNotFound, CodeNotFound},
		{core.ErrArithmetic, CodeInternalError},
		{core.ErrDecode, CodeInternalError},
		{api.ErrUnauthorized, CodeUnauthorized},
		{api.ErrReplay, CodeReplay},
		{errors.New("disk"), CodeInternalError},
	}
	for _, tt := range tests {
		if got := codeFor(tt.err); got != tt.want {
			t.Errorf("codeFor(%v): got %d want %d", tt.err, got, tt.want)
		}
	}
}

// TestServerClientSignals runs the HTTP server on a loopback port, joins a
// game through the client and receives the resulting signal over the
// websocket.
func TestServerClientSignals(t *testing.T) {
	n := newTestNode(t)
	hub := NewSignalHub(n.emitter)
	srv := NewServer("127.0.0.1:0", n.handler, "secret", hub)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := NewClient("http://"+srv.Addr(), "secret")
	a, _ := wallet.Generate()
	b, _ := wallet.Generate()

	var ref core.RefResult
	if err := client.Execute(ctx, signed(t, a, core.FnJoinGameWithCode, core.JoinGamePayload{GameCode: "ws", Nickname: "A"}), &ref); err != nil {
		t.Fatalf("join: %v", err)
	}

	sigs, err := client.Signals(ctx, a)
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for hub.Connected(a.Agent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if err := client.Execute(ctx, signed(t, b, core.FnJoinGameWithCode, core.JoinGamePayload{GameCode: "ws", Nickname: "B"}), nil); err != nil {
		t.Fatalf("join b: %v", err)
	}

	select {
	case sig, ok := <-sigs:
		if !ok {
			t.Fatal("signal stream closed")
		}
		if sig.Name != events.SignalPlayerJoined || sig.From != b.Agent() || sig.Player == nil || sig.Player.Nickname != "B" {
			t.Errorf("signal: %+v", sig)
		}
	case <-ctx.Done():
		t.Fatal("no signal received")
	}

	bad := NewClient("http://"+srv.Addr(), "wrong")
	err = bad.Call(ctx, "getPeerCount", nil, nil)
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeUnauthorized {
		t.Errorf("bad token: %v", err)
	}
}
