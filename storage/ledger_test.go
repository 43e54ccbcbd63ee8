package storage_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/events"
	"github.com/tolelom/commons/internal/testutil"
	"github.com/tolelom/commons/storage"
)

type note struct {
	Text string `json:"text"`
	N    int    `json:"n"`
}

const alice core.AgentID = "alice"
const bob core.AgentID = "bob"

// TestCreateIsContentAddressed verifies that identical content from two
// authors lands on one entry reference.
func TestCreateIsContentAddressed(t *testing.T) {
	l := testutil.NewLedger(nil)
	a, err := l.Create(alice, core.EntryAnchor, note{Text: "x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := l.Create(bob, core.EntryAnchor, note{Text: "x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a != b {
		t.Fatalf("same content, different refs: %s vs %s", a, b)
	}
	want, _ := core.HashOf(core.EntryAnchor, note{Text: "x"})
	if a != want {
		t.Errorf("ref: got %s want %s", a, want)
	}

	e, err := l.Get(a)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var got note
	if err := e.Decode(core.EntryAnchor, &got); err != nil {
		t.Fatal(err)
	}
	if got.Text != "x" {
		t.Errorf("decoded %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	l := testutil.NewLedger(nil)
	if _, err := l.Get("nope"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get: want ErrNotFound, got %v", err)
	}
	if _, err := l.Latest("nope"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Latest: want ErrNotFound, got %v", err)
	}
}

// TestLatestFollowsChain walks a three-step update chain.
func TestLatestFollowsChain(t *testing.T) {
	l := testutil.NewClockedLedger(nil, 0)
	r0, _ := l.Create(alice, core.EntryRound, note{N: 0})
	r1, err := l.Update(alice, r0, core.EntryRound, note{N: 1})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	r2, err := l.Update(bob, r1, core.EntryRound, note{N: 2})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	for _, ref := range []string{r0, r1, r2} {
		head, err := l.Latest(ref)
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if head != r2 {
			t.Errorf("Latest(%s): got %s want %s", ref[:8], head[:8], r2[:8])
		}
	}
	// The original stays retrievable.
	if _, err := l.Get(r0); err != nil {
		t.Errorf("Get original: %v", err)
	}
}

func TestUpdateTypeMismatch(t *testing.T) {
	l := testutil.NewLedger(nil)
	r, _ := l.Create(alice, core.EntryRound, note{})
	if _, err := l.Update(alice, r, core.EntrySession, note{N: 1}); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("want ErrInvalidInput, got %v", err)
	}
	if _, err := l.Update(alice, "missing", core.EntryRound, note{}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

// TestSiblingUpdatesPickEarliest checks the head rule: earliest timestamp
// wins, ties broken by the smaller action hash.
func TestSiblingUpdatesPickEarliest(t *testing.T) {
	l := testutil.NewLedger(nil)
	var ts int64 = 100
	l.SetClock(func() int64 { return ts })
	r0, _ := l.Create(alice, core.EntryRound, note{N: 0})

	ts = 300
	late, _ := l.Update(alice, r0, core.EntryRound, note{N: 1, Text: "late"})
	ts = 200
	early, _ := l.Update(bob, r0, core.EntryRound, note{N: 1, Text: "early"})

	head, err := l.Latest(r0)
	if err != nil {
		t.Fatal(err)
	}
	if head != early {
		t.Errorf("head: got %s want early %s (late %s)", head[:8], early[:8], late[:8])
	}

	ups, err := l.Updates(r0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ups) != 2 || ups[0].EntryHash != early {
		t.Fatalf("Updates order wrong: %+v", ups)
	}

	// Same timestamp: the smaller action hash must win on any node.
	l2 := testutil.NewLedger(nil)
	l2.SetClock(func() int64 { return 7 })
	base, _ := l2.Create(alice, core.EntryRound, note{N: 0})
	x, _ := l2.Update(alice, base, core.EntryRound, note{Text: "x"})
	y, _ := l2.Update(bob, base, core.EntryRound, note{Text: "y"})
	ups, _ = l2.Updates(base)
	want := ups[0].EntryHash
	if ups[1].Hash < ups[0].Hash {
		t.Fatal("Updates not ordered by action hash on tie")
	}
	head, _ = l2.Latest(base)
	if head != want || (head != x && head != y) {
		t.Errorf("tie head: got %s want %s", head, want)
	}
}

// TestIdenticalSiblingUpdatesConverge covers two closers writing the same
// successor: one entry, head is that entry.
func TestIdenticalSiblingUpdatesConverge(t *testing.T) {
	l := testutil.NewClockedLedger(nil, 0)
	r0, _ := l.Create(alice, core.EntryRound, note{N: 0})
	a, _ := l.Update(alice, r0, core.EntryRound, note{N: 1})
	b, _ := l.Update(bob, r0, core.EntryRound, note{N: 1})
	if a != b {
		t.Fatalf("identical successors got different refs")
	}
	if head, _ := l.Latest(r0); head != a {
		t.Errorf("head %s want %s", head, a)
	}
}

func TestLinksIdempotentAndOrdered(t *testing.T) {
	l := testutil.NewClockedLedger(nil, 0)
	for _, target := range []string{"t3", "t1", "t2"} {
		if err := l.Link(alice, "base", target, core.TagGameMove); err != nil {
			t.Fatalf("Link: %v", err)
		}
	}
	seq := l.Seq()
	if err := l.Link(alice, "base", "t1", core.TagGameMove); err != nil {
		t.Fatal(err)
	}
	if l.Seq() != seq {
		t.Error("re-linking the same pair appended a new op")
	}
	// Other tag on the same base is not returned.
	_ = l.Link(alice, "base", "other", core.TagPlayer)

	links, err := l.Links("base", core.TagGameMove)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 3 {
		t.Fatalf("links: got %d want 3", len(links))
	}
	for i := 1; i < len(links); i++ {
		if links[i-1].Hash >= links[i].Hash {
			t.Error("links not ordered by hash")
		}
	}
	if ls, _ := l.Links("nobody", core.TagGameMove); len(ls) != 0 {
		t.Errorf("unknown base: got %d links", len(ls))
	}
}

// TestApplyReplicates copies every op from one ledger to another and
// checks both see the same heads and links.
func TestApplyReplicates(t *testing.T) {
	em := events.NewEmitter()
	var remote int
	em.Subscribe(events.EventOp, func(ev events.Event) {
		if ev.Remote {
			remote++
		}
	})

	src := testutil.NewClockedLedger(nil, 0)
	dst := testutil.NewLedger(em)

	r0, _ := src.Create(alice, core.EntryRound, note{N: 0})
	r1, _ := src.Update(bob, r0, core.EntryRound, note{N: 1})
	_ = src.Link(alice, r0, "m1", core.TagGameMove)

	ops, last, err := src.OpsSince(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 3 || last != 3 {
		t.Fatalf("OpsSince: %d ops, last %d", len(ops), last)
	}
	for _, op := range ops {
		fresh, err := dst.Apply(op)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if !fresh {
			t.Error("first apply should be fresh")
		}
	}
	for _, op := range ops {
		if fresh, _ := dst.Apply(op); fresh {
			t.Error("replayed op reported fresh")
		}
	}
	if remote != 3 {
		t.Errorf("remote op events: got %d want 3", remote)
	}
	if head, _ := dst.Latest(r0); head != r1 {
		t.Errorf("replicated head: got %s want %s", head, r1)
	}
	if links, _ := dst.Links(r0, core.TagGameMove); len(links) != 1 {
		t.Errorf("replicated links: got %d", len(links))
	}

	page, last, _ := src.OpsSince(1, 1)
	if len(page) != 1 || last != 2 {
		t.Errorf("paged OpsSince: %d ops, last %d", len(page), last)
	}
}

func TestApplyRejectsTampered(t *testing.T) {
	src := testutil.NewLedger(nil)
	_, _ = src.Create(alice, core.EntryAnchor, note{Text: "a"})
	ops, _, _ := src.OpsSince(0, 10)
	op := ops[0]
	op.Entry.Content = []byte(`{"text":"b","n":0}`)

	dst := testutil.NewLedger(nil)
	if _, err := dst.Apply(op); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("tampered entry: want ErrInvalidInput, got %v", err)
	}
	if _, err := dst.Apply(&storage.Op{Kind: "bogus"}); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("unknown kind: want ErrInvalidInput, got %v", err)
	}
}

// TestBackendsReopen checks that both on-disk backends persist the op log
// and the seq head across a reopen.
func TestBackendsReopen(t *testing.T) {
	for _, kind := range []string{"leveldb", "sqlite"} {
		t.Run(kind, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "db")
			if kind == "sqlite" {
				path += ".sqlite"
			}
			db, err := storage.Open(kind, path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			l, err := storage.NewLedger(db, nil)
			if err != nil {
				t.Fatal(err)
			}
			r0, _ := l.Create(alice, core.EntryRound, note{N: 0})
			r1, _ := l.Update(alice, r0, core.EntryRound, note{N: 1})
			_ = l.Link(alice, r0, r1, core.TagGameRound)
			if err := db.Close(); err != nil {
				t.Fatal(err)
			}

			db, err = storage.Open(kind, path)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer db.Close()
			l, err = storage.NewLedger(db, nil)
			if err != nil {
				t.Fatal(err)
			}
			if l.Seq() != 3 {
				t.Errorf("seq after reopen: got %d want 3", l.Seq())
			}
			if head, _ := l.Latest(r0); head != r1 {
				t.Errorf("head after reopen: got %s want %s", head, r1)
			}
			if links, _ := l.Links(r0, core.TagGameRound); len(links) != 1 {
				t.Errorf("links after reopen: %d", len(links))
			}
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := storage.Open("bolt", t.TempDir()); err == nil {
		t.Error("unknown backend should fail")
	}
}
