package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/events"
	"github.com/tolelom/commons/game"
	"github.com/tolelom/commons/internal/testutil"
)

func TestJournalReplayRebuildsLedger(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	em := events.NewEmitter()
	src := testutil.NewClockedLedger(em, 0)
	j := New(dir)
	j.Attach(em)

	eng := game.New(src, em)
	r0, err := eng.NewSession(ctx, "alice", []core.AgentID{"alice", "bob"}, core.DefaultGameParams(), "")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = eng.SubmitMove(ctx, "alice", r0, 5)
	_, _ = eng.SubmitMove(ctx, "bob", r0, 7)
	if _, err := eng.TryCloseRound(ctx, "bob", r0); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	if j.Written() != src.Seq() {
		t.Fatalf("journal wrote %d records, ledger holds %d ops", j.Written(), src.Seq())
	}

	dst := testutil.NewLedger(nil)
	n, err := Replay(dir, dst)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if uint64(n) != src.Seq() || dst.Seq() != src.Seq() {
		t.Fatalf("replayed %d, dst seq %d, want %d", n, dst.Seq(), src.Seq())
	}
	want, _ := src.Latest(r0)
	got, _ := dst.Latest(r0)
	if got != want {
		t.Errorf("round head after replay: got %s want %s", got, want)
	}

	// A second replay finds nothing new.
	if n, err := Replay(dir, dst); err != nil || n != 0 {
		t.Errorf("second replay: n=%d err=%v", n, err)
	}
}

func TestJournalRecordsRemoteFlag(t *testing.T) {
	dir := t.TempDir()

	srcEm := events.NewEmitter()
	src := testutil.NewLedger(srcEm)
	dstEm := events.NewEmitter()
	dst := testutil.NewLedger(dstEm)
	j := New(dir)
	j.Attach(dstEm)

	if _, err := src.Create("alice", core.EntryAnchor, core.Anchor{AnchorType: core.GameCodesAnchor}); err != nil {
		t.Fatal(err)
	}
	ops, _, err := src.OpsSince(0, 10)
	if err != nil || len(ops) != 1 {
		t.Fatalf("OpsSince: %v %d", err, len(ops))
	}
	if _, err := dst.Apply(ops[0]); err != nil {
		t.Fatal(err)
	}
	_ = j.Close()

	files, _ := Files(dir)
	if len(files) != 1 {
		t.Fatalf("files: %v", files)
	}
	var recs []Record
	if err := ReadFile(files[0], func(r Record) error { recs = append(recs, r); return nil }); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || !recs[0].Remote || recs[0].Op.ID() != ops[0].ID() {
		t.Errorf("records: %+v", recs)
	}
}

func TestJournalRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)
	clock := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	j.now = func() time.Time { return clock }

	l := testutil.NewLedger(nil)
	if _, err := l.Create("alice", core.EntryAnchor, core.Anchor{AnchorType: core.GameCodesAnchor}); err != nil {
		t.Fatal(err)
	}
	ops, _, _ := l.OpsSince(0, 10)

	if err := j.Write(ops[0], false); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := j.Write(ops[0], false); err != nil {
		t.Fatal(err)
	}
	_ = j.Close()

	files, _ := Files(dir)
	if len(files) != 2 {
		t.Fatalf("want 2 files, got %v", files)
	}
	if filepath.Base(files[0]) != "ops-2024-05-01-10.jsonl.zst" || filepath.Base(files[1]) != "ops-2024-05-01-11.jsonl.zst" {
		t.Errorf("file names: %v", files)
	}
}

func TestReadFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops-x.jsonl.zst")
	if err := os.WriteFile(path, []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ReadFile(path, func(Record) error { return nil }); err == nil {
		t.Error("expected error for non-zstd file")
	}
}
