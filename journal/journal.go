// Package journal keeps an append-only audit trail of every ledger op this
// node committed, local or replicated. Records are JSON lines compressed
// with zstd, one file per UTC hour.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/tolelom/commons/events"
	"github.com/tolelom/commons/storage"
)

const filePrefix = "ops"

// Record is one journal line.
type Record struct {
	Time   int64       `json:"time"`
	Remote bool        `json:"remote"`
	Op     *storage.Op `json:"op"`
}

// Journal writes Records into dir.
type Journal struct {
	dir string
	now func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
	written uint64
}

// New creates a Journal writing into dir. Files are opened lazily.
func New(dir string) *Journal {
	return &Journal{dir: dir, now: time.Now}
}

// Attach subscribes the journal to every committed op. Write failures are
// logged and never reach the ledger.
func (j *Journal) Attach(emitter *events.Emitter) {
	emitter.Subscribe(events.EventOp, func(ev events.Event) {
		op, _ := ev.Data["op"].(*storage.Op)
		if op == nil {
			return
		}
		if err := j.Write(op, ev.Remote); err != nil {
			log.Printf("[journal] write %s: %v", ev.Ref, err)
		}
	})
}

// Write appends one op.
func (j *Journal) Write(op *storage.Op, remote bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now().UTC()
	hour := now.Format("2006-01-02-15")
	if hour != j.curHour {
		if err := j.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(Record{Time: now.UnixNano(), Remote: remote, Op: op})
	if err != nil {
		return err
	}
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return err
	}
	j.written++
	return j.w.Flush()
}

// Written returns the number of records written since New.
func (j *Journal) Written() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.written
}

// Close flushes and closes the current file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

func (j *Journal) rotateLocked(hour string) error {
	if err := j.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(j.pathFor(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	j.f = f
	j.enc = enc
	j.w = bufio.NewWriterSize(enc, 64*1024)
	j.curHour = hour
	return nil
}

func (j *Journal) closeLocked() error {
	var err error
	if j.w != nil {
		_ = j.w.Flush()
	}
	if j.enc != nil {
		err = j.enc.Close()
		j.enc = nil
	}
	if j.f != nil {
		if cerr := j.f.Close(); err == nil {
			err = cerr
		}
		j.f = nil
	}
	j.w = nil
	j.curHour = ""
	return err
}

func (j *Journal) pathFor(hour string) string {
	return filepath.Join(j.dir, fmt.Sprintf("%s-%s.jsonl.zst", filePrefix, hour))
}
