package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/events"
)

// Key prefixes.
const (
	prefixEntry  = "entry:"
	prefixAction = "action:"
	prefixUpdate = "upd:"  // upd:<original>:<action hash> -> Action
	prefixLink   = "link:" // link:<base>:<tag>:<link hash> -> Link
	prefixSeq    = "seq:"  // seq:<20-digit n> -> Op
	keySeqHead   = "meta:seq"
)

// OpKind distinguishes the two kinds of replicated write.
type OpKind string

const (
	OpWrite OpKind = "write" // an entry together with the action that wrote it
	OpLink  OpKind = "link"
)

// Op is one ledger write as it travels between nodes. Ops are
// self-verifying: every hash they carry is recomputed on Apply.
type Op struct {
	Kind   OpKind       `json:"kind"`
	Entry  *core.Entry  `json:"entry,omitempty"`
	Action *core.Action `json:"action,omitempty"`
	Link   *core.Link   `json:"link,omitempty"`
}

// ID returns the op's identity: the action hash or the link hash.
func (o *Op) ID() string {
	switch o.Kind {
	case OpWrite:
		if o.Action != nil {
			return o.Action.Hash
		}
	case OpLink:
		if o.Link != nil {
			return o.Link.Hash
		}
	}
	return ""
}

// Author returns the agent that produced the op.
func (o *Op) Author() core.AgentID {
	if o.Kind == OpWrite && o.Action != nil {
		return o.Action.Author
	}
	if o.Kind == OpLink && o.Link != nil {
		return o.Link.Author
	}
	return ""
}

// Validate recomputes every hash the op carries.
func (o *Op) Validate() error {
	switch o.Kind {
	case OpWrite:
		if o.Entry == nil || o.Action == nil {
			return fmt.Errorf("%w: write op missing entry or action", core.ErrInvalidInput)
		}
		if h := o.Entry.Hash(); h == "" || h != o.Action.EntryHash {
			return fmt.Errorf("%w: entry hash mismatch", core.ErrInvalidInput)
		}
		if o.Action.Hash != o.Action.ComputeHash() {
			return fmt.Errorf("%w: action hash mismatch", core.ErrInvalidInput)
		}
		switch o.Action.Kind {
		case core.ActionCreate:
			if o.Action.Original != "" {
				return fmt.Errorf("%w: create action names an original", core.ErrInvalidInput)
			}
		case core.ActionUpdate:
			if o.Action.Original == "" {
				return fmt.Errorf("%w: update action without original", core.ErrInvalidInput)
			}
		default:
			return fmt.Errorf("%w: unknown action kind %q", core.ErrInvalidInput, o.Action.Kind)
		}
		if o.Action.Author == "" {
			return fmt.Errorf("%w: action without author", core.ErrInvalidInput)
		}
	case OpLink:
		if o.Link == nil {
			return fmt.Errorf("%w: link op missing link", core.ErrInvalidInput)
		}
		if o.Link.Hash != o.Link.ComputeHash() {
			return fmt.Errorf("%w: link hash mismatch", core.ErrInvalidInput)
		}
		if o.Link.Base == "" || o.Link.Target == "" || o.Link.Author == "" {
			return fmt.Errorf("%w: incomplete link", core.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown op kind %q", core.ErrInvalidInput, o.Kind)
	}
	return nil
}

// Ledger implements core.Ledger on top of a DB. Every new write is appended
// to a local sequence log so peers can pull what they are missing, and is
// announced as an events.EventOp.
type Ledger struct {
	mu      sync.Mutex
	db      DB
	emitter *events.Emitter
	seq     uint64
	now     func() int64
}

var _ core.Ledger = (*Ledger)(nil)

// NewLedger opens a ledger on db. emitter may be nil.
func NewLedger(db DB, emitter *events.Emitter) (*Ledger, error) {
	l := &Ledger{
		db:      db,
		emitter: emitter,
		now:     func() int64 { return time.Now().UnixNano() },
	}
	raw, err := db.Get([]byte(keySeqHead))
	switch {
	case errors.Is(err, core.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load seq: %w", err)
	default:
		n, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: seq head %q", core.ErrDecode, raw)
		}
		l.seq = n
	}
	return l, nil
}

// SetClock replaces the timestamp source. Tests use it to force ties.
func (l *Ledger) SetClock(now func() int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Seq returns the number of ops this node has stored.
func (l *Ledger) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// ---- writes ----

func (l *Ledger) Create(author core.AgentID, typ core.EntryType, content any) (string, error) {
	return l.write(author, "", typ, content)
}

func (l *Ledger) Update(author core.AgentID, prior string, typ core.EntryType, content any) (string, error) {
	if prior == "" {
		return "", fmt.Errorf("%w: update without prior reference", core.ErrInvalidInput)
	}
	old, err := l.Get(prior)
	if err != nil {
		return "", err
	}
	if old.Type != typ {
		return "", fmt.Errorf("%w: cannot update %s with %s", core.ErrInvalidInput, old.Type, typ)
	}
	return l.write(author, prior, typ, content)
}

func (l *Ledger) write(author core.AgentID, prior string, typ core.EntryType, content any) (string, error) {
	if author == "" {
		return "", fmt.Errorf("%w: missing author", core.ErrInvalidInput)
	}
	entry, err := core.NewEntry(typ, content)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	ref := entry.Hash()
	if ref == "" {
		return "", fmt.Errorf("%w: %s content is not hashable", core.ErrInvalidInput, typ)
	}

	l.mu.Lock()
	action := &core.Action{
		Kind:      core.ActionCreate,
		Author:    author,
		EntryHash: ref,
		Timestamp: l.now(),
	}
	if prior != "" {
		action.Kind = core.ActionUpdate
		action.Original = prior
	}
	action.Hash = action.ComputeHash()
	op := &Op{Kind: OpWrite, Entry: entry, Action: action}
	fresh, err := l.commitLocked(op)
	l.mu.Unlock()
	if err != nil {
		return "", err
	}
	if fresh {
		l.announce(op, false)
	}
	return ref, nil
}

func (l *Ledger) Link(author core.AgentID, base, target string, tag core.LinkTag) error {
	if author == "" || base == "" || target == "" {
		return fmt.Errorf("%w: link needs author, base and target", core.ErrInvalidInput)
	}
	l.mu.Lock()
	link := &core.Link{Base: base, Target: target, Tag: tag, Author: author, Timestamp: l.now()}
	link.Hash = link.ComputeHash()
	op := &Op{Kind: OpLink, Link: link}
	fresh, err := l.commitLocked(op)
	l.mu.Unlock()
	if err != nil {
		return err
	}
	if fresh {
		l.announce(op, false)
	}
	return nil
}

// Apply stores an op received from a peer. It reports whether the op was
// new to this node; replaying a known op is a no-op.
func (l *Ledger) Apply(op *Op) (bool, error) {
	if op == nil {
		return false, fmt.Errorf("%w: nil op", core.ErrInvalidInput)
	}
	if err := op.Validate(); err != nil {
		return false, err
	}
	l.mu.Lock()
	fresh, err := l.commitLocked(op)
	l.mu.Unlock()
	if err != nil {
		return false, err
	}
	if fresh {
		l.announce(op, true)
	}
	return fresh, nil
}

// commitLocked writes op atomically unless it is already stored.
// Caller must hold l.mu.
func (l *Ledger) commitLocked(op *Op) (bool, error) {
	var key string
	switch op.Kind {
	case OpWrite:
		key = prefixAction + op.Action.Hash
	case OpLink:
		key = linkKey(op.Link.Base, op.Link.Tag, op.Link.Hash)
	}
	if _, err := l.db.Get([]byte(key)); err == nil {
		return false, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return false, err
	}

	batch := l.db.NewBatch()
	switch op.Kind {
	case OpWrite:
		entryData, err := json.Marshal(op.Entry)
		if err != nil {
			return false, err
		}
		actionData, err := json.Marshal(op.Action)
		if err != nil {
			return false, err
		}
		batch.Set([]byte(prefixEntry+op.Action.EntryHash), entryData)
		batch.Set([]byte(key), actionData)
		if op.Action.Kind == core.ActionUpdate {
			batch.Set([]byte(prefixUpdate+op.Action.Original+":"+op.Action.Hash), actionData)
		}
	case OpLink:
		linkData, err := json.Marshal(op.Link)
		if err != nil {
			return false, err
		}
		batch.Set([]byte(key), linkData)
	}

	opData, err := json.Marshal(op)
	if err != nil {
		return false, err
	}
	next := l.seq + 1
	batch.Set(seqKey(next), opData)
	batch.Set([]byte(keySeqHead), []byte(strconv.FormatUint(next, 10)))
	if err := batch.Write(); err != nil {
		return false, fmt.Errorf("commit op: %w", err)
	}
	l.seq = next
	return true, nil
}

func (l *Ledger) announce(op *Op, remote bool) {
	if l.emitter == nil {
		return
	}
	l.emitter.Emit(events.Event{
		Type:   events.EventOp,
		Ref:    op.ID(),
		Agent:  op.Author(),
		Remote: remote,
		Data:   map[string]any{"op": op},
	})
}

// ---- reads ----

func (l *Ledger) Get(ref string) (*core.Entry, error) {
	data, err := l.db.Get([]byte(prefixEntry + ref))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("entry %s: %w", short(ref), core.ErrNotFound)
		}
		return nil, err
	}
	var e core.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: entry %s: %v", core.ErrDecode, short(ref), err)
	}
	return &e, nil
}

// Latest follows the winning update at each step until an entry with no
// successor is reached.
func (l *Ledger) Latest(ref string) (string, error) {
	if _, err := l.Get(ref); err != nil {
		return "", err
	}
	seen := map[string]bool{ref: true}
	cur := ref
	for {
		ups, err := l.Updates(cur)
		if err != nil {
			return "", err
		}
		if len(ups) == 0 {
			return cur, nil
		}
		next := ups[0].EntryHash
		if seen[next] {
			return cur, nil
		}
		seen[next] = true
		cur = next
	}
}

// Updates returns the direct successors of ref, winner first.
func (l *Ledger) Updates(ref string) ([]*core.Action, error) {
	it := l.db.NewIterator([]byte(prefixUpdate + ref + ":"))
	defer it.Release()
	var out []*core.Action
	for it.Next() {
		var a core.Action
		if err := json.Unmarshal(it.Value(), &a); err != nil {
			return nil, fmt.Errorf("%w: update action: %v", core.ErrDecode, err)
		}
		out = append(out, &a)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Supersedes(out[j]) })
	return out, nil
}

func (l *Ledger) Links(base string, tag core.LinkTag) ([]*core.Link, error) {
	it := l.db.NewIterator([]byte(prefixLink + base + ":" + string(tag) + ":"))
	defer it.Release()
	var out []*core.Link
	for it.Next() {
		var lk core.Link
		if err := json.Unmarshal(it.Value(), &lk); err != nil {
			return nil, fmt.Errorf("%w: link: %v", core.ErrDecode, err)
		}
		out = append(out, &lk)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out, nil
}

// Action returns the stored action by hash.
func (l *Ledger) Action(hash string) (*core.Action, error) {
	data, err := l.db.Get([]byte(prefixAction + hash))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("action %s: %w", short(hash), core.ErrNotFound)
		}
		return nil, err
	}
	var a core.Action
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: action: %v", core.ErrDecode, err)
	}
	return &a, nil
}

// OpsSince returns up to limit ops with sequence numbers greater than from,
// and the sequence number of the last one returned.
func (l *Ledger) OpsSince(from uint64, limit int) ([]*Op, uint64, error) {
	head := l.Seq()
	if limit <= 0 {
		limit = 256
	}
	var out []*Op
	last := from
	for n := from + 1; n <= head && len(out) < limit; n++ {
		data, err := l.db.Get(seqKey(n))
		if err != nil {
			return nil, from, fmt.Errorf("op %d: %w", n, err)
		}
		var op Op
		if err := json.Unmarshal(data, &op); err != nil {
			return nil, from, fmt.Errorf("%w: op %d: %v", core.ErrDecode, n, err)
		}
		out = append(out, &op)
		last = n
	}
	return out, last, nil
}

func linkKey(base string, tag core.LinkTag, hash string) string {
	return prefixLink + base + ":" + string(tag) + ":" + hash
}

func seqKey(n uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixSeq, n))
}

func short(ref string) string {
	if len(ref) > 12 {
		return ref[:12]
	}
	return ref
}
