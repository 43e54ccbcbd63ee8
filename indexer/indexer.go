// Package indexer maintains secondary indexes over ledger ops so clients
// can query sessions by player without walking links.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/events"
	"github.com/tolelom/commons/storage"
)

const prefixPlayerSession = "idx:player:session:"

// Indexer subscribes to ledger ops and updates secondary lookup tables.
// Ops from peers are indexed the same as local ones.
type Indexer struct {
	mu      sync.Mutex
	db      storage.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventOp, idx.onOp)
	return idx
}

// GetSessionsByPlayer returns the original references of every session the
// player was seated in, in the order this node learned of them.
func (idx *Indexer) GetSessionsByPlayer(player core.AgentID) ([]string, error) {
	return idx.getList(prefixPlayerSession + string(player))
}

// ---- event handlers ----

func (idx *Indexer) onOp(ev events.Event) {
	op, _ := ev.Data["op"].(*storage.Op)
	if op == nil || op.Kind != storage.OpWrite || op.Action.Kind != core.ActionCreate {
		return
	}
	if op.Entry.Type != core.EntrySession {
		return
	}
	var sess core.Session
	if err := op.Entry.Decode(core.EntrySession, &sess); err != nil {
		log.Printf("[indexer] skip session %s: %v", op.Action.EntryHash, err)
		return
	}
	for _, p := range sess.Players {
		if err := idx.addToList(prefixPlayerSession+string(p), op.Action.EntryHash); err != nil {
			log.Printf("[indexer] index session for %s: %v", p, err)
		}
	}
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

// addToList appends value unless it is already present.
func (idx *Indexer) addToList(key, value string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == value {
			return nil
		}
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
