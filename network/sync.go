package network

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/tolelom/commons/crypto"
	"github.com/tolelom/commons/events"
	"github.com/tolelom/commons/storage"
)

const (
	defaultOpsBatch = 256
	maxOpsBatch     = 1024
	maxSeenSignals  = 10_000
)

// GetOpsRequest asks a peer for the ops it stored after From.
type GetOpsRequest struct {
	From  uint64 `json:"from"`
	Limit int    `json:"limit"`
}

// OpsResponse carries a batch of ops. Last is the sequence number of the
// final op in the batch, Head the peer's current sequence number.
type OpsResponse struct {
	Ops  []*storage.Op `json:"ops"`
	Last uint64        `json:"last"`
	Head uint64        `json:"head"`
}

// Replicator keeps the local ledger in step with peers. New local ops are
// gossiped immediately; on hello and on every anti-entropy tick each peer is
// asked for the ops after the last one pulled from it. Replayed ops are
// deduplicated by the ledger. Signals are relayed the same way, without
// any delivery guarantee.
type Replicator struct {
	node    *Node
	ledger  *storage.Ledger
	emitter *events.Emitter

	mu      sync.Mutex
	cursors map[string]uint64 // peer ID -> last pulled sequence number
	seen    map[string]struct{}
}

// NewReplicator wires replication between node and ledger.
func NewReplicator(node *Node, ledger *storage.Ledger, emitter *events.Emitter) *Replicator {
	r := &Replicator{
		node:    node,
		ledger:  ledger,
		emitter: emitter,
		cursors: make(map[string]uint64),
		seen:    make(map[string]struct{}),
	}
	node.Handle(MsgHello, r.handleHello)
	node.Handle(MsgGetOps, r.handleGetOps)
	node.Handle(MsgOps, r.handleOps)
	node.Handle(MsgOp, r.handleOp)
	node.Handle(MsgSignal, r.handleSignal)
	emitter.Subscribe(events.EventOp, r.onLocalOp)
	emitter.Subscribe(events.EventSignal, r.onLocalSignal)
	return r
}

// Run pulls from every peer on each tick until done is closed.
func (r *Replicator) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for _, p := range r.node.Peers() {
				r.SyncWithPeer(p)
			}
		}
	}
}

// SyncWithPeer asks peer for every op after the last one pulled from it.
func (r *Replicator) SyncWithPeer(peer *Peer) {
	r.mu.Lock()
	from := r.cursors[peer.ID]
	r.mu.Unlock()
	if err := peer.SendJSON(MsgGetOps, GetOpsRequest{From: from, Limit: defaultOpsBatch}); err != nil {
		log.Printf("[sync] request ops from %s: %v", peer.ID, err)
	}
}

// handleHello answers an inbound greeting and starts pulling.
func (r *Replicator) handleHello(peer *Peer, msg Message) {
	var h Hello
	if err := json.Unmarshal(msg.Payload, &h); err != nil {
		return
	}
	if h.NodeID == r.node.ID() {
		log.Printf("[sync] %s is ourselves, closing", peer.Addr)
		peer.Close()
		return
	}
	r.node.SendHello(peer)
	r.SyncWithPeer(peer)
}

func (r *Replicator) handleGetOps(peer *Peer, msg Message) {
	var req GetOpsRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return
	}
	if req.Limit <= 0 || req.Limit > maxOpsBatch {
		req.Limit = defaultOpsBatch
	}
	ops, last, err := r.ledger.OpsSince(req.From, req.Limit)
	if err != nil {
		log.Printf("[sync] read ops for %s: %v", peer.ID, err)
		return
	}
	resp := OpsResponse{Ops: ops, Last: last, Head: r.ledger.Seq()}
	if err := peer.SendJSON(MsgOps, resp); err != nil {
		log.Printf("[sync] send ops to %s: %v", peer.ID, err)
	}
}

func (r *Replicator) handleOps(peer *Peer, msg Message) {
	var resp OpsResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return
	}
	applied := 0
	for _, op := range resp.Ops {
		fresh, err := r.ledger.Apply(op)
		if err != nil {
			log.Printf("[sync] reject op %s from %s: %v", op.ID(), peer.ID, err)
			continue
		}
		if fresh {
			applied++
			r.node.BroadcastExcept(opMessage(op), peer.ID)
		}
	}
	if applied > 0 {
		log.Printf("[sync] applied %d ops from %s", applied, peer.ID)
	}

	r.mu.Lock()
	if resp.Last > r.cursors[peer.ID] {
		r.cursors[peer.ID] = resp.Last
	}
	more := len(resp.Ops) > 0 && resp.Last < resp.Head
	r.mu.Unlock()
	if more {
		r.SyncWithPeer(peer)
	}
}

// handleOp ingests one gossiped op and forwards it if it was new.
func (r *Replicator) handleOp(peer *Peer, msg Message) {
	var op storage.Op
	if err := json.Unmarshal(msg.Payload, &op); err != nil {
		return
	}
	fresh, err := r.ledger.Apply(&op)
	if err != nil {
		log.Printf("[sync] reject op from %s: %v", peer.ID, err)
		return
	}
	if fresh {
		r.node.BroadcastExcept(msg, peer.ID)
	}
}

// onLocalOp gossips ops written on this node.
func (r *Replicator) onLocalOp(ev events.Event) {
	if ev.Remote {
		return
	}
	op, _ := ev.Data["op"].(*storage.Op)
	if op == nil {
		return
	}
	r.node.Broadcast(opMessage(op))
}

func opMessage(op *storage.Op) Message {
	data, _ := json.Marshal(op)
	return Message{Type: MsgOp, Payload: data}
}

// onLocalSignal relays signals raised on this node.
func (r *Replicator) onLocalSignal(ev events.Event) {
	if ev.Remote {
		return
	}
	sig, ok := events.SignalOf(ev)
	if !ok {
		return
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return
	}
	r.markSeen(data)
	r.node.Broadcast(Message{Type: MsgSignal, Payload: data})
}

// handleSignal delivers a relayed signal locally and forwards it once.
func (r *Replicator) handleSignal(peer *Peer, msg Message) {
	var sig events.Signal
	if err := json.Unmarshal(msg.Payload, &sig); err != nil {
		return
	}
	if !r.markSeen(msg.Payload) {
		return
	}
	r.emitter.Emit(events.Event{
		Type:   events.EventSignal,
		Ref:    sig.SessionRef,
		Agent:  sig.From,
		Remote: true,
		Data:   map[string]any{"signal": sig},
	})
	r.node.BroadcastExcept(msg, peer.ID)
}

// markSeen records a signal and reports whether it was new.
func (r *Replicator) markSeen(payload []byte) bool {
	id := crypto.Hash(payload)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[id]; ok {
		return false
	}
	if len(r.seen) >= maxSeenSignals {
		r.seen = make(map[string]struct{})
	}
	r.seen[id] = struct{}{}
	return true
}
