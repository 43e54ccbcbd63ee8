package network

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// MessageHandler runs on the peer's read goroutine, one message at a time.
type MessageHandler func(peer *Peer, msg Message)

// DefaultMaxPeers caps inbound replicas. Outbound seed dials are not counted
// against it.
const DefaultMaxPeers = 50

// Hello opens every replication stream. On receipt each side greets back
// and starts pulling ops from the other.
type Hello struct {
	NodeID string `json:"node_id"`
}

// Node is the ledger replication endpoint: it accepts replicas, dials seed
// peers and routes frames to the replicator's handlers.
type Node struct {
	nodeID     string
	listenAddr string
	tlsConfig  *tls.Config // nil → plain TCP
	maxPeers   int

	mu       sync.RWMutex
	peers    map[string]*Peer
	handlers map[MsgType]MessageHandler

	listener net.Listener
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewNode prepares a Node on listenAddr. A non-nil tlsCfg makes both
// directions mutual TLS, with certificates issued by certgen.
func NewNode(nodeID, listenAddr string, tlsCfg *tls.Config) *Node {
	return &Node{
		nodeID:     nodeID,
		listenAddr: listenAddr,
		tlsConfig:  tlsCfg,
		maxPeers:   DefaultMaxPeers,
		peers:      make(map[string]*Peer),
		handlers:   make(map[MsgType]MessageHandler),
		stopCh:     make(chan struct{}),
	}
}

func (n *Node) ID() string { return n.nodeID }

// Handle routes frames of typ to h. Register before Start.
func (n *Node) Handle(typ MsgType, h MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[typ] = h
}

// Start binds the listener and accepts replicas in the background.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen for replicas on %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	log.Printf("[network] %s replicating on %s (tls=%v)", n.nodeID, ln.Addr(), n.tlsConfig != nil)
	go n.acceptLoop()
	return nil
}

// Addr returns the bound listen address once Start has succeeded.
func (n *Node) Addr() string {
	if n.listener == nil {
		return n.listenAddr
	}
	return n.listener.Addr().String()
}

// Stop closes the listener and every replica connection.
func (n *Node) Stop() {
	n.stopOnce.Do(func() { close(n.stopCh) })
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// AddPeer dials a seed replica, replacing any older connection under the
// same id, and sends the hello that starts the op pull.
func (n *Node) AddPeer(id, addr string) (*Peer, error) {
	peer, err := Connect(id, addr, n.tlsConfig)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	if old := n.peers[id]; old != nil {
		old.Close()
	}
	n.peers[id] = peer
	n.mu.Unlock()
	go n.readLoop(peer)

	n.SendHello(peer)
	return peer, nil
}

// SendHello sends this node's hello at most once per connection.
func (n *Node) SendHello(peer *Peer) {
	if !peer.claimHello() {
		return
	}
	if err := peer.SendJSON(MsgHello, Hello{NodeID: n.nodeID}); err != nil {
		log.Printf("[network] send hello to %s: %v", peer.ID, err)
	}
}

// Peer returns the replica connected under id, or nil.
func (n *Node) Peer(id string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

func (n *Node) Peers() []*Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	return peers
}

// PeerCount backs the getPeerCount RPC.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// Broadcast gossips msg to every replica.
func (n *Node) Broadcast(msg Message) {
	n.BroadcastExcept(msg, "")
}

// BroadcastExcept gossips msg to every replica but skip, which is usually
// the one the op or signal arrived from.
func (n *Node) BroadcastExcept(msg Message, skip string) {
	for _, p := range n.Peers() {
		if p.ID == skip {
			continue
		}
		if err := p.Send(msg); err != nil {
			log.Printf("[network] gossip %s to %s: %v", msg.Type, p.ID, err)
		}
	}
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				log.Printf("[network] accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		if n.PeerCount() >= n.maxPeers {
			log.Printf("[network] replica limit %d reached, refusing %s", n.maxPeers, conn.RemoteAddr())
			conn.Close()
			continue
		}
		peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
		n.mu.Lock()
		n.peers[peer.ID] = peer
		n.mu.Unlock()
		go n.readLoop(peer)
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[network] handler panicked on frame from %s: %v", peer.ID, r)
		}
		peer.Close()
		n.mu.Lock()
		if n.peers[peer.ID] == peer {
			delete(n.peers, peer.ID)
		}
		n.mu.Unlock()
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			return
		}
		n.mu.RLock()
		h, ok := n.handlers[msg.Type]
		n.mu.RUnlock()
		if ok {
			h(peer, msg)
		}
	}
}
