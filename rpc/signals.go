package rpc

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/crypto"
	"github.com/tolelom/commons/events"
)

const (
	helloTimeout   = 5 * time.Second
	helloMaxSkew   = 5 * time.Minute
	writeTimeout   = 5 * time.Second
	readTimeout    = 60 * time.Second
	pingInterval   = 25 * time.Second
	signalQueueLen = 32
)

// SignalHub pushes signals to the agents they are addressed to. Delivery is
// at-most-once: an agent with no open connection misses the signal, and a
// connection whose queue is full drops it.
type SignalHub struct {
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[core.AgentID]map[string]chan []byte

	dropped atomic.Uint64
}

// NewSignalHub creates a hub fed by emitter's signal events.
func NewSignalHub(emitter *events.Emitter) *SignalHub {
	h := &SignalHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[core.AgentID]map[string]chan []byte),
	}
	emitter.Subscribe(events.EventSignal, h.onSignal)
	return h
}

// Dropped returns how many signal deliveries were dropped on full queues.
func (h *SignalHub) Dropped() uint64 { return h.dropped.Load() }

// Connected returns the number of open connections for agent.
func (h *SignalHub) Connected(agent core.AgentID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[agent])
}

func (h *SignalHub) onSignal(ev events.Event) {
	sig, ok := events.SignalOf(ev)
	if !ok {
		return
	}
	b, err := json.Marshal(SignalMsg{Type: TypeSignal, Signal: sig})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, to := range sig.To {
		for _, out := range h.conns[to] {
			select {
			case out <- b:
			default:
				h.dropped.Add(1)
			}
		}
	}
}

func (h *SignalHub) attach(agent core.AgentID, id string, out chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[agent] == nil {
		h.conns[agent] = make(map[string]chan []byte)
	}
	h.conns[agent][id] = out
}

func (h *SignalHub) detach(agent core.AgentID, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[agent], id)
	if len(h.conns[agent]) == 0 {
		delete(h.conns, agent)
	}
}

// Handler serves the /signals websocket.
func (h *SignalHub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		agent, ok := h.handshake(conn)
		if !ok {
			return
		}
		id := uuid.NewString()
		if err := writeWS(conn, WelcomeMsg{Type: TypeWelcome, ConnID: id, Agent: agent}); err != nil {
			return
		}

		out := make(chan []byte, signalQueueLen)
		h.attach(agent, id, out)
		defer h.detach(agent, id)

		done := make(chan struct{})
		defer close(done)

		// Writer goroutine.
		go func() {
			ping := time.NewTicker(pingInterval)
			defer ping.Stop()
			for {
				select {
				case <-done:
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						_ = conn.Close()
						return
					}
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop: clients send nothing after hello, but reading keeps
		// pongs and close frames flowing.
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

// handshake reads a hello and checks it was signed by the agent it names.
func (h *SignalHub) handshake(conn *websocket.Conn) (core.AgentID, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}
	var hello HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != TypeHello {
		rejectWS(conn, "expected hello")
		return "", false
	}
	skew := time.Since(time.Unix(0, hello.Timestamp))
	if skew > helloMaxSkew || skew < -helloMaxSkew {
		rejectWS(conn, "stale hello")
		return "", false
	}
	if err := crypto.VerifyHex(string(hello.Agent), HelloPayload(hello.Agent, hello.Timestamp), hello.Signature); err != nil {
		log.Printf("[rpc] signals: bad hello from %s: %v", conn.RemoteAddr(), err)
		rejectWS(conn, "bad signature")
		return "", false
	}
	return hello.Agent, true
}

func rejectWS(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

func writeWS(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
