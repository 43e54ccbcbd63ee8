package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/events"
)

// Signer signs on behalf of one agent. *wallet.Wallet implements it.
type Signer interface {
	Agent() core.AgentID
	Sign(data []byte) string
}

// Client talks to a node's JSON-RPC endpoint.
type Client struct {
	url       string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

// NewClient creates a Client for the endpoint at url (e.g.
// "http://127.0.0.1:8545"). authToken may be empty.
func NewClient(url, authToken string) *Client {
	return &Client{
		url:       strings.TrimRight(url, "/"),
		authToken: authToken,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Call invokes method and decodes the result into out (which may be nil).
// A JSON-RPC error is returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      c.nextID.Add(1),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("rpc %s: read: %w", method, err)
	}

	var r struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("rpc %s decode: %w (status %d)", method, err, resp.StatusCode)
	}
	if r.Error != nil {
		return r.Error
	}
	if out == nil || len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, out)
}

// Execute submits a signed call and decodes its result into out.
func (c *Client) Execute(ctx context.Context, call *core.Call, out any) error {
	return c.Call(ctx, "call", call, out)
}

// Signals dials the node's /signals websocket as signer and returns a
// channel of signals addressed to it. The channel closes when ctx is done
// or the connection drops.
func (c *Client) Signals(ctx context.Context, signer Signer) (<-chan events.Signal, error) {
	wsURL := "ws" + strings.TrimPrefix(c.url, "http") + "/signals"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signals: %w", err)
	}

	ts := time.Now().UnixNano()
	hello := HelloMsg{
		Type:      TypeHello,
		Agent:     signer.Agent(),
		Timestamp: ts,
		Signature: signer.Sign(HelloPayload(signer.Agent(), ts)),
	}
	if err := writeWS(conn, hello); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	var welcome WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil || welcome.Type != TypeWelcome {
		_ = conn.Close()
		return nil, fmt.Errorf("signals handshake: %v", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	out := make(chan events.Signal, signalQueueLen)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		for {
			var msg SignalMsg
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != TypeSignal {
				continue
			}
			select {
			case out <- msg.Signal:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
