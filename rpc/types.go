// Package rpc exposes the game operations and ledger reads via a JSON-RPC
// 2.0 HTTP endpoint, and pushes signals to agents over a websocket.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tolelom/commons/api"
	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/events"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
	CodeReplay         = -32001
	CodeNotFound       = -32004
)

func (e *Error) Error() string {
	return "rpc error " + strconv.Itoa(e.Code) + ": " + e.Message
}

// codeFor maps the error taxonomy onto JSON-RPC codes.
func codeFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return CodeInvalidParams
	case errors.Is(err, core.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, api.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, api.ErrReplay):
		return CodeReplay
	case errors.Is(err, api.ErrUnknownFunction):
		return CodeMethodNotFound
	default:
		return CodeInternalError
	}
}

func errFrom(id any, err error) Response {
	return errResponse(id, codeFor(err), err.Error())
}

// ---- websocket signal protocol ----

// Message types on the /signals websocket.
const (
	TypeHello   = "hello"
	TypeWelcome = "welcome"
	TypeSignal  = "signal"
)

// HelloMsg opens a signal subscription. Signature is the agent's signature
// over HelloPayload(Agent, Timestamp).
type HelloMsg struct {
	Type      string       `json:"type"`
	Agent     core.AgentID `json:"agent"`
	Timestamp int64        `json:"timestamp"`
	Signature string       `json:"signature"`
}

// WelcomeMsg acknowledges a hello.
type WelcomeMsg struct {
	Type   string       `json:"type"`
	ConnID string       `json:"conn_id"`
	Agent  core.AgentID `json:"agent"`
}

// SignalMsg carries one signal addressed to the connected agent.
type SignalMsg struct {
	Type   string        `json:"type"`
	Signal events.Signal `json:"signal"`
}

// HelloPayload is the byte string a hello signature covers.
func HelloPayload(agent core.AgentID, timestamp int64) []byte {
	return []byte(fmt.Sprintf("commons-signals:%s:%d", agent, timestamp))
}

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
