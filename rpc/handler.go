package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tolelom/commons/api"
	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/game"
	"github.com/tolelom/commons/indexer"
)

// PeerCounter reports how many peers a node is connected to.
type PeerCounter interface {
	PeerCount() int
}

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	exec    *api.Executor
	engine  *game.Engine
	ledger  core.Ledger
	indexer *indexer.Indexer
	peers   PeerCounter
}

// NewHandler creates an RPC Handler. idx and peers may be nil.
func NewHandler(exec *api.Executor, idx *indexer.Indexer, peers PeerCounter) *Handler {
	eng := exec.Engine()
	return &Handler{exec: exec, engine: eng, ledger: eng.Ledger(), indexer: idx, peers: peers}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(ctx context.Context, req Request) Response {
	switch req.Method {
	case "call":
		return h.call(ctx, req)

	case "getRecord":
		return h.getRecord(req)

	case "getLatest":
		return h.getLatest(req)

	case "getLinks":
		return h.getLinks(req)

	case "getMoves":
		return h.getMoves(ctx, req)

	case "getRound":
		return h.getRound(req)

	case "getSession":
		return h.getSession(req)

	case "getCurrentRound":
		return h.getCurrentRound(req)

	case "getSessionsByPlayer":
		return h.getSessionsByPlayer(req)

	case "getPeerCount":
		if h.peers == nil {
			return okResponse(req.ID, 0)
		}
		return okResponse(req.ID, h.peers.PeerCount())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// call executes a signed call. The signature, not the transport, decides
// who the caller is.
func (h *Handler) call(ctx context.Context, req Request) Response {
	var c core.Call
	if err := json.Unmarshal(req.Params, &c); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	c.ID = c.Hash()
	res, err := h.exec.Execute(ctx, &c)
	if err != nil {
		return errFrom(req.ID, err)
	}
	return okResponse(req.ID, res)
}

type refParams struct {
	Ref string `json:"ref"`
}

func (p *refParams) parse(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, p); err != nil {
		return err
	}
	if p.Ref == "" {
		return fmt.Errorf("ref is required")
	}
	return nil
}

func (h *Handler) getRecord(req Request) Response {
	var params refParams
	if err := params.parse(req.Params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	entry, err := h.ledger.Get(params.Ref)
	if err != nil {
		return errFrom(req.ID, err)
	}
	return okResponse(req.ID, entry)
}

func (h *Handler) getLatest(req Request) Response {
	var params refParams
	if err := params.parse(req.Params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	head, err := h.ledger.Latest(params.Ref)
	if err != nil {
		return errFrom(req.ID, err)
	}
	return okResponse(req.ID, map[string]string{"ref": params.Ref, "head": head})
}

func (h *Handler) getLinks(req Request) Response {
	var params struct {
		Base string       `json:"base"`
		Tag  core.LinkTag `json:"tag"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Base == "" || params.Tag == "" {
		return errResponse(req.ID, CodeInvalidParams, "base and tag are required")
	}
	links, err := h.ledger.Links(params.Base, params.Tag)
	if err != nil {
		return errFrom(req.ID, err)
	}
	if links == nil {
		links = []*core.Link{}
	}
	return okResponse(req.ID, links)
}

func (h *Handler) getMoves(ctx context.Context, req Request) Response {
	var params refParams
	if err := params.parse(req.Params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	moves, err := h.engine.ListMoves(ctx, params.Ref)
	if err != nil {
		return errFrom(req.ID, err)
	}
	if moves == nil {
		moves = []core.Move{}
	}
	return okResponse(req.ID, moves)
}

func (h *Handler) getRound(req Request) Response {
	var params refParams
	if err := params.parse(req.Params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	r, err := h.engine.Round(params.Ref)
	if err != nil {
		return errFrom(req.ID, err)
	}
	return okResponse(req.ID, r)
}

func (h *Handler) getSession(req Request) Response {
	var params refParams
	if err := params.parse(req.Params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	v, err := h.engine.Session(params.Ref)
	if err != nil {
		return errFrom(req.ID, err)
	}
	return okResponse(req.ID, v)
}

// CurrentRound is the getCurrentRound result.
type CurrentRound struct {
	Ref   string      `json:"ref"`
	Round *core.Round `json:"round"`
}

func (h *Handler) getCurrentRound(req Request) Response {
	var params refParams
	if err := params.parse(req.Params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	ref, r, err := h.engine.CurrentRound(params.Ref)
	if err != nil {
		return errFrom(req.ID, err)
	}
	return okResponse(req.ID, CurrentRound{Ref: ref, Round: r})
}

func (h *Handler) getSessionsByPlayer(req Request) Response {
	var params struct {
		Player core.AgentID `json:"player"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Player == "" {
		return errResponse(req.ID, CodeInvalidParams, "player is required")
	}
	if h.indexer == nil {
		return errResponse(req.ID, CodeInternalError, "indexer disabled")
	}
	ids, err := h.indexer.GetSessionsByPlayer(params.Player)
	if err != nil {
		return errFrom(req.ID, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return okResponse(req.ID, ids)
}
