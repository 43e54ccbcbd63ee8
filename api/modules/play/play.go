// Package play registers the in-round operations.
package play

import (
	"encoding/json"

	"github.com/tolelom/commons/api"
	"github.com/tolelom/commons/core"
)

func init() {
	api.Register(core.FnSubmitMove, handleSubmitMove)
	api.Register(core.FnTryCloseRound, handleTryCloseRound)
}

func handleSubmitMove(ctx *api.Context, payload json.RawMessage) (any, error) {
	var p core.SubmitMovePayload
	if err := api.Decode(payload, &p); err != nil {
		return nil, err
	}
	ref, err := ctx.Engine.SubmitMove(ctx.Ctx, ctx.Caller, p.RoundHash, p.ResourceAmount)
	if err != nil {
		return nil, err
	}
	return core.RefResult{Ref: ref}, nil
}

func handleTryCloseRound(ctx *api.Context, payload json.RawMessage) (any, error) {
	var p core.RoundPayload
	if err := api.Decode(payload, &p); err != nil {
		return nil, err
	}
	return ctx.Engine.TryCloseRound(ctx.Ctx, ctx.Caller, p.RoundHash)
}
