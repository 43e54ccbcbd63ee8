// Package lobby registers the game code operations: anchors, player
// profiles, starting sessions and listing them.
package lobby

import (
	"encoding/json"

	"github.com/tolelom/commons/api"
	"github.com/tolelom/commons/core"
)

func init() {
	api.Register(core.FnCreateGameCodeAnchor, handleCreateAnchor)
	api.Register(core.FnJoinGameWithCode, handleJoin)
	api.Register(core.FnListPlayersForCode, handleListPlayers)
	api.Register(core.FnStartSessionWithCode, handleStartSession)
	api.Register(core.FnListMySessions, handleListMySessions)
}

func handleCreateAnchor(ctx *api.Context, payload json.RawMessage) (any, error) {
	var p core.GameCodePayload
	if err := api.Decode(payload, &p); err != nil {
		return nil, err
	}
	ref, err := ctx.Engine.CreateGameCodeAnchor(ctx.Ctx, ctx.Caller, p.GameCode)
	if err != nil {
		return nil, err
	}
	return core.RefResult{Ref: ref}, nil
}

func handleJoin(ctx *api.Context, payload json.RawMessage) (any, error) {
	var p core.JoinGamePayload
	if err := api.Decode(payload, &p); err != nil {
		return nil, err
	}
	ref, err := ctx.Engine.JoinGameWithCode(ctx.Ctx, ctx.Caller, p.GameCode, p.Nickname)
	if err != nil {
		return nil, err
	}
	return core.RefResult{Ref: ref}, nil
}

func handleListPlayers(ctx *api.Context, payload json.RawMessage) (any, error) {
	var p core.GameCodePayload
	if err := api.Decode(payload, &p); err != nil {
		return nil, err
	}
	players, err := ctx.Engine.ListPlayersForCode(ctx.Ctx, p.GameCode)
	if err != nil {
		return nil, err
	}
	if players == nil {
		players = []core.PlayerProfile{}
	}
	return players, nil
}

func handleStartSession(ctx *api.Context, payload json.RawMessage) (any, error) {
	var p core.GameCodePayload
	if err := api.Decode(payload, &p); err != nil {
		return nil, err
	}
	ref, err := ctx.Engine.StartSessionWithCode(ctx.Ctx, ctx.Caller, p.GameCode)
	if err != nil {
		return nil, err
	}
	return core.RefResult{Ref: ref}, nil
}

// list_my_sessions takes no payload.
func handleListMySessions(ctx *api.Context, _ json.RawMessage) (any, error) {
	views, err := ctx.Engine.ListMySessions(ctx.Ctx, ctx.Caller)
	if err != nil {
		return nil, err
	}
	if views == nil {
		views = []core.SessionView{}
	}
	return views, nil
}
