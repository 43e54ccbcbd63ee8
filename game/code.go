package game

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/events"
)

// rootAnchor is the well-known entry every game code anchor is linked from.
var rootAnchor = core.Anchor{AnchorType: core.GameCodesAnchor}

// GameCodeAnchor returns the anchor reference for code. It writes nothing,
// so any node can compute it before the anchor has replicated.
func GameCodeAnchor(code string) (string, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return "", err
	}
	return core.HashOf(core.EntryAnchor, core.Anchor{AnchorType: core.GameCodesAnchor, AnchorText: code})
}

func normalizeCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("%w: empty game code", core.ErrInvalidInput)
	}
	return code, nil
}

// CreateGameCodeAnchor writes the anchor for code and links it from the
// root anchor. Calling it again for the same code returns the same
// reference and writes nothing new.
func (e *Engine) CreateGameCodeAnchor(_ context.Context, caller core.AgentID, code string) (string, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return "", err
	}
	root, err := e.ensure(caller, core.EntryAnchor, rootAnchor)
	if err != nil {
		return "", fmt.Errorf("create root anchor: %w", err)
	}
	ref, err := e.ensure(caller, core.EntryAnchor, core.Anchor{AnchorType: core.GameCodesAnchor, AnchorText: code})
	if err != nil {
		return "", fmt.Errorf("create anchor %q: %w", code, err)
	}
	if err := e.ledger.Link(caller, root, ref, core.TagGameCodes); err != nil {
		return "", fmt.Errorf("link anchor %q: %w", code, err)
	}
	return ref, nil
}

// JoinGameWithCode registers the caller under code with a nickname and
// tells the players already registered.
func (e *Engine) JoinGameWithCode(ctx context.Context, caller core.AgentID, code, nickname string) (string, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return "", fmt.Errorf("%w: empty nickname", core.ErrInvalidInput)
	}
	anchor, err := e.CreateGameCodeAnchor(ctx, caller, code)
	if err != nil {
		return "", err
	}
	known, err := e.ListPlayersForCode(ctx, code)
	if err != nil {
		return "", err
	}

	profile := core.PlayerProfile{PlayerID: caller, Nickname: nickname}
	ref, err := e.ensure(caller, core.EntryPlayerProfile, profile)
	if err != nil {
		return "", fmt.Errorf("create profile: %w", err)
	}
	if err := e.ledger.Link(caller, anchor, ref, core.TagPlayer); err != nil {
		return "", fmt.Errorf("link profile: %w", err)
	}
	log.Printf("[game] %s joined %q as %q", short(string(caller)), strings.TrimSpace(code), nickname)

	others := make([]core.AgentID, 0, len(known))
	for _, p := range known {
		if p.PlayerID != caller {
			others = append(others, p.PlayerID)
		}
	}
	e.notify(events.Signal{
		Name:   events.SignalPlayerJoined,
		From:   caller,
		To:     others,
		Player: &profile,
	})
	return anchor, nil
}

// ListPlayersForCode returns the profiles registered under code, one per
// player. When a player registered more than once, the profile with the
// smallest reference is kept. Profiles that have not replicated yet are
// skipped.
func (e *Engine) ListPlayersForCode(_ context.Context, code string) ([]core.PlayerProfile, error) {
	anchor, err := GameCodeAnchor(code)
	if err != nil {
		return nil, err
	}
	links, err := e.ledger.Links(anchor, core.TagPlayer)
	if err != nil {
		return nil, err
	}
	refs := targets(links)

	seen := make(map[core.AgentID]bool, len(refs))
	var out []core.PlayerProfile
	for _, ref := range refs {
		entry, err := e.ledger.Get(ref)
		if missing(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var p core.PlayerProfile
		if err := entry.Decode(core.EntryPlayerProfile, &p); err != nil {
			return nil, err
		}
		if seen[p.PlayerID] {
			continue
		}
		seen[p.PlayerID] = true
		out = append(out, p)
	}
	return out, nil
}

// StartSessionWithCode starts a session for everyone registered under code
// with the engine's default parameters and returns round zero.
func (e *Engine) StartSessionWithCode(ctx context.Context, caller core.AgentID, code string) (string, error) {
	anchor, err := GameCodeAnchor(code)
	if err != nil {
		return "", err
	}
	profiles, err := e.ListPlayersForCode(ctx, code)
	if err != nil {
		return "", err
	}
	players := make([]core.AgentID, len(profiles))
	for i, p := range profiles {
		players[i] = p.PlayerID
	}
	return e.NewSession(ctx, caller, players, e.defaults, anchor)
}

// ListSessionsForCode returns the sessions started under code.
func (e *Engine) ListSessionsForCode(_ context.Context, code string) ([]core.SessionView, error) {
	anchor, err := GameCodeAnchor(code)
	if err != nil {
		return nil, err
	}
	return e.resolveSessions(anchor, core.TagGameSession)
}

// ListMySessions returns the sessions the caller owns, each resolved to its
// latest version.
func (e *Engine) ListMySessions(_ context.Context, caller core.AgentID) ([]core.SessionView, error) {
	return e.resolveSessions(string(caller), core.TagMyGames)
}

func (e *Engine) resolveSessions(base string, tag core.LinkTag) ([]core.SessionView, error) {
	links, err := e.ledger.Links(base, tag)
	if err != nil {
		return nil, err
	}
	var out []core.SessionView
	for _, ref := range targets(links) {
		view, err := e.Session(ref)
		if missing(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *view)
	}
	return out, nil
}

// ensure creates content unless an identical entry is already stored.
func (e *Engine) ensure(caller core.AgentID, typ core.EntryType, content any) (string, error) {
	ref, err := core.HashOf(typ, content)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	if _, err := e.ledger.Get(ref); err == nil {
		return ref, nil
	} else if !missing(err) {
		return "", err
	}
	return e.ledger.Create(caller, typ, content)
}

// targets returns the distinct link targets in reference order.
func targets(links []*core.Link) []string {
	set := make(map[string]bool, len(links))
	out := make([]string, 0, len(links))
	for _, l := range links {
		if !set[l.Target] {
			set[l.Target] = true
			out = append(out, l.Target)
		}
	}
	sort.Strings(out)
	return out
}
