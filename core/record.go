package core

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/commons/crypto"
)

// AgentID is a participant identity: the hex-encoded ed25519 public key.
type AgentID string

// EntryType names the kind of payload an Entry carries.
type EntryType string

const (
	EntryAnchor        EntryType = "anchor"
	EntryPlayerProfile EntryType = "player_profile"
	EntrySession       EntryType = "game_session"
	EntryRound         EntryType = "game_round"
	EntryMove          EntryType = "game_move"
)

// Entry is an immutable, content-addressed record. Its reference is the
// hash of its own JSON, so identical content written by different agents is
// one entry.
type Entry struct {
	Type    EntryType       `json:"type"`
	Content json.RawMessage `json:"content"`
}

// NewEntry encodes content as an Entry of the given type.
func NewEntry(typ EntryType, content any) (*Entry, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return &Entry{Type: typ, Content: raw}, nil
}

// Hash returns the entry's content address.
// Returns an empty string if the content is not valid JSON.
func (e *Entry) Hash() string {
	h, err := crypto.HashJSON(e)
	if err != nil {
		return ""
	}
	return h
}

// Decode unmarshals the content into v after checking the entry type.
func (e *Entry) Decode(typ EntryType, v any) error {
	if e.Type != typ {
		return fmt.Errorf("%w: entry is %q, want %q", ErrDecode, e.Type, typ)
	}
	if err := json.Unmarshal(e.Content, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, typ, err)
	}
	return nil
}

// HashOf computes the reference content would have as an entry of typ,
// without writing anything.
func HashOf(typ EntryType, content any) (string, error) {
	e, err := NewEntry(typ, content)
	if err != nil {
		return "", err
	}
	return e.Hash(), nil
}

// ActionKind distinguishes the two ways an entry enters an agent's history.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
)

// Action records that Author wrote EntryHash. An update action names the
// entry it supersedes in Original; the original stays retrievable.
type Action struct {
	Hash      string     `json:"hash"`
	Kind      ActionKind `json:"kind"`
	Author    AgentID    `json:"author"`
	EntryHash string     `json:"entry_hash"`
	Original  string     `json:"original,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

type actionBody struct {
	Kind      ActionKind `json:"kind"`
	Author    AgentID    `json:"author"`
	EntryHash string     `json:"entry_hash"`
	Original  string     `json:"original,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

// ComputeHash returns the hash of every field except Hash.
func (a *Action) ComputeHash() string {
	h, err := crypto.HashJSON(actionBody{
		Kind:      a.Kind,
		Author:    a.Author,
		EntryHash: a.EntryHash,
		Original:  a.Original,
		Timestamp: a.Timestamp,
	})
	if err != nil {
		return ""
	}
	return h
}

// Supersedes reports whether a beats b as the successor of the same
// original: earlier timestamp first, then the smaller action hash.
func (a *Action) Supersedes(b *Action) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.Hash < b.Hash
}

// LinkTag labels a discovery link.
type LinkTag string

const (
	TagGameCodes   LinkTag = "GAME_CODES"   // root anchor -> game code anchor
	TagPlayer      LinkTag = "PLAYER"       // game code anchor -> player profile
	TagGameSession LinkTag = "GAME_SESSION" // game code anchor -> session
	TagMyGames     LinkTag = "MY_GAMES"     // owner -> session
	TagGameRound   LinkTag = "GAME_ROUND"   // session -> round zero
	TagGameMove    LinkTag = "GAME_MOVE"    // round -> move
)

// Link makes Target discoverable from Base. The timestamp is not part of
// the hash, so linking the same pair twice is a no-op.
type Link struct {
	Hash      string  `json:"hash"`
	Base      string  `json:"base"`
	Target    string  `json:"target"`
	Tag       LinkTag `json:"tag"`
	Author    AgentID `json:"author"`
	Timestamp int64   `json:"timestamp"`
}

// ComputeHash returns the link identity.
func (l *Link) ComputeHash() string {
	return crypto.Hash([]byte(l.Base + "|" + string(l.Tag) + "|" + l.Target + "|" + string(l.Author)))
}
