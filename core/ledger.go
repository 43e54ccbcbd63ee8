package core

// Ledger is the content-addressed, append-only record store the game runs
// on. References are entry hashes. Implementations must be safe for
// concurrent use; concurrent updates of the same entry produce sibling
// update actions, never a lost write.
type Ledger interface {
	// Create writes content as a new entry and returns its reference.
	Create(author AgentID, typ EntryType, content any) (string, error)
	// Update writes content as the successor of prior and returns the new
	// reference. prior must exist and hold the same entry type.
	Update(author AgentID, prior string, typ EntryType, content any) (string, error)
	// Get returns the entry stored at ref, or ErrNotFound.
	Get(ref string) (*Entry, error)
	// Latest follows the update chain from ref to its head.
	Latest(ref string) (string, error)
	// Updates returns the update actions that directly supersede ref.
	Updates(ref string) ([]*Action, error)

	// Link makes target discoverable from base under tag.
	Link(author AgentID, base, target string, tag LinkTag) error
	// Links returns the links from base under tag, ordered by link hash.
	Links(base string, tag LinkTag) ([]*Link, error)
}
