package storage

// DB is the generic key-value store interface.
type DB interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// NewIterator walks keys with the given prefix. Implementations are
	// not required to yield keys in order.
	NewIterator(prefix []byte) Iterator
	NewBatch() Batch
	Close() error
}

// Iterator walks key-value pairs matching a prefix.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// Batch buffers writes and applies them atomically on Write.
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
	Reset()
	Write() error
}

// Open opens the backend named by kind ("leveldb" or "sqlite") at path.
func Open(kind, path string) (DB, error) {
	switch kind {
	case "", "leveldb":
		return NewLevelDB(path)
	case "sqlite":
		return NewSQLite(path)
	default:
		return nil, &unknownBackendError{kind: kind}
	}
}

type unknownBackendError struct{ kind string }

func (e *unknownBackendError) Error() string {
	return "storage: unknown backend " + `"` + e.kind + `"`
}
