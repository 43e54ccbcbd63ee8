package storage

import (
	"errors"
	"fmt"
	"log"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/tolelom/commons/core"
)

// LevelDB is the default ledger backend.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens the ledger directory at path, creating it if needed. A
// directory whose manifest is corrupted after a crash is recovered from its
// tables, since every record is self-verifying by hash.
func NewLevelDB(path string) (*LevelDB, error) {
	o := &opt.Options{
		// Entries are JSON and compress well; snappy is cheap.
		Compression: opt.SnappyCompression,
	}
	db, err := leveldb.OpenFile(path, o)
	if lerrors.IsCorrupted(err) {
		log.Printf("[storage] ledger %s corrupted, recovering: %v", path, err)
		db, err = leveldb.RecoverFile(path, o)
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, core.ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Set(key, value []byte) error { return l.db.Put(key, value, nil) }

func (l *LevelDB) Delete(key []byte) error { return l.db.Delete(key, nil) }

// NewIterator walks keys under prefix in byte order, which the ledger's
// zero-padded sequence keys rely on.
func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	return l.db.NewIterator(util.BytesPrefix(prefix), nil)
}

// NewBatch groups the keys of one ledger write so they land atomically.
func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{db: l.db, b: new(leveldb.Batch)}
}

func (l *LevelDB) Close() error { return l.db.Close() }

type levelBatch struct {
	db *leveldb.DB
	b  *leveldb.Batch
}

func (b *levelBatch) Set(key, value []byte) { b.b.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.b.Delete(key) }
func (b *levelBatch) Reset()                { b.b.Reset() }
func (b *levelBatch) Write() error          { return b.db.Write(b.b, nil) }
