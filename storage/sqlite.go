package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/tolelom/commons/core"
)

// SQLite implements DB as a single key/value table. It trades LevelDB's
// write throughput for a file that standard tooling can inspect.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite database at path.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS kv (
			key   BLOB PRIMARY KEY,
			value BLOB NOT NULL
		) WITHOUT ROWID;`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite init %q: %w", s, err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(key []byte) ([]byte, error) {
	var v []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *SQLite) Set(key, value []byte) error {
	_, err := s.db.Exec(`INSERT INTO kv(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *SQLite) Delete(key []byte) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

// NewIterator loads the matching rows in key order. Prefix scans in this
// code base are bounded (links of one entry, updates of one entry).
func (s *SQLite) NewIterator(prefix []byte) Iterator {
	var (
		rows *sql.Rows
		err  error
	)
	if upper := prefixEnd(prefix); upper != nil {
		rows, err = s.db.Query(`SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key`, prefix, upper)
	} else {
		rows, err = s.db.Query(`SELECT key, value FROM kv WHERE key >= ? ORDER BY key`, prefix)
	}
	if err != nil {
		return &sliceIter{idx: -1, err: err}
	}
	defer rows.Close()

	it := &sliceIter{idx: -1}
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			it.err = err
			return it
		}
		it.pairs = append(it.pairs, kv{k: k, v: v})
	}
	it.err = rows.Err()
	return it
}

func (s *SQLite) NewBatch() Batch {
	return &sqliteBatch{db: s.db}
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// prefixEnd returns the smallest key greater than every key with the
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

type sqliteBatch struct {
	db  *sql.DB
	ops []batchOp
}

type batchOp struct {
	key   []byte
	value []byte // nil means delete
}

func (b *sqliteBatch) Set(key, value []byte) {
	cp := make([]byte, len(value))
	copy(cp, value)
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), value: cp})
}

func (b *sqliteBatch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...)})
}

func (b *sqliteBatch) Reset() { b.ops = nil }

func (b *sqliteBatch) Write() error {
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	for _, op := range b.ops {
		if op.value == nil {
			_, err = tx.Exec(`DELETE FROM kv WHERE key = ?`, op.key)
		} else {
			_, err = tx.Exec(`INSERT INTO kv(key, value) VALUES(?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value`, op.key, op.value)
		}
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

type kv struct{ k, v []byte }

// sliceIter iterates a materialised result set.
type sliceIter struct {
	pairs []kv
	idx   int
	err   error
}

func (it *sliceIter) Next() bool    { it.idx++; return it.idx < len(it.pairs) }
func (it *sliceIter) Key() []byte   { return it.pairs[it.idx].k }
func (it *sliceIter) Value() []byte { return it.pairs[it.idx].v }
func (it *sliceIter) Release()      {}
func (it *sliceIter) Error() error  { return it.err }
