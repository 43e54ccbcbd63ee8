package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/tolelom/commons/storage"
)

// Files lists the journal files in dir, oldest first.
func Files(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, filePrefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	// Hour stamps sort lexically.
	sort.Strings(files)
	return files, nil
}

// ReadFile calls fn for every record in one journal file.
func ReadFile(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Replay applies every journaled op in dir to ledger in journal order and
// returns how many were new. Ops already present are skipped, so replaying
// into a ledger that survived is harmless.
func Replay(dir string, ledger *storage.Ledger) (int, error) {
	files, err := Files(dir)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, path := range files {
		err := ReadFile(path, func(rec Record) error {
			if rec.Op == nil {
				return nil
			}
			fresh, err := ledger.Apply(rec.Op)
			if err != nil {
				return fmt.Errorf("replay %s: %w", rec.Op.ID(), err)
			}
			if fresh {
				applied++
			}
			return nil
		})
		if err != nil {
			return applied, err
		}
	}
	return applied, nil
}
