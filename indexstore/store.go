// Package indexstore implements the wide-column index store (spec.md §6):
// upsert row by (partition, row) key, read one, scan range. It is backed
// by syndtr/goleveldb — the teacher codebase's own abeydb storage engine —
// keyed as partition|0x00|row so a partition's rows form one contiguous
// LevelDB key range.
package indexstore

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store is a wide-column key-value store keyed by (partition, row).
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if necessary) a LevelDB-backed store at dir.
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "indexstore: open %q", dir)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

const sep = 0x00

func key(partition, row string) []byte {
	b := make([]byte, 0, len(partition)+1+len(row))
	b = append(b, partition...)
	b = append(b, sep)
	b = append(b, row...)
	return b
}

// Upsert writes (or overwrites) a row. Row identity being derived from
// block/transaction hash (spec.md §4.E) makes every Upsert idempotent:
// redelivering the same range re-derives the same keys and values.
func (s *Store) Upsert(partition, row string, value []byte) error {
	if err := s.db.Put(key(partition, row), value, nil); err != nil {
		return errors.Wrapf(err, "indexstore: upsert %s/%s", partition, row)
	}
	return nil
}

// Get reads a single row. found is false if the row does not exist.
func (s *Store) Get(partition, row string) (value []byte, found bool, err error) {
	v, err := s.db.Get(key(partition, row), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "indexstore: get %s/%s", partition, row)
	}
	return v, true, nil
}

// Delete removes a row, if present.
func (s *Store) Delete(partition, row string) error {
	if err := s.db.Delete(key(partition, row), nil); err != nil {
		return errors.Wrapf(err, "indexstore: delete %s/%s", partition, row)
	}
	return nil
}

// Scan iterates every row in partition in key order, calling fn with the
// row key (partition prefix stripped) and value. Iteration stops early if
// fn returns false.
func (s *Store) Scan(partition string, fn func(row string, value []byte) bool) error {
	prefix := append([]byte(partition), sep)
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		row := bytes.TrimPrefix(it.Key(), prefix)
		if !fn(string(row), append([]byte(nil), it.Value()...)) {
			break
		}
	}
	return it.Error()
}

// ScanRange iterates rows in partition whose row key is within [startRow,
// endRow) (lexicographic), supporting the height-range-keyed scans the
// Balances/Wallets query surface needs.
func (s *Store) ScanRange(partition, startRow, endRow string) (rows map[string][]byte, err error) {
	rows = make(map[string][]byte)
	rng := &util.Range{Start: key(partition, startRow), Limit: key(partition, endRow)}
	it := s.db.NewIterator(rng, nil)
	defer it.Release()
	prefix := append([]byte(partition), sep)
	for it.Next() {
		row := bytes.TrimPrefix(it.Key(), prefix)
		rows[string(row)] = append([]byte(nil), it.Value()...)
	}
	return rows, it.Error()
}
