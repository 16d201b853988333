// Package history provides a disk-backed bodycontainer.HistorySnapshotter,
// for the trackerd calibrate subcommand where a body's state history needs
// to survive a process restart across a long room-calibration session.
// The hot tracking path uses bodycontainer.MemoryHistory instead; this is
// the one place in this design that needs a BadgerDB the way
// straga-Mimir_lite's storage package does for its graph engine.
package history

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/osvr-go/unifiedtracker/pkg/bodycontainer"
)

// keyPrefix namespaces the single key family this store uses, following
// the single-byte-prefix convention of the reference storage engine.
const keyPrefix = byte(0x01)

// PersistentHistory is a bodycontainer.HistorySnapshotter backed by
// BadgerDB, keyed by big-endian nanosecond timestamp so BadgerDB's native
// key ordering doubles as time ordering.
type PersistentHistory struct {
	db *badger.DB
}

// Open opens (creating if necessary) a persistent history store at dir.
func Open(dir string) (*PersistentHistory, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", dir, err)
	}
	return &PersistentHistory{db: db}, nil
}

// Close releases the underlying database handle.
func (h *PersistentHistory) Close() error {
	return h.db.Close()
}

func timeKey(t time.Time) []byte {
	key := make([]byte, 9)
	key[0] = keyPrefix
	binary.BigEndian.PutUint64(key[1:], uint64(t.UnixNano()))
	return key
}

func keyTime(key []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[1:])))
}

var _ bodycontainer.HistorySnapshotter = (*PersistentHistory)(nil)

// PushNewest implements bodycontainer.HistorySnapshotter. A marshal or
// write failure is silently dropped, since the interface's signature has
// no error return.
func (h *PersistentHistory) PushNewest(t time.Time, snap bodycontainer.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = h.db.Update(func(txn *badger.Txn) error {
		return txn.Set(timeKey(t), data)
	})
}

// ClosestNotNewer implements bodycontainer.HistorySnapshotter by reverse-
// seeking to the largest key at or before t.
func (h *PersistentHistory) ClosestNotNewer(t time.Time) (time.Time, bodycontainer.Snapshot, bool) {
	var (
		found   time.Time
		snap    bodycontainer.Snapshot
		haveOne bool
	)

	_ = h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(timeKey(t))
		if !it.Valid() {
			return nil
		}
		item := it.Item()
		key := item.KeyCopy(nil)
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &snap); err != nil {
				return err
			}
			found = keyTime(key)
			haveOne = true
			return nil
		})
	})

	return found, snap, haveOne
}

// PopBefore implements bodycontainer.HistorySnapshotter, deleting every
// entry strictly older than t.
func (h *PersistentHistory) PopBefore(t time.Time) int {
	return h.deleteWhile(func(key []byte) bool {
		return bytes.Compare(key, timeKey(t)) < 0
	})
}

// PopAfter implements bodycontainer.HistorySnapshotter, deleting every
// entry strictly newer than t.
func (h *PersistentHistory) PopAfter(t time.Time) int {
	upper := timeKey(t)
	return h.deleteWhile(func(key []byte) bool {
		return bytes.Compare(key, upper) > 0
	})
}

func (h *PersistentHistory) deleteWhile(match func(key []byte) bool) int {
	removed := 0
	_ = h.db.Update(func(txn *badger.Txn) error {
		prefix := []byte{keyPrefix}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var toDelete [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if match(key) {
				toDelete = append(toDelete, key)
			}
		}
		for _, key := range toDelete {
			if err := txn.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed
}

// NewestTimestamp implements bodycontainer.HistorySnapshotter.
func (h *PersistentHistory) NewestTimestamp() (time.Time, bool) {
	var (
		found   time.Time
		haveOne bool
	)
	_ = h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seekFrom := append([]byte{keyPrefix + 1})
		it.Seek(seekFrom)
		if !it.Valid() {
			return nil
		}
		found = keyTime(it.Item().KeyCopy(nil))
		haveOne = true
		return nil
	})
	return found, haveOne
}

// Empty implements bodycontainer.HistorySnapshotter.
func (h *PersistentHistory) Empty() bool {
	empty := true
	_ = h.db.View(func(txn *badger.Txn) error {
		prefix := []byte{keyPrefix}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		it.Seek(prefix)
		empty = !it.ValidForPrefix(prefix)
		return nil
	})
	return empty
}
