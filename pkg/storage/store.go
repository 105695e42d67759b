package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// Store provides Pebble-based persistence for nonce state and settlement
// records. Thread-safe only through the engine's lock: the engine
// serializes all writers.
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at the given path
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,                  // 32MB memtable
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10, // 512KB
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// ==============================
// Keys
// ==============================
//
// nf/<addr>            → min-nonce floor (8-byte BE)
// nx/<addr>/<nonce BE> → 0x01 (nonce executed or cancelled)
// sh/<orderHash>       → settlement record payload
// st/<ts BE>/<hash>    → settlement record payload (time-ordered index)

func nonceFloorKey(addr common.Address) []byte {
	return append([]byte("nf/"), addr.Bytes()...)
}

func nonceKey(addr common.Address, nonce uint64) []byte {
	key := append([]byte("nx/"), addr.Bytes()...)
	key = append(key, '/')
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return append(key, n[:]...)
}

func noncePrefix(addr common.Address) []byte {
	key := append([]byte("nx/"), addr.Bytes()...)
	return append(key, '/')
}

func settlementKey(orderHash common.Hash) []byte {
	return append([]byte("sh/"), orderHash.Bytes()...)
}

func settlementTimeKey(timestamp int64, orderHash common.Hash) []byte {
	key := []byte("st/")
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	key = append(key, ts[:]...)
	key = append(key, '/')
	return append(key, orderHash.Bytes()...)
}

// keyUpperBound returns the smallest key greater than every key with prefix
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// ==============================
// Nonce state
// ==============================

// SetNonceFloor persists a signer's min-nonce floor
func (s *Store) SetNonceFloor(addr common.Address, floor uint64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], floor)
	if err := s.db.Set(nonceFloorKey(addr), v[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to save nonce floor: %w", err)
	}
	return nil
}

// MarkNonceUsed persists a single executed-or-cancelled nonce
func (s *Store) MarkNonceUsed(addr common.Address, nonce uint64) error {
	if err := s.db.Set(nonceKey(addr, nonce), []byte{1}, pebble.Sync); err != nil {
		return fmt.Errorf("failed to mark nonce: %w", err)
	}
	return nil
}

// LoadNonceState loads all floors and used nonces. Called once at startup
// to rebuild the in-memory registry.
func (s *Store) LoadNonceState() (map[common.Address]uint64, map[common.Address]map[uint64]bool, error) {
	floors := make(map[common.Address]uint64)
	used := make(map[common.Address]map[uint64]bool)

	floorPrefix := []byte("nf/")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: floorPrefix,
		UpperBound: keyUpperBound(floorPrefix),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to iterate nonce floors: %w", err)
	}
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != len(floorPrefix)+common.AddressLength || len(iter.Value()) != 8 {
			continue // skip invalid entries
		}
		addr := common.BytesToAddress(key[len(floorPrefix):])
		floors[addr] = binary.BigEndian.Uint64(iter.Value())
	}
	if err := iter.Close(); err != nil {
		return nil, nil, err
	}

	usedPrefix := []byte("nx/")
	iter, err = s.db.NewIter(&pebble.IterOptions{
		LowerBound: usedPrefix,
		UpperBound: keyUpperBound(usedPrefix),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to iterate nonces: %w", err)
	}
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		// nx/ + 20-byte addr + '/' + 8-byte nonce
		if len(key) != len(usedPrefix)+common.AddressLength+1+8 {
			continue
		}
		addr := common.BytesToAddress(key[len(usedPrefix) : len(usedPrefix)+common.AddressLength])
		nonce := binary.BigEndian.Uint64(key[len(key)-8:])
		if used[addr] == nil {
			used[addr] = make(map[uint64]bool)
		}
		used[addr][nonce] = true
	}
	if err := iter.Close(); err != nil {
		return nil, nil, err
	}

	return floors, used, nil
}

// ==============================
// Settlement records
// ==============================

// GetSettlement loads a settlement record payload by order hash.
// Returns nil if no settlement exists for the hash.
func (s *Store) GetSettlement(orderHash common.Hash) ([]byte, error) {
	data, closer, err := s.db.Get(settlementKey(orderHash))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	defer closer.Close()

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// RecentSettlements loads the most recent N settlement record payloads,
// newest first.
func (s *Store) RecentSettlements(limit int) ([][]byte, error) {
	prefix := []byte("st/")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate settlements: %w", err)
	}
	defer iter.Close()

	var records [][]byte
	for iter.Last(); iter.Valid() && len(records) < limit; iter.Prev() {
		rec := make([]byte, len(iter.Value()))
		copy(rec, iter.Value())
		records = append(records, rec)
	}

	return records, nil
}

// ==============================
// Atomic batches
// ==============================

// Batch stages nonce consumption and the settlement record so both commit
// together. A failed settlement never leaves a nonce consumed.
type Batch struct {
	batch *pebble.Batch
}

// NewBatch creates a new batch writer
func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

// MarkNonceUsed adds nonce consumption to the batch
func (b *Batch) MarkNonceUsed(addr common.Address, nonce uint64) error {
	return b.batch.Set(nonceKey(addr, nonce), []byte{1}, nil)
}

// PutSettlement adds a settlement record to the batch under both the
// hash key and the time-ordered index key.
func (b *Batch) PutSettlement(timestamp int64, orderHash common.Hash, payload []byte) error {
	if err := b.batch.Set(settlementKey(orderHash), payload, nil); err != nil {
		return err
	}
	return b.batch.Set(settlementTimeKey(timestamp, orderHash), payload, nil)
}

// Commit writes the batch to Pebble atomically
func (b *Batch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

// Close closes the batch without committing
func (b *Batch) Close() error {
	return b.batch.Close()
}
