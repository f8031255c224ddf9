package observation

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
)

// WatermarkStore persists the last durably committed observation sequence.
// The orchestrator advances it only after a batch commits, so a crash
// between pull and commit replays the batch.
type WatermarkStore interface {
	Load(ctx context.Context) (uint64, error)
	Save(ctx context.Context, seq uint64) error
	Close() error
}

var watermarkKey = []byte("crystal/watermark")

// BadgerWatermarkStore keeps the watermark in a Badger database, typically
// shared with the audit trail.
type BadgerWatermarkStore struct {
	db     *badger.DB
	ownsDB bool
}

// NewBadgerWatermarkStore opens (or creates) a Badger database at path.
func NewBadgerWatermarkStore(path string) (*BadgerWatermarkStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("observation: open watermark store: %w", err)
	}
	return &BadgerWatermarkStore{db: db, ownsDB: true}, nil
}

// WrapBadgerWatermarkStore reuses an already-open Badger database. Close
// becomes a no-op; the owner closes the database.
func WrapBadgerWatermarkStore(db *badger.DB) *BadgerWatermarkStore {
	return &BadgerWatermarkStore{db: db}
}

// Load returns the stored watermark, or zero when none has been saved yet.
func (s *BadgerWatermarkStore) Load(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var seq uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(watermarkKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("observation: corrupt watermark value of %d bytes", len(val))
			}
			seq = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("observation: load watermark: %w", err)
	}
	return seq, nil
}

// Save writes the watermark durably.
func (s *BadgerWatermarkStore) Save(ctx context.Context, seq uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(watermarkKey, buf)
	})
	if err != nil {
		return fmt.Errorf("observation: save watermark: %w", err)
	}
	return nil
}

// Close closes the underlying database when this store owns it.
func (s *BadgerWatermarkStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// MemoryWatermarkStore is the in-process WatermarkStore for tests and
// ephemeral runs.
type MemoryWatermarkStore struct {
	mu  sync.Mutex
	seq uint64
}

// NewMemoryWatermarkStore creates a MemoryWatermarkStore starting at zero.
func NewMemoryWatermarkStore() *MemoryWatermarkStore {
	return &MemoryWatermarkStore{}
}

func (s *MemoryWatermarkStore) Load(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, nil
}

func (s *MemoryWatermarkStore) Save(ctx context.Context, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = seq
	return nil
}

func (s *MemoryWatermarkStore) Close() error { return nil }

var (
	_ WatermarkStore = (*BadgerWatermarkStore)(nil)
	_ WatermarkStore = (*MemoryWatermarkStore)(nil)
)
