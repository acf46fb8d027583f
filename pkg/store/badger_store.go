package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rzbill/aideploy/pkg/log"
)

var _ Store = &BadgerStore{}

// BadgerStore implements the Store interface using BadgerDB.
type BadgerStore struct {
	db       *badger.DB
	path     string
	inMemory bool
	logger   log.Logger
}

// BadgerOption configures a BadgerStore.
type BadgerOption func(*BadgerStore)

// WithInMemory keeps all data in memory. Open ignores its path.
func WithInMemory(inMemory bool) BadgerOption {
	return func(s *BadgerStore) {
		s.inMemory = inMemory
	}
}

// NewBadgerStore creates a new BadgerDB-backed store.
func NewBadgerStore(logger log.Logger, opts ...BadgerOption) *BadgerStore {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	s := &BadgerStore{logger: logger.WithComponent("store")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the BadgerDB database.
func (s *BadgerStore) Open(path string) error {
	s.path = path

	opts := badger.DefaultOptions(path)
	if s.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(&badgerLogAdapter{logger: s.logger})

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to open badger db: %w", err)
	}
	s.db = db

	s.logger.Debug("Store opened", log.Str("path", path), log.Bool("in_memory", s.inMemory))
	return nil
}

// Close closes the BadgerDB database.
func (s *BadgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Create stores a new document.
func (s *BadgerStore) Create(ctx context.Context, kind, name string, v interface{}) error {
	return s.Transaction(ctx, func(tx Transaction) error {
		return tx.Create(kind, name, v)
	})
}

// Get retrieves a document.
func (s *BadgerStore) Get(ctx context.Context, kind, name string, v interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, kind, name, v)
	})
}

// List retrieves every document of a kind in key order.
func (s *BadgerStore) List(ctx context.Context, kind string, out interface{}) error {
	var docs [][]byte
	prefix := MakePrefix(kind)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			docs = append(docs, val)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", kind, err)
	}

	s.logger.Debug("Listed documents", log.Str("kind", kind), log.Int("count", len(docs)))
	return decodeList(docs, out)
}

// Delete deletes a document.
func (s *BadgerStore) Delete(ctx context.Context, kind, name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := MakeKey(kind, name)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%s/%s: %w", kind, name, ErrNotFound)
			}
			return err
		}
		return txn.Delete(key)
	})
}

// Transaction executes fn in one read-write transaction. Conflicting
// concurrent writers get badger.ErrConflict and may retry.
func (s *BadgerStore) Transaction(ctx context.Context, fn func(tx Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTransaction{txn: txn})
	})
}

type badgerTransaction struct {
	txn *badger.Txn
}

func (t *badgerTransaction) Create(kind, name string, v interface{}) error {
	_, err := t.txn.Get(MakeKey(kind, name))
	if err == nil {
		return fmt.Errorf("%s/%s: %w", kind, name, ErrAlreadyExists)
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("failed to check existing document: %w", err)
	}
	return t.Put(kind, name, v)
}

func (t *badgerTransaction) Get(kind, name string, v interface{}) error {
	return getJSON(t.txn, kind, name, v)
}

func (t *badgerTransaction) Put(kind, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}
	if err := t.txn.Set(MakeKey(kind, name), data); err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

func getJSON(txn *badger.Txn, kind, name string, v interface{}) error {
	item, err := txn.Get(MakeKey(kind, name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s/%s: %w", kind, name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// badgerLogAdapter adapts our logger to BadgerDB's logger interface.
type badgerLogAdapter struct {
	logger log.Logger
}

// Errorf implements badger.Logger.
func (l *badgerLogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("badger: "+format, args...)
}

// Warningf implements badger.Logger.
func (l *badgerLogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warnf("badger: "+format, args...)
}

// Infof implements badger.Logger.
func (l *badgerLogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Debugf("badger: "+format, args...)
}

// Debugf implements badger.Logger.
func (l *badgerLogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debugf("badger: "+format, args...)
}
