package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerOptions holds Badger adapter configuration
type BadgerOptions struct {
	Dir      string
	InMemory bool

	// GCInterval is the interval between value log GC runs, 0 disables GC.
	GCInterval time.Duration
}

// BadgerAdapter implements the Adapter interface on an embedded BadgerDB
type BadgerAdapter struct {
	db     *badger.DB
	gcStop chan struct{}
	gcWg   sync.WaitGroup
	once   sync.Once
}

// NewBadgerAdapter opens (or creates) the database described by opts
func NewBadgerAdapter(opts BadgerOptions) (*BadgerAdapter, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	b := &BadgerAdapter{
		db:     db,
		gcStop: make(chan struct{}),
	}
	if opts.GCInterval > 0 && !opts.InMemory {
		b.startGC(opts.GCInterval)
	}
	return b, nil
}

// startGC runs value log garbage collection until Close
func (b *BadgerAdapter) startGC(interval time.Duration) {
	b.gcWg.Add(1)
	go func() {
		defer b.gcWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-b.gcStop:
				return
			case <-ticker.C:
				for b.db.RunValueLogGC(0.5) == nil {
				}
			}
		}
	}()
}

// Put stores data at the given path
func (b *BadgerAdapter) Put(ctx context.Context, path string, data io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(path), buf)
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// Get retrieves data from the given path
func (b *BadgerAdapter) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	return io.NopCloser(bytes.NewReader(value)), nil
}

// Delete removes data at the given path
func (b *BadgerAdapter) Delete(ctx context.Context, path string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(path))
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Exists checks if data exists at the given path
func (b *BadgerAdapter) Exists(ctx context.Context, path string) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(path))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return true, nil
}

// List returns paths matching the given prefix
func (b *BadgerAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	paths := make([]string, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			paths = append(paths, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return paths, nil
}

// Close stops GC and closes the database
func (b *BadgerAdapter) Close() error {
	var err error
	b.once.Do(func() {
		close(b.gcStop)
		b.gcWg.Wait()
		err = b.db.Close()
	})
	return err
}
