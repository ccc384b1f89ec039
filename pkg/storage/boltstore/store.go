// Package boltstore is a storage.Store backed by a bbolt file.
package boltstore

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/wehubfusion/Ariadne/pkg/process"
	"github.com/wehubfusion/Ariadne/pkg/storage"
	"go.etcd.io/bbolt"
)

var instancesBucket = []byte("instances")

// Store keeps one encoded snapshot per instance id in the "instances" bucket.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens the database at path. If mode is zero, 0600 is used.
// A context deadline bounds how long Open waits for the file lock.
func Open(ctx context.Context, path string, mode os.FileMode) (*Store, error) {
	if mode == 0 {
		mode = 0600
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := *bbolt.DefaultOptions
	opts.Timeout = time.Second
	if deadline, ok := ctx.Deadline(); ok {
		opts.Timeout = time.Until(deadline)
		if opts.Timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}

	db, err := bbolt.Open(path, mode, &opts)
	if err != nil {
		return nil, fmt.Errorf("open bolt database %s: %w", path, err)
	}
	return New(db)
}

// New wraps an open database, creating the bucket if needed.
func New(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(instancesBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create instances bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Save implements storage.Store.
func (s *Store) Save(_ context.Context, ref process.NodeRef, state process.State) error {
	data, err := storage.Encode(ref, state)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(instancesBucket).Put([]byte(ref.InstanceID), data)
	})
}

// Load implements storage.Store.
func (s *Store) Load(_ context.Context, instanceID string) (process.State, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		// Values are only valid for the life of the transaction.
		if v := tx.Bucket(instancesBucket).Get([]byte(instanceID)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return process.State{}, err
	}
	if data == nil {
		return process.State{}, fmt.Errorf("instance %s: %w", instanceID, storage.ErrNotFound)
	}
	return storage.Decode(data)
}

// Delete implements storage.Store.
func (s *Store) Delete(_ context.Context, instanceID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(instancesBucket).Delete([]byte(instanceID))
	})
}

// InstanceIDs lists every stored instance in key order.
func (s *Store) InstanceIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(instancesBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
