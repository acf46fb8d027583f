// Package store provides the key-value state store behind the local
// secret backend.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by Create when the key is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// Store defines the interface for state storage operations. Values are
// JSON documents addressed by kind and name.
type Store interface {
	// Open initializes and opens the store.
	Open(path string) error

	// Close closes the store and releases resources.
	Close() error

	// Create stores a new document. It fails with ErrAlreadyExists.
	Create(ctx context.Context, kind, name string, v interface{}) error

	// Get decodes the document into v. It fails with ErrNotFound.
	Get(ctx context.Context, kind, name string, v interface{}) error

	// List decodes every document of kind into out, a pointer to a slice.
	List(ctx context.Context, kind string, out interface{}) error

	// Delete removes a document.
	Delete(ctx context.Context, kind, name string) error

	// Transaction runs fn in a single read-write transaction.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error
}

// Transaction represents a store transaction.
type Transaction interface {
	Create(kind, name string, v interface{}) error
	Get(kind, name string, v interface{}) error
	Put(kind, name string, v interface{}) error
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists reports whether err is ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
