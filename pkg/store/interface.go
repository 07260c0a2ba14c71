package store

import (
	"context"

	"github.com/NicolasHaas/chatrelay/pkg/model"
)

// DefaultListLimit caps List when the filter sets no limit.
const DefaultListLimit = 100

// Transcript archives relay events. Implementations include the default
// SQLite store, an in-memory store for tests and Discard.
type Transcript interface {
	// Record appends an entry and assigns its ID.
	Record(ctx context.Context, entry *model.Entry) error

	// List returns entries in insertion order, applying filter.
	List(ctx context.Context, filter model.EntryFilter) ([]model.Entry, error)

	// Close closes the underlying storage.
	Close() error
}

// Compile-time checks.
var (
	_ Transcript = (*Store)(nil)
	_ Transcript = (*MemoryStore)(nil)
	_ Transcript = Discard{}
)

// Discard is a Transcript that keeps nothing.
type Discard struct{}

func (Discard) Record(context.Context, *model.Entry) error { return nil }

func (Discard) List(context.Context, model.EntryFilter) ([]model.Entry, error) { return nil, nil }

func (Discard) Close() error { return nil }
