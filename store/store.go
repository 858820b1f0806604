// Package store defines the document store contract consumed by the
// encryption subsystem: single-document get/set/merge, ordered cursor
// pagination and bounded multi-document batches.
package store

import (
	"context"
	"errors"

	"github.com/fieldlock/fieldlock/record"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
	// ErrBadCursor is returned for a pagination cursor that does not
	// reference an existing document.
	ErrBadCursor = errors.New("invalid pagination cursor")
)

// MaxBatchSize is the upper bound on writes in one atomic batch commit,
// matching the underlying store's limit.
const MaxBatchSize = 500

// Document pairs a document id with its fields.
type Document struct {
	ID     string
	Fields record.Record
}

// Filter is an equality constraint on a string field.
type Filter struct {
	Field string
	Value string
}

// Query describes one page of an ordered collection walk.
//
// With OrderBy empty, documents are ordered by id ascending, the stable
// order the migration engine paginates on. With OrderBy set, documents
// are ordered by that string field (descending if Descending), with id as
// tiebreak. StartAfter is the id of the last document of the previous
// page; empty means start from the beginning.
type Query struct {
	OrderBy    string
	Descending bool
	Limit      int
	StartAfter string
	Filters    []Filter
}

// BatchTx collects writes inside one atomic batch.
type BatchTx interface {
	// Set replaces the document's fields.
	Set(id string, fields record.Record) error
	// Update merges only the given fields into the document, leaving all
	// other fields untouched.
	Update(id string, fields record.Record) error
}

// Store is the document store consumed by the subsystem.
type Store interface {
	Get(ctx context.Context, collection, id string) (record.Record, error)
	Set(ctx context.Context, collection, id string, fields record.Record) error
	// Update merges fields into an existing document atomically.
	Update(ctx context.Context, collection, id string, fields record.Record) error
	// Query returns one page plus the cursor for the next page; an empty
	// cursor means the collection is exhausted.
	Query(ctx context.Context, collection string, q Query) ([]Document, string, error)
	// Batch runs fn and commits all collected writes atomically. At most
	// MaxBatchSize writes per batch.
	Batch(ctx context.Context, collection string, fn func(tx BatchTx) error) error
}

// MatchesFilters reports whether a record satisfies every equality filter.
// Shared by backends that filter in process.
func MatchesFilters(fields record.Record, filters []Filter) bool {
	for _, f := range filters {
		v, ok := fields[f.Field]
		if !ok || v.Kind() != record.KindString || v.Str() != f.Value {
			return false
		}
	}
	return true
}
