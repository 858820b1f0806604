// Package bbolt provides a BBolt-backed document store for single-node
// deployments. One bucket per collection, keys are document ids, values
// are the JSON-encoded field map.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/fieldlock/fieldlock/record"
	"github.com/fieldlock/fieldlock/store"
)

// Store implements store.Store backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ store.Store = (*Store)(nil)

// New returns a Store backed by the given BBolt database.
func New(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewFromFile opens a BBolt database at the given path.
func NewFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return New(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(_ context.Context, collection, id string) (record.Record, error) {
	var fields record.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
		}
		return json.Unmarshal(data, &fields)
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func (s *Store) Set(_ context.Context, collection, id string, fields record.Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putDoc(tx, collection, id, fields)
	})
}

func (s *Store) Update(_ context.Context, collection, id string, fields record.Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return mergeDoc(tx, collection, id, fields)
	})
}

func putDoc(tx *bbolt.Tx, collection, id string, fields record.Record) error {
	b, err := tx.CreateBucketIfNotExists([]byte(collection))
	if err != nil {
		return err
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

func mergeDoc(tx *bbolt.Tx, collection, id string, fields record.Record) error {
	b := tx.Bucket([]byte(collection))
	if b == nil {
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	data := b.Get([]byte(id))
	if data == nil {
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	var existing record.Record
	if err := json.Unmarshal(data, &existing); err != nil {
		return err
	}
	for k, v := range fields {
		existing[k] = v
	}
	merged, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), merged)
}

func (s *Store) Query(_ context.Context, collection string, q store.Query) ([]store.Document, string, error) {
	var docs []store.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var fields record.Record
			if err := json.Unmarshal(v, &fields); err != nil {
				return err
			}
			if !store.MatchesFilters(fields, q.Filters) {
				return nil
			}
			docs = append(docs, store.Document{ID: string(k), Fields: fields})
			return nil
		})
	})
	if err != nil {
		return nil, "", err
	}

	// Bucket iteration is already id-ordered; re-sort only when ordering
	// by a field.
	if q.OrderBy != "" {
		sort.Slice(docs, func(i, j int) bool {
			ki := docs[i].Fields[q.OrderBy].Str()
			kj := docs[j].Fields[q.OrderBy].Str()
			if ki == kj {
				if q.Descending {
					return docs[i].ID > docs[j].ID
				}
				return docs[i].ID < docs[j].ID
			}
			if q.Descending {
				return ki > kj
			}
			return ki < kj
		})
	}

	start := 0
	if q.StartAfter != "" {
		found := false
		for i, d := range docs {
			if d.ID == q.StartAfter {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, "", store.ErrBadCursor
		}
	}

	end := len(docs)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	page := docs[start:end]

	next := ""
	if end < len(docs) && len(page) > 0 {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}

type batchTx struct {
	tx         *bbolt.Tx
	collection string
	count      int
}

func (t *batchTx) Set(id string, fields record.Record) error {
	if t.count >= store.MaxBatchSize {
		return store.ErrBatchTooLarge
	}
	t.count++
	return putDoc(t.tx, t.collection, id, fields)
}

func (t *batchTx) Update(id string, fields record.Record) error {
	if t.count >= store.MaxBatchSize {
		return store.ErrBatchTooLarge
	}
	t.count++
	return mergeDoc(t.tx, t.collection, id, fields)
}

// Batch runs fn inside one BBolt write transaction. On error all writes
// are rolled back.
func (s *Store) Batch(_ context.Context, collection string, fn func(tx store.BatchTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&batchTx{tx: tx, collection: collection})
	})
}
