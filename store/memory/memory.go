// Package memory provides a thread-safe in-memory implementation of
// store.Store. Suitable for testing, demos, and single-process use.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/fieldlock/fieldlock/record"
	"github.com/fieldlock/fieldlock/store"
)

// Store is a thread-safe in-memory document store.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string]record.Record // collection -> id -> fields
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: make(map[string]map[string]record.Record)}
}

func (s *Store) Get(_ context.Context, collection, id string) (record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(collection, id)
}

func (s *Store) getLocked(collection, id string) (record.Record, error) {
	docs, ok := s.data[collection]
	if !ok {
		return nil, store.ErrNotFound
	}
	fields, ok := docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return fields.Clone(), nil
}

func (s *Store) Set(_ context.Context, collection, id string, fields record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(collection, id, fields)
	return nil
}

func (s *Store) setLocked(collection, id string, fields record.Record) {
	if _, ok := s.data[collection]; !ok {
		s.data[collection] = make(map[string]record.Record)
	}
	s.data[collection][id] = fields.Clone()
}

func (s *Store) Update(_ context.Context, collection, id string, fields record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(collection, id, fields)
}

func (s *Store) updateLocked(collection, id string, fields record.Record) error {
	existing, err := s.getLocked(collection, id)
	if err != nil {
		return err
	}
	for k, v := range fields {
		existing[k] = v
	}
	s.data[collection][id] = existing
	return nil
}

func (s *Store) Query(_ context.Context, collection string, q store.Query) ([]store.Document, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []store.Document
	for id, fields := range s.data[collection] {
		if !store.MatchesFilters(fields, q.Filters) {
			continue
		}
		docs = append(docs, store.Document{ID: id, Fields: fields.Clone()})
	}

	sortKey := func(d store.Document) string {
		if q.OrderBy == "" {
			return d.ID
		}
		return d.Fields[q.OrderBy].Str()
	}
	sort.Slice(docs, func(i, j int) bool {
		ki, kj := sortKey(docs[i]), sortKey(docs[j])
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

type batchOp struct {
	id     string
	fields record.Record
	merge  bool
}

type batchTx struct {
	ops []batchOp
}

func (tx *batchTx) Set(id string, fields record.Record) error {
	tx.ops = append(tx.ops, batchOp{id: id, fields: fields.Clone()})
	return nil
}

func (tx *batchTx) Update(id string, fields record.Record) error {
	tx.ops = append(tx.ops, batchOp{id: id, fields: fields.Clone(), merge: true})
	return nil
}

// Batch applies all writes under one lock. On error nothing is applied.
func (s *Store) Batch(_ context.Context, collection string, fn func(tx store.BatchTx) error) error {
	tx := &batchTx{}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.ops) > store.MaxBatchSize {
		return store.ErrBatchTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate merges first so a failed batch leaves no partial writes.
	for _, op := range tx.ops {
		if op.merge {
			if _, err := s.getLocked(collection, op.id); err != nil {
				return err
			}
		}
	}
	for _, op := range tx.ops {
		if op.merge {
			if err := s.updateLocked(collection, op.id, op.fields); err != nil {
				return err
			}
			continue
		}
		s.setLocked(collection, op.id, op.fields)
	}
	return nil
}
