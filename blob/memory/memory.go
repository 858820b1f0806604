// Package memory provides an in-memory blob store for tests and demos.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/fieldlock/fieldlock/blob"
)

type object struct {
	data        []byte
	contentType string
	meta        map[string]string
	// metaLag counts reads that still observe the previous metadata,
	// simulating eventual consistency of the side channel.
	metaLag  int
	prevMeta map[string]string
}

// Store is a thread-safe in-memory blob store. An optional propagation
// lag makes metadata reads stale for a fixed number of reads after each
// write, which is how the eventual-consistency handling is tested.
type Store struct {
	mu      sync.Mutex
	objects map[string]*object
	lag     int
}

var _ blob.Store = (*Store)(nil)

func New() *Store {
	return &Store{objects: make(map[string]*object)}
}

// WithMetadataLag makes every metadata write invisible for the next n
// reads of that object's metadata.
func (s *Store) WithMetadataLag(n int) *Store {
	s.lag = n
	return s
}

func (s *Store) Exists(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[path]
	return ok, nil
}

func (s *Store) Download(_ context.Context, path string) (*blob.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, blob.ErrNotFound)
	}
	return &blob.Object{
		Data:        append([]byte(nil), o.data...),
		ContentType: o.contentType,
	}, nil
}

func (s *Store) Upload(_ context.Context, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[path]
	if !ok {
		o = &object{}
		s.objects[path] = o
	}
	o.data = append([]byte(nil), data...)
	o.contentType = contentType
	return nil
}

func (s *Store) GetMetadata(_ context.Context, path string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, blob.ErrNotFound)
	}
	if o.metaLag > 0 {
		o.metaLag--
		return cloneMeta(o.prevMeta), nil
	}
	return cloneMeta(o.meta), nil
}

func (s *Store) SetMetadata(_ context.Context, path string, meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[path]
	if !ok {
		return fmt.Errorf("%s: %w", path, blob.ErrNotFound)
	}
	o.prevMeta = o.meta
	o.meta = cloneMeta(meta)
	o.metaLag = s.lag
	return nil
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
