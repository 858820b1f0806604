package bbolt

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldlock/fieldlock/record"
	"github.com/fieldlock/fieldlock/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewFromFile(filepath.Join(t.TempDir(), "docs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetSetUpdate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Set(ctx, "users", "u1", record.Record{
		"name":  record.String("Alice"),
		"phone": record.String("0600000000"),
	}))

	require.NoError(t, s.Update(ctx, "users", "u1", record.Record{
		"phone": record.String("0611111111"),
	}))

	got, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got["name"].Str())
	assert.Equal(t, "0611111111", got["phone"].Str())

	_, err = s.Get(ctx, "users", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	err = s.Update(ctx, "users", "missing", record.Record{"a": record.String("b")})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQueryPaginationOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("doc-%03d", i)
		require.NoError(t, s.Set(ctx, "contacts", id, record.Record{}))
	}

	page1, next, err := s.Query(ctx, "contacts", store.Query{Limit: 5})
	require.NoError(t, err)
	require.Len(t, page1, 5)
	require.NotEmpty(t, next)
	assert.Equal(t, "doc-000", page1[0].ID)

	page2, next, err := s.Query(ctx, "contacts", store.Query{Limit: 5, StartAfter: next})
	require.NoError(t, err)
	require.Len(t, page2, 5)
	assert.Equal(t, "doc-005", page2[0].ID)

	page3, next, err := s.Query(ctx, "contacts", store.Query{Limit: 5, StartAfter: next})
	require.NoError(t, err)
	assert.Len(t, page3, 2)
	assert.Empty(t, next)
}

func TestQueryBadCursor(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Set(ctx, "contacts", "c1", record.Record{}))

	_, _, err := s.Query(ctx, "contacts", store.Query{Limit: 5, StartAfter: "nope"})
	assert.ErrorIs(t, err, store.ErrBadCursor)
}

func TestBatchRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Set(ctx, "users", "u1", record.Record{"a": record.String("1")}))

	err := s.Batch(ctx, "users", func(tx store.BatchTx) error {
		if err := tx.Update("u1", record.Record{"a": record.String("2")}); err != nil {
			return err
		}
		return tx.Update("missing", record.Record{"a": record.String("2")})
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, _ := s.Get(ctx, "users", "u1")
	assert.Equal(t, "1", got["a"].Str())
}
