package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldlock/fieldlock/record"
	"github.com/fieldlock/fieldlock/store"
)

func TestGetSetUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Set(ctx, "users", "u1", record.Record{
		"name":  record.String("Alice"),
		"phone": record.String("0600000000"),
	}))

	got, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got["name"].Str())

	// Update merges only the given fields.
	require.NoError(t, s.Update(ctx, "users", "u1", record.Record{
		"phone": record.String("0611111111"),
	}))
	got, err = s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got["name"].Str())
	assert.Equal(t, "0611111111", got["phone"].Str())

	_, err = s.Get(ctx, "users", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	err = s.Update(ctx, "users", "missing", record.Record{"a": record.String("b")})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Set(ctx, "users", "u1", record.Record{"name": record.String("Alice")}))

	got, _ := s.Get(ctx, "users", "u1")
	got["name"] = record.String("Mallory")

	again, _ := s.Get(ctx, "users", "u1")
	assert.Equal(t, "Alice", again["name"].Str())
}

func TestQueryPagination(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("doc-%03d", i)
		require.NoError(t, s.Set(ctx, "contacts", id, record.Record{"n": record.String(id)}))
	}

	var seen []string
	cursor := ""
	for {
		page, next, err := s.Query(ctx, "contacts", store.Query{Limit: 10, StartAfter: cursor})
		require.NoError(t, err)
		for _, d := range page {
			seen = append(seen, d.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	require.Len(t, seen, 25)
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1], seen[i], "stable ascending id order")
	}
}

func TestQueryBadCursor(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Set(ctx, "contacts", "c1", record.Record{}))

	_, _, err := s.Query(ctx, "contacts", store.Query{Limit: 10, StartAfter: "nope"})
	assert.ErrorIs(t, err, store.ErrBadCursor)
}

func TestQueryOrderByFieldDescending(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i, ts := range []string{"2024-01-01T00:00:00Z", "2024-03-01T00:00:00Z", "2024-02-01T00:00:00Z"} {
		id := fmt.Sprintf("e%d", i)
		require.NoError(t, s.Set(ctx, "logs", id, record.Record{"createdAt": record.String(ts)}))
	}

	page, _, err := s.Query(ctx, "logs", store.Query{OrderBy: "createdAt", Descending: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "e1", page[0].ID)
	assert.Equal(t, "e2", page[1].ID)
	assert.Equal(t, "e0", page[2].ID)
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Set(ctx, "logs", "a", record.Record{"tenantId": record.String("t1")}))
	require.NoError(t, s.Set(ctx, "logs", "b", record.Record{"tenantId": record.String("t2")}))
	require.NoError(t, s.Set(ctx, "logs", "c", record.Record{"tenantId": record.String("t1")}))

	page, _, err := s.Query(ctx, "logs", store.Query{
		Filters: []store.Filter{{Field: "tenantId", Value: "t1"}},
	})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestBatchAtomicity(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Set(ctx, "users", "u1", record.Record{"a": record.String("1")}))

	// A batch touching a missing document applies nothing.
	err := s.Batch(ctx, "users", func(tx store.BatchTx) error {
		require.NoError(t, tx.Update("u1", record.Record{"a": record.String("2")}))
		require.NoError(t, tx.Update("missing", record.Record{"a": record.String("2")}))
		return nil
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, _ := s.Get(ctx, "users", "u1")
	assert.Equal(t, "1", got["a"].Str())
}

func TestBatchSizeCap(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.Batch(ctx, "users", func(tx store.BatchTx) error {
		for i := 0; i <= store.MaxBatchSize; i++ {
			if err := tx.Set(fmt.Sprintf("u%d", i), record.Record{}); err != nil {
				return err
			}
		}
		return nil
	})
	assert.ErrorIs(t, err, store.ErrBatchTooLarge)
}
