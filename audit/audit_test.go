package audit

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldlock/fieldlock/crypto"
	"github.com/fieldlock/fieldlock/store/memory"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func testKeys() *crypto.KeyProvider {
	return crypto.NewKeyProviderFromSource(func() (string, error) {
		return testKeyHex, nil
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startRecorder builds a recorder with a deterministic clock installed
// before the background loop starts.
func startRecorder(docs *memory.Store, now func() time.Time) *Recorder {
	r := &Recorder{
		docs:    docs,
		logger:  discardLogger().With("component", "audit"),
		entries: make(chan Entry, queueSize),
		now:     now,
	}
	r.lastHash = r.resumeChain(context.Background())
	r.wg.Add(1)
	go r.loop()
	return r
}

func newRecorder(t *testing.T, docs *memory.Store) *Recorder {
	t.Helper()
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	n := 0
	return startRecorder(docs, func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Millisecond)
	})
}

func drain(t *testing.T, docs *memory.Store) []Entry {
	t.Helper()
	log := NewLog(docs, testKeys())
	exp, err := log.Export(context.Background())
	require.NoError(t, err)
	return exp.Entries
}

func TestRecorderChainsEntries(t *testing.T) {
	docs := memory.New()
	r := newRecorder(t, docs)

	for i, actor := range []string{"a1", "a2", "a3"} {
		r.Record(Entry{
			ActorID:      actor,
			ActorName:    "User " + actor,
			Kind:         AccessRecordDecrypt,
			ResourceKind: "user",
			ResourceID:   "u" + actor,
			Granted:      i%2 == 0,
		})
	}
	r.Close()

	entries := drain(t, docs)
	require.Len(t, entries, 3)
	assert.Equal(t, GenesisHash, entries[0].PrevHash)
	for i := 1; i < len(entries); i++ {
		prev := entries[i-1]
		assert.Equal(t, ChainHash(prev.ID, prev.PrevHash, prev.CreatedAt), entries[i].PrevHash)
	}
	assert.Equal(t, "a1", entries[0].ActorID)
	assert.True(t, entries[0].Granted)
	assert.False(t, entries[1].Granted)
}

func TestRecorderPlaceholders(t *testing.T) {
	docs := memory.New()
	r := newRecorder(t, docs)

	r.Record(Entry{ActorID: "a1", Kind: AccessFileDecrypt, ResourceKind: "file", ResourceID: "f1"})
	r.Close()

	entries := drain(t, docs)
	require.Len(t, entries, 1)
	assert.Equal(t, "Unknown User", entries[0].ActorName)
	assert.Equal(t, "unknown", entries[0].ActorEmail)
}

func TestRecorderResumesChainAcrossRestarts(t *testing.T) {
	docs := memory.New()

	r1 := newRecorder(t, docs)
	r1.Record(Entry{ActorID: "a1", Kind: AccessRecordDecrypt, ResourceKind: "user", ResourceID: "u1", Granted: true})
	r1.Close()

	r2 := startRecorder(docs, func() time.Time {
		return time.Date(2024, 6, 16, 12, 0, 0, 0, time.UTC)
	})
	r2.Record(Entry{ActorID: "a2", Kind: AccessRecordDecrypt, ResourceKind: "user", ResourceID: "u2", Granted: true})
	r2.Close()

	entries := drain(t, docs)
	require.Len(t, entries, 2)
	first := entries[0]
	assert.Equal(t, ChainHash(first.ID, first.PrevHash, first.CreatedAt), entries[1].PrevHash)
}

func TestLogQueryFiltersAndPaginates(t *testing.T) {
	docs := memory.New()
	r := newRecorder(t, docs)

	for i := 0; i < 5; i++ {
		actor := "alice"
		tenant := "t1"
		if i%2 == 1 {
			actor = "bob"
			tenant = "t2"
		}
		r.Record(Entry{
			ActorID:      actor,
			TenantID:     tenant,
			Kind:         AccessRecordDecrypt,
			ResourceKind: "user",
			ResourceID:   "u1",
			Granted:      true,
		})
	}
	r.Close()

	log := NewLog(docs, testKeys())

	t.Run("ByActor", func(t *testing.T) {
		entries, _, err := log.Query(context.Background(), QueryOptions{ActorID: "bob"})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		for _, e := range entries {
			assert.Equal(t, "bob", e.ActorID)
		}
	})

	t.Run("ByTenant", func(t *testing.T) {
		entries, _, err := log.Query(context.Background(), QueryOptions{TenantID: "t1"})
		require.NoError(t, err)
		assert.Len(t, entries, 3)
	})

	t.Run("NewestFirstPaged", func(t *testing.T) {
		page1, cursor, err := log.Query(context.Background(), QueryOptions{Limit: 3})
		require.NoError(t, err)
		require.Len(t, page1, 3)
		require.NotEmpty(t, cursor)

		page2, _, err := log.Query(context.Background(), QueryOptions{Limit: 3, StartAfter: cursor})
		require.NoError(t, err)
		require.Len(t, page2, 2)

		all := append(append([]Entry{}, page1...), page2...)
		for i := 1; i < len(all); i++ {
			assert.GreaterOrEqual(t, all[i-1].CreatedAt, all[i].CreatedAt)
		}
	})
}

func TestExportVerifies(t *testing.T) {
	docs := memory.New()
	r := newRecorder(t, docs)
	for i := 0; i < 4; i++ {
		r.Record(Entry{ActorID: "a1", Kind: AccessRecordDecrypt, ResourceKind: "user", ResourceID: "u1", Granted: true})
	}
	r.Close()

	log := NewLog(docs, testKeys())
	exp, err := log.Export(context.Background())
	require.NoError(t, err)
	require.Len(t, exp.Entries, 4)
	require.NoError(t, VerifyExport(testKeys(), exp))

	t.Run("TamperedEntry", func(t *testing.T) {
		bad := exp
		bad.Entries = append([]Entry{}, exp.Entries...)
		bad.Entries[2].PrevHash = strings.Repeat("ab", 32)
		err := VerifyExport(testKeys(), bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chain broken")
	})

	t.Run("TamperedSignature", func(t *testing.T) {
		bad := exp
		bad.Signature = strings.Repeat("00", 32)
		err := VerifyExport(testKeys(), bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "signature mismatch")
	})

	t.Run("EmptyLogVerifies", func(t *testing.T) {
		emptyLog := NewLog(memory.New(), testKeys())
		exp, err := emptyLog.Export(context.Background())
		require.NoError(t, err)
		require.NoError(t, VerifyExport(testKeys(), exp))
	})
}
