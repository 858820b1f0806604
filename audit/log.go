package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/fieldlock/fieldlock/crypto"
	"github.com/fieldlock/fieldlock/internal/util"
	"github.com/fieldlock/fieldlock/store"
)

// defaultPageSize bounds a query page when the caller does not set one.
const defaultPageSize = 50

// QueryOptions filters and paginates an access log read.
type QueryOptions struct {
	TenantID string
	ActorID  string
	// StartAfter is the id of the last entry of the previous page.
	StartAfter string
	Limit      int
}

// Log reads the durable access log.
type Log struct {
	docs store.Store
	keys *crypto.KeyProvider
}

func NewLog(docs store.Store, keys *crypto.KeyProvider) *Log {
	return &Log{docs: docs, keys: keys}
}

// Query returns one page of entries, newest first, plus the cursor for
// the next page.
func (l *Log) Query(ctx context.Context, opts QueryOptions) ([]Entry, string, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	q := store.Query{
		OrderBy:    "createdAt",
		Descending: true,
		Limit:      limit,
		StartAfter: opts.StartAfter,
	}
	if opts.TenantID != "" {
		q.Filters = append(q.Filters, store.Filter{Field: "tenantId", Value: opts.TenantID})
	}
	if opts.ActorID != "" {
		q.Filters = append(q.Filters, store.Filter{Field: "actorId", Value: opts.ActorID})
	}
	docs, next, err := l.docs.Query(ctx, Collection, q)
	if err != nil {
		return nil, "", fmt.Errorf("query access log: %w", err)
	}
	entries := make([]Entry, len(docs))
	for i, d := range docs {
		entries[i] = entryFromRecord(d.ID, d.Fields)
	}
	return entries, next, nil
}

// Export is a full chronological dump of the chain with a tamper-evident
// HMAC-SHA256 signature over the serialized entries.
type Export struct {
	Entries   []Entry `json:"entries"`
	Signature string  `json:"signature"`
}

// Export walks the whole log oldest-first and signs it with the audit
// HMAC key derived from the master key.
func (l *Log) Export(ctx context.Context) (Export, error) {
	var entries []Entry
	cursor := ""
	for {
		docs, next, err := l.docs.Query(ctx, Collection, store.Query{
			OrderBy:    "createdAt",
			Limit:      defaultPageSize,
			StartAfter: cursor,
		})
		if err != nil {
			return Export{}, fmt.Errorf("export access log: %w", err)
		}
		for _, d := range docs {
			entries = append(entries, entryFromRecord(d.ID, d.Fields))
		}
		if next == "" {
			break
		}
		cursor = next
	}

	sig, err := l.sign(entries)
	if err != nil {
		return Export{}, err
	}
	return Export{Entries: entries, Signature: sig}, nil
}

func (l *Log) sign(entries []Entry) (string, error) {
	return signEntries(l.keys, entries)
}

func signEntries(keys *crypto.KeyProvider, entries []Entry) (string, error) {
	key, err := keys.AuditHMACKey()
	if err != nil {
		return "", fmt.Errorf("sign access log export: %w", err)
	}
	defer util.WipeBytes(key)

	payload, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("sign access log export: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyExport checks the export's chain continuity and its signature.
// It returns nil only when the first entry anchors at the genesis hash,
// every prev_hash links to its predecessor and the HMAC matches.
func VerifyExport(keys *crypto.KeyProvider, exp Export) error {
	if len(exp.Entries) > 0 {
		if exp.Entries[0].PrevHash != GenesisHash {
			return fmt.Errorf("verify access log: first entry is not anchored at genesis")
		}
		for i := 1; i < len(exp.Entries); i++ {
			prev := exp.Entries[i-1]
			want := ChainHash(prev.ID, prev.PrevHash, prev.CreatedAt)
			if exp.Entries[i].PrevHash != want {
				return fmt.Errorf("verify access log: chain broken at entry %d (id=%s)", i, exp.Entries[i].ID)
			}
		}
	}
	sig, err := signEntries(keys, exp.Entries)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(sig), []byte(exp.Signature)) {
		return fmt.Errorf("verify access log: signature mismatch")
	}
	return nil
}
