// Package migrate backfills the envelope transform over existing
// collections: it walks every document in stable id order, encrypts the
// sensitive fields still in plaintext and leaves everything else alone.
// Runs are idempotent; re-running after a crash completes the remainder.
package migrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fieldlock/fieldlock/codec"
	"github.com/fieldlock/fieldlock/record"
	"github.com/fieldlock/fieldlock/store"
)

// DefaultPageSize is the number of documents fetched per pagination step.
const DefaultPageSize = 100

// Stats aggregates one migration run over one collection.
type Stats struct {
	Total     int `json:"total"`
	Encrypted int `json:"encrypted"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Status reports encryption coverage of one collection without mutating
// anything.
type Status struct {
	Total          int `json:"total"`
	FullyEncrypted int `json:"fullyEncrypted"`
	Plaintext      int `json:"plaintext"`
}

// Engine drives migration runs. It holds no per-run state; a single
// engine serves any number of sequential runs.
type Engine struct {
	docs   store.Store
	codec  *codec.FieldCodec
	logger *slog.Logger
}

func NewEngine(docs store.Store, c *codec.FieldCodec, logger *slog.Logger) *Engine {
	return &Engine{docs: docs, codec: c, logger: logger.With("component", "migrate")}
}

// pendingUpdate is one document's field subset awaiting a batch commit.
type pendingUpdate struct {
	id     string
	fields record.Record
}

// Run walks the schema's collection and encrypts what still needs it.
// A single document's failure is counted and skipped, never aborts the
// run. The returned error covers pagination-level failures only; stats
// accumulated up to that point are still returned.
func (e *Engine) Run(ctx context.Context, schema record.Schema, pageSize int) (Stats, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var stats Stats
	var pending []pendingUpdate
	cursor := ""

	for {
		docs, next, err := e.docs.Query(ctx, schema.Collection, store.Query{
			Limit:      pageSize,
			StartAfter: cursor,
		})
		if err != nil {
			return stats, fmt.Errorf("migrate %s: %w", schema.Collection, err)
		}

		for _, doc := range docs {
			stats.Total++
			update, ok := e.transform(doc, schema)
			switch {
			case !ok:
				stats.Errors++
			case len(update) == 0:
				stats.Skipped++
			default:
				pending = append(pending, pendingUpdate{id: doc.ID, fields: update})
				stats.Encrypted++
				if len(pending) >= store.MaxBatchSize {
					lost := e.flush(ctx, schema.Collection, pending)
					stats.Encrypted -= lost
					stats.Errors += lost
					pending = pending[:0]
				}
			}
		}

		// Flush the page remainder so a crash between pages loses at
		// most one page of work.
		lost := e.flush(ctx, schema.Collection, pending)
		stats.Encrypted -= lost
		stats.Errors += lost
		pending = pending[:0]

		if next == "" {
			return stats, nil
		}
		cursor = next
	}
}

// transform computes the encrypted subset for one document. It returns
// only the fields that actually need the transform, so a concurrent
// writer's already-encrypted fields are never reverted. ok is false when
// fields needed encryption but none could be produced.
func (e *Engine) transform(doc store.Document, schema record.Schema) (record.Record, bool) {
	needed := make(map[string]bool)
	for _, field := range schema.SensitiveFields() {
		v, present := doc.Fields[field]
		if present && e.codec.NeedsEncryption(v, field == schema.DateField) {
			needed[field] = true
		}
	}
	if len(needed) == 0 {
		return nil, true
	}

	encrypted := e.codec.EncryptFields(doc.Fields, schema)
	update := record.Record{}
	for field := range needed {
		before, after := doc.Fields[field], encrypted[field]
		if after.Kind() == record.KindString && before.Kind() == record.KindString &&
			after.Str() == before.Str() {
			e.logger.Warn("encrypted value identical to plaintext, not applying",
				"collection", schema.Collection, "id", doc.ID, "field", field)
			continue
		}
		update[field] = after
	}
	if len(update) == 0 {
		return nil, false
	}
	return update, true
}

// flush commits pending updates in one atomic batch and returns how
// many documents were lost to a commit failure.
func (e *Engine) flush(ctx context.Context, collection string, pending []pendingUpdate) int {
	if len(pending) == 0 {
		return 0
	}
	err := e.docs.Batch(ctx, collection, func(tx store.BatchTx) error {
		for _, p := range pending {
			if err := tx.Update(p.id, p.fields); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("batch commit failed",
			"collection", collection, "documents", len(pending), "error", err)
		return len(pending)
	}
	return 0
}

// RunAll migrates every known collection and returns per-collection
// stats keyed by collection name.
func (e *Engine) RunAll(ctx context.Context, pageSize int) (map[string]Stats, error) {
	out := make(map[string]Stats)
	for _, schema := range record.AllSchemas() {
		stats, err := e.Run(ctx, schema, pageSize)
		out[schema.Collection] = stats
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// CheckStatus walks the collection read-only and reports how many
// documents still carry plaintext sensitive fields.
func (e *Engine) CheckStatus(ctx context.Context, schema record.Schema) (Status, error) {
	var status Status
	cursor := ""
	for {
		docs, next, err := e.docs.Query(ctx, schema.Collection, store.Query{
			Limit:      DefaultPageSize,
			StartAfter: cursor,
		})
		if err != nil {
			return status, fmt.Errorf("check status %s: %w", schema.Collection, err)
		}
		for _, doc := range docs {
			status.Total++
			plaintext := false
			for _, field := range schema.SensitiveFields() {
				v, present := doc.Fields[field]
				if present && e.codec.NeedsEncryption(v, field == schema.DateField) {
					plaintext = true
					break
				}
			}
			if plaintext {
				status.Plaintext++
			} else {
				status.FullyEncrypted++
			}
		}
		if next == "" {
			return status, nil
		}
		cursor = next
	}
}
