package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldlock/fieldlock/internal/uuid"
	"github.com/fieldlock/fieldlock/store"
)

// queueSize bounds the in-flight entry channel. When full, entries are
// dropped with a warning rather than blocking the caller.
const queueSize = 1024

// writeTimeout bounds each durable write so a stalled store cannot pin
// the recorder goroutine.
const writeTimeout = 10 * time.Second

// Recorder persists access log entries asynchronously. Record never
// blocks and never returns an error: an audit failure must not change
// the outcome of the operation being audited.
type Recorder struct {
	docs    store.Store
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
	now     func() time.Time

	// lastHash is only touched by the background goroutine after New
	// returns.
	lastHash string
}

// NewRecorder seeds the hash chain from the newest stored entry and
// starts the background writer.
func NewRecorder(ctx context.Context, docs store.Store, logger *slog.Logger) *Recorder {
	r := &Recorder{
		docs:    docs,
		logger:  logger.With("component", "audit"),
		entries: make(chan Entry, queueSize),
		now:     time.Now,
	}
	r.lastHash = r.resumeChain(ctx)
	r.wg.Add(1)
	go r.loop()
	return r
}

// resumeChain recovers the chain head from storage so restarts extend
// the existing chain instead of starting a new one.
func (r *Recorder) resumeChain(ctx context.Context) string {
	docs, _, err := r.docs.Query(ctx, Collection, store.Query{
		OrderBy:    "createdAt",
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		r.logger.Warn("failed to resume audit chain, starting from genesis", "error", err)
		return GenesisHash
	}
	if len(docs) == 0 {
		return GenesisHash
	}
	last := entryFromRecord(docs[0].ID, docs[0].Fields)
	return ChainHash(last.ID, last.PrevHash, last.CreatedAt)
}

// Record enqueues one terminal decision. The entry's ID, CreatedAt and
// PrevHash are filled in by the recorder; display fields are normalized
// with placeholder fallbacks.
func (r *Recorder) Record(e Entry) {
	e.ActorName = displayName(e.ActorName)
	e.ActorEmail = displayEmail(e.ActorEmail)
	select {
	case r.entries <- e:
	default:
		r.logger.Warn("audit queue full, dropping entry",
			"actor", e.ActorID, "resource", e.ResourceID)
	}
}

// Close drains the queue and stops the background writer.
func (r *Recorder) Close() {
	close(r.entries)
	r.wg.Wait()
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for e := range r.entries {
		r.write(e)
	}
}

func (r *Recorder) write(e Entry) {
	e.ID = uuid.New()
	e.CreatedAt = formatTime(r.now())
	e.PrevHash = r.lastHash

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.docs.Set(ctx, Collection, e.ID, e.toRecord()); err != nil {
		r.logger.Warn("failed to persist audit entry",
			"actor", e.ActorID, "resource", e.ResourceID, "error", err)
		return
	}
	r.lastHash = ChainHash(e.ID, e.PrevHash, e.CreatedAt)

	outcome := "denied"
	if e.Granted {
		outcome = "granted"
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "access decision",
		slog.String("event", string(e.Kind)),
		slog.String("outcome", outcome),
		slog.String("actor_id", e.ActorID),
		slog.String("resource_kind", e.ResourceKind),
		slog.String("resource_id", e.ResourceID),
		slog.Bool("two_factor", e.TwoFactorVerified),
		slog.String("timestamp", e.CreatedAt),
	)
}
