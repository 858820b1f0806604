package filecrypt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/fieldlock/fieldlock/blob"
	"github.com/fieldlock/fieldlock/crypto"
)

const (
	// metadataPollAttempts bounds the wait for side-channel propagation.
	metadataPollAttempts = 10
	metadataPollDelay    = 1200 * time.Millisecond
)

// ErrMetadataPending is returned when a blob looks encrypted but its
// envelope metadata has not propagated yet. The caller should retry
// later; this is not a hard failure.
var ErrMetadataPending = errors.New("encryption metadata not yet visible, retry later")

// encState is the outcome of the boundary detection state machine.
type encState int

const (
	statePlaintext encState = iota
	stateEncrypted
	stateUndetermined
)

// Codec encrypts and decrypts whole blobs, with the IV and tag carried on
// the blob's metadata side channel.
type Codec struct {
	engine *crypto.Engine
	blobs  blob.Store
	logger *slog.Logger

	pollAttempts uint64
	pollDelay    time.Duration
}

// Option configures a Codec.
type Option func(*Codec)

// WithPolling overrides the metadata propagation poll bounds.
func WithPolling(attempts uint64, delay time.Duration) Option {
	return func(c *Codec) {
		c.pollAttempts = attempts
		c.pollDelay = delay
	}
}

func NewCodec(engine *crypto.Engine, blobs blob.Store, logger *slog.Logger, opts ...Option) *Codec {
	c := &Codec{
		engine:       engine,
		blobs:        blobs,
		logger:       logger.With("component", "filecrypt"),
		pollAttempts: metadataPollAttempts,
		pollDelay:    metadataPollDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EncryptFile downloads the blob at path, encrypts it and writes the
// ciphertext back with envelope metadata. Already-encrypted blobs are
// left untouched, so the operation is safe to re-run. A blob that looks
// encrypted but has no visible metadata yet is never re-encrypted:
// writing a second layer would overwrite the side channel with the outer
// IV and tag and orphan the inner ones. The codec polls the side channel
// instead and gives up with ErrMetadataPending.
func (c *Codec) EncryptFile(ctx context.Context, path string) error {
	obj, err := c.blobs.Download(ctx, path)
	if err != nil {
		return err
	}

	state, _, err := c.detect(ctx, path, obj)
	if err != nil {
		return err
	}
	switch state {
	case stateEncrypted:
		c.logger.Info("file already encrypted, skipping", "path", path)
		return nil
	case stateUndetermined:
		if _, err := c.pollMetadata(ctx, path); err != nil {
			return err
		}
		c.logger.Info("file already encrypted, skipping", "path", path)
		return nil
	}

	cipherText, iv, tag, err := c.engine.EncryptBuffer(obj.Data)
	if err != nil {
		return fmt.Errorf("encrypting file %s: %w", path, err)
	}
	if err := c.blobs.Upload(ctx, path, cipherText, obj.ContentType); err != nil {
		return fmt.Errorf("uploading encrypted file %s: %w", path, err)
	}
	if err := c.blobs.SetMetadata(ctx, path, BuildMetadata(iv, tag)); err != nil {
		return fmt.Errorf("writing encryption metadata for %s: %w", path, err)
	}
	return nil
}

// DecryptFile returns the plaintext content of the blob at path. A blob
// whose leading bytes match its content type's plaintext signature is
// returned unmodified even if stale metadata claims encryption. A blob
// that looks encrypted but has no visible metadata triggers a bounded
// poll of the side channel before giving up with ErrMetadataPending.
func (c *Codec) DecryptFile(ctx context.Context, path string) ([]byte, error) {
	obj, err := c.blobs.Download(ctx, path)
	if err != nil {
		return nil, err
	}

	state, meta, err := c.detect(ctx, path, obj)
	if err != nil {
		return nil, err
	}

	switch state {
	case statePlaintext:
		return obj.Data, nil
	case stateEncrypted:
		plain, err := c.engine.DecryptBuffer(obj.Data, meta.IV, meta.Tag)
		if err != nil {
			return nil, fmt.Errorf("decrypting file %s: %w", path, err)
		}
		return plain, nil
	default:
		meta, err := c.pollMetadata(ctx, path)
		if err != nil {
			return nil, err
		}
		plain, err := c.engine.DecryptBuffer(obj.Data, meta.IV, meta.Tag)
		if err != nil {
			return nil, fmt.Errorf("decrypting file %s: %w", path, err)
		}
		return plain, nil
	}
}

// IsEncrypted reports the blob's current encryption state without
// mutating anything. An undetermined state counts as encrypted: the
// safe answer for a blob that fails its plaintext signature check.
func (c *Codec) IsEncrypted(ctx context.Context, path string) (bool, error) {
	obj, err := c.blobs.Download(ctx, path)
	if err != nil {
		return false, err
	}
	state, _, err := c.detect(ctx, path, obj)
	if err != nil {
		return false, err
	}
	return state != statePlaintext, nil
}

// detect runs the boundary heuristic: the plaintext signature check wins
// over whatever the metadata side channel claims, because metadata
// propagation is eventually consistent in both directions.
//
//	checkSignature -> plaintext | maybeEncrypted
//	maybeEncrypted + metadata   -> encrypted
//	maybeEncrypted + no metadata -> undetermined (caller may poll)
func (c *Codec) detect(ctx context.Context, path string, obj *blob.Object) (encState, *EncryptionMetadata, error) {
	known, matches := matchesPlaintextSignature(obj.ContentType, obj.Data)
	if known && matches {
		return statePlaintext, nil, nil
	}

	rawMeta, err := c.blobs.GetMetadata(ctx, path)
	if err != nil {
		return stateUndetermined, nil, err
	}
	meta, err := ParseEncryptionMetadata(rawMeta)
	if err != nil {
		return stateUndetermined, nil, fmt.Errorf("parsing metadata for %s: %w", path, err)
	}
	if meta != nil {
		return stateEncrypted, meta, nil
	}

	if !known {
		// No signature registered and nothing claims encryption: treat
		// as plaintext, the heuristic has no evidence either way.
		return statePlaintext, nil, nil
	}
	return stateUndetermined, nil, nil
}

// pollMetadata waits out side-channel propagation with a bounded
// constant-delay retry loop.
func (c *Codec) pollMetadata(ctx context.Context, path string) (*EncryptionMetadata, error) {
	var meta *EncryptionMetadata
	backoff := retry.WithMaxRetries(c.pollAttempts, retry.NewConstant(c.pollDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		rawMeta, err := c.blobs.GetMetadata(ctx, path)
		if err != nil {
			return err
		}
		m, err := ParseEncryptionMetadata(rawMeta)
		if err != nil {
			return err
		}
		if m == nil {
			c.logger.Debug("metadata not yet visible", "path", path)
			return retry.RetryableError(ErrMetadataPending)
		}
		meta = m
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrMetadataPending) {
			return nil, ErrMetadataPending
		}
		return nil, err
	}
	return meta, nil
}
