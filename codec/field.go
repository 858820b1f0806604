// Package codec applies the envelope transform to the sensitive fields of
// a record, leaving everything else untouched.
package codec

import (
	"log/slog"
	"strings"
	"time"

	"github.com/fieldlock/fieldlock/crypto"
	"github.com/fieldlock/fieldlock/record"
)

// DateLayout is the canonical form date-like fields are reduced to before
// encryption. Decryption yields this string; no richer date type is
// reconstructed at this layer.
const DateLayout = "2006-01-02"

// FieldCodec encrypts and decrypts the schema-designated fields of a
// record. It performs no store I/O and never mutates its input.
type FieldCodec struct {
	engine *crypto.Engine
	logger *slog.Logger
}

func NewFieldCodec(engine *crypto.Engine, logger *slog.Logger) *FieldCodec {
	return &FieldCodec{engine: engine, logger: logger.With("component", "codec")}
}

// EncryptFields returns a copy of rec with the schema's sensitive fields
// encrypted. Fields that are absent, null, empty or already encrypted
// pass through. A single field's encryption failure keeps that field in
// plaintext and logs a warning: retaining readable data is preferred over
// losing it, and the failure must not abort the rest of the record.
func (c *FieldCodec) EncryptFields(rec record.Record, schema record.Schema) record.Record {
	out := rec.Clone()
	for _, field := range schema.SensitiveFields() {
		v, ok := out[field]
		if !ok || v.IsNull() {
			continue
		}

		plain, ok := c.plaintextFor(v, field == schema.DateField)
		if !ok {
			continue
		}

		env, err := c.engine.EncryptString(plain)
		if err != nil {
			c.logger.Warn("field encryption failed, keeping plaintext",
				"field", field, "error", err)
			continue
		}
		out[field] = record.String(env)
	}
	return out
}

// DecryptFields returns a copy of rec with enveloped sensitive fields
// decrypted. A field that fails to decrypt is left in its ciphertext form
// so one corrupt value cannot block reading the rest of the record.
func (c *FieldCodec) DecryptFields(rec record.Record, schema record.Schema) record.Record {
	out := rec.Clone()
	for _, field := range schema.SensitiveFields() {
		v, ok := out[field]
		if !ok || v.Kind() != record.KindString || !crypto.IsEncrypted(v.Str()) {
			continue
		}
		plain, err := c.engine.DecryptString(v.Str())
		if err != nil {
			c.logger.Warn("field decryption failed, keeping ciphertext",
				"field", field, "error", err)
			continue
		}
		out[field] = record.String(plain)
	}
	return out
}

// NeedsEncryption reports whether a value would be transformed by
// EncryptFields. The migration engine uses the same predicate so
// detection and transformation can never disagree.
func (c *FieldCodec) NeedsEncryption(v record.Value, isDateField bool) bool {
	if v.IsNull() {
		return false
	}
	_, ok := c.plaintextFor(v, isDateField)
	return ok
}

// plaintextFor extracts the plaintext an encryptable value contributes,
// normalizing date-like values to DateLayout. Returns false for values
// the transform skips: blank strings (the engine refuses those too, so
// the predicate must agree), existing envelopes, timestamps on non-date
// fields.
func (c *FieldCodec) plaintextFor(v record.Value, isDateField bool) (string, bool) {
	if isDateField {
		return normalizeDate(v)
	}
	if v.Kind() != record.KindString {
		return "", false
	}
	s := v.Str()
	if strings.TrimSpace(s) == "" || crypto.IsEncrypted(s) {
		return "", false
	}
	return s, true
}

// normalizeDate canonicalizes timestamp and date-like values to
// YYYY-MM-DD. Strings already in canonical form pass through; RFC 3339
// strings are reduced to their date part. Anything else is not date-like
// and is skipped.
func normalizeDate(v record.Value) (string, bool) {
	switch v.Kind() {
	case record.KindTime:
		return v.Timestamp().UTC().Format(DateLayout), true
	case record.KindString:
		s := v.Str()
		if s == "" || crypto.IsEncrypted(s) {
			return "", false
		}
		if _, err := time.Parse(DateLayout, s); err == nil {
			return s, true
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC().Format(DateLayout), true
			}
		}
		return "", false
	default:
		return "", false
	}
}
