// Package audit records every terminal access decision over sensitive
// data: who asked, what they asked for, and whether the gate let them
// through. Entries are durable documents forming a hash chain, plus a
// structured operational log line per decision.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/fieldlock/fieldlock/internal/util"
	"github.com/fieldlock/fieldlock/record"
)

// Collection is the document collection holding access log entries.
const Collection = "accessLogs"

// AccessKind identifies what category of resource was accessed.
type AccessKind string

const (
	AccessRecordDecrypt AccessKind = "record_decrypt"
	AccessFileDecrypt   AccessKind = "file_decrypt"
	AccessMigration     AccessKind = "migration"
)

// Entry is one terminal access decision. Exactly one entry exists per
// decrypt attempt that reached a granted or denied outcome.
type Entry struct {
	ID                string     `json:"id"`
	ActorID           string     `json:"actor_id"`
	ActorEmail        string     `json:"actor_email"`
	ActorName         string     `json:"actor_name"`
	Kind              AccessKind `json:"kind"`
	ResourceKind      string     `json:"resource_kind"`
	ResourceID        string     `json:"resource_id"`
	TenantID          string     `json:"tenant_id,omitempty"`
	Granted           bool       `json:"granted"`
	TwoFactorVerified bool       `json:"two_factor_verified"`
	Method            string     `json:"method,omitempty"`
	Reason            string     `json:"reason,omitempty"`
	PrevHash          string     `json:"prev_hash"`
	CreatedAt         string     `json:"created_at"`
}

// GenesisHash anchors the first entry of the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ChainHash computes the link an entry contributes to its successor:
// SHA-256(entryID || prevHash || createdAt).
func ChainHash(entryID, prevHash, createdAt string) string {
	h := sha256.Sum256([]byte(entryID + prevHash + createdAt))
	return hex.EncodeToString(h[:])
}

const (
	// placeholderName stands in when the actor's profile carries no
	// usable display name.
	placeholderName  = "Unknown User"
	placeholderEmail = "unknown"
)

// displayName normalizes the actor's name for stable log output and
// falls back to a placeholder when empty.
func displayName(name string) string {
	name = util.Normalize(name)
	if name == "" {
		return placeholderName
	}
	return name
}

func displayEmail(email string) string {
	if email == "" {
		return placeholderEmail
	}
	return email
}

// timeLayout is RFC 3339 in UTC with fixed-width nanoseconds, so the
// string sort order is the chronological order and same-second entries
// keep their chain order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// toRecord flattens an entry into document fields.
func (e Entry) toRecord() record.Record {
	r := record.Record{
		"actorId":           record.String(e.ActorID),
		"actorEmail":        record.String(e.ActorEmail),
		"actorName":         record.String(e.ActorName),
		"kind":              record.String(string(e.Kind)),
		"resourceKind":      record.String(e.ResourceKind),
		"resourceId":        record.String(e.ResourceID),
		"granted":           record.String(boolString(e.Granted)),
		"twoFactorVerified": record.String(boolString(e.TwoFactorVerified)),
		"prevHash":          record.String(e.PrevHash),
		"createdAt":         record.String(e.CreatedAt),
	}
	if e.TenantID != "" {
		r["tenantId"] = record.String(e.TenantID)
	}
	if e.Method != "" {
		r["method"] = record.String(e.Method)
	}
	if e.Reason != "" {
		r["reason"] = record.String(e.Reason)
	}
	return r
}

func entryFromRecord(id string, r record.Record) Entry {
	return Entry{
		ID:                id,
		ActorID:           r["actorId"].Str(),
		ActorEmail:        r["actorEmail"].Str(),
		ActorName:         r["actorName"].Str(),
		Kind:              AccessKind(r["kind"].Str()),
		ResourceKind:      r["resourceKind"].Str(),
		ResourceID:        r["resourceId"].Str(),
		TenantID:          r["tenantId"].Str(),
		Granted:           r["granted"].Str() == "true",
		TwoFactorVerified: r["twoFactorVerified"].Str() == "true",
		Method:            r["method"].Str(),
		Reason:            r["reason"].Str(),
		PrevHash:          r["prevHash"].Str(),
		CreatedAt:         r["createdAt"].Str(),
	}
}
