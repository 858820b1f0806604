package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldlock/fieldlock/access"
	"github.com/fieldlock/fieldlock/audit"
	"github.com/fieldlock/fieldlock/migrate"
	"github.com/fieldlock/fieldlock/record"
)

const (
	maxSmallBodySize  = 16 << 10
	maxRecordBodySize = 1 << 20
)

// decodeJSON reads a bounded JSON body into T. On failure it writes the
// error response and returns ok=false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return v, false
	}
	return v, true
}

// decodeOptionalJSON is decodeJSON for endpoints where an empty body is
// a valid request.
func decodeOptionalJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	err := json.NewDecoder(r.Body).Decode(&v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return v, false
	}
	return v, true
}

func schemaFromRequest(w http.ResponseWriter, r *http.Request) (record.Schema, bool) {
	kind := chi.URLParam(r, "kind")
	schema, ok := record.SchemaFor(record.EntityKind(kind))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown record kind: "+kind)
		return record.Schema{}, false
	}
	return schema, true
}

// EncryptRecord handles POST /records/{kind}/encrypt. The record is
// transformed and returned; persisting it is the caller's concern.
func (a *API) EncryptRecord(w http.ResponseWriter, r *http.Request) {
	schema, ok := schemaFromRequest(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[EncryptRecordRequest](w, r, maxRecordBodySize)
	if !ok {
		return
	}
	out := a.fields.EncryptFields(req.Record, schema)
	writeJSON(w, http.StatusOK, EncryptRecordResponse{Record: out})
}

// DecryptRecord handles POST /records/{kind}/{id}/decrypt. The request
// passes the 2FA gate before any plaintext leaves the store; every
// terminal decision lands in the access log exactly once.
func (a *API) DecryptRecord(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	schema, ok := schemaFromRequest(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	req, ok := decodeOptionalJSON[DecryptRecordRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}

	doc, err := a.docs.Get(r.Context(), schema.Collection, id)
	if err != nil {
		mapError(w, err)
		return
	}

	ownerID := doc["ownerId"].Str()
	if schema.Kind == record.KindUser {
		ownerID = id
	}

	decision, err := a.gate.Authorize(r.Context(), access.Request{
		Actor:          actor,
		ResourceKind:   string(schema.Kind),
		ResourceID:     id,
		OwnerID:        ownerID,
		TenantID:       doc["tenantId"].Str(),
		Code:           req.Code,
		DeviceID:       req.DeviceID,
		DeviceName:     req.DeviceName,
		DevicePlatform: req.DevicePlatform,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	a.recorder.Record(audit.Entry{
		ActorID:           actor.ID,
		ActorEmail:        actor.Email,
		ActorName:         actor.Name,
		Kind:              audit.AccessRecordDecrypt,
		ResourceKind:      string(schema.Kind),
		ResourceID:        id,
		TenantID:          doc["tenantId"].Str(),
		Granted:           decision.State == access.StateGranted,
		TwoFactorVerified: decision.TwoFactorVerified,
		Method:            decision.Method,
		Reason:            decision.Reason,
	})

	if decision.State != access.StateGranted {
		writeError(w, http.StatusForbidden, decision.Reason)
		return
	}

	writeJSON(w, http.StatusOK, DecryptRecordResponse{
		Record: a.fields.DecryptFields(doc, schema),
	})
}

// EncryptFile handles POST /files/encrypt. Encrypting an already
// encrypted file is a no-op acknowledged the same way.
func (a *API) EncryptFile(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[FileRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := a.files.EncryptFile(r.Context(), req.Path); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FileAckResponse{Path: req.Path, Encrypted: true})
}

// DecryptFile handles POST /files/decrypt. An actor owning the file by
// path convention bypasses step-up; the access is logged either way.
func (a *API) DecryptFile(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	req, ok := decodeJSON[DecryptFileRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	ownerID, _ := access.OwnerFromPath(req.Path)
	decision, err := a.gate.Authorize(r.Context(), access.Request{
		Actor:          actor,
		ResourceKind:   "file",
		ResourceID:     req.Path,
		OwnerID:        ownerID,
		Code:           req.Code,
		DeviceID:       req.DeviceID,
		DeviceName:     req.DeviceName,
		DevicePlatform: req.DevicePlatform,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	a.recorder.Record(audit.Entry{
		ActorID:           actor.ID,
		ActorEmail:        actor.Email,
		ActorName:         actor.Name,
		Kind:              audit.AccessFileDecrypt,
		ResourceKind:      "file",
		ResourceID:        req.Path,
		TenantID:          actor.TenantID,
		Granted:           decision.State == access.StateGranted,
		TwoFactorVerified: decision.TwoFactorVerified,
		Method:            decision.Method,
		Reason:            decision.Reason,
	})

	if decision.State != access.StateGranted {
		writeError(w, http.StatusForbidden, decision.Reason)
		return
	}

	data, err := a.files.DecryptFile(r.Context(), req.Path)
	if err != nil {
		mapError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// FileStatus handles GET /files/status?path=...
func (a *API) FileStatus(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	encrypted, err := a.files.IsEncrypted(r.Context(), path)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FileStatusResponse{Path: path, Encrypted: encrypted})
}

// Migrate handles POST /migrate. Admin only. With no collections in the
// body, every known collection is migrated.
func (a *API) Migrate(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if !requireAdmin(w, actor) {
		return
	}
	req, ok := decodeOptionalJSON[MigrateRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}

	schemas, ok := resolveSchemas(w, req.Collections)
	if !ok {
		return
	}

	stats := make(map[string]migrate.Stats, len(schemas))
	for _, schema := range schemas {
		s, err := a.migrator.Run(r.Context(), schema, req.PageSize)
		stats[schema.Collection] = s
		if err != nil {
			mapError(w, err)
			return
		}
		a.recorder.Record(audit.Entry{
			ActorID:      actor.ID,
			ActorEmail:   actor.Email,
			ActorName:    actor.Name,
			Kind:         audit.AccessMigration,
			ResourceKind: "collection",
			ResourceID:   schema.Collection,
			TenantID:     actor.TenantID,
			Granted:      true,
			Method:       "admin",
		})
	}
	writeJSON(w, http.StatusOK, MigrateResponse{Stats: stats})
}

// MigrateStatus handles GET /migrate/status?collection=...
func (a *API) MigrateStatus(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, actorFromContext(r.Context())) {
		return
	}
	name := r.URL.Query().Get("collection")
	schemas, ok := resolveSchemas(w, []string{name})
	if !ok {
		return
	}
	status, err := a.migrator.CheckStatus(r.Context(), schemas[0])
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MigrateStatusResponse{
		Collection: schemas[0].Collection,
		Status:     status,
	})
}

// resolveSchemas maps collection or kind names to schemas; empty input
// means all of them.
func resolveSchemas(w http.ResponseWriter, names []string) ([]record.Schema, bool) {
	if len(names) == 0 {
		return record.AllSchemas(), true
	}
	out := make([]record.Schema, 0, len(names))
	for _, name := range names {
		found := false
		for _, schema := range record.AllSchemas() {
			if schema.Collection == name || string(schema.Kind) == name {
				out = append(out, schema)
				found = true
				break
			}
		}
		if !found {
			writeError(w, http.StatusBadRequest, "unknown collection: "+name)
			return nil, false
		}
	}
	return out, true
}

// Enroll2FA handles POST /2fa/enroll. Callers enroll themselves; the
// secret replaces any previous one.
func (a *API) Enroll2FA(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	label := actor.Email
	if label == "" {
		label = actor.ID
	}
	enrolment, err := a.gate.Enroll(r.Context(), actor.ID, label)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Enroll2FAResponse{
		Secret:     enrolment.Secret,
		OTPAuthURL: enrolment.OTPAuthURL,
	})
}

// ListTrustedDevices handles GET /2fa/devices for the calling user.
func (a *API) ListTrustedDevices(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	devices, err := a.gate.TrustedDevices(r.Context(), actor.ID)
	if err != nil {
		mapError(w, err)
		return
	}
	if devices == nil {
		devices = []access.TrustedDevice{}
	}
	writeJSON(w, http.StatusOK, ListDevicesResponse{Devices: devices})
}

// RevokeTrustedDevice handles DELETE /2fa/devices/{deviceID}.
func (a *API) RevokeTrustedDevice(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	deviceID := chi.URLParam(r, "deviceID")
	if err := a.gate.RevokeDevice(r.Context(), actor.ID, deviceID); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAccessLogs handles GET /access-logs. Admins see their own
// tenant's entries; superadmins may filter any tenant.
func (a *API) ListAccessLogs(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if !requireAdmin(w, actor) {
		return
	}

	opts := audit.QueryOptions{
		TenantID:   r.URL.Query().Get("tenant"),
		ActorID:    r.URL.Query().Get("actor"),
		StartAfter: r.URL.Query().Get("cursor"),
		Limit:      parseLimit(r),
	}
	if actor.Role != access.RoleSuperAdmin {
		opts.TenantID = actor.TenantID
	}

	entries, next, err := a.log.Query(r.Context(), opts)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListAccessLogsResponse{Entries: entries, NextCursor: next})
}

// ExportAccessLogs handles GET /access-logs/export. Superadmin only:
// the export is the whole chain with its HMAC signature.
func (a *API) ExportAccessLogs(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor.Role != access.RoleSuperAdmin {
		writeError(w, http.StatusForbidden, "superadministrator role required")
		return
	}
	export, err := a.log.Export(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}
