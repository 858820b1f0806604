package api

import (
	"github.com/fieldlock/fieldlock/access"
	"github.com/fieldlock/fieldlock/audit"
	"github.com/fieldlock/fieldlock/migrate"
	"github.com/fieldlock/fieldlock/record"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EncryptRecordRequest is the JSON body for POST /records/{kind}/encrypt.
type EncryptRecordRequest struct {
	Record record.Record `json:"record"`
}

// EncryptRecordResponse is returned from POST /records/{kind}/encrypt.
type EncryptRecordResponse struct {
	Record record.Record `json:"record"`
}

// DecryptRecordRequest is the JSON body for POST /records/{kind}/{id}/decrypt.
type DecryptRecordRequest struct {
	Code           string `json:"code,omitempty"`
	DeviceID       string `json:"deviceId,omitempty"`
	DeviceName     string `json:"deviceName,omitempty"`
	DevicePlatform string `json:"devicePlatform,omitempty"`
}

// DecryptRecordResponse is returned from POST /records/{kind}/{id}/decrypt.
type DecryptRecordResponse struct {
	Record record.Record `json:"record"`
}

// FileRequest names a blob for POST /files/encrypt.
type FileRequest struct {
	Path string `json:"path"`
}

// DecryptFileRequest is the JSON body for POST /files/decrypt.
type DecryptFileRequest struct {
	Path           string `json:"path"`
	Code           string `json:"code,omitempty"`
	DeviceID       string `json:"deviceId,omitempty"`
	DeviceName     string `json:"deviceName,omitempty"`
	DevicePlatform string `json:"devicePlatform,omitempty"`
}

// FileAckResponse acknowledges a file transform.
type FileAckResponse struct {
	Path      string `json:"path"`
	Encrypted bool   `json:"encrypted"`
}

// FileStatusResponse is returned from GET /files/status.
type FileStatusResponse struct {
	Path      string `json:"path"`
	Encrypted bool   `json:"encrypted"`
}

// MigrateRequest is the JSON body for POST /migrate. With no
// collections listed, every known collection is migrated.
type MigrateRequest struct {
	Collections []string `json:"collections,omitempty"`
	PageSize    int      `json:"pageSize,omitempty"`
}

// MigrateResponse is returned from POST /migrate.
type MigrateResponse struct {
	Stats map[string]migrate.Stats `json:"stats"`
}

// MigrateStatusResponse is returned from GET /migrate/status.
type MigrateStatusResponse struct {
	Collection string         `json:"collection"`
	Status     migrate.Status `json:"status"`
}

// Enroll2FAResponse is returned from POST /2fa/enroll. The secret is
// only ever shown here.
type Enroll2FAResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
}

// ListDevicesResponse is returned from GET /2fa/devices.
type ListDevicesResponse struct {
	Devices []access.TrustedDevice `json:"devices"`
}

// ListAccessLogsResponse is returned from GET /access-logs.
type ListAccessLogsResponse struct {
	Entries    []audit.Entry `json:"entries"`
	NextCursor string        `json:"nextCursor,omitempty"`
}
