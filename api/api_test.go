package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldlock/fieldlock/access"
	"github.com/fieldlock/fieldlock/api"
	blobmem "github.com/fieldlock/fieldlock/blob/memory"
	"github.com/fieldlock/fieldlock/crypto"
	"github.com/fieldlock/fieldlock/identity"
	"github.com/fieldlock/fieldlock/record"
	storemem "github.com/fieldlock/fieldlock/store/memory"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var testJWTSecret = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	srv      *httptest.Server
	docs     *storemem.Store
	blobs    *blobmem.Store
	verifier *identity.Verifier
}

func setup(t *testing.T) *fixture {
	t.Helper()
	docs := storemem.New()
	blobs := blobmem.New()
	keys := crypto.NewKeyProviderFromSource(func() (string, error) {
		return testKeyHex, nil
	})

	a := api.New(context.Background(), api.Config{
		Docs:      docs,
		Blobs:     blobs,
		Keys:      keys,
		JWTSecret: testJWTSecret,
	})
	t.Cleanup(a.Close)

	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &fixture{
		srv:      srv,
		docs:     docs,
		blobs:    blobs,
		verifier: identity.NewVerifier(testJWTSecret, docs),
	}
}

func (f *fixture) token(t *testing.T, actor access.Actor) string {
	t.Helper()
	token, err := f.verifier.IssueToken(actor, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+"/api/v1"+path, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAuthRequired(t *testing.T) {
	f := setup(t)

	resp := f.do(t, http.MethodPost, "/records/user/encrypt", "", map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/records/user/encrypt", "not-a-token", map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEncryptRecordUnknownKind(t *testing.T) {
	f := setup(t)
	token := f.token(t, access.Actor{ID: "u1"})

	resp := f.do(t, http.MethodPost, "/records/invoice/encrypt", token, map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecordEncryptDecryptAsOwner(t *testing.T) {
	f := setup(t)
	token := f.token(t, access.Actor{ID: "u1", Email: "u1@example.com"})

	resp := f.do(t, http.MethodPost, "/records/user/encrypt", token, map[string]any{
		"record": map[string]any{
			"email": "u1@example.com",
			"phone": "0600000000",
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	enc := decode[api.EncryptRecordResponse](t, resp)
	require.True(t, crypto.IsEncrypted(enc.Record["phone"].Str()))
	assert.Equal(t, "u1@example.com", enc.Record["email"].Str())

	require.NoError(t, f.docs.Set(context.Background(), "users", "u1", enc.Record))

	resp = f.do(t, http.MethodPost, "/records/user/u1/decrypt", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dec := decode[api.DecryptRecordResponse](t, resp)
	assert.Equal(t, "0600000000", dec.Record["phone"].Str())
}

func TestDecryptDeniedForStranger(t *testing.T) {
	f := setup(t)
	owner := f.token(t, access.Actor{ID: "u1"})
	stranger := f.token(t, access.Actor{ID: "u2"})

	resp := f.do(t, http.MethodPost, "/records/user/encrypt", owner, map[string]any{
		"record": map[string]any{"phone": "0600000000"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	enc := decode[api.EncryptRecordResponse](t, resp)
	require.NoError(t, f.docs.Set(context.Background(), "users", "u1", enc.Record))

	resp = f.do(t, http.MethodPost, "/records/user/u1/decrypt", stranger, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDecryptGrantedByTrustedDevice(t *testing.T) {
	f := setup(t)

	devices := access.EncodeDevices([]access.TrustedDevice{{
		ID: "dev-1", Name: "Laptop", Platform: "macos",
		AddedAt: time.Now().Add(-time.Hour), LastUsedAt: time.Now().Add(-time.Hour),
	}})
	require.NoError(t, f.docs.Set(context.Background(), "users", "support1", record.Record{
		"email":          record.String("support1@example.com"),
		"trustedDevices": record.String(devices),
	}))
	require.NoError(t, f.docs.Set(context.Background(), "users", "u1", record.Record{
		"phone": record.String("0600000000"),
	}))

	token := f.token(t, access.Actor{ID: "support1"})

	t.Run("UnknownDeviceDenied", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/records/user/u1/decrypt", token, map[string]any{
			"deviceId": "dev-9",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("TrustedDeviceGranted", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/records/user/u1/decrypt", token, map[string]any{
			"deviceId": "dev-1",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		dec := decode[api.DecryptRecordResponse](t, resp)
		assert.Equal(t, "0600000000", dec.Record["phone"].Str())
	})
}

func TestTwoFactorEnrolmentAndDeviceLifecycle(t *testing.T) {
	f := setup(t)

	devices := access.EncodeDevices([]access.TrustedDevice{{
		ID: "dev-1", Name: "Laptop", Platform: "macos",
		AddedAt: time.Now().Add(-time.Hour), LastUsedAt: time.Now().Add(-time.Hour),
	}})
	require.NoError(t, f.docs.Set(context.Background(), "users", "support1", record.Record{
		"email":          record.String("support1@example.com"),
		"trustedDevices": record.String(devices),
	}))
	require.NoError(t, f.docs.Set(context.Background(), "users", "u1", record.Record{
		"phone": record.String("0600000000"),
	}))

	token := f.token(t, access.Actor{ID: "support1", Email: "support1@example.com"})

	t.Run("Enroll", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/2fa/enroll", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		enr := decode[api.Enroll2FAResponse](t, resp)
		assert.NotEmpty(t, enr.Secret)
		assert.Contains(t, enr.OTPAuthURL, "otpauth://totp/")

		doc, err := f.docs.Get(context.Background(), "users", "support1")
		require.NoError(t, err)
		assert.Equal(t, enr.Secret, doc["totpSecret"].Str())
	})

	t.Run("ListDevices", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/2fa/devices", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		list := decode[api.ListDevicesResponse](t, resp)
		require.Len(t, list.Devices, 1)
		assert.Equal(t, "dev-1", list.Devices[0].ID)
	})

	t.Run("RevokeDevice", func(t *testing.T) {
		resp := f.do(t, http.MethodDelete, "/2fa/devices/dev-1", token, nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = f.do(t, http.MethodGet, "/2fa/devices", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		list := decode[api.ListDevicesResponse](t, resp)
		assert.Empty(t, list.Devices)

		// The revoked device no longer satisfies the gate.
		resp = f.do(t, http.MethodPost, "/records/user/u1/decrypt", token, map[string]any{
			"deviceId": "dev-1",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestFileRoundTrip(t *testing.T) {
	f := setup(t)
	token := f.token(t, access.Actor{ID: "u1"})
	pdf := append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte("x"), 256)...)
	path := "users/u1/docs/contract.pdf"
	require.NoError(t, f.blobs.Upload(context.Background(), path, pdf, "application/pdf"))

	resp := f.do(t, http.MethodPost, "/files/encrypt", token, map[string]any{"path": path})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/files/status?path="+path, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[api.FileStatusResponse](t, resp)
	assert.True(t, status.Encrypted)

	// Owner decrypts without step-up.
	resp = f.do(t, http.MethodPost, "/files/decrypt", token, map[string]any{"path": path})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, pdf, data)

	// A stranger without 2FA is turned away.
	stranger := f.token(t, access.Actor{ID: "u2"})
	resp = f.do(t, http.MethodPost, "/files/decrypt", stranger, map[string]any{"path": path})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFileMissing(t *testing.T) {
	f := setup(t)
	token := f.token(t, access.Actor{ID: "u1"})

	resp := f.do(t, http.MethodPost, "/files/encrypt", token, map[string]any{"path": "users/u1/nope.pdf"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMigrateRequiresAdmin(t *testing.T) {
	f := setup(t)

	resp := f.do(t, http.MethodPost, "/migrate", f.token(t, access.Actor{ID: "u1"}), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMigrateEncryptsCollection(t *testing.T) {
	f := setup(t)
	admin := f.token(t, access.Actor{ID: "a1", Role: access.RoleAdmin, TenantID: "t1"})

	require.NoError(t, f.docs.Set(context.Background(), "users", "u1", record.Record{
		"phone": record.String("0600000000"),
	}))
	require.NoError(t, f.docs.Set(context.Background(), "users", "u2", record.Record{
		"phone": record.String("0611111111"),
	}))

	resp := f.do(t, http.MethodPost, "/migrate", admin, map[string]any{
		"collections": []string{"users"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[api.MigrateResponse](t, resp)
	assert.Equal(t, 2, out.Stats["users"].Encrypted)

	resp = f.do(t, http.MethodGet, "/migrate/status?collection=users", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[api.MigrateStatusResponse](t, resp)
	assert.Equal(t, 2, status.Status.FullyEncrypted)
	assert.Equal(t, 0, status.Status.Plaintext)
}

func TestAccessLogsRecordDecisions(t *testing.T) {
	f := setup(t)
	owner := f.token(t, access.Actor{ID: "u1"})
	stranger := f.token(t, access.Actor{ID: "u2"})
	admin := f.token(t, access.Actor{ID: "a1", Role: access.RoleSuperAdmin})

	require.NoError(t, f.docs.Set(context.Background(), "users", "u1", record.Record{
		"phone": record.String("0600000000"),
	}))

	resp := f.do(t, http.MethodPost, "/records/user/u1/decrypt", owner, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/records/user/u1/decrypt", stranger, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The recorder is asynchronous; wait for both entries to land.
	var list api.ListAccessLogsResponse
	require.Eventually(t, func() bool {
		resp := f.do(t, http.MethodGet, "/access-logs", admin, nil)
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return false
		}
		list = decode[api.ListAccessLogsResponse](t, resp)
		return len(list.Entries) == 2
	}, 5*time.Second, 50*time.Millisecond)

	// Newest first: the denial is on top.
	assert.False(t, list.Entries[0].Granted)
	assert.Equal(t, "u2", list.Entries[0].ActorID)
	assert.True(t, list.Entries[1].Granted)
	assert.Equal(t, "u1", list.Entries[1].ActorID)
	assert.False(t, list.Entries[1].TwoFactorVerified)
}

func TestAccessLogsForbiddenForPlainUsers(t *testing.T) {
	f := setup(t)

	resp := f.do(t, http.MethodGet, "/access-logs", f.token(t, access.Actor{ID: "u1"}), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestExportRequiresSuperAdmin(t *testing.T) {
	f := setup(t)

	resp := f.do(t, http.MethodGet, "/access-logs/export", f.token(t, access.Actor{ID: "a1", Role: access.RoleAdmin}), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/access-logs/export", f.token(t, access.Actor{ID: "root", Role: access.RoleSuperAdmin}), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
