package access

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldlock/fieldlock/record"
	"github.com/fieldlock/fieldlock/store/memory"
)

func testGate(t *testing.T) (*Gate, *memory.Store) {
	t.Helper()
	docs := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := NewGate(docs, logger)
	g.now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	return g, docs
}

func enrolUser(t *testing.T, docs *memory.Store, userID string) string {
	t.Helper()
	secret, err := GenerateTOTPSecret()
	require.NoError(t, err)
	require.NoError(t, docs.Set(context.Background(), "users", userID, record.Record{
		"email":      record.String(userID + "@example.com"),
		"totpSecret": record.String(secret),
	}))
	return secret
}

func codeFor(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totpCodeAt(secret, at)
	require.NoError(t, err)
	return code
}

func TestOwnerBypass(t *testing.T) {
	g, _ := testGate(t)

	d, err := g.Authorize(context.Background(), Request{
		Actor:        Actor{ID: "u1"},
		ResourceKind: "user",
		ResourceID:   "u1",
		OwnerID:      "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, StateGranted, d.State)
	assert.Equal(t, "owner", d.Method)
	assert.False(t, d.TwoFactorVerified)
}

func TestTenantAdminBypassNonPersonalOnly(t *testing.T) {
	g, docs := testGate(t)
	enrolUser(t, docs, "admin1")
	admin := Actor{ID: "admin1", Role: RoleAdmin, TenantID: "t1"}

	t.Run("CompanySameTenant", func(t *testing.T) {
		d, err := g.Authorize(context.Background(), Request{
			Actor: admin, ResourceKind: "company", ResourceID: "c1", TenantID: "t1",
		})
		require.NoError(t, err)
		assert.Equal(t, StateGranted, d.State)
		assert.Equal(t, "tenant_admin", d.Method)
	})

	t.Run("CompanyOtherTenant", func(t *testing.T) {
		d, err := g.Authorize(context.Background(), Request{
			Actor: admin, ResourceKind: "company", ResourceID: "c2", TenantID: "t2",
		})
		require.NoError(t, err)
		assert.Equal(t, StateDenied, d.State)
	})

	t.Run("AnotherUsersRecordStillNeeds2FA", func(t *testing.T) {
		d, err := g.Authorize(context.Background(), Request{
			Actor: admin, ResourceKind: "user", ResourceID: "u2", OwnerID: "u2", TenantID: "t1",
		})
		require.NoError(t, err)
		assert.Equal(t, StateDenied, d.State)
		assert.Equal(t, "one-time code required", d.Reason)
	})
}

func TestCodeVerificationFlow(t *testing.T) {
	g, docs := testGate(t)
	secret := enrolUser(t, docs, "admin1")
	actor := Actor{ID: "admin1", Role: RoleAdmin, TenantID: "t1"}
	req := Request{
		Actor: actor, ResourceKind: "user", ResourceID: "u2", OwnerID: "u2", TenantID: "t1",
		DeviceID: "dev-1", DeviceName: "Laptop", DevicePlatform: "macos",
	}

	// No code: denied.
	d, err := g.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateDenied, d.State)

	// Wrong code: denied.
	bad := req
	bad.Code = "000000"
	d, err = g.Authorize(context.Background(), bad)
	require.NoError(t, err)
	assert.Equal(t, StateDenied, d.State)
	assert.Equal(t, "invalid one-time code", d.Reason)

	// Valid code: granted, device registered.
	good := req
	good.Code = codeFor(t, secret, g.now())
	d, err = g.Authorize(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, StateGranted, d.State)
	assert.Equal(t, "code", d.Method)
	assert.True(t, d.TwoFactorVerified)

	caller, err := docs.Get(context.Background(), "users", "admin1")
	require.NoError(t, err)
	devices := ParseDevices(caller["trustedDevices"].Str())
	require.Len(t, devices, 1)
	assert.Equal(t, "dev-1", devices[0].ID)

	// Same device, no code: granted via device trust.
	d, err = g.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateGranted, d.State)
	assert.Equal(t, "device", d.Method)
	assert.True(t, d.TwoFactorVerified)
}

func TestNoEnrolmentDenied(t *testing.T) {
	g, docs := testGate(t)
	require.NoError(t, docs.Set(context.Background(), "users", "plain", record.Record{
		"email": record.String("plain@example.com"),
	}))

	d, err := g.Authorize(context.Background(), Request{
		Actor: Actor{ID: "plain"}, ResourceKind: "user", ResourceID: "u2", OwnerID: "u2",
		Code: "123456",
	})
	require.NoError(t, err)
	assert.Equal(t, StateDenied, d.State)
	assert.Equal(t, "two-factor authentication is not enrolled", d.Reason)
}

func TestRateLimiterLocksOut(t *testing.T) {
	g, docs := testGate(t)
	enrolUser(t, docs, "attacker")
	req := Request{
		Actor: Actor{ID: "attacker"}, ResourceKind: "user", ResourceID: "u2", OwnerID: "u2",
		Code: "000000",
	}

	for i := 0; i < maxCodeFailures; i++ {
		d, err := g.Authorize(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, StateDenied, d.State)
	}

	d, err := g.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateDenied, d.State)
	assert.Contains(t, d.Reason, "too many failed codes")
}

func TestEnrollProvisioningAndRotation(t *testing.T) {
	g, docs := testGate(t)
	require.NoError(t, docs.Set(context.Background(), "users", "u1", record.Record{
		"email": record.String("u1@example.com"),
	}))

	enr, err := g.Enroll(context.Background(), "u1", "u1@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, enr.Secret)
	assert.Contains(t, enr.OTPAuthURL, "otpauth://totp/")
	assert.Contains(t, enr.OTPAuthURL, "u1%40example.com")

	// Codes from the fresh secret verify.
	assert.True(t, VerifyTOTPCode(enr.Secret, codeFor(t, enr.Secret, g.now()), g.now()))

	// Re-enrolling replaces the secret: old codes stop working.
	oldCode := codeFor(t, enr.Secret, g.now())
	enr2, err := g.Enroll(context.Background(), "u1", "u1@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, enr.Secret, enr2.Secret)

	caller, err := docs.Get(context.Background(), "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, enr2.Secret, caller["totpSecret"].Str())
	assert.False(t, VerifyTOTPCode(enr2.Secret, oldCode, g.now()))
}

func TestEnrollUnknownUser(t *testing.T) {
	g, _ := testGate(t)
	_, err := g.Enroll(context.Background(), "ghost", "ghost@example.com")
	assert.Error(t, err)
}

func TestRevokeDeviceForcesCodeVerification(t *testing.T) {
	g, docs := testGate(t)
	secret := enrolUser(t, docs, "admin1")
	req := Request{
		Actor: Actor{ID: "admin1", TenantID: "t1"}, ResourceKind: "user",
		ResourceID: "u2", OwnerID: "u2", TenantID: "t1", DeviceID: "dev-1",
	}

	// Trust the device with a valid code.
	trusted := req
	trusted.Code = codeFor(t, secret, g.now())
	d, err := g.Authorize(context.Background(), trusted)
	require.NoError(t, err)
	require.Equal(t, StateGranted, d.State)

	devices, err := g.TrustedDevices(context.Background(), "admin1")
	require.NoError(t, err)
	require.Len(t, devices, 1)

	require.NoError(t, g.RevokeDevice(context.Background(), "admin1", "dev-1"))

	devices, err = g.TrustedDevices(context.Background(), "admin1")
	require.NoError(t, err)
	assert.Empty(t, devices)

	// The revoked device no longer skips the code.
	d, err = g.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateDenied, d.State)
	assert.Equal(t, "one-time code required", d.Reason)
}

func TestOwnerFromPath(t *testing.T) {
	tests := []struct {
		path   string
		wantID string
		wantOK bool
	}{
		{"users/u1/docs/file.pdf", "u1", true},
		{"/users/u1/file.pdf", "u1", true},
		{"users//file.pdf", "", false},
		{"companies/c1/file.pdf", "", false},
		{"users", "", false},
	}
	for _, tt := range tests {
		id, ok := OwnerFromPath(tt.path)
		assert.Equal(t, tt.wantOK, ok, tt.path)
		assert.Equal(t, tt.wantID, id, tt.path)
	}
}
