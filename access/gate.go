// Package access decides, per decrypt request, whether the caller may
// read sensitive data in the clear: owner bypass, delegated tenant-admin
// rules, or one-time-code verification against a registered device or
// TOTP secret.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fieldlock/fieldlock/record"
	"github.com/fieldlock/fieldlock/store"
)

// Actor is the authenticated caller, as resolved by the identity layer.
type Actor struct {
	ID       string
	Email    string
	Name     string
	Role     string
	TenantID string
}

const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// State is one step of the per-request authorization state machine.
type State int

const (
	StateUnverified State = iota
	StateDeviceTrusted
	StateCodeRequired
	StateGranted
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateDeviceTrusted:
		return "device_trusted"
	case StateCodeRequired:
		return "code_required"
	case StateGranted:
		return "granted"
	case StateDenied:
		return "denied"
	default:
		return "unverified"
	}
}

// Request describes one decrypt attempt to authorize.
type Request struct {
	Actor Actor
	// ResourceKind is the entity kind, or "file" for blob decryption.
	ResourceKind string
	ResourceID   string
	// OwnerID is the resolved owner of the resource; empty when the
	// resource has no personal owner (e.g. a company record).
	OwnerID string
	// TenantID is the resource's tenant.
	TenantID string
	// Code is the optional 6-digit one-time code.
	Code string
	// DeviceID optionally identifies the presenting device; on a
	// successful code verification the device is registered as trusted.
	DeviceID       string
	DeviceName     string
	DevicePlatform string
}

// Decision is the terminal outcome of one authorization.
type Decision struct {
	State State
	// TwoFactorVerified is true only when a trusted device or a valid
	// code satisfied the gate, not for owner or admin bypasses.
	TwoFactorVerified bool
	// Method records how access was granted: owner, tenant_admin,
	// device or code.
	Method string
	// Reason is the human-readable denial reason.
	Reason string
}

func granted(method string, verified bool) Decision {
	return Decision{State: StateGranted, Method: method, TwoFactorVerified: verified}
}

func denied(reason string) Decision {
	return Decision{State: StateDenied, Reason: reason}
}

// User document fields holding 2FA material.
const (
	fieldTOTPSecret     = "totpSecret"
	fieldTrustedDevices = "trustedDevices"
)

// nonPersonalKinds are resource kinds a same-tenant admin may read
// without step-up: business entities with no single personal owner.
// Another person's user or contact record always requires 2FA.
var nonPersonalKinds = map[string]bool{
	string(record.KindCompany):   true,
	string(record.KindStructure): true,
	string(record.KindProspect):  true,
}

// Gate evaluates decrypt requests. Device and TOTP state live on the
// caller's user document; the gate reads and updates them through the
// document store.
type Gate struct {
	docs    store.Store
	limiter *codeRateLimiter
	logger  *slog.Logger
	now     func() time.Time
}

func NewGate(docs store.Store, logger *slog.Logger) *Gate {
	return &Gate{
		docs:    docs,
		limiter: newCodeRateLimiter(),
		logger:  logger.With("component", "access"),
		now:     time.Now,
	}
}

// Authorize runs the state machine for one request. The returned
// Decision is always terminal (granted or denied); err is only non-nil
// for infrastructure failures, never for a plain denial.
func (g *Gate) Authorize(ctx context.Context, req Request) (Decision, error) {
	// Owner bypass: reading your own record needs no step-up.
	if req.OwnerID != "" && req.Actor.ID == req.OwnerID {
		return granted("owner", false), nil
	}

	// Delegated access: tenant admins read non-personal records of
	// their own tenant without step-up.
	if g.isTenantAdmin(req.Actor, req.TenantID) && nonPersonalKinds[req.ResourceKind] {
		return granted("tenant_admin", false), nil
	}

	// A different identity wants another party's sensitive data:
	// two-factor verification required from here on.
	if blocked, retryAfter := g.limiter.check(req.Actor.ID); blocked {
		return denied(fmt.Sprintf("too many failed codes, retry in %s", retryAfter.Round(time.Second))), nil
	}

	caller, err := g.docs.Get(ctx, "users", req.Actor.ID)
	if err != nil {
		return denied("caller has no two-factor enrolment"), nil
	}
	devices := ParseDevices(caller[fieldTrustedDevices].Str())

	// DEVICE_TRUSTED: a previously verified device skips the code.
	if req.DeviceID != "" {
		if _, ok := FindDevice(devices, req.DeviceID); ok {
			g.saveDevices(ctx, req.Actor.ID, TouchDevice(devices, req.DeviceID, g.now()))
			return granted("device", true), nil
		}
	}

	// CODE_REQUIRED: fall back to the one-time code.
	secret := caller[fieldTOTPSecret].Str()
	if secret == "" {
		return denied("two-factor authentication is not enrolled"), nil
	}
	if req.Code == "" {
		return denied("one-time code required"), nil
	}
	if !VerifyTOTPCode(secret, req.Code, g.now()) {
		g.limiter.recordFailure(req.Actor.ID)
		return denied("invalid one-time code"), nil
	}
	g.limiter.recordSuccess(req.Actor.ID)

	// Register or refresh the presenting device.
	if req.DeviceID != "" {
		devices = UpsertDevice(devices, TrustedDevice{
			ID:       req.DeviceID,
			Name:     req.DeviceName,
			Platform: req.DevicePlatform,
		}, g.now())
		g.saveDevices(ctx, req.Actor.ID, devices)
	}
	return granted("code", true), nil
}

// Enrolment is the material handed back from a fresh 2FA enrolment.
type Enrolment struct {
	Secret     string
	OTPAuthURL string
}

// Enroll provisions a new TOTP secret for the user and stores it on the
// user document, replacing any previous secret. Re-enrolling invalidates
// codes from the old secret immediately.
func (g *Gate) Enroll(ctx context.Context, userID, accountLabel string) (Enrolment, error) {
	if _, err := g.docs.Get(ctx, "users", userID); err != nil {
		return Enrolment{}, err
	}
	secret, err := GenerateTOTPSecret()
	if err != nil {
		return Enrolment{}, err
	}
	err = g.docs.Update(ctx, "users", userID, record.Record{
		fieldTOTPSecret: record.String(secret),
	})
	if err != nil {
		return Enrolment{}, err
	}
	return Enrolment{Secret: secret, OTPAuthURL: OTPAuthURL(secret, accountLabel)}, nil
}

// TrustedDevices returns the user's registered devices, most recently
// used first.
func (g *Gate) TrustedDevices(ctx context.Context, userID string) ([]TrustedDevice, error) {
	caller, err := g.docs.Get(ctx, "users", userID)
	if err != nil {
		return nil, err
	}
	return ParseDevices(caller[fieldTrustedDevices].Str()), nil
}

// RevokeDevice removes one trusted device; the next decrypt from it
// falls back to code verification.
func (g *Gate) RevokeDevice(ctx context.Context, userID, deviceID string) error {
	caller, err := g.docs.Get(ctx, "users", userID)
	if err != nil {
		return err
	}
	devices := ParseDevices(caller[fieldTrustedDevices].Str())
	return g.docs.Update(ctx, "users", userID, record.Record{
		fieldTrustedDevices: record.String(EncodeDevices(RemoveDevice(devices, deviceID))),
	})
}

func (g *Gate) isTenantAdmin(actor Actor, tenantID string) bool {
	if actor.Role != RoleAdmin && actor.Role != RoleSuperAdmin {
		return false
	}
	return tenantID != "" && actor.TenantID == tenantID
}

// saveDevices persists the caller's device list. A write failure loses
// at most a trust registration, never the authorization result, so it
// is logged and swallowed.
func (g *Gate) saveDevices(ctx context.Context, userID string, devices []TrustedDevice) {
	err := g.docs.Update(ctx, "users", userID, record.Record{
		fieldTrustedDevices: record.String(EncodeDevices(devices)),
	})
	if err != nil {
		g.logger.Warn("failed to persist trusted devices", "user", userID, "error", err)
	}
}

// OwnerFromPath extracts the owning user id from a blob path following
// the "users/{userID}/..." layout convention. This is a naming
// convention, not a cryptographic guarantee; it only feeds the owner
// bypass, never widens access for other callers.
func OwnerFromPath(path string) (string, bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "users" && parts[1] != "" {
		return parts[1], true
	}
	return "", false
}
