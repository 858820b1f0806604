package crypto

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/fieldlock/fieldlock/internal/util"
)

// EnvKey is the environment variable holding the hex-encoded master key.
const EnvKey = "ENCRYPTION_KEY"

const keyHexLen = util.AESKeySize * 2

// ErrKeyNotConfigured is returned when the key is absent or malformed.
// This is a fatal configuration error: the provider fails closed rather
// than encrypting with a guessable fallback.
var ErrKeyNotConfigured = errors.New("encryption key not configured")

var auditHMACInfo = []byte("fieldlock:audit:hmac:v1")

// KeyProvider resolves the single active 256-bit key and caches it for
// the process lifetime. The key is held in a memguard Enclave so it is
// encrypted at rest in memory between uses.
type KeyProvider struct {
	source func() (string, error)

	once    sync.Once
	enclave *memguard.Enclave
	loadErr error
}

// NewKeyProvider reads the key from the ENCRYPTION_KEY environment value.
func NewKeyProvider() *KeyProvider {
	return NewKeyProviderFromSource(func() (string, error) {
		v, ok := os.LookupEnv(EnvKey)
		if !ok {
			return "", fmt.Errorf("%w: %s is not set", ErrKeyNotConfigured, EnvKey)
		}
		return v, nil
	})
}

// NewKeyProviderFromSource uses a custom secret source. Tests and
// deployments backed by a secret manager plug in here.
func NewKeyProviderFromSource(source func() (string, error)) *KeyProvider {
	return &KeyProvider{source: source}
}

// Key returns a copy of the 32-byte master key. Callers must wipe the
// returned slice when done. The secret source is consulted exactly once;
// subsequent calls reuse the cached enclave.
func (p *KeyProvider) Key() ([]byte, error) {
	p.once.Do(p.load)
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	buf, err := p.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return util.CopyBytes(buf.Bytes()), nil
}

// AuditHMACKey derives the subkey used to sign audit chain exports.
// Derived, not the master key itself, so audit tooling never handles
// material that can decrypt records.
func (p *KeyProvider) AuditHMACKey() ([]byte, error) {
	key, err := p.Key()
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)
	return util.HKDF(key, nil, auditHMACInfo)
}

func (p *KeyProvider) load() {
	raw, err := p.source()
	if err != nil {
		p.loadErr = err
		return
	}
	if len(raw) != keyHexLen {
		p.loadErr = fmt.Errorf("%w: want %d hex chars, got %d", ErrKeyNotConfigured, keyHexLen, len(raw))
		return
	}
	key, err := util.HexDecode(raw)
	if err != nil {
		p.loadErr = fmt.Errorf("%w: not valid hex", ErrKeyNotConfigured)
		return
	}
	p.enclave = memguard.NewEnclave(key)
}
