// Package crypto implements the envelope encryption used for sensitive
// fields and uploaded files.
//
// A string envelope is the marker "ENC:" followed by hex(iv) + hex(tag) +
// hex(ciphertext) with a 16-byte IV and a 16-byte GCM tag. The layout is
// shared with all previously written ciphertext, so it must be reproduced
// exactly: 4-char marker, 32 hex chars of IV, 32 hex chars of tag, then
// the hex ciphertext.
package crypto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fieldlock/fieldlock/internal/util"
)

// Marker prefixes every string envelope. Its presence is the sole signal
// that a stored value is ciphertext rather than plaintext.
const Marker = "ENC:"

const (
	// Algorithm identifies the AEAD used, persisted in file metadata.
	Algorithm = "aes-256-gcm"

	ivHexLen  = util.IVSize * 2
	tagHexLen = util.TagSize * 2
)

// ErrDecrypt is returned when an envelope cannot be decrypted: tag
// mismatch, corrupted ciphertext or wrong key.
var ErrDecrypt = errors.New("cannot decrypt value")

// ErrMalformedEnvelope is returned when a marked value does not follow
// the envelope layout.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Engine performs authenticated encryption with a single process-wide key.
type Engine struct {
	keys *KeyProvider
}

// NewEngine returns an Engine drawing its key from the given provider.
func NewEngine(keys *KeyProvider) *Engine {
	return &Engine{keys: keys}
}

// EncryptString encrypts a plaintext string into an envelope string.
// Empty and blank-only input is returned unchanged so placeholder values
// never end up as ciphertext.
func (e *Engine) EncryptString(plaintext string) (string, error) {
	if strings.TrimSpace(plaintext) == "" {
		return plaintext, nil
	}
	key, err := e.keys.Key()
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(key)

	cipherText, iv, tag, err := util.EncryptAESGCM([]byte(plaintext), key)
	if err != nil {
		return "", fmt.Errorf("encrypting value: %w", err)
	}
	return Marker + util.HexEncode(iv) + util.HexEncode(tag) + util.HexEncode(cipherText), nil
}

// DecryptString decrypts an envelope string. Input without the marker is
// returned unchanged, which lets plaintext and ciphertext coexist in the
// same field during migration.
func (e *Engine) DecryptString(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	iv, tag, cipherText, err := splitEnvelope(value)
	if err != nil {
		return "", err
	}

	key, err := e.keys.Key()
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(key)

	plainText, err := util.DecryptAESGCM(cipherText, iv, tag, key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plainText), nil
}

// EncryptBuffer encrypts a binary blob. IV and tag are returned separately
// so they can travel as side-channel metadata next to the stored object.
func (e *Engine) EncryptBuffer(plain []byte) (cipherText, iv, tag []byte, err error) {
	key, err := e.keys.Key()
	if err != nil {
		return nil, nil, nil, err
	}
	defer util.WipeBytes(key)
	return util.EncryptAESGCM(plain, key)
}

// DecryptBuffer reverses EncryptBuffer.
func (e *Engine) DecryptBuffer(cipherText, iv, tag []byte) ([]byte, error) {
	key, err := e.keys.Key()
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	plain, err := util.DecryptAESGCM(cipherText, iv, tag, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

// IsEncrypted reports whether a stored value carries the envelope marker.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Marker)
}

func splitEnvelope(value string) (iv, tag, cipherText []byte, err error) {
	body := strings.TrimPrefix(value, Marker)
	if len(body) < ivHexLen+tagHexLen {
		return nil, nil, nil, fmt.Errorf("%w: too short", ErrMalformedEnvelope)
	}
	iv, err = util.HexDecode(body[:ivHexLen])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: bad iv hex", ErrMalformedEnvelope)
	}
	tag, err = util.HexDecode(body[ivHexLen : ivHexLen+tagHexLen])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: bad tag hex", ErrMalformedEnvelope)
	}
	cipherText, err = util.HexDecode(body[ivHexLen+tagHexLen:])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: bad ciphertext hex", ErrMalformedEnvelope)
	}
	return iv, tag, cipherText, nil
}
