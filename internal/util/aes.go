package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	AESKeySize = 32
	// IVSize is 16 bytes rather than the GCM default of 12. The envelope
	// format inherited from the existing dataset uses 16-byte IVs, so the
	// size is load-bearing for ciphertext compatibility.
	IVSize = 16
	// TagSize is the GCM authentication tag length.
	TagSize = 16
)

// EncryptAESGCM encrypts plainText with AES-256-GCM using a fresh random
// 16-byte IV. The ciphertext is returned without the tag appended; IV and
// tag are returned separately so callers can carry them out-of-band or
// inline depending on the envelope form.
func EncryptAESGCM(plainText, rawKey []byte) (cipherText, iv, tag []byte, err error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, nil, nil, err
	}

	iv = make([]byte, IVSize)
	if _, err = io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, nil, fmt.Errorf("generating iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plainText, nil)
	// gcm.Seal appends the tag to the ciphertext.
	cipherText = sealed[:len(sealed)-TagSize]
	tag = sealed[len(sealed)-TagSize:]
	return cipherText, iv, tag, nil
}

// DecryptAESGCM reverses EncryptAESGCM. A tag mismatch, wrong key or
// corrupted ciphertext returns an error rather than garbage plaintext.
func DecryptAESGCM(cipherText, iv, tag, rawKey []byte) ([]byte, error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("invalid iv size: got %d, want %d", len(iv), IVSize)
	}
	if len(tag) != TagSize {
		return nil, fmt.Errorf("invalid tag size: got %d, want %d", len(tag), TagSize)
	}

	sealed := make([]byte, 0, len(cipherText)+len(tag))
	sealed = append(sealed, cipherText...)
	sealed = append(sealed, tag...)

	plainText, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}
	return plainText, nil
}

func newGCM(rawKey []byte) (cipher.AEAD, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}
	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

func NewAESKey() ([]byte, error) {
	rawKey := make([]byte, AESKeySize)
	if _, err := rand.Read(rawKey); err != nil {
		return nil, fmt.Errorf("generating AES key: %w", err)
	}
	return rawKey, nil
}
