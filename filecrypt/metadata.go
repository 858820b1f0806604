// Package filecrypt encrypts and decrypts whole uploaded files, carrying
// IV and tag as custom metadata next to the blob instead of inline.
package filecrypt

import (
	"fmt"

	"github.com/fieldlock/fieldlock/crypto"
	"github.com/fieldlock/fieldlock/internal/util"
)

// Metadata keys persisted on the blob's custom-metadata side channel.
// The flat string map is the wire format shared with existing objects.
const (
	MetaIV        = "x-encryption-iv"
	MetaTag       = "x-encryption-tag"
	MetaAlgorithm = "x-encryption-algorithm"
	MetaEncrypted = "x-encrypted"
)

// EncryptionMetadata is the decoded side-channel envelope of one blob.
type EncryptionMetadata struct {
	IV        []byte
	Tag       []byte
	Algorithm string
}

// BuildMetadata serializes IV and tag into the flat metadata map.
func BuildMetadata(iv, tag []byte) map[string]string {
	return map[string]string{
		MetaIV:        util.HexEncode(iv),
		MetaTag:       util.HexEncode(tag),
		MetaAlgorithm: crypto.Algorithm,
		MetaEncrypted: "true",
	}
}

// ParseEncryptionMetadata decodes the side channel. It returns nil unless
// the map explicitly claims encryption with x-encrypted == "true"; any
// other value, including absence, means "not (yet) marked encrypted".
func ParseEncryptionMetadata(meta map[string]string) (*EncryptionMetadata, error) {
	if meta[MetaEncrypted] != "true" {
		return nil, nil
	}
	iv, err := util.HexDecode(meta[MetaIV])
	if err != nil || len(iv) != util.IVSize {
		return nil, fmt.Errorf("metadata carries invalid iv")
	}
	tag, err := util.HexDecode(meta[MetaTag])
	if err != nil || len(tag) != util.TagSize {
		return nil, fmt.Errorf("metadata carries invalid tag")
	}
	return &EncryptionMetadata{
		IV:        iv,
		Tag:       tag,
		Algorithm: meta[MetaAlgorithm],
	}, nil
}
