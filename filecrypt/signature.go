package filecrypt

import "bytes"

// fileSignature is the expected leading bytes of one plaintext content
// type. The table is explicit data rather than inline branching so the
// boundary heuristic stays testable.
type fileSignature struct {
	contentType string
	magic       [][]byte
}

var fileSignatures = []fileSignature{
	{"application/pdf", [][]byte{[]byte("%PDF")}},
	{"image/png", [][]byte{{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}}},
	{"image/jpeg", [][]byte{{0xFF, 0xD8, 0xFF}}},
	{"image/gif", [][]byte{[]byte("GIF87a"), []byte("GIF89a")}},
	{"application/zip", [][]byte{{0x50, 0x4B, 0x03, 0x04}, {0x50, 0x4B, 0x05, 0x06}}},
	{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", [][]byte{{0x50, 0x4B, 0x03, 0x04}}},
	{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", [][]byte{{0x50, 0x4B, 0x03, 0x04}}},
}

// matchesPlaintextSignature checks the blob's leading bytes against the
// expected plaintext signature for its declared content type.
//
// known reports whether a signature is registered for the content type;
// matches is only meaningful when known is true. An unknown content type
// gives the heuristic nothing to decide with.
func matchesPlaintextSignature(contentType string, data []byte) (known, matches bool) {
	for _, sig := range fileSignatures {
		if sig.contentType != contentType {
			continue
		}
		for _, magic := range sig.magic {
			if bytes.HasPrefix(data, magic) {
				return true, true
			}
		}
		return true, false
	}
	return false, false
}
