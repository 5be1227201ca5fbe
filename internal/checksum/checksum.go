package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data. Note content hashes
// stored in the index are produced here and nowhere else.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Short truncates a digest for log output.
func Short(digest string) string {
	if len(digest) <= 8 {
		return digest
	}
	return digest[:8]
}
