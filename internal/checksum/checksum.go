// Package checksum derives content digests used as cache keys and HTTP
// validators.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// etagLen is how many digest bytes an ETag carries.
const etagLen = 16

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ETag returns a strong entity tag for data, quoted as HTTP expects.
func ETag(data []byte) string {
	h := sha256.Sum256(data)
	return `"` + hex.EncodeToString(h[:etagLen]) + `"`
}
