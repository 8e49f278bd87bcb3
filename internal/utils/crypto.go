package utils

import (
    "crypto/sha256"
    "encoding/hex"
)

// Fingerprint returns the hex SHA-256 digest of s. Issued-token records
// store the fingerprint of a token rather than the token itself.
func Fingerprint(s string) string {
    sum := sha256.Sum256([]byte(s))
    return hex.EncodeToString(sum[:])
}
