// Package security implements the shared-secret credential scheme used by
// service registration: a random salt and a keyed BLAKE2b-256 hash
// personalised with the service identifier.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	// SaltSize is the length of registration salts.
	SaltSize = 16
	// personalSize pads short identifiers so equal-prefix names hash apart.
	personalSize = 16
)

// GenerateSalt returns a new random salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("security: generate salt: %w", err)
	}
	return salt, nil
}

// CredentialHash derives the credential hash for an identifier: BLAKE2b-256
// keyed with the shared secret over salt followed by the personalised
// identifier. Identifiers shorter than 16 bytes are padded with '-'.
func CredentialHash(sharedSecret, salt []byte, identifier string) []byte {
	personal := []byte(identifier)
	for len(personal) < personalSize {
		personal = append(personal, '-')
	}
	h, err := blake2b.New256(sharedSecret)
	if err != nil {
		// Only reachable with a key over 64 bytes; clamp instead of failing
		// registration outright.
		h, _ = blake2b.New256(sharedSecret[:64])
	}
	h.Write(salt)
	h.Write(personal)
	return h.Sum(nil)
}

// VerifyCredential reports whether hash matches the expected credential hash
// for the identifier. Comparison is constant-time.
func VerifyCredential(sharedSecret, salt []byte, identifier string, hash []byte) bool {
	expected := CredentialHash(sharedSecret, salt, identifier)
	return subtle.ConstantTimeCompare(expected, hash) == 1
}
