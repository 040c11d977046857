// Package crypto implements server-side password hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	// SaltLen is the per-account auth salt length.
	SaltLen = 16
)

// dummySalt/dummyHash back the unknown-account path so it costs one Argon2id run,
// same as a wrong-password check.
var (
	dummySalt = make([]byte, SaltLen)
	dummyHash = HashPassword([]byte("dummy-password"), dummySalt)
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword returns Argon2id hash of password using the provided salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// NewCredentials draws a fresh salt and hashes password with it.
func NewCredentials(password string) (hash, salt []byte, err error) {
	salt, err = RandBytes(SaltLen)
	if err != nil {
		return nil, nil, err
	}
	return HashPassword([]byte(password), salt), salt, nil
}

// VerifyPassword verifies password against expected Argon2id hash and salt.
func VerifyPassword(password, salt, expected []byte) bool {
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// VerifyDummy performs a full verification against a fixed hash and always
// reports false.
func VerifyDummy(password []byte) bool {
	_ = VerifyPassword(password, dummySalt, dummyHash)
	return false
}

// NewSecurityStamp returns a random stamp used to invalidate outstanding credentials.
func NewSecurityStamp() (string, error) {
	b, err := RandBytes(16)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
