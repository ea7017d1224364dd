package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// lowerAlphanumeric is the character set for random key fragments.
const lowerAlphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"

// Key generation errors
var (
	// ErrInvalidHexKey indicates the hex key is malformed or wrong length.
	ErrInvalidHexKey = errors.New("invalid hex key: must be 64 hex characters (32 bytes)")

	// ErrEmptyPassphrase indicates key derivation was asked to stretch nothing.
	ErrEmptyPassphrase = errors.New("passphrase must not be empty")
)

// GenerateMasterKey generates a random 32-byte key for AES-256.
// Returns the key as a 64-character hex string.
func GenerateMasterKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate master key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// ParseHexKey parses a hex-encoded key string into bytes.
// Expects 64 hex characters (32 bytes).
func ParseHexKey(hexKey string) ([]byte, error) {
	hexKey = strings.TrimSpace(hexKey)

	if len(hexKey) != KeySize*2 {
		return nil, ErrInvalidHexKey
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHexKey, err)
	}

	return key, nil
}

// DeriveKey expands secret into a 32-byte AES key with HKDF-SHA256. The info
// string separates keys derived from the same secret for different purposes.
func DeriveKey(secret, salt []byte, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptyPassphrase
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// ResolveKey accepts either a 64 character hex key or an arbitrary
// passphrase, which is stretched with DeriveKey.
func ResolveKey(value, info string) ([]byte, error) {
	if key, err := ParseHexKey(value); err == nil {
		return key, nil
	}
	return DeriveKey([]byte(value), nil, info)
}

// RandomString returns length characters drawn from [a-z0-9].
func RandomString(length int) (string, error) {
	return generateRandomString(length, lowerAlphanumeric)
}

// generateRandomString generates a random string of the specified length
// using characters from the provided character set.
func generateRandomString(length int, charset string) (string, error) {
	result := make([]byte, length)
	charsetLen := len(charset)

	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	for i := 0; i < length; i++ {
		result[i] = charset[int(randomBytes[i])%charsetLen]
	}

	return string(result), nil
}
