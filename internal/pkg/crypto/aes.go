package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the size of the AES-256 key in bytes.
	KeySize = 32

	// NonceSize is the size of the GCM nonce in bytes.
	NonceSize = 12
)

// Errors
var (
	// ErrInvalidKeySize indicates the encryption key is not 32 bytes.
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes (256 bits)")

	// ErrInvalidCiphertext indicates the ciphertext is malformed or too short.
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short or malformed")

	// ErrDecryptionFailed indicates decryption failed (wrong key, wrong
	// associated data or corrupted data).
	ErrDecryptionFailed = errors.New("decryption failed: authentication error")
)

// Encryptor seals secret values with AES-256-GCM. The associated data binds
// a ciphertext to the slot it was written to, so a value copied into another
// secret id fails to open.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor creates a new Encryptor with the given key.
// The key must be exactly 32 bytes (256 bits).
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{gcm: gcm}, nil
}

// NewEncryptorFromHex creates a new Encryptor from a hex-encoded key.
func NewEncryptorFromHex(hexKey string) (*Encryptor, error) {
	key, err := ParseHexKey(hexKey)
	if err != nil {
		return nil, err
	}
	return NewEncryptor(key)
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext || tag).
func (e *Encryptor) Seal(plaintext, associatedData []byte) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nonce, nonce, plaintext, associatedData)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. The associated data must match the value used to seal.
func (e *Encryptor) Open(encoded string, associatedData []byte) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	// Empty plaintexts are valid, so the minimum is nonce plus tag.
	if len(sealed) < NonceSize+e.gcm.Overhead() {
		return nil, ErrInvalidCiphertext
	}

	plaintext, err := e.gcm.Open(nil, sealed[:NonceSize], sealed[NonceSize:], associatedData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// SealString is Seal for string values.
func (e *Encryptor) SealString(plaintext, associatedData string) (string, error) {
	return e.Seal([]byte(plaintext), []byte(associatedData))
}

// OpenString is Open for string values.
func (e *Encryptor) OpenString(encoded, associatedData string) (string, error) {
	plaintext, err := e.Open(encoded, []byte(associatedData))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
