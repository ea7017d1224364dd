// Package crypto provides the hashing, encryption and key helpers used by
// the signer and the encrypted secret store.
package crypto

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// ComputeSHA256 computes the hex-encoded SHA-256 hash of a byte slice.
func ComputeSHA256(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ComputeMD5Base64 computes the base64-encoded MD5 digest used in the
// Content-MD5 header.
func ComputeMD5Base64(data []byte) string {
	hash := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(hash[:])
}

// ComputeStreamSHA256 computes the SHA-256 hash of a reader's content.
func ComputeStreamSHA256(r io.Reader) (string, int64, error) {
	h := sha256.New()
	size, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("failed to compute SHA-256: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// HashReadSeeker hashes rs from its current position to EOF and then seeks
// back to that position, so the same stream can be sent afterwards. The
// returned size counts the bytes that will be sent.
func HashReadSeeker(rs io.ReadSeeker) (string, int64, error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read stream position: %w", err)
	}

	hash, size, err := ComputeStreamSHA256(rs)
	if err != nil {
		return "", 0, err
	}

	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return "", 0, fmt.Errorf("failed to rewind stream: %w", err)
	}

	return hash, size, nil
}
