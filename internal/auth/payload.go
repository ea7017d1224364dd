package auth

import (
	"fmt"
	"io"

	"github.com/prn-tf/alexander-uplink/internal/pkg/crypto"
)

// PayloadHash returns the value for x-amz-content-sha256: the hex SHA-256
// of body when signed, otherwise UnsignedPayload.
func PayloadHash(body []byte, signed bool) string {
	if !signed {
		return UnsignedPayload
	}
	return crypto.ComputeSHA256(body)
}

// StreamPayloadHash is PayloadHash for a stream. It also reports the number
// of bytes between the current position and EOF. On return the stream is
// back at the position it had on entry, so it can be sent as the body.
func StreamPayloadHash(rs io.ReadSeeker, signed bool) (string, int64, error) {
	if signed {
		return crypto.HashReadSeeker(rs)
	}

	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read stream position: %w", err)
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return "", 0, fmt.Errorf("failed to measure stream: %w", err)
	}
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return "", 0, fmt.Errorf("failed to rewind stream: %w", err)
	}
	return UnsignedPayload, end - start, nil
}
