// Package domain contains the core entities shared by the uploader, the SSO
// clients and the bucket provisioner.
package domain

import (
	"regexp"
	"strings"
)

// bucketNameRegex validates S3-compliant bucket names.
// Rules: 3-63 characters, lowercase letters, numbers, hyphens, periods.
// Must start and end with letter or number.
var bucketNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// ipAddressRegex matches dotted-quad names such as 192.168.5.4.
var ipAddressRegex = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// ValidateBucketName checks if the bucket name follows S3 naming conventions.
// It never touches the network and is called before any request is built.
func ValidateBucketName(name string) error {
	if name == "" {
		return ErrBucketNameMissing
	}

	if len(name) < 3 || len(name) > 63 {
		return ErrBucketNameLength
	}

	if !bucketNameRegex.MatchString(name) {
		return ErrBucketNameFormat
	}

	if strings.Contains(name, "..") {
		return ErrBucketNameDots
	}

	if ipAddressRegex.MatchString(name) {
		return ErrBucketNameIPFormat
	}

	return nil
}

// RequiresPathStyle reports whether a bucket must be addressed path-style.
// Dotted names break TLS certificate matching for virtual-hosted addressing.
func RequiresPathStyle(bucket string) bool {
	return strings.Contains(bucket, ".")
}
