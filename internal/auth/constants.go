// Package auth implements AWS Signature Version 4 request signing for S3.
package auth

// =============================================================================
// Constants
// =============================================================================

const (
	// SignV4Algorithm is the algorithm identifier for AWS Signature Version 4.
	SignV4Algorithm = "AWS4-HMAC-SHA256"

	// ISO8601BasicFormat is the date format used in AWS v4 signatures.
	ISO8601BasicFormat = "20060102T150405Z"

	// YYYYMMDD is the short date format used in credential scope.
	YYYYMMDD = "20060102"

	// ServiceS3 is the service name for S3.
	ServiceS3 = "s3"

	// DefaultRegion is the region used when none is configured or inferable.
	// It is the single source for both the uploader and the provisioner.
	DefaultRegion = "us-east-1"
)

// =============================================================================
// Header Names
// =============================================================================

// Canonical (lower-case) names, as they appear in the signed header list.
const (
	HeaderAuthorization     = "authorization"
	HeaderHost              = "host"
	HeaderContentLength     = "content-length"
	HeaderContentType       = "content-type"
	HeaderContentMD5        = "content-md5"
	HeaderXAmzDate          = "x-amz-date"
	HeaderXAmzContentSHA256 = "x-amz-content-sha256"
	HeaderXAmzSecurityToken = "x-amz-security-token"
	HeaderXAmzStorageClass  = "x-amz-storage-class"
	HeaderXAmzACL           = "x-amz-acl"
)

// =============================================================================
// Special Content Hash Values
// =============================================================================

const (
	// UnsignedPayload indicates the payload is not included in the signature.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	// EmptyStringSHA256 is the SHA-256 hash of an empty string.
	EmptyStringSHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// =============================================================================
// Request Scope Constants
// =============================================================================

const (
	// AWS4Request is the termination string for credential scope.
	AWS4Request = "aws4_request"
)
