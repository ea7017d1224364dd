package auth

import (
	"strings"
	"time"
)

// =============================================================================
// Credential Types
// =============================================================================

// Credentials is the access key triple used to sign a request.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string

	// SessionToken is set for temporary (SSO role) credentials.
	SessionToken string
}

// Validate checks that the key pair is present.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.AccessKeyID) == "" || strings.TrimSpace(c.SecretAccessKey) == "" {
		return ErrMissingCredentials
	}
	return nil
}

// MaskedAccessKey returns the access key id with all but the first four
// characters hidden, for logging.
func (c Credentials) MaskedAccessKey() string {
	if len(c.AccessKeyID) <= 4 {
		return "****"
	}
	return c.AccessKeyID[:4] + strings.Repeat("*", len(c.AccessKeyID)-4)
}

// CredentialScope represents the scope of AWS credentials.
// Format: {date}/{region}/{service}/aws4_request
type CredentialScope struct {
	// Date is the date portion of the scope (YYYYMMDD).
	Date time.Time

	// Region is the AWS region (e.g., "us-east-1").
	Region string

	// Service is the AWS service (e.g., "s3").
	Service string
}

// String returns the credential scope as a string.
// Format: {date}/{region}/{service}/aws4_request
func (cs CredentialScope) String() string {
	return cs.Date.UTC().Format(YYYYMMDD) + "/" + cs.Region + "/" + cs.Service + "/" + AWS4Request
}

// CredentialHeader represents parsed AWS credentials from the Authorization header.
type CredentialHeader struct {
	// AccessKey is the access key ID.
	AccessKey string

	// Scope is the credential scope.
	Scope CredentialScope
}

// String returns the credential as a string.
// Format: {access_key}/{scope}
func (ch CredentialHeader) String() string {
	return ch.AccessKey + "/" + ch.Scope.String()
}

// =============================================================================
// Signing Input and Output
// =============================================================================

// SigningInput describes one request to sign.
type SigningInput struct {
	// Method is the HTTP method.
	Method string

	// Host is the value of the Host header.
	Host string

	// Path is the unescaped request path. It is percent-encoded while
	// building the canonical URI.
	Path string

	// Query holds the unescaped query parameters. A sub-resource such as
	// ?policy is represented by an empty value.
	Query map[string][]string

	// Header holds additional headers to sign. Names are case-insensitive.
	Header map[string]string

	// PayloadHash is the hex SHA-256 of the body or UnsignedPayload.
	PayloadHash string
}

// Signature is the result of signing. It is bound to the exact header set
// in Headers: changing any of them after signing requires signing again.
type Signature struct {
	// Authorization is the value for the Authorization header.
	Authorization string

	// Headers is every signed header keyed by lower-case name, including the
	// side headers added by the signer (x-amz-date, x-amz-content-sha256 and,
	// for temporary credentials, x-amz-security-token).
	Headers map[string]string

	// SignedHeaders is the sorted list of signed header names.
	SignedHeaders []string

	Canonical    CanonicalRequest
	StringToSign string

	// Value is the hex-encoded signature.
	Value string

	// Time is the signing time in UTC.
	Time time.Time
}

// =============================================================================
// Signature Components
// =============================================================================

// CanonicalRequest represents the components of a canonical request.
type CanonicalRequest struct {
	// Method is the HTTP method.
	Method string

	// URI is the canonical URI path.
	URI string

	// QueryString is the canonical query string.
	QueryString string

	// Headers is the canonical headers string, each line terminated by "\n".
	Headers string

	// SignedHeaders is the signed headers list.
	SignedHeaders string

	// PayloadHash is the hash of the request payload.
	PayloadHash string
}

// String returns the canonical request as a string for signing.
func (cr CanonicalRequest) String() string {
	return cr.Method + "\n" +
		cr.URI + "\n" +
		cr.QueryString + "\n" +
		cr.Headers + "\n" +
		cr.SignedHeaders + "\n" +
		cr.PayloadHash
}

// StringToSign represents the string to sign.
type StringToSign struct {
	// Algorithm is the signing algorithm.
	Algorithm string

	// RequestDateTime is the request timestamp.
	RequestDateTime string

	// CredentialScope is the credential scope string.
	CredentialScope string

	// CanonicalRequestHash is the hash of the canonical request.
	CanonicalRequestHash string
}

// String returns the string to sign.
func (sts StringToSign) String() string {
	return sts.Algorithm + "\n" +
		sts.RequestDateTime + "\n" +
		sts.CredentialScope + "\n" +
		sts.CanonicalRequestHash
}
