package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent configuration and protocol rule violations.
// Remote failures are reported as *APIError so the status and body survive.

var (
	// ===========================================
	// Bucket Errors
	// ===========================================

	// ErrBucketNameMissing indicates no bucket name was configured.
	ErrBucketNameMissing = errors.New("bucket name is required")

	// ErrBucketNameLength indicates the bucket name length is invalid (3-63 chars).
	ErrBucketNameLength = errors.New("bucket name must be between 3 and 63 characters")

	// ErrBucketNameFormat indicates the bucket name format is invalid.
	ErrBucketNameFormat = errors.New("bucket name must contain only lowercase letters, numbers, hyphens, and periods")

	// ErrBucketNameDots indicates the bucket name contains adjacent periods.
	ErrBucketNameDots = errors.New("bucket name cannot contain two adjacent periods")

	// ErrBucketNameIPFormat indicates the bucket name looks like an IP address.
	ErrBucketNameIPFormat = errors.New("bucket name cannot be formatted as an IP address")

	// ===========================================
	// Upload Configuration Errors
	// ===========================================

	// ErrEndpointMissing indicates no S3 endpoint host was configured.
	ErrEndpointMissing = errors.New("endpoint host is required")

	// ErrStorageClassInvalid indicates an unknown storage class.
	ErrStorageClassInvalid = errors.New("invalid storage class")

	// ErrAuthModeInvalid indicates an unknown authentication mode.
	ErrAuthModeInvalid = errors.New("invalid auth mode")

	// ErrSSOSettingsMissing indicates SSO mode without an account and role.
	ErrSSOSettingsMissing = errors.New("sso mode requires an account id and role name")

	// ErrFileNameMissing indicates an upload without a file name.
	ErrFileNameMissing = errors.New("file name is required")

	// ErrBodyMissing indicates an upload without data or a stream.
	ErrBodyMissing = errors.New("upload body is required")

	// ===========================================
	// Credential Errors
	// ===========================================

	// ErrSecretMissing indicates a required secret is absent from the secret store.
	ErrSecretMissing = errors.New("secret not found")

	// ErrLoginRequired indicates the SSO session cannot be renewed without
	// the user signing in again.
	ErrLoginRequired = errors.New("sso login required")

	// ErrAuthorizationPending indicates the user has not yet approved the
	// device code. It is only surfaced when a poll loop is cut short.
	ErrAuthorizationPending = errors.New("authorization pending")

	// ErrDeviceCodeExpired indicates the device code expired before approval.
	ErrDeviceCodeExpired = errors.New("device code expired")

	// ===========================================
	// Protocol Errors
	// ===========================================

	// ErrMalformedResponse indicates a response body could not be decoded
	// or lacks required fields.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrPaginationLoop indicates the server repeated a page token or
	// returned more pages than allowed.
	ErrPaginationLoop = errors.New("pagination did not terminate")
)

// ErrorKind classifies an error for callers deciding on retry or re-login.
type ErrorKind int

const (
	// KindUnknown is any error not produced by this module.
	KindUnknown ErrorKind = iota

	// KindConfig errors are reported immediately and never retried.
	KindConfig

	// KindPending means the device flow is waiting on the user.
	KindPending

	// KindLoginRequired means credentials expired and could not be refreshed.
	KindLoginRequired

	// KindRemote is a non-2xx response outside the tolerated set.
	KindRemote

	// KindProtocol is a malformed response or broken protocol invariant.
	KindProtocol
)

// String returns a lower-case name suitable for log fields and metric labels.
func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindPending:
		return "pending"
	case KindLoginRequired:
		return "login_required"
	case KindRemote:
		return "remote"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// ConfigError reports an invalid or missing configuration value.
type ConfigError struct {
	// Field is the configuration key at fault, e.g. "s3.bucket".
	Field string

	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a ConfigError for field.
func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Err: err}
}

// APIError carries a failed remote call together with its diagnostics.
type APIError struct {
	Kind ErrorKind

	// Op is the remote operation, e.g. "CreateToken" or "HeadBucket".
	Op string

	StatusCode int

	// Code is the service error code, e.g. "expired_token".
	Code string

	// Body is the raw response body, kept for diagnostics.
	Body string

	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Op
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, truncate(e.Body, 256))
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// NewRemoteError creates an APIError for an unexpected HTTP status.
func NewRemoteError(op string, statusCode int, body []byte) *APIError {
	return &APIError{Kind: KindRemote, Op: op, StatusCode: statusCode, Body: string(body)}
}

// NewProtocolError creates an APIError for a malformed response.
func NewProtocolError(op string, statusCode int, body []byte, err error) *APIError {
	if err == nil {
		err = ErrMalformedResponse
	} else if !errors.Is(err, ErrMalformedResponse) && !errors.Is(err, ErrPaginationLoop) {
		err = fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &APIError{Kind: KindProtocol, Op: op, StatusCode: statusCode, Body: string(body), Err: err}
}

// NewLoginRequiredError creates an APIError that unwraps to ErrLoginRequired.
func NewLoginRequiredError(op string, statusCode int, code string) *APIError {
	return &APIError{Kind: KindLoginRequired, Op: op, StatusCode: statusCode, Code: code, Err: ErrLoginRequired}
}

// KindOf classifies err. Wrapped errors are unwrapped as needed.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return KindConfig
	}

	switch {
	case errors.Is(err, ErrLoginRequired), errors.Is(err, ErrDeviceCodeExpired):
		return KindLoginRequired
	case errors.Is(err, ErrAuthorizationPending):
		return KindPending
	case errors.Is(err, ErrMalformedResponse), errors.Is(err, ErrPaginationLoop):
		return KindProtocol
	case errors.Is(err, ErrSecretMissing),
		errors.Is(err, ErrBucketNameMissing),
		errors.Is(err, ErrBucketNameLength),
		errors.Is(err, ErrBucketNameFormat),
		errors.Is(err, ErrBucketNameDots),
		errors.Is(err, ErrBucketNameIPFormat),
		errors.Is(err, ErrEndpointMissing):
		return KindConfig
	}
	return KindUnknown
}

// IsLoginRequired reports whether the user must sign in again.
func IsLoginRequired(err error) bool {
	return KindOf(err) == KindLoginRequired
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
