package domain

import (
	"fmt"
	"strings"
)

// AuthMode selects where upload credentials come from.
type AuthMode string

const (
	// AuthModeStatic reads an access key pair from the secret store.
	AuthModeStatic AuthMode = "static"

	// AuthModeSSO exchanges an SSO access token for role credentials.
	AuthModeSSO AuthMode = "sso"
)

// StorageClass is the S3 storage class sent in x-amz-storage-class.
type StorageClass string

const (
	StorageClassStandard           StorageClass = "STANDARD"
	StorageClassReducedRedundancy  StorageClass = "REDUCED_REDUNDANCY"
	StorageClassStandardIA         StorageClass = "STANDARD_IA"
	StorageClassOneZoneIA          StorageClass = "ONEZONE_IA"
	StorageClassIntelligentTiering StorageClass = "INTELLIGENT_TIERING"
	StorageClassGlacierIR          StorageClass = "GLACIER_IR"
	StorageClassGlacier            StorageClass = "GLACIER"
	StorageClassDeepArchive        StorageClass = "DEEP_ARCHIVE"
)

var validStorageClasses = map[StorageClass]bool{
	StorageClassStandard:           true,
	StorageClassReducedRedundancy:  true,
	StorageClassStandardIA:         true,
	StorageClassOneZoneIA:          true,
	StorageClassIntelligentTiering: true,
	StorageClassGlacierIR:          true,
	StorageClassGlacier:            true,
	StorageClassDeepArchive:        true,
}

// IsValid returns true for a storage class S3 accepts.
func (s StorageClass) IsValid() bool {
	return validStorageClasses[s]
}

// SSOSettings identifies the account and role to assume in SSO mode.
type SSOSettings struct {
	StartURL  string
	Region    string
	AccountID string
	RoleName  string
}

// UploadConfig is the user-supplied destination configuration. It is treated
// as immutable for the duration of an upload or provisioning call.
type UploadConfig struct {
	// EndpointHost is the S3 service host, e.g. s3.eu-west-1.amazonaws.com.
	EndpointHost string

	BucketName string

	// Region is optional for *.amazonaws.com endpoints, where it is inferred.
	Region string

	PathStyle     bool
	SignedPayload bool
	StorageClass  StorageClass
	PublicACL     bool

	// CustomDomain replaces the bucket host in returned URLs (CNAME setups).
	CustomDomain string

	// ObjectPrefix is a key prefix pattern; placeholders are resolved by a
	// PrefixResolver before use.
	ObjectPrefix string

	RemoveExtensionImage bool
	RemoveExtensionVideo bool
	RemoveExtensionText  bool

	AuthMode AuthMode
	SSO      SSOSettings
}

// UsePathStyle reports the effective addressing mode.
func (c UploadConfig) UsePathStyle() bool {
	return c.PathStyle || RequiresPathStyle(c.BucketName)
}

// Validate checks the configuration without touching the network.
func (c UploadConfig) Validate() error {
	if strings.TrimSpace(c.EndpointHost) == "" {
		return NewConfigError("s3.endpoint", ErrEndpointMissing)
	}
	if err := ValidateBucketName(c.BucketName); err != nil {
		return NewConfigError("s3.bucket", err)
	}
	if c.StorageClass != "" && !c.StorageClass.IsValid() {
		return NewConfigError("s3.storage_class", fmt.Errorf("%w: %q", ErrStorageClassInvalid, c.StorageClass))
	}
	switch c.AuthMode {
	case "", AuthModeStatic:
	case AuthModeSSO:
		if c.SSO.AccountID == "" || c.SSO.RoleName == "" {
			return NewConfigError("sso", ErrSSOSettingsMissing)
		}
	default:
		return NewConfigError("s3.auth_mode", fmt.Errorf("%w: %q", ErrAuthModeInvalid, c.AuthMode))
	}
	return nil
}
