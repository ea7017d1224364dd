package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBucketName(t *testing.T) {
	tests := []struct {
		name    string
		bucket  string
		wantErr error
	}{
		{name: "simple", bucket: "my-bucket"},
		{name: "dotted", bucket: "my.bucket.example"},
		{name: "minimum length", bucket: "abc"},
		{name: "empty", bucket: "", wantErr: ErrBucketNameMissing},
		{name: "too short", bucket: "ab", wantErr: ErrBucketNameLength},
		{name: "too long", bucket: "a123456789012345678901234567890123456789012345678901234567890123", wantErr: ErrBucketNameLength},
		{name: "uppercase", bucket: "MyBucket", wantErr: ErrBucketNameFormat},
		{name: "underscore", bucket: "my_bucket", wantErr: ErrBucketNameFormat},
		{name: "leading hyphen", bucket: "-bucket", wantErr: ErrBucketNameFormat},
		{name: "trailing period", bucket: "bucket.", wantErr: ErrBucketNameFormat},
		{name: "adjacent periods", bucket: "my..bucket", wantErr: ErrBucketNameDots},
		{name: "ip address", bucket: "192.168.5.4", wantErr: ErrBucketNameIPFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBucketName(tt.bucket)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, KindConfig, KindOf(err))
		})
	}
}

func TestUploadConfig_UsePathStyle(t *testing.T) {
	assert.False(t, UploadConfig{BucketName: "my-bucket"}.UsePathStyle())
	assert.True(t, UploadConfig{BucketName: "my-bucket", PathStyle: true}.UsePathStyle())
	assert.True(t, UploadConfig{BucketName: "my.bucket"}.UsePathStyle())
}

func TestUploadConfig_Validate(t *testing.T) {
	valid := UploadConfig{EndpointHost: "s3.amazonaws.com", BucketName: "my-bucket"}
	require.NoError(t, valid.Validate())

	noEndpoint := valid
	noEndpoint.EndpointHost = " "
	err := noEndpoint.Validate()
	require.ErrorIs(t, err, ErrEndpointMissing)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "s3.endpoint", cfgErr.Field)

	badClass := valid
	badClass.StorageClass = "COLD"
	require.ErrorIs(t, badClass.Validate(), ErrStorageClassInvalid)

	sso := valid
	sso.AuthMode = AuthModeSSO
	require.ErrorIs(t, sso.Validate(), ErrSSOSettingsMissing)

	sso.SSO = SSOSettings{AccountID: "111122223333", RoleName: "Uploader"}
	require.NoError(t, sso.Validate())

	unknown := valid
	unknown.AuthMode = "kerberos"
	require.ErrorIs(t, unknown.Validate(), ErrAuthModeInvalid)
}

func TestStorageClass_IsValid(t *testing.T) {
	for _, class := range []StorageClass{
		StorageClassStandard, StorageClassReducedRedundancy, StorageClassStandardIA,
		StorageClassOneZoneIA, StorageClassIntelligentTiering, StorageClassGlacierIR,
		StorageClassGlacier, StorageClassDeepArchive,
	} {
		assert.True(t, class.IsValid(), class)
	}
	assert.False(t, StorageClass("standard").IsValid())
}

func TestAuthToken_IsExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	var nilToken *AuthToken
	assert.True(t, nilToken.IsExpired(now))
	assert.False(t, nilToken.CanRefresh())

	token := &AuthToken{AccessToken: "at", ExpiresAt: now.Unix()}
	assert.True(t, token.IsExpired(now), "expiresAt == now is expired")
	assert.False(t, token.IsExpired(now.Add(-time.Second)))
	assert.False(t, token.CanRefresh())

	token.RefreshToken = "rt"
	assert.True(t, token.CanRefresh())
}

func TestRoleCredentials_IsExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	creds := &RoleCredentials{AccessKeyID: "AKID", SecretAccessKey: "secret", ExpiresAt: now.Add(time.Minute).Unix()}

	assert.False(t, creds.IsExpired(now, 0))
	assert.False(t, creds.IsExpired(now, 30*time.Second))
	assert.True(t, creds.IsExpired(now, time.Minute))
	assert.True(t, (&RoleCredentials{ExpiresAt: now.Add(time.Hour).Unix()}).IsExpired(now, 0))
}

func TestClientRegistration_IsExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, (*ClientRegistration)(nil).IsExpired(now))
	assert.True(t, (&ClientRegistration{ClientID: "id"}).IsExpired(now))
	assert.False(t, (&ClientRegistration{ClientID: "id", ClientSecret: "s"}).IsExpired(now))
	assert.True(t, (&ClientRegistration{ClientID: "id", ClientSecret: "s", ClientSecretExpiresAt: now.Unix()}).IsExpired(now))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: KindUnknown},
		{name: "plain", err: errors.New("boom"), want: KindUnknown},
		{name: "config", err: NewConfigError("s3.bucket", ErrBucketNameMissing), want: KindConfig},
		{name: "missing secret", err: fmt.Errorf("static keys: %w", ErrSecretMissing), want: KindConfig},
		{name: "remote", err: NewRemoteError("PutObject", 500, []byte("oops")), want: KindRemote},
		{name: "protocol", err: NewProtocolError("ListAccounts", 200, nil, nil), want: KindProtocol},
		{name: "login required", err: NewLoginRequiredError("CreateToken", 400, "expired_token"), want: KindLoginRequired},
		{name: "wrapped login", err: fmt.Errorf("refresh: %w", ErrLoginRequired), want: KindLoginRequired},
		{name: "pending", err: ErrAuthorizationPending, want: KindPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	err := NewRemoteError("HeadBucket", 500, []byte("internal"))
	assert.Equal(t, "HeadBucket: status 500: internal", err.Error())

	proto := NewProtocolError("GetRoleCredentials", 200, nil, errors.New("accessKeyId missing"))
	require.ErrorIs(t, proto, ErrMalformedResponse)
	assert.Contains(t, proto.Error(), "accessKeyId missing")

	login := NewLoginRequiredError("CreateToken", 400, "access_denied")
	require.ErrorIs(t, login, ErrLoginRequired)
	assert.True(t, IsLoginRequired(login))
	assert.Equal(t, "login_required", KindLoginRequired.String())
}
