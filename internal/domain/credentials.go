package domain

import "time"

// ClientRegistration is the OIDC client issued once per install by
// /client/register. It is immutable once stored and re-registered only when
// absent or expired.
type ClientRegistration struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`

	// ClientSecretExpiresAt is a unix timestamp in seconds. Zero means the
	// server did not report an expiry.
	ClientSecretExpiresAt int64 `json:"clientSecretExpiresAt"`
}

// IsExpired returns true if the registration can no longer be used.
func (c *ClientRegistration) IsExpired(now time.Time) bool {
	if c == nil || c.ClientID == "" || c.ClientSecret == "" {
		return true
	}
	if c.ClientSecretExpiresAt == 0 {
		return false
	}
	return now.Unix() >= c.ClientSecretExpiresAt
}

// DeviceAuthorization is the result of starting the device-authorization flow.
type DeviceAuthorization struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string

	// Interval is the minimum polling interval requested by the server.
	Interval time.Duration

	// ExpiresAt is when the device code stops being redeemable.
	ExpiresAt time.Time
}

// AuthToken is an SSO access token produced by the device-code or refresh grant.
type AuthToken struct {
	AccessToken  string
	RefreshToken string

	// ExpiresAt is a unix timestamp in seconds, computed locally as
	// receipt time plus expiresIn.
	ExpiresAt int64
}

// IsExpired returns true once now has reached ExpiresAt.
func (t *AuthToken) IsExpired(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	return now.Unix() >= t.ExpiresAt
}

// CanRefresh reports whether a refresh grant can be attempted.
func (t *AuthToken) CanRefresh() bool {
	return t != nil && t.RefreshToken != ""
}

// RoleCredentials are short-lived credentials scoped to one account and role.
type RoleCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// ExpiresAt is a unix timestamp in seconds.
	ExpiresAt int64
}

// IsExpired returns true if the credentials must be fetched again. A skew
// margin is subtracted so that credentials are not used in their final seconds.
func (c *RoleCredentials) IsExpired(now time.Time, skew time.Duration) bool {
	if c == nil || c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return true
	}
	return !now.Add(skew).Before(time.Unix(c.ExpiresAt, 0))
}

// Account is an AWS account visible to the signed-in SSO user.
type Account struct {
	AccountID    string `json:"accountId"`
	AccountName  string `json:"accountName"`
	EmailAddress string `json:"emailAddress"`
}

// Role is a permission set the SSO user may assume in an account.
type Role struct {
	RoleName  string `json:"roleName"`
	AccountID string `json:"accountId"`
}
