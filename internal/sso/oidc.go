// Package sso implements the AWS IAM Identity Center clients: the OIDC
// device-authorization flow and the portal role-credential exchange.
package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uplink/internal/domain"
	"github.com/prn-tf/alexander-uplink/internal/httpapi"
)

const (
	// GrantTypeDeviceCode is the device-code grant of RFC 8628.
	GrantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"

	// GrantTypeRefreshToken is the refresh-token grant.
	GrantTypeRefreshToken = "refresh_token"

	// ScopeAccountAccess lets the token list accounts and fetch role credentials.
	ScopeAccountAccess = "sso:account:access"

	// DefaultPollInterval is used when the server omits an interval.
	DefaultPollInterval = 5 * time.Second

	serviceOIDC     = "sso-oidc"
	jsonContentType = "application/json"
)

// OIDC error codes returned in the "error" field of a token response.
const (
	errorAuthorizationPending = "authorization_pending"
	errorSlowDown             = "slow_down"
	errorExpiredToken         = "expired_token"
	errorAccessDenied         = "access_denied"
	errorInvalidGrant         = "invalid_grant"
)

// TokenStatus is the outcome of one device-code token poll.
type TokenStatus int

const (
	// TokenIssued means Token is set.
	TokenIssued TokenStatus = iota

	// TokenPending means the user has not approved the device yet.
	TokenPending

	// TokenSlowDown means the poll interval must grow before the next poll.
	TokenSlowDown
)

// String returns the status name.
func (s TokenStatus) String() string {
	switch s {
	case TokenIssued:
		return "issued"
	case TokenPending:
		return "pending"
	case TokenSlowDown:
		return "slow_down"
	default:
		return "unknown"
	}
}

// TokenPollResult is the non-fatal result of CreateTokenByDeviceCode.
type TokenPollResult struct {
	Status TokenStatus
	Token  *domain.AuthToken
}

// OIDCEndpoint returns the regional OIDC endpoint.
func OIDCEndpoint(region string) string {
	return "https://oidc." + region + ".amazonaws.com"
}

// OIDCConfig contains configuration for the OIDC client.
type OIDCConfig struct {
	// Region selects the regional endpoint when Endpoint is empty.
	Region   string
	Endpoint string

	Doer   httpapi.Doer
	Logger zerolog.Logger

	// Now is the clock used to turn expiresIn into an absolute expiry.
	Now func() time.Time
}

// OIDCClient talks to the SSO OIDC service. Each operation is a single
// request and is safe to retry.
type OIDCClient struct {
	endpoint string
	doer     httpapi.Doer
	now      func() time.Time
	logger   zerolog.Logger
}

// NewOIDCClient creates a new OIDCClient.
func NewOIDCClient(cfg OIDCConfig) *OIDCClient {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = OIDCEndpoint(cfg.Region)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &OIDCClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		doer:     cfg.Doer,
		now:      now,
		logger:   cfg.Logger.With().Str("component", "sso-oidc").Logger(),
	}
}

type registerClientRequest struct {
	ClientName string   `json:"clientName"`
	ClientType string   `json:"clientType"`
	Scopes     []string `json:"scopes"`
}

type registerClientResponse struct {
	ClientID              string `json:"clientId"`
	ClientSecret          string `json:"clientSecret"`
	ClientIDIssuedAt      int64  `json:"clientIdIssuedAt"`
	ClientSecretExpiresAt int64  `json:"clientSecretExpiresAt"`
}

// RegisterClient registers a public OIDC client named name.
func (c *OIDCClient) RegisterClient(ctx context.Context, name string) (*domain.ClientRegistration, error) {
	const op = "RegisterClient"

	resp, err := c.post(ctx, op, "/client/register", registerClientRequest{
		ClientName: name,
		ClientType: "public",
		Scopes:     []string{ScopeAccountAccess},
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, domain.NewRemoteError(op, resp.StatusCode, resp.Body)
	}

	var out registerClientResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, domain.NewProtocolError(op, resp.StatusCode, resp.Body, err)
	}
	if out.ClientID == "" || out.ClientSecret == "" {
		return nil, domain.NewProtocolError(op, resp.StatusCode, resp.Body, errors.New("clientId or clientSecret missing"))
	}

	c.logger.Info().Str("client_name", name).Int64("secret_expires_at", out.ClientSecretExpiresAt).Msg("oidc client registered")

	return &domain.ClientRegistration{
		ClientID:              out.ClientID,
		ClientSecret:          out.ClientSecret,
		ClientSecretExpiresAt: out.ClientSecretExpiresAt,
	}, nil
}

type startDeviceAuthorizationRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	StartURL     string `json:"startUrl"`
}

type startDeviceAuthorizationResponse struct {
	DeviceCode              string `json:"deviceCode"`
	UserCode                string `json:"userCode"`
	VerificationURI         string `json:"verificationUri"`
	VerificationURIComplete string `json:"verificationUriComplete"`
	ExpiresIn               int64  `json:"expiresIn"`
	Interval                int64  `json:"interval"`
}

// StartDeviceAuthorization begins the device flow for startURL.
func (c *OIDCClient) StartDeviceAuthorization(ctx context.Context, client *domain.ClientRegistration, startURL string) (*domain.DeviceAuthorization, error) {
	const op = "StartDeviceAuthorization"

	if client == nil || client.ClientID == "" {
		return nil, domain.NewConfigError("sso.client", domain.ErrSecretMissing)
	}
	if startURL == "" {
		return nil, domain.NewConfigError("sso.start_url", errors.New("start url is required"))
	}

	receivedAt := c.now()
	resp, err := c.post(ctx, op, "/device_authorization", startDeviceAuthorizationRequest{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		StartURL:     startURL,
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		if code := errorCode(resp.Body); code == errorInvalidGrant || resp.StatusCode == http.StatusUnauthorized {
			// The stored client registration is no longer accepted.
			return nil, domain.NewLoginRequiredError(op, resp.StatusCode, code)
		}
		return nil, domain.NewRemoteError(op, resp.StatusCode, resp.Body)
	}

	var out startDeviceAuthorizationResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, domain.NewProtocolError(op, resp.StatusCode, resp.Body, err)
	}
	if out.DeviceCode == "" {
		return nil, domain.NewProtocolError(op, resp.StatusCode, resp.Body, errors.New("deviceCode missing"))
	}

	interval := time.Duration(out.Interval) * time.Second
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &domain.DeviceAuthorization{
		DeviceCode:              out.DeviceCode,
		UserCode:                out.UserCode,
		VerificationURI:         out.VerificationURI,
		VerificationURIComplete: out.VerificationURIComplete,
		Interval:                interval,
		ExpiresAt:               receivedAt.Add(time.Duration(out.ExpiresIn) * time.Second),
	}, nil
}

type createTokenRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	GrantType    string `json:"grantType"`
	DeviceCode   string `json:"deviceCode,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type createTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
	RefreshToken string `json:"refreshToken"`
}

type oidcErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// CreateTokenByDeviceCode polls the token endpoint once. Pending and slow
// down answers are returned as values; callers poll again after the device
// interval. Only malformed or unexpected responses are errors.
func (c *OIDCClient) CreateTokenByDeviceCode(ctx context.Context, client *domain.ClientRegistration, deviceCode string) (*TokenPollResult, error) {
	const op = "CreateToken"

	if client == nil || client.ClientID == "" {
		return nil, domain.NewConfigError("sso.client", domain.ErrSecretMissing)
	}

	resp, err := c.post(ctx, op, "/token", createTokenRequest{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		GrantType:    GrantTypeDeviceCode,
		DeviceCode:   deviceCode,
	})
	if err != nil {
		return nil, err
	}
	receivedAt := c.now()

	if resp.IsSuccess() {
		token, err := parseToken(op, resp, receivedAt)
		if err != nil {
			return nil, err
		}
		return &TokenPollResult{Status: TokenIssued, Token: token}, nil
	}

	var oidcErr oidcErrorResponse
	if err := json.Unmarshal(resp.Body, &oidcErr); err != nil || oidcErr.Error == "" {
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, domain.NewRemoteError(op, resp.StatusCode, resp.Body)
		}
		return nil, domain.NewProtocolError(op, resp.StatusCode, resp.Body, err)
	}

	switch oidcErr.Error {
	case errorAuthorizationPending:
		c.logger.Debug().Msg("device authorization pending")
		return &TokenPollResult{Status: TokenPending}, nil
	case errorSlowDown:
		c.logger.Debug().Msg("device authorization asked to slow down")
		return &TokenPollResult{Status: TokenSlowDown}, nil
	case errorExpiredToken, errorAccessDenied, errorInvalidGrant:
		return nil, domain.NewLoginRequiredError(op, resp.StatusCode, oidcErr.Error)
	default:
		return nil, &domain.APIError{
			Kind:       domain.KindRemote,
			Op:         op,
			StatusCode: resp.StatusCode,
			Code:       oidcErr.Error,
			Body:       string(resp.Body),
		}
	}
}

// RefreshToken exchanges refreshToken for a new access token. When the
// response carries no refresh token the old one is kept.
func (c *OIDCClient) RefreshToken(ctx context.Context, client *domain.ClientRegistration, refreshToken string) (*domain.AuthToken, error) {
	const op = "RefreshToken"

	if client == nil || client.ClientID == "" {
		return nil, domain.NewConfigError("sso.client", domain.ErrSecretMissing)
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrLoginRequired)
	}

	resp, err := c.post(ctx, op, "/token", createTokenRequest{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: refreshToken,
	})
	if err != nil {
		return nil, err
	}
	receivedAt := c.now()

	if !resp.IsSuccess() {
		switch code := errorCode(resp.Body); code {
		case errorInvalidGrant, errorExpiredToken, errorAccessDenied:
			return nil, domain.NewLoginRequiredError(op, resp.StatusCode, code)
		default:
			apiErr := domain.NewRemoteError(op, resp.StatusCode, resp.Body)
			apiErr.Code = code
			return nil, apiErr
		}
	}

	token, err := parseToken(op, resp, receivedAt)
	if err != nil {
		return nil, err
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}

	c.logger.Debug().Int64("expires_at", token.ExpiresAt).Msg("sso token refreshed")
	return token, nil
}

func (c *OIDCClient) post(ctx context.Context, op, path string, payload any) (*httpapi.Response, error) {
	req, err := httpapi.NewJSONRequest(serviceOIDC, op, c.endpoint+path, jsonContentType, nil, payload)
	if err != nil {
		return nil, err
	}
	return c.doer.Do(ctx, req)
}

// parseToken decodes a successful token response. The expiry is measured
// from receivedAt rather than any server clock.
func parseToken(op string, resp *httpapi.Response, receivedAt time.Time) (*domain.AuthToken, error) {
	var out createTokenResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, domain.NewProtocolError(op, resp.StatusCode, resp.Body, err)
	}
	if out.AccessToken == "" {
		return nil, domain.NewProtocolError(op, resp.StatusCode, resp.Body, errors.New("accessToken missing"))
	}
	return &domain.AuthToken{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresAt:    receivedAt.Add(time.Duration(out.ExpiresIn) * time.Second).Unix(),
	}, nil
}

// errorCode extracts the OIDC "error" field, or "" when absent.
func errorCode(body []byte) string {
	var oidcErr oidcErrorResponse
	if err := json.Unmarshal(body, &oidcErr); err != nil {
		return ""
	}
	return oidcErr.Error
}
