package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uplink/internal/domain"
	"github.com/prn-tf/alexander-uplink/internal/httpapi"
)

const (
	// HeaderTarget selects the portal operation.
	HeaderTarget = "X-Amz-Target"

	// HeaderBearerToken carries the OIDC access token on portal calls.
	HeaderBearerToken = "x-amz-sso_bearer_token"

	// PortalContentType is the JSON 1.1 protocol content type.
	PortalContentType = "application/x-amz-json-1.1"

	// DefaultMaxPages bounds a paginated listing.
	DefaultMaxPages = 100

	targetPrefix  = "awsssoportalservice."
	servicePortal = "sso-portal"
)

// PortalEndpoint returns the regional portal endpoint.
func PortalEndpoint(region string) string {
	return "https://portal.sso." + region + ".amazonaws.com"
}

// PortalConfig contains configuration for the portal client.
type PortalConfig struct {
	Region   string
	Endpoint string

	// MaxPages stops a listing that never terminates. Zero means DefaultMaxPages.
	MaxPages int

	Doer   httpapi.Doer
	Logger zerolog.Logger
}

// PortalClient talks to the SSO portal service.
type PortalClient struct {
	endpoint string
	maxPages int
	doer     httpapi.Doer
	logger   zerolog.Logger
}

// NewPortalClient creates a new PortalClient.
func NewPortalClient(cfg PortalConfig) *PortalClient {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = PortalEndpoint(cfg.Region)
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &PortalClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		maxPages: maxPages,
		doer:     cfg.Doer,
		logger:   cfg.Logger.With().Str("component", "sso-portal").Logger(),
	}
}

type listAccountsRequest struct {
	AccessToken string `json:"accessToken"`
	NextToken   string `json:"nextToken,omitempty"`
}

type listAccountsResponse struct {
	AccountList []domain.Account `json:"accountList"`
	NextToken   string           `json:"nextToken"`
}

// ListAccounts returns every account visible to accessToken, following
// nextToken until the listing ends.
func (c *PortalClient) ListAccounts(ctx context.Context, accessToken string) ([]domain.Account, error) {
	const op = "ListAccounts"

	var accounts []domain.Account
	err := c.paginate(ctx, op, func(ctx context.Context, nextToken string) (string, error) {
		var page listAccountsResponse
		if err := c.call(ctx, op, accessToken, listAccountsRequest{
			AccessToken: accessToken,
			NextToken:   nextToken,
		}, &page); err != nil {
			return "", err
		}
		accounts = append(accounts, page.AccountList...)
		return page.NextToken, nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

type listAccountRolesRequest struct {
	AccessToken string `json:"accessToken"`
	AccountID   string `json:"accountId"`
	NextToken   string `json:"nextToken,omitempty"`
}

type listAccountRolesResponse struct {
	RoleList  []domain.Role `json:"roleList"`
	NextToken string        `json:"nextToken"`
}

// ListAccountRoles returns every role accessToken may assume in accountID.
func (c *PortalClient) ListAccountRoles(ctx context.Context, accessToken, accountID string) ([]domain.Role, error) {
	const op = "ListAccountRoles"

	if accountID == "" {
		return nil, domain.NewConfigError("sso.account_id", errors.New("account id is required"))
	}

	var roles []domain.Role
	err := c.paginate(ctx, op, func(ctx context.Context, nextToken string) (string, error) {
		var page listAccountRolesResponse
		if err := c.call(ctx, op, accessToken, listAccountRolesRequest{
			AccessToken: accessToken,
			AccountID:   accountID,
			NextToken:   nextToken,
		}, &page); err != nil {
			return "", err
		}
		for _, role := range page.RoleList {
			if role.AccountID == "" {
				role.AccountID = accountID
			}
			roles = append(roles, role)
		}
		return page.NextToken, nil
	})
	if err != nil {
		return nil, err
	}
	return roles, nil
}

type getRoleCredentialsRequest struct {
	AccessToken string `json:"accessToken"`
	AccountID   string `json:"accountId"`
	RoleName    string `json:"roleName"`
}

type getRoleCredentialsResponse struct {
	RoleCredentials struct {
		AccessKeyID     string `json:"accessKeyId"`
		SecretAccessKey string `json:"secretAccessKey"`
		SessionToken    string `json:"sessionToken"`
		// Expiration is in milliseconds since the epoch.
		Expiration int64 `json:"expiration"`
	} `json:"roleCredentials"`
}

// GetRoleCredentials exchanges accessToken for credentials of roleName in
// accountID.
func (c *PortalClient) GetRoleCredentials(ctx context.Context, accessToken, accountID, roleName string) (*domain.RoleCredentials, error) {
	const op = "GetRoleCredentials"

	if accountID == "" || roleName == "" {
		return nil, domain.NewConfigError("sso", domain.ErrSSOSettingsMissing)
	}

	var out getRoleCredentialsResponse
	if err := c.call(ctx, op, accessToken, getRoleCredentialsRequest{
		AccessToken: accessToken,
		AccountID:   accountID,
		RoleName:    roleName,
	}, &out); err != nil {
		return nil, err
	}

	creds := out.RoleCredentials
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, domain.NewProtocolError(op, http.StatusOK, nil, errors.New("accessKeyId or secretAccessKey missing"))
	}

	c.logger.Debug().
		Str("account_id", accountID).
		Str("role", roleName).
		Int64("expiration_ms", creds.Expiration).
		Msg("role credentials issued")

	return &domain.RoleCredentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		ExpiresAt:       creds.Expiration / 1000,
	}, nil
}

// paginate calls fetch with each page token in turn. A repeated token or a
// listing longer than maxPages is a protocol error.
func (c *PortalClient) paginate(ctx context.Context, op string, fetch func(ctx context.Context, nextToken string) (string, error)) error {
	seen := make(map[string]struct{})
	nextToken := ""

	for page := 1; ; page++ {
		if page > c.maxPages {
			return domain.NewProtocolError(op, 0, nil, fmt.Errorf("%w: more than %d pages", domain.ErrPaginationLoop, c.maxPages))
		}

		token, err := fetch(ctx, nextToken)
		if err != nil {
			return err
		}
		if token == "" {
			c.logger.Debug().Str("operation", op).Int("pages", page).Msg("listing complete")
			return nil
		}
		if _, dup := seen[token]; dup {
			return domain.NewProtocolError(op, 0, nil, fmt.Errorf("%w: repeated page token", domain.ErrPaginationLoop))
		}
		seen[token] = struct{}{}
		nextToken = token
	}
}

// call sends one portal request and decodes a 2xx body into out.
func (c *PortalClient) call(ctx context.Context, op, accessToken string, payload, out any) error {
	if accessToken == "" {
		return fmt.Errorf("%s: %w", op, domain.ErrLoginRequired)
	}

	header := make(http.Header)
	header.Set(HeaderTarget, targetPrefix+op)
	header[HeaderBearerToken] = []string{accessToken}

	req, err := httpapi.NewJSONRequest(servicePortal, op, c.endpoint+"/", PortalContentType, header, payload)
	if err != nil {
		return err
	}
	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return domain.NewLoginRequiredError(op, resp.StatusCode, portalErrorType(resp.Body))
	case !resp.IsSuccess():
		apiErr := domain.NewRemoteError(op, resp.StatusCode, resp.Body)
		apiErr.Code = portalErrorType(resp.Body)
		return apiErr
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return domain.NewProtocolError(op, resp.StatusCode, resp.Body, err)
	}
	return nil
}

// portalErrorType extracts the short error type from a JSON 1.1 error body,
// e.g. "UnauthorizedException".
func portalErrorType(body []byte) string {
	var out struct {
		Type string `json:"__type"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return ""
	}
	if i := strings.LastIndexByte(out.Type, '#'); i >= 0 {
		return out.Type[i+1:]
	}
	return out.Type
}
