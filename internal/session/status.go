package session

import (
	"context"
	"time"

	"github.com/prn-tf/alexander-uplink/internal/domain"
)

// Status describes stored credentials without exposing them.
type Status struct {
	AuthMode string `json:"auth_mode"`

	StaticConfigured bool `json:"static_configured,omitempty"`

	ClientRegistered bool       `json:"client_registered,omitempty"`
	TokenValid       bool       `json:"token_valid,omitempty"`
	TokenRefreshable bool       `json:"token_refreshable,omitempty"`
	TokenExpiresAt   *time.Time `json:"token_expires_at,omitempty"`

	AccountID     string     `json:"account_id,omitempty"`
	RoleName      string     `json:"role_name,omitempty"`
	RoleValid     bool       `json:"role_valid,omitempty"`
	RoleExpiresAt *time.Time `json:"role_expires_at,omitempty"`
	LoginRequired bool       `json:"login_required,omitempty"`

	// AccessKey is the masked access key id in use.
	AccessKey string `json:"access_key,omitempty"`
}

// Status reports the state of the credentials cfg would use. It never
// contacts the network.
func (r *Resolver) Status(ctx context.Context, cfg domain.UploadConfig) (*Status, error) {
	mode := cfg.AuthMode
	if mode == "" {
		mode = domain.AuthModeStatic
	}
	st := &Status{AuthMode: string(mode)}

	if mode != domain.AuthModeSSO {
		creds, err := r.staticCredentials(ctx)
		switch {
		case err == nil:
			st.StaticConfigured = true
			st.AccessKey = creds.MaskedAccessKey()
		case domain.KindOf(err) != domain.KindConfig:
			return nil, err
		}
		return st, nil
	}

	now := r.now()

	client, err := loadClient(ctx, r.store)
	if err != nil {
		return nil, err
	}
	st.ClientRegistered = !client.IsExpired(now)

	token, err := loadToken(ctx, r.store)
	if err != nil {
		return nil, err
	}
	if token != nil {
		st.TokenValid = !token.IsExpired(now)
		st.TokenRefreshable = token.CanRefresh() && st.ClientRegistered
		st.TokenExpiresAt = unixTime(token.ExpiresAt)
	}

	st.AccountID = cfg.SSO.AccountID
	st.RoleName = cfg.SSO.RoleName
	if cfg.SSO.AccountID != "" && cfg.SSO.RoleName != "" {
		role, err := loadRole(ctx, r.store, RoleSecretID(cfg.SSO.AccountID, cfg.SSO.RoleName))
		if err != nil {
			return nil, err
		}
		if role != nil {
			st.RoleValid = !role.IsExpired(now, r.skew)
			st.RoleExpiresAt = unixTime(role.ExpiresAt)
			st.AccessKey = roleToCredentials(role).MaskedAccessKey()
		}
	}

	st.LoginRequired = !st.RoleValid && !st.TokenValid && !st.TokenRefreshable
	return st, nil
}

// Reporter binds Status to one configuration for the serve command.
type Reporter struct {
	resolver *Resolver
	cfg      domain.UploadConfig
}

// Reporter returns a status reporter for cfg.
func (r *Resolver) Reporter(cfg domain.UploadConfig) *Reporter {
	return &Reporter{resolver: r, cfg: cfg}
}

// Status implements handler.StatusProvider.
func (p *Reporter) Status(ctx context.Context) (any, error) {
	return p.resolver.Status(ctx, p.cfg)
}

func unixTime(v int64) *time.Time {
	if v == 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}
