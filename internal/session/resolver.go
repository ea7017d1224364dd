// Package session turns stored secrets into upload credentials. Static mode
// reads an access key pair; SSO mode keeps an access token fresh and trades
// it for short-lived role credentials.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uplink/internal/auth"
	"github.com/prn-tf/alexander-uplink/internal/domain"
	"github.com/prn-tf/alexander-uplink/internal/lock"
	"github.com/prn-tf/alexander-uplink/internal/metrics"
	"github.com/prn-tf/alexander-uplink/internal/secretstore"
	"github.com/prn-tf/alexander-uplink/internal/sso"
)

// Refresh kinds used as metric labels.
const (
	refreshToken = "token"
	refreshRole  = "role"
)

// Defaults applied by NewResolver.
const (
	DefaultCredentialSkew = time.Minute
	DefaultLockTTL        = 30 * time.Second
	DefaultLockRetry      = 100 * time.Millisecond
	DefaultLockWait       = 30 * time.Second
	DefaultClientName     = "alexander-uplink"
)

// ErrLockTimeout indicates another refresh held the lock for too long.
var ErrLockTimeout = errors.New("timed out waiting for credential refresh lock")

// OIDC is the subset of sso.OIDCClient used by the resolver.
type OIDC interface {
	RegisterClient(ctx context.Context, name string) (*domain.ClientRegistration, error)
	StartDeviceAuthorization(ctx context.Context, client *domain.ClientRegistration, startURL string) (*domain.DeviceAuthorization, error)
	CreateTokenByDeviceCode(ctx context.Context, client *domain.ClientRegistration, deviceCode string) (*sso.TokenPollResult, error)
	RefreshToken(ctx context.Context, client *domain.ClientRegistration, refreshToken string) (*domain.AuthToken, error)
}

// Portal is the subset of sso.PortalClient used by the resolver.
type Portal interface {
	ListAccounts(ctx context.Context, accessToken string) ([]domain.Account, error)
	ListAccountRoles(ctx context.Context, accessToken, accountID string) ([]domain.Role, error)
	GetRoleCredentials(ctx context.Context, accessToken, accountID, roleName string) (*domain.RoleCredentials, error)
}

var (
	_ OIDC   = (*sso.OIDCClient)(nil)
	_ Portal = (*sso.PortalClient)(nil)
)

// Config contains the resolver dependencies.
type Config struct {
	Store  secretstore.Store
	OIDC   OIDC
	Portal Portal

	// Locker serialises refreshes. Nil disables locking.
	Locker lock.Locker

	Metrics *metrics.Metrics
	Logger  zerolog.Logger

	// ClientName is sent when registering the OIDC client.
	ClientName string

	// CredentialSkew is subtracted from role credential expiry.
	CredentialSkew time.Duration

	LockTTL   time.Duration
	LockRetry time.Duration
	LockWait  time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Resolver produces credentials for uploads and provisioning.
type Resolver struct {
	store   secretstore.Store
	oidc    OIDC
	portal  Portal
	locker  lock.Locker
	metrics *metrics.Metrics
	logger  zerolog.Logger

	clientName string
	skew       time.Duration
	lockTTL    time.Duration
	lockRetry  time.Duration
	lockWait   time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewResolver creates a Resolver.
func NewResolver(cfg Config) *Resolver {
	r := &Resolver{
		store:      cfg.Store,
		oidc:       cfg.OIDC,
		portal:     cfg.Portal,
		locker:     cfg.Locker,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With().Str("component", "session").Logger(),
		clientName: cfg.ClientName,
		skew:       cfg.CredentialSkew,
		lockTTL:    cfg.LockTTL,
		lockRetry:  cfg.LockRetry,
		lockWait:   cfg.LockWait,
		now:        cfg.Now,
		sleep:      cfg.Sleep,
	}
	if r.locker == nil {
		r.locker = lock.NewNoOpLocker()
	}
	if r.clientName == "" {
		r.clientName = DefaultClientName
	}
	if r.skew <= 0 {
		r.skew = DefaultCredentialSkew
	}
	if r.lockTTL <= 0 {
		r.lockTTL = DefaultLockTTL
	}
	if r.lockRetry <= 0 {
		r.lockRetry = DefaultLockRetry
	}
	if r.lockWait <= 0 {
		r.lockWait = DefaultLockWait
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.sleep == nil {
		r.sleep = sleepContext
	}
	return r
}

// Credentials returns signing credentials for cfg.
func (r *Resolver) Credentials(ctx context.Context, cfg domain.UploadConfig) (auth.Credentials, error) {
	switch cfg.AuthMode {
	case "", domain.AuthModeStatic:
		return r.staticCredentials(ctx)
	case domain.AuthModeSSO:
		return r.ssoCredentials(ctx, cfg.SSO)
	default:
		return auth.Credentials{}, domain.NewConfigError("s3.auth_mode", fmt.Errorf("%w: %q", domain.ErrAuthModeInvalid, cfg.AuthMode))
	}
}

func (r *Resolver) staticCredentials(ctx context.Context) (auth.Credentials, error) {
	fields, err := secretstore.GetFields(ctx, r.store, ProviderID, SecretStatic,
		FieldAccessKeyID, FieldSecretAccessKey, FieldSessionToken)
	if err != nil {
		return auth.Credentials{}, err
	}

	creds := auth.Credentials{
		AccessKeyID:     fields[FieldAccessKeyID],
		SecretAccessKey: fields[FieldSecretAccessKey],
		SessionToken:    fields[FieldSessionToken],
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return auth.Credentials{}, domain.NewConfigError("secrets."+SecretStatic,
			fmt.Errorf("%w: %s and %s are required", domain.ErrSecretMissing, FieldAccessKeyID, FieldSecretAccessKey))
	}
	return creds, nil
}

func (r *Resolver) ssoCredentials(ctx context.Context, settings domain.SSOSettings) (auth.Credentials, error) {
	if settings.AccountID == "" || settings.RoleName == "" {
		return auth.Credentials{}, domain.NewConfigError("sso", domain.ErrSSOSettingsMissing)
	}
	roleID := RoleSecretID(settings.AccountID, settings.RoleName)

	cached, err := loadRole(ctx, r.store, roleID)
	if err != nil {
		return auth.Credentials{}, err
	}
	if !cached.IsExpired(r.now(), r.skew) {
		return roleToCredentials(cached), nil
	}

	var creds auth.Credentials
	err = r.withLock(ctx, lock.Keys.CredentialRefresh(ProviderID, roleID), func(ctx context.Context) error {
		// Another holder may have refreshed while we waited.
		cached, err := loadRole(ctx, r.store, roleID)
		if err != nil {
			return err
		}
		if !cached.IsExpired(r.now(), r.skew) {
			creds = roleToCredentials(cached)
			return nil
		}

		token, err := r.validToken(ctx)
		if err != nil {
			return err
		}

		fresh, err := r.portal.GetRoleCredentials(ctx, token.AccessToken, settings.AccountID, settings.RoleName)
		if err != nil {
			r.metrics.RecordRefresh(refreshRole, metrics.ResultFailure)
			return err
		}
		if err := saveRole(ctx, r.store, roleID, fresh); err != nil {
			return err
		}
		r.metrics.RecordRefresh(refreshRole, metrics.ResultSuccess)

		r.logger.Info().
			Str("account_id", settings.AccountID).
			Str("role", settings.RoleName).
			Str("access_key", roleToCredentials(fresh).MaskedAccessKey()).
			Time("expires_at", time.Unix(fresh.ExpiresAt, 0)).
			Msg("fetched role credentials")

		creds = roleToCredentials(fresh)
		return nil
	})
	return creds, err
}

// validToken returns a usable access token, refreshing it at most once.
func (r *Resolver) validToken(ctx context.Context) (*domain.AuthToken, error) {
	token, err := loadToken(ctx, r.store)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, fmt.Errorf("no sso session stored: %w", domain.ErrLoginRequired)
	}
	if !token.IsExpired(r.now()) {
		return token, nil
	}

	var fresh *domain.AuthToken
	err = r.withLock(ctx, lock.Keys.CredentialRefresh(ProviderID, SecretSSOToken), func(ctx context.Context) error {
		token, err := loadToken(ctx, r.store)
		if err != nil {
			return err
		}
		if token == nil {
			return fmt.Errorf("no sso session stored: %w", domain.ErrLoginRequired)
		}
		if !token.IsExpired(r.now()) {
			fresh = token
			return nil
		}

		fresh, err = r.refresh(ctx, token)
		if err != nil {
			r.metrics.RecordRefresh(refreshToken, metrics.ResultFailure)
			return err
		}
		r.metrics.RecordRefresh(refreshToken, metrics.ResultSuccess)
		return nil
	})
	return fresh, err
}

func (r *Resolver) refresh(ctx context.Context, token *domain.AuthToken) (*domain.AuthToken, error) {
	if !token.CanRefresh() {
		return nil, fmt.Errorf("sso token expired without a refresh token: %w", domain.ErrLoginRequired)
	}

	client, err := loadClient(ctx, r.store)
	if err != nil {
		return nil, err
	}
	if client.IsExpired(r.now()) {
		return nil, fmt.Errorf("sso client registration missing or expired: %w", domain.ErrLoginRequired)
	}

	fresh, err := r.oidc.RefreshToken(ctx, client, token.RefreshToken)
	if err != nil {
		if domain.IsLoginRequired(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		r.logger.Warn().Err(err).Msg("sso token refresh failed")
		return nil, fmt.Errorf("%w: token refresh failed: %v", domain.ErrLoginRequired, err)
	}

	if err := saveToken(ctx, r.store, fresh); err != nil {
		return nil, err
	}
	r.logger.Info().Time("expires_at", time.Unix(fresh.ExpiresAt, 0)).Msg("refreshed sso token")
	return fresh, nil
}

// withLock runs fn while holding key. The lock is released even when ctx
// has been canceled.
func (r *Resolver) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	retries := int(r.lockWait / r.lockRetry)
	acquired, err := r.locker.AcquireWithRetry(ctx, key, r.lockTTL, retries, r.lockRetry)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%s: %w", key, ErrLockTimeout)
	}
	defer func() {
		if _, err := r.locker.Release(context.WithoutCancel(ctx), key); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("failed to release lock")
		}
	}()
	return fn(ctx)
}

func roleToCredentials(c *domain.RoleCredentials) auth.Credentials {
	return auth.Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
