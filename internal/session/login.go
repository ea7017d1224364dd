package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prn-tf/alexander-uplink/internal/domain"
	"github.com/prn-tf/alexander-uplink/internal/lock"
	"github.com/prn-tf/alexander-uplink/internal/sso"
)

// slowDownStep is added to the poll interval on every slow_down answer.
const slowDownStep = 5 * time.Second

// ErrLoginInProgress indicates another device login holds the login lock.
var ErrLoginInProgress = errors.New("another sso login is in progress")

// PromptFunc shows the user code and verification URL to the user.
type PromptFunc func(auth *domain.DeviceAuthorization)

// Login runs the device authorization flow against startURL and stores the
// issued token. It returns when the user approves, the device code expires,
// the server rejects the request, or ctx is done.
func (r *Resolver) Login(ctx context.Context, startURL string, prompt PromptFunc) (*domain.AuthToken, error) {
	if startURL == "" {
		return nil, domain.NewConfigError("sso.start_url", errors.New("start url is required"))
	}

	key := lock.Keys.DeviceLogin(ProviderID)
	acquired, err := r.locker.Acquire(ctx, key, r.lockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrLoginInProgress
	}
	defer func() {
		_, _ = r.locker.Release(context.WithoutCancel(ctx), key)
	}()

	client, stored, err := r.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	device, err := r.oidc.StartDeviceAuthorization(ctx, client, startURL)
	if err != nil && stored && domain.IsLoginRequired(err) {
		// The stored registration was revoked server side.
		r.logger.Info().Msg("stored sso client rejected, registering again")
		if client, err = r.registerClient(ctx); err != nil {
			return nil, err
		}
		device, err = r.oidc.StartDeviceAuthorization(ctx, client, startURL)
	}
	if err != nil {
		return nil, err
	}

	if prompt != nil {
		prompt(device)
	}

	token, err := r.pollToken(ctx, client, device)
	if err != nil {
		return nil, err
	}
	if err := saveToken(ctx, r.store, token); err != nil {
		return nil, err
	}

	r.logger.Info().Time("expires_at", time.Unix(token.ExpiresAt, 0)).Msg("sso login complete")
	return token, nil
}

func (r *Resolver) pollToken(ctx context.Context, client *domain.ClientRegistration, device *domain.DeviceAuthorization) (*domain.AuthToken, error) {
	interval := device.Interval
	if interval <= 0 {
		interval = sso.DefaultPollInterval
	}

	for {
		if !device.ExpiresAt.IsZero() && !r.now().Before(device.ExpiresAt) {
			return nil, domain.ErrDeviceCodeExpired
		}
		if err := r.sleep(ctx, interval); err != nil {
			return nil, err
		}

		result, err := r.oidc.CreateTokenByDeviceCode(ctx, client, device.DeviceCode)
		if err != nil {
			return nil, err
		}

		switch result.Status {
		case sso.TokenIssued:
			return result.Token, nil
		case sso.TokenSlowDown:
			interval += slowDownStep
			r.logger.Debug().Dur("interval", interval).Msg("device authorization asked to slow down")
		default:
			r.logger.Debug().Msg("device authorization pending")
		}
	}
}

// ensureClient returns the stored registration, registering a new one when
// it is absent or expired. stored reports whether it came from the store.
func (r *Resolver) ensureClient(ctx context.Context) (client *domain.ClientRegistration, stored bool, err error) {
	client, err = loadClient(ctx, r.store)
	if err != nil {
		return nil, false, err
	}
	if !client.IsExpired(r.now()) {
		return client, true, nil
	}
	client, err = r.registerClient(ctx)
	return client, false, err
}

func (r *Resolver) registerClient(ctx context.Context) (*domain.ClientRegistration, error) {
	client, err := r.oidc.RegisterClient(ctx, r.clientName)
	if err != nil {
		return nil, fmt.Errorf("failed to register sso client: %w", err)
	}
	if err := saveClient(ctx, r.store, client); err != nil {
		return nil, err
	}
	r.logger.Info().Str("client_name", r.clientName).Msg("registered sso client")
	return client, nil
}

// Logout removes the stored token and the cached role credentials of
// settings. The client registration is kept for the next login.
func (r *Resolver) Logout(ctx context.Context, settings domain.SSOSettings) error {
	if err := r.store.Delete(ctx, ProviderID, SecretSSOToken); err != nil {
		return err
	}
	if settings.AccountID != "" && settings.RoleName != "" {
		return r.store.Delete(ctx, ProviderID, RoleSecretID(settings.AccountID, settings.RoleName))
	}
	return nil
}

// Accounts lists the accounts visible to the stored session.
func (r *Resolver) Accounts(ctx context.Context) ([]domain.Account, error) {
	token, err := r.validToken(ctx)
	if err != nil {
		return nil, err
	}
	return r.portal.ListAccounts(ctx, token.AccessToken)
}

// Roles lists the roles the stored session may assume in accountID.
func (r *Resolver) Roles(ctx context.Context, accountID string) ([]domain.Role, error) {
	token, err := r.validToken(ctx)
	if err != nil {
		return nil, err
	}
	return r.portal.ListAccountRoles(ctx, token.AccessToken, accountID)
}
