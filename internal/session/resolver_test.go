package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-uplink/internal/domain"
	"github.com/prn-tf/alexander-uplink/internal/lock"
	"github.com/prn-tf/alexander-uplink/internal/secretstore"
	"github.com/prn-tf/alexander-uplink/internal/sso"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time

	waits []time.Duration
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

type fakeOIDC struct {
	mu sync.Mutex

	registered   int
	refreshCalls int
	startCalls   int

	registerResult *domain.ClientRegistration
	startErrs      []error
	device         *domain.DeviceAuthorization
	polls          []*sso.TokenPollResult
	pollErr        error
	refreshResult  *domain.AuthToken
	refreshErr     error

	lastClient *domain.ClientRegistration
}

func (f *fakeOIDC) RegisterClient(context.Context, string) (*domain.ClientRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered++
	if f.registerResult == nil {
		return &domain.ClientRegistration{ClientID: "new-client", ClientSecret: "new-secret"}, nil
	}
	return f.registerResult, nil
}

func (f *fakeOIDC) StartDeviceAuthorization(_ context.Context, client *domain.ClientRegistration, _ string) (*domain.DeviceAuthorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	f.lastClient = client
	if len(f.startErrs) > 0 {
		err := f.startErrs[0]
		f.startErrs = f.startErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.device, nil
}

func (f *fakeOIDC) CreateTokenByDeviceCode(context.Context, *domain.ClientRegistration, string) (*sso.TokenPollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if len(f.polls) == 0 {
		return &sso.TokenPollResult{Status: sso.TokenPending}, nil
	}
	next := f.polls[0]
	f.polls = f.polls[1:]
	return next, nil
}

func (f *fakeOIDC) RefreshToken(context.Context, *domain.ClientRegistration, string) (*domain.AuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshResult, nil
}

type fakePortal struct {
	mu sync.Mutex

	roleCalls int
	lastToken string
	creds     *domain.RoleCredentials
	credsErr  error
	accounts  []domain.Account
	roles     []domain.Role
	callDelay time.Duration
}

func (f *fakePortal) ListAccounts(_ context.Context, accessToken string) ([]domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastToken = accessToken
	return f.accounts, nil
}

func (f *fakePortal) ListAccountRoles(_ context.Context, accessToken, _ string) ([]domain.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastToken = accessToken
	return f.roles, nil
}

func (f *fakePortal) GetRoleCredentials(_ context.Context, accessToken, _, _ string) (*domain.RoleCredentials, error) {
	if f.callDelay > 0 {
		time.Sleep(f.callDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleCalls++
	f.lastToken = accessToken
	return f.creds, f.credsErr
}

type fixture struct {
	store    *secretstore.MemoryStore
	oidc     *fakeOIDC
	portal   *fakePortal
	clock    *testClock
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: secretstore.NewMemoryStore(),
		oidc:  &fakeOIDC{},
		portal: &fakePortal{creds: &domain.RoleCredentials{
			AccessKeyID:     "ASIAFRESH",
			SecretAccessKey: "fresh-secret",
			SessionToken:    "fresh-session",
			ExpiresAt:       testNow.Add(time.Hour).Unix(),
		}},
		clock: &testClock{now: testNow},
	}
	f.resolver = NewResolver(Config{
		Store:     f.store,
		OIDC:      f.oidc,
		Portal:    f.portal,
		Locker:    lock.NewMemoryLocker(),
		Logger:    zerolog.Nop(),
		LockRetry: time.Millisecond,
		LockWait:  5 * time.Second,
		Now:       f.clock.Now,
		Sleep:     f.clock.Sleep,
	})
	return f
}

func (f *fixture) putToken(t *testing.T, token *domain.AuthToken) {
	t.Helper()
	require.NoError(t, saveToken(context.Background(), f.store, token))
}

func (f *fixture) putClient(t *testing.T) {
	t.Helper()
	require.NoError(t, saveClient(context.Background(), f.store, &domain.ClientRegistration{
		ClientID:              "stored-client",
		ClientSecret:          "stored-secret",
		ClientSecretExpiresAt: testNow.Add(30 * 24 * time.Hour).Unix(),
	}))
}

var ssoConfig = domain.UploadConfig{
	AuthMode: domain.AuthModeSSO,
	SSO:      domain.SSOSettings{StartURL: "https://example.awsapps.com/start", Region: "eu-west-1", AccountID: "123456789012", RoleName: "Uploader"},
}

func TestResolver_StaticCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.resolver.Credentials(ctx, domain.UploadConfig{})
		require.Error(t, err)
		assert.Equal(t, domain.KindConfig, domain.KindOf(err))
		assert.ErrorIs(t, err, domain.ErrSecretMissing)
	})

	t.Run("secret key missing", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Set(ctx, ProviderID, SecretStatic, FieldAccessKeyID, "AKIA"))
		_, err := f.resolver.Credentials(ctx, domain.UploadConfig{AuthMode: domain.AuthModeStatic})
		assert.Equal(t, domain.KindConfig, domain.KindOf(err))
	})

	t.Run("present", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, secretstore.SetFields(ctx, f.store, ProviderID, SecretStatic, map[string]string{
			FieldAccessKeyID:     "AKIAEXAMPLE",
			FieldSecretAccessKey: "secret",
		}))

		creds, err := f.resolver.Credentials(ctx, domain.UploadConfig{AuthMode: domain.AuthModeStatic})
		require.NoError(t, err)
		assert.Equal(t, "AKIAEXAMPLE", creds.AccessKeyID)
		assert.Equal(t, "secret", creds.SecretAccessKey)
		assert.Empty(t, creds.SessionToken)
	})

	t.Run("unknown mode", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.resolver.Credentials(ctx, domain.UploadConfig{AuthMode: "saml"})
		assert.ErrorIs(t, err, domain.ErrAuthModeInvalid)
	})
}

func TestResolver_SSOCredentials(t *testing.T) {
	ctx := context.Background()
	roleID := RoleSecretID("123456789012", "Uploader")

	t.Run("fresh cached role is used without network", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, saveRole(ctx, f.store, roleID, &domain.RoleCredentials{
			AccessKeyID: "ASIACACHED", SecretAccessKey: "s", SessionToken: "t",
			ExpiresAt: testNow.Add(10 * time.Minute).Unix(),
		}))

		creds, err := f.resolver.Credentials(ctx, ssoConfig)
		require.NoError(t, err)
		assert.Equal(t, "ASIACACHED", creds.AccessKeyID)
		assert.Zero(t, f.portal.roleCalls)
	})

	t.Run("role inside skew window is refetched", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, saveRole(ctx, f.store, roleID, &domain.RoleCredentials{
			AccessKeyID: "ASIACACHED", SecretAccessKey: "s",
			ExpiresAt: testNow.Add(30 * time.Second).Unix(),
		}))
		f.putToken(t, &domain.AuthToken{AccessToken: "valid", ExpiresAt: testNow.Add(time.Hour).Unix()})

		creds, err := f.resolver.Credentials(ctx, ssoConfig)
		require.NoError(t, err)
		assert.Equal(t, "ASIAFRESH", creds.AccessKeyID)
		assert.Equal(t, "fresh-session", creds.SessionToken)
		assert.Equal(t, "valid", f.portal.lastToken)

		stored, err := loadRole(ctx, f.store, roleID)
		require.NoError(t, err)
		assert.Equal(t, "ASIAFRESH", stored.AccessKeyID)

		_, err = f.resolver.Credentials(ctx, ssoConfig)
		require.NoError(t, err)
		assert.Equal(t, 1, f.portal.roleCalls, "second call is served from the store")
	})

	t.Run("expired token is refreshed once", func(t *testing.T) {
		f := newFixture(t)
		f.putClient(t)
		f.putToken(t, &domain.AuthToken{AccessToken: "old", RefreshToken: "rt", ExpiresAt: testNow.Add(-time.Minute).Unix()})
		f.oidc.refreshResult = &domain.AuthToken{AccessToken: "new", RefreshToken: "rt2", ExpiresAt: testNow.Add(time.Hour).Unix()}

		_, err := f.resolver.Credentials(ctx, ssoConfig)
		require.NoError(t, err)
		assert.Equal(t, 1, f.oidc.refreshCalls)
		assert.Equal(t, "new", f.portal.lastToken)

		token, err := loadToken(ctx, f.store)
		require.NoError(t, err)
		assert.Equal(t, "new", token.AccessToken)
		assert.Equal(t, "rt2", token.RefreshToken)
	})

	tests := []struct {
		name        string
		setup       func(t *testing.T, f *fixture)
		wantRefresh int
	}{
		{
			name:  "no token stored",
			setup: func(t *testing.T, f *fixture) {},
		},
		{
			name: "expired without refresh token",
			setup: func(t *testing.T, f *fixture) {
				f.putClient(t)
				f.putToken(t, &domain.AuthToken{AccessToken: "old", ExpiresAt: testNow.Unix()})
			},
		},
		{
			name: "expired without client registration",
			setup: func(t *testing.T, f *fixture) {
				f.putToken(t, &domain.AuthToken{AccessToken: "old", RefreshToken: "rt", ExpiresAt: testNow.Unix()})
			},
		},
		{
			name: "refresh rejected",
			setup: func(t *testing.T, f *fixture) {
				f.putClient(t)
				f.putToken(t, &domain.AuthToken{AccessToken: "old", RefreshToken: "rt", ExpiresAt: testNow.Unix()})
				f.oidc.refreshErr = domain.NewLoginRequiredError("CreateToken", 400, "invalid_grant")
			},
			wantRefresh: 1,
		},
		{
			name: "refresh fails remotely",
			setup: func(t *testing.T, f *fixture) {
				f.putClient(t)
				f.putToken(t, &domain.AuthToken{AccessToken: "old", RefreshToken: "rt", ExpiresAt: testNow.Unix()})
				f.oidc.refreshErr = domain.NewRemoteError("CreateToken", 500, []byte("boom"))
			},
			wantRefresh: 1,
		},
		{
			name: "portal rejects token",
			setup: func(t *testing.T, f *fixture) {
				f.putToken(t, &domain.AuthToken{AccessToken: "revoked", ExpiresAt: testNow.Add(time.Hour).Unix()})
				f.portal.creds = nil
				f.portal.credsErr = domain.NewLoginRequiredError("GetRoleCredentials", 401, "UnauthorizedException")
			},
		},
	}

	for _, tt := range tests {
		t.Run("login required: "+tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f)

			_, err := f.resolver.Credentials(ctx, ssoConfig)
			require.Error(t, err)
			assert.True(t, domain.IsLoginRequired(err), "got %v", err)
			assert.Equal(t, tt.wantRefresh, f.oidc.refreshCalls)

			held, err := f.resolver.locker.IsHeld(ctx, lock.Keys.CredentialRefresh(ProviderID, roleID))
			require.NoError(t, err)
			assert.False(t, held, "lock released after failure")
		})
	}

	t.Run("missing account or role", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.resolver.Credentials(ctx, domain.UploadConfig{AuthMode: domain.AuthModeSSO})
		require.Error(t, err)
		assert.Equal(t, domain.KindConfig, domain.KindOf(err))
		assert.ErrorIs(t, err, domain.ErrSSOSettingsMissing)
	})
}

func TestResolver_ConcurrentRefreshFetchesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.putToken(t, &domain.AuthToken{AccessToken: "valid", ExpiresAt: testNow.Add(time.Hour).Unix()})
	f.portal.callDelay = 20 * time.Millisecond

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			creds, err := f.resolver.Credentials(ctx, ssoConfig)
			if err == nil && creds.AccessKeyID != "ASIAFRESH" {
				err = errors.New("unexpected credentials " + creds.AccessKeyID)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.portal.roleCalls)
}

func TestResolver_AccountsAndRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.putToken(t, &domain.AuthToken{AccessToken: "valid", ExpiresAt: testNow.Add(time.Hour).Unix()})
	f.portal.accounts = []domain.Account{{AccountID: "1"}, {AccountID: "2"}}
	f.portal.roles = []domain.Role{{AccountID: "1", RoleName: "Uploader"}}

	accounts, err := f.resolver.Accounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	roles, err := f.resolver.Roles(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Uploader", roles[0].RoleName)
	assert.Equal(t, "valid", f.portal.lastToken)
}

func TestResolver_Status(t *testing.T) {
	ctx := context.Background()

	t.Run("static", func(t *testing.T) {
		f := newFixture(t)
		st, err := f.resolver.Status(ctx, domain.UploadConfig{})
		require.NoError(t, err)
		assert.Equal(t, "static", st.AuthMode)
		assert.False(t, st.StaticConfigured)

		require.NoError(t, secretstore.SetFields(ctx, f.store, ProviderID, SecretStatic, map[string]string{
			FieldAccessKeyID:     "AKIAEXAMPLE",
			FieldSecretAccessKey: "secret",
		}))
		st, err = f.resolver.Status(ctx, domain.UploadConfig{})
		require.NoError(t, err)
		assert.True(t, st.StaticConfigured)
		assert.Equal(t, "AKIA*******", st.AccessKey)
	})

	t.Run("sso", func(t *testing.T) {
		f := newFixture(t)
		st, err := f.resolver.Reporter(ssoConfig).Status(ctx)
		require.NoError(t, err)
		assert.True(t, st.(*Status).LoginRequired)

		f.putClient(t)
		f.putToken(t, &domain.AuthToken{AccessToken: "old", RefreshToken: "rt", ExpiresAt: testNow.Add(-time.Minute).Unix()})

		status, err := f.resolver.Status(ctx, ssoConfig)
		require.NoError(t, err)
		assert.True(t, status.ClientRegistered)
		assert.False(t, status.TokenValid)
		assert.True(t, status.TokenRefreshable)
		assert.False(t, status.LoginRequired)
		require.NotNil(t, status.TokenExpiresAt)
		assert.Equal(t, testNow.Add(-time.Minute), *status.TokenExpiresAt)
		assert.Equal(t, "123456789012", status.AccountID)
	})
}
