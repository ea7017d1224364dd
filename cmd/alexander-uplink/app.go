package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uplink/internal/config"
	"github.com/prn-tf/alexander-uplink/internal/domain"
	"github.com/prn-tf/alexander-uplink/internal/httpapi"
	"github.com/prn-tf/alexander-uplink/internal/lock"
	"github.com/prn-tf/alexander-uplink/internal/metrics"
	"github.com/prn-tf/alexander-uplink/internal/s3"
	"github.com/prn-tf/alexander-uplink/internal/secretstore"
	"github.com/prn-tf/alexander-uplink/internal/session"
	"github.com/prn-tf/alexander-uplink/internal/sso"
)

// app holds the configuration and the lazily built components shared by
// subcommands.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger zerolog.Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	doer     *httpapi.Client
	store    secretstore.Store
	locker   lock.Locker
	resolver *session.Resolver

	closers []func() error
}

func (a *app) setupMetrics() {
	a.registry = prometheus.NewRegistry()
	if !a.cfg.Metrics.Enabled {
		return
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) httpDoer() *httpapi.Client {
	if a.doer == nil {
		a.doer = httpapi.NewClient(httpapi.Config{
			Timeout:   a.cfg.HTTP.Timeout,
			UserAgent: fmt.Sprintf("%s/%s", a.cfg.HTTP.UserAgent, Version),
			Metrics:   a.metrics,
			Logger:    a.logger,
		})
	}
	return a.doer
}

func (a *app) secretStore(ctx context.Context) (secretstore.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := secretstore.Open(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *app) refreshLocker(ctx context.Context) (lock.Locker, error) {
	if a.locker != nil {
		return a.locker, nil
	}
	switch a.cfg.Lock.Backend {
	case "redis":
		client := redis.NewClient(secretstore.RedisOptions(a.cfg.Redis))
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis for locking: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.locker = lock.NewRedisLocker(client)
	case "none":
		a.locker = lock.NewNoOpLocker()
	default:
		a.locker = lock.NewMemoryLocker()
	}
	return a.locker, nil
}

// session returns the credential resolver, building its store, locker and
// SSO clients on first use.
func (a *app) session(ctx context.Context) (*session.Resolver, error) {
	if a.resolver != nil {
		return a.resolver, nil
	}
	store, err := a.secretStore(ctx)
	if err != nil {
		return nil, err
	}
	locker, err := a.refreshLocker(ctx)
	if err != nil {
		return nil, err
	}

	region := a.cfg.UploadConfig().SSO.Region
	doer := a.httpDoer()
	a.resolver = session.NewResolver(session.Config{
		Store: store,
		OIDC: sso.NewOIDCClient(sso.OIDCConfig{
			Region:   region,
			Endpoint: a.cfg.SSO.OIDCEndpoint,
			Doer:     doer,
			Logger:   a.logger,
		}),
		Portal: sso.NewPortalClient(sso.PortalConfig{
			Region:   region,
			Endpoint: a.cfg.SSO.PortalEndpoint,
			MaxPages: a.cfg.SSO.MaxPages,
			Doer:     doer,
			Logger:   a.logger,
		}),
		Locker:         locker,
		Metrics:        a.metrics,
		Logger:         a.logger,
		ClientName:     a.cfg.SSO.ClientName,
		CredentialSkew: a.cfg.SSO.CredentialSkew,
		LockTTL:        a.cfg.Lock.TTL,
		LockRetry:      a.cfg.Lock.RetryInterval,
		LockWait:       a.cfg.Lock.WaitTimeout,
	})
	return a.resolver, nil
}

// requireSSO fails unless the SSO endpoints can be derived.
func (a *app) requireSSO() error {
	if a.cfg.UploadConfig().SSO.Region != "" {
		return nil
	}
	if a.cfg.SSO.OIDCEndpoint != "" && a.cfg.SSO.PortalEndpoint != "" {
		return nil
	}
	return domain.NewConfigError("sso.region", errors.New("sso region is required"))
}

func (a *app) uploader() *s3.Uploader {
	return s3.NewUploader(s3.UploaderConfig{
		Doer:    a.httpDoer(),
		Metrics: a.metrics,
		Logger:  a.logger,
	})
}

func (a *app) provisioner() *s3.Provisioner {
	return s3.NewProvisioner(s3.ProvisionerConfig{
		Doer:            a.httpDoer(),
		Metrics:         a.metrics,
		Logger:          a.logger,
		RecheckAttempts: a.cfg.Provision.RecheckAttempts,
		RecheckBackoff:  a.cfg.Provision.RecheckBackoff,
	})
}
