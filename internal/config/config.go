// Package config provides configuration management for alexander-uplink.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/prn-tf/alexander-uplink/internal/domain"
)

// Config represents the complete application configuration.
type Config struct {
	S3        S3Config        `mapstructure:"s3"`
	SSO       SSOConfig       `mapstructure:"sso"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Lock      LockConfig      `mapstructure:"lock"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Provision ProvisionConfig `mapstructure:"provision"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// S3Config holds the upload destination.
type S3Config struct {
	Endpoint      string `mapstructure:"endpoint"`
	Bucket        string `mapstructure:"bucket"`
	Region        string `mapstructure:"region"`
	PathStyle     bool   `mapstructure:"path_style"`
	SignedPayload bool   `mapstructure:"signed_payload"`
	StorageClass  string `mapstructure:"storage_class"`
	PublicACL     bool   `mapstructure:"public_acl"`
	CustomDomain  string `mapstructure:"custom_domain"`
	ObjectPrefix  string `mapstructure:"object_prefix"`

	RemoveExtensionImage bool `mapstructure:"remove_extension_image"`
	RemoveExtensionVideo bool `mapstructure:"remove_extension_video"`
	RemoveExtensionText  bool `mapstructure:"remove_extension_text"`

	// AuthMode is "static" or "sso".
	AuthMode string `mapstructure:"auth_mode"`
}

// SSOConfig holds AWS IAM Identity Center settings.
type SSOConfig struct {
	StartURL   string `mapstructure:"start_url"`
	Region     string `mapstructure:"region"`
	AccountID  string `mapstructure:"account_id"`
	RoleName   string `mapstructure:"role_name"`
	ClientName string `mapstructure:"client_name"`

	// OIDCEndpoint and PortalEndpoint override the regional endpoints.
	OIDCEndpoint   string `mapstructure:"oidc_endpoint"`
	PortalEndpoint string `mapstructure:"portal_endpoint"`

	// MaxPages bounds paginated portal listings.
	MaxPages int `mapstructure:"max_pages"`

	// CredentialSkew is subtracted from role credential expiry.
	CredentialSkew time.Duration `mapstructure:"credential_skew"`

	// LoginTimeout bounds the device-code poll loop.
	LoginTimeout time.Duration `mapstructure:"login_timeout"`
}

// SecretsConfig selects the secret store backend.
type SecretsConfig struct {
	// Backend is one of: memory, sqlite, postgres, redis, keyring.
	Backend string `mapstructure:"backend"`

	// EncryptionKey enables the AES-256-GCM wrapper. Either 64 hex
	// characters or a passphrase that is stretched with HKDF.
	EncryptionKey string `mapstructure:"encryption_key"`

	// KeyringService prefixes keyring service names.
	KeyringService string `mapstructure:"keyring_service"`

	// RedisPrefix prefixes redis keys.
	RedisPrefix string `mapstructure:"redis_prefix"`

	// CacheTTL keeps reads in process memory for this long. Zero disables
	// the cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// DatabaseConfig holds SQL connection settings for the sqlite and postgres
// secret stores.
type DatabaseConfig struct {
	// PostgreSQL settings
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// SQLite settings
	Path        string `mapstructure:"path"`         // Path to SQLite database file
	JournalMode string `mapstructure:"journal_mode"` // WAL, DELETE, TRUNCATE, etc.
	BusyTimeout int    `mapstructure:"busy_timeout"` // Milliseconds to wait for locks
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LockConfig selects how credential refreshes are serialised.
type LockConfig struct {
	// Backend is one of: memory, redis, none.
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	WaitTimeout   time.Duration `mapstructure:"wait_timeout"`
}

// HTTPConfig holds outgoing HTTP client settings.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// ProvisionConfig bounds the re-check after a 409 on bucket creation.
type ProvisionConfig struct {
	RecheckAttempts int           `mapstructure:"recheck_attempts"`
	RecheckBackoff  time.Duration `mapstructure:"recheck_backoff"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled determines if metrics collection is active.
	Enabled bool `mapstructure:"enabled"`

	// Host and Port are the listen address of the serve command.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// Path is the URL path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// Addr returns the listen address in host:port format.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UploadConfig converts the s3 and sso sections into the domain form.
func (c *Config) UploadConfig() domain.UploadConfig {
	ssoRegion := c.SSO.Region
	if ssoRegion == "" {
		ssoRegion = c.S3.Region
	}
	return domain.UploadConfig{
		EndpointHost:         strings.TrimSpace(c.S3.Endpoint),
		BucketName:           strings.TrimSpace(c.S3.Bucket),
		Region:               strings.TrimSpace(c.S3.Region),
		PathStyle:            c.S3.PathStyle,
		SignedPayload:        c.S3.SignedPayload,
		StorageClass:         domain.StorageClass(strings.ToUpper(c.S3.StorageClass)),
		PublicACL:            c.S3.PublicACL,
		CustomDomain:         strings.TrimSpace(c.S3.CustomDomain),
		ObjectPrefix:         c.S3.ObjectPrefix,
		RemoveExtensionImage: c.S3.RemoveExtensionImage,
		RemoveExtensionVideo: c.S3.RemoveExtensionVideo,
		RemoveExtensionText:  c.S3.RemoveExtensionText,
		AuthMode:             domain.AuthMode(strings.ToLower(c.S3.AuthMode)),
		SSO: domain.SSOSettings{
			StartURL:  c.SSO.StartURL,
			Region:    ssoRegion,
			AccountID: c.SSO.AccountID,
			RoleName:  c.SSO.RoleName,
		},
	}
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with UPLINK_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("UPLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "alexander-uplink"))
		}
	}

	// Read config file (optional - environment variables can be used instead)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. Keys without a natural
// default are still registered so AutomaticEnv can populate them on Unmarshal.
func setDefaults(v *viper.Viper) {
	// S3 defaults
	v.SetDefault("s3.endpoint", "s3.amazonaws.com")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.path_style", false)
	v.SetDefault("s3.signed_payload", false)
	v.SetDefault("s3.storage_class", string(domain.StorageClassStandard))
	v.SetDefault("s3.public_acl", true)
	v.SetDefault("s3.custom_domain", "")
	v.SetDefault("s3.object_prefix", "%y/%mo/")
	v.SetDefault("s3.remove_extension_image", false)
	v.SetDefault("s3.remove_extension_video", false)
	v.SetDefault("s3.remove_extension_text", false)
	v.SetDefault("s3.auth_mode", string(domain.AuthModeStatic))

	// SSO defaults
	v.SetDefault("sso.start_url", "")
	v.SetDefault("sso.region", "")
	v.SetDefault("sso.account_id", "")
	v.SetDefault("sso.role_name", "")
	v.SetDefault("sso.client_name", "alexander-uplink")
	v.SetDefault("sso.oidc_endpoint", "")
	v.SetDefault("sso.portal_endpoint", "")
	v.SetDefault("sso.max_pages", 100)
	v.SetDefault("sso.credential_skew", 1*time.Minute)
	v.SetDefault("sso.login_timeout", 10*time.Minute)

	// Secret store defaults
	v.SetDefault("secrets.backend", "keyring")
	v.SetDefault("secrets.encryption_key", "")
	v.SetDefault("secrets.keyring_service", "alexander-uplink")
	v.SetDefault("secrets.redis_prefix", "uplink:secret")
	v.SetDefault("secrets.cache_ttl", time.Duration(0))

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "uplink")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "uplink")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.path", "./data/uplink.db")
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.busy_timeout", 5000)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	// Lock defaults
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.retry_interval", 100*time.Millisecond)
	v.SetDefault("lock.wait_timeout", 30*time.Second)

	// HTTP defaults
	v.SetDefault("http.timeout", 60*time.Second)
	v.SetDefault("http.user_agent", "alexander-uplink")

	// Provisioning defaults
	v.SetDefault("provision.recheck_attempts", 3)
	v.SetDefault("provision.recheck_backoff", 1*time.Second)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.host", "127.0.0.1")
	v.SetDefault("metrics.port", 9091)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for required values and valid ranges.
// Destination fields (bucket, endpoint) are validated per command, since
// login and secrets commands do not need them.
func (c *Config) Validate() error {
	validModes := map[string]bool{"": true, string(domain.AuthModeStatic): true, string(domain.AuthModeSSO): true}
	if !validModes[strings.ToLower(c.S3.AuthMode)] {
		return fmt.Errorf("s3.auth_mode must be 'static' or 'sso'")
	}

	if c.S3.StorageClass != "" && !domain.StorageClass(strings.ToUpper(c.S3.StorageClass)).IsValid() {
		return fmt.Errorf("s3.storage_class %q is not a valid storage class", c.S3.StorageClass)
	}

	validBackends := map[string]bool{"memory": true, "sqlite": true, "postgres": true, "redis": true, "keyring": true}
	if !validBackends[c.Secrets.Backend] {
		return fmt.Errorf("secrets.backend must be one of: memory, sqlite, postgres, redis, keyring")
	}

	switch c.Secrets.Backend {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite secret store")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for postgres secret store")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required for postgres secret store")
		}
	}

	if c.Secrets.CacheTTL < 0 {
		return fmt.Errorf("secrets.cache_ttl must not be negative")
	}

	validLocks := map[string]bool{"memory": true, "redis": true, "none": true}
	if !validLocks[c.Lock.Backend] {
		return fmt.Errorf("lock.backend must be one of: memory, redis, none")
	}

	if c.SSO.MaxPages < 1 {
		return fmt.Errorf("sso.max_pages must be at least 1")
	}

	if c.Provision.RecheckAttempts < 1 {
		return fmt.Errorf("provision.recheck_attempts must be at least 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
// Useful for main function initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
