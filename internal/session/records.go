package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prn-tf/alexander-uplink/internal/domain"
	"github.com/prn-tf/alexander-uplink/internal/secretstore"
)

// ProviderID is the secret store provider for every record written here.
const ProviderID = "amazon-s3"

// Secret ids.
const (
	SecretStatic    = "static"
	SecretSSOToken  = "sso-token"
	SecretSSOClient = "sso-client"
)

// Field names of the static secret, written by the user one at a time.
const (
	FieldAccessKeyID     = "access_key_id"
	FieldSecretAccessKey = "secret_access_key"
	FieldSessionToken    = "session_token"
)

// FieldRecord holds a whole token, client or role record as JSON. Each
// record is one Set, so readers never see fields of two different writes.
const FieldRecord = "record"

// RoleSecretID names the cached role credentials of one account and role.
func RoleSecretID(accountID, roleName string) string {
	return "role:" + accountID + ":" + roleName
}

type tokenRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
}

type clientRecord struct {
	ClientID              string `json:"client_id"`
	ClientSecret          string `json:"client_secret"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at"`
}

type roleRecord struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token,omitempty"`
	ExpiresAt       int64  `json:"expires_at"`
}

// loadRecord decodes the record stored under secretID into v and reports
// whether one was found.
func loadRecord(ctx context.Context, store secretstore.Store, secretID string, v any) (bool, error) {
	raw, ok, err := store.Get(ctx, ProviderID, secretID, FieldRecord)
	if err != nil || !ok || raw == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("stored %s record is malformed: %w", secretID, err)
	}
	return true, nil
}

// saveRecord overwrites the record stored under secretID in one write.
func saveRecord(ctx context.Context, store secretstore.Store, secretID string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", secretID, err)
	}
	return store.Set(ctx, ProviderID, secretID, FieldRecord, string(raw))
}

// loadToken returns nil when no token is stored.
func loadToken(ctx context.Context, store secretstore.Store) (*domain.AuthToken, error) {
	var rec tokenRecord
	found, err := loadRecord(ctx, store, SecretSSOToken, &rec)
	if err != nil || !found || rec.AccessToken == "" {
		return nil, err
	}
	return &domain.AuthToken{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}

// saveToken replaces the stored token. A token without a refresh token
// clears the previous one.
func saveToken(ctx context.Context, store secretstore.Store, token *domain.AuthToken) error {
	return saveRecord(ctx, store, SecretSSOToken, tokenRecord{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
	})
}

// loadClient returns nil when no registration is stored.
func loadClient(ctx context.Context, store secretstore.Store) (*domain.ClientRegistration, error) {
	var rec clientRecord
	found, err := loadRecord(ctx, store, SecretSSOClient, &rec)
	if err != nil || !found || rec.ClientID == "" {
		return nil, err
	}
	return &domain.ClientRegistration{
		ClientID:              rec.ClientID,
		ClientSecret:          rec.ClientSecret,
		ClientSecretExpiresAt: rec.ClientSecretExpiresAt,
	}, nil
}

func saveClient(ctx context.Context, store secretstore.Store, client *domain.ClientRegistration) error {
	return saveRecord(ctx, store, SecretSSOClient, clientRecord{
		ClientID:              client.ClientID,
		ClientSecret:          client.ClientSecret,
		ClientSecretExpiresAt: client.ClientSecretExpiresAt,
	})
}

// loadRole returns nil when no credentials are cached for secretID.
func loadRole(ctx context.Context, store secretstore.Store, secretID string) (*domain.RoleCredentials, error) {
	var rec roleRecord
	found, err := loadRecord(ctx, store, secretID, &rec)
	if err != nil || !found || rec.AccessKeyID == "" {
		return nil, err
	}
	return &domain.RoleCredentials{
		AccessKeyID:     rec.AccessKeyID,
		SecretAccessKey: rec.SecretAccessKey,
		SessionToken:    rec.SessionToken,
		ExpiresAt:       rec.ExpiresAt,
	}, nil
}

func saveRole(ctx context.Context, store secretstore.Store, secretID string, creds *domain.RoleCredentials) error {
	return saveRecord(ctx, store, secretID, roleRecord{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		ExpiresAt:       creds.ExpiresAt,
	})
}
