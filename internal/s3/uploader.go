package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uplink/internal/auth"
	"github.com/prn-tf/alexander-uplink/internal/domain"
	"github.com/prn-tf/alexander-uplink/internal/httpapi"
	"github.com/prn-tf/alexander-uplink/internal/metrics"
)

// ACLPublicRead is the canned ACL sent when PublicACL is set.
const ACLPublicRead = "public-read"

// UploaderConfig contains configuration for the uploader.
type UploaderConfig struct {
	Doer     httpapi.Doer
	Prefixes PrefixResolver
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger

	// Now is the signing clock.
	Now func() time.Time
}

// Uploader performs single-request object uploads.
type Uploader struct {
	doer     httpapi.Doer
	prefixes PrefixResolver
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   zerolog.Logger
}

// NewUploader creates a new Uploader.
func NewUploader(cfg UploaderConfig) *Uploader {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	prefixes := cfg.Prefixes
	if prefixes == nil {
		prefixes = TimePrefixResolver{Now: now}
	}
	return &Uploader{
		doer:     cfg.Doer,
		prefixes: prefixes,
		metrics:  cfg.Metrics,
		now:      now,
		logger:   cfg.Logger.With().Str("component", "uploader").Logger(),
	}
}

// UploadInput describes one upload. Exactly one of Body and Data is used;
// Body wins when both are set.
type UploadInput struct {
	// Body is read twice when the payload is signed: once to hash and once
	// to send. It is rewound to its starting position in between.
	Body io.ReadSeeker
	Data []byte

	FileName    string
	Config      domain.UploadConfig
	Credentials auth.Credentials

	// OnEarlyURL, if set, receives the final URL before the request is sent.
	OnEarlyURL func(url string)
}

// UploadResult reports the outcome of an upload attempt.
type UploadResult struct {
	Success bool
	URL     string
	Key     string

	StatusCode int
	Body       string

	// Err describes a rejected upload. It is nil on success.
	Err error
}

// Upload PUTs the object. A non-2xx answer is reported in the result; the
// returned error is reserved for invalid input and transport failures.
func (u *Uploader) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	const op = "PutObject"

	cfg := in.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if in.FileName == "" {
		return nil, domain.NewConfigError("file", domain.ErrFileNameMissing)
	}
	if err := in.Credentials.Validate(); err != nil {
		return nil, domain.NewConfigError("credentials", err)
	}

	body := in.Body
	if body == nil {
		if in.Data == nil {
			return nil, domain.NewConfigError("file", domain.ErrBodyMissing)
		}
		body = bytes.NewReader(in.Data)
	}

	payloadHash, size, err := auth.StreamPayloadHash(body, cfg.SignedPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to hash upload body: %w", err)
	}

	prefix, err := u.prefixes.Resolve(cfg.ObjectPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve object prefix: %w", err)
	}
	key := ObjectKey(prefix, in.FileName, cfg)

	region := ResolveRegion(cfg.Region, cfg.EndpointHost)
	endpoint := endpointWithScheme(cfg.EndpointHost, region)
	addr := ObjectAddress(endpoint, cfg.BucketName, key, cfg.UsePathStyle())
	publicURL := PublicURL(addr, cfg.CustomDomain, key)

	if in.OnEarlyURL != nil {
		in.OnEarlyURL(publicURL)
	}

	header := map[string]string{}
	storageClass := cfg.StorageClass
	if storageClass == "" {
		storageClass = domain.StorageClassStandard
	}
	header[auth.HeaderXAmzStorageClass] = string(storageClass)
	if cfg.PublicACL {
		header[auth.HeaderXAmzACL] = ACLPublicRead
	}

	signer := auth.NewSigner(region)
	resp, sig, err := sendSigned(ctx, u.doer, signer, in.Credentials, u.now(), s3Request{
		Operation:     op,
		Method:        http.MethodPut,
		Address:       addr,
		Header:        header,
		Body:          body,
		ContentLength: size,
		ContentType:   ContentType(in.FileName),
		PayloadHash:   payloadHash,
	})
	if err != nil {
		u.metrics.RecordUpload(metrics.ResultFailure)
		return nil, err
	}

	result := &UploadResult{
		URL:        publicURL,
		Key:        key,
		StatusCode: resp.StatusCode,
		Body:       string(resp.Body),
		Success:    resp.IsSuccess(),
	}

	log := u.logger.With().
		Str("bucket", cfg.BucketName).
		Str("key", key).
		Str("region", region).
		Str("access_key", in.Credentials.MaskedAccessKey()).
		Int64("size", size).
		Int("status", resp.StatusCode).
		Logger()

	if !result.Success {
		apiErr := remoteError(op, resp)
		if apiErr.Code == codeSignatureDoesNotMatch {
			log.Debug().Str("canonical_request", sig.Canonical.String()).Msg("signature rejected")
		}
		result.Err = apiErr
		u.metrics.RecordUpload(metrics.ResultFailure)
		log.Warn().Msg("upload rejected")
		return result, nil
	}

	u.metrics.RecordUpload(metrics.ResultSuccess)
	log.Info().Str("url", publicURL).Msg("object uploaded")
	return result, nil
}

// endpointWithScheme keeps an explicit scheme on endpoint and swaps the
// global host for the regional one.
func endpointWithScheme(endpoint, region string) string {
	return schemeOf(endpoint) + "://" + ResolveEndpointHost(endpoint, region)
}
