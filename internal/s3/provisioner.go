package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uplink/internal/auth"
	"github.com/prn-tf/alexander-uplink/internal/domain"
	"github.com/prn-tf/alexander-uplink/internal/httpapi"
	"github.com/prn-tf/alexander-uplink/internal/metrics"
	"github.com/prn-tf/alexander-uplink/internal/pkg/crypto"
)

// ProvisionState is a state of the bucket provisioning machine.
type ProvisionState string

const (
	StateUnknown     ProvisionState = "unknown"
	StateChecking    ProvisionState = "checking"
	StateExists      ProvisionState = "exists"
	StateNotFound    ProvisionState = "not_found"
	StateForbidden   ProvisionState = "forbidden"
	StateWrongRegion ProvisionState = "wrong_region"
	StateProvisioned ProvisionState = "provisioned"
	StateFailed      ProvisionState = "failed"
)

const (
	// DefaultRecheckAttempts bounds the HEAD re-checks after a 409 on create.
	DefaultRecheckAttempts = 3

	// DefaultRecheckBackoff is the base delay between re-checks. The n-th
	// re-check waits n times this value.
	DefaultRecheckBackoff = time.Second

	s3Namespace = "http://s3.amazonaws.com/doc/2006-03-01/"
)

// ProvisionerConfig contains configuration for the provisioner.
type ProvisionerConfig struct {
	Doer    httpapi.Doer
	Metrics *metrics.Metrics
	Logger  zerolog.Logger

	RecheckAttempts int
	RecheckBackoff  time.Duration

	// Now is the signing clock.
	Now func() time.Time

	// Sleep waits between re-checks. It returns early with ctx.Err() when
	// ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Provisioner makes sure a bucket exists and is publicly readable.
type Provisioner struct {
	doer            httpapi.Doer
	metrics         *metrics.Metrics
	recheckAttempts int
	recheckBackoff  time.Duration
	now             func() time.Time
	sleep           func(ctx context.Context, d time.Duration) error
	logger          zerolog.Logger
}

// NewProvisioner creates a new Provisioner.
func NewProvisioner(cfg ProvisionerConfig) *Provisioner {
	p := &Provisioner{
		doer:            cfg.Doer,
		metrics:         cfg.Metrics,
		recheckAttempts: cfg.RecheckAttempts,
		recheckBackoff:  cfg.RecheckBackoff,
		now:             cfg.Now,
		sleep:           cfg.Sleep,
		logger:          cfg.Logger.With().Str("component", "provisioner").Logger(),
	}
	if p.recheckAttempts <= 0 {
		p.recheckAttempts = DefaultRecheckAttempts
	}
	if p.recheckBackoff <= 0 {
		p.recheckBackoff = DefaultRecheckBackoff
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	return p
}

// EnsureBucketInput describes the bucket to provision.
type EnsureBucketInput struct {
	Name     string
	Endpoint string

	// Region is inferred from Endpoint when empty.
	Region    string
	PathStyle bool

	ApplyPublicPolicy bool
	Credentials       auth.Credentials
}

// ProvisionResult reports where the state machine stopped.
type ProvisionResult struct {
	Success bool
	State   ProvisionState
	Message string

	// Created is true when this call created the bucket.
	Created bool

	// StatusCode is the status of the last response, when there was one.
	StatusCode int
}

// bucketTarget is the resolved addressing for one EnsureBucket call.
type bucketTarget struct {
	name   string
	region string
	addr   Address
	signer *auth.Signer
	creds  auth.Credentials
}

// EnsureBucket walks the provisioning states: check existence, create when
// missing, open the public access block and optionally attach a public read
// policy. Remote refusals end in a failed result. The returned error is
// reserved for invalid input and transport failures.
func (p *Provisioner) EnsureBucket(ctx context.Context, in EnsureBucketInput) (*ProvisionResult, error) {
	if err := domain.ValidateBucketName(in.Name); err != nil {
		return nil, domain.NewConfigError("s3.bucket", err)
	}
	if in.Endpoint == "" {
		return nil, domain.NewConfigError("s3.endpoint", domain.ErrEndpointMissing)
	}
	if err := in.Credentials.Validate(); err != nil {
		return nil, domain.NewConfigError("credentials", err)
	}

	region := ResolveRegion(in.Region, in.Endpoint)
	endpoint := endpointWithScheme(in.Endpoint, region)
	pathStyle := in.PathStyle || domain.RequiresPathStyle(in.Name)

	t := bucketTarget{
		name:   in.Name,
		region: region,
		addr:   BucketAddress(endpoint, in.Name, pathStyle),
		signer: auth.NewSigner(region),
		creds:  in.Credentials,
	}
	log := p.logger.With().Str("bucket", in.Name).Str("region", region).Logger()

	result, err := p.run(ctx, t, in.ApplyPublicPolicy, log)
	if err != nil {
		p.metrics.RecordProvision(string(StateFailed))
		return nil, err
	}
	p.metrics.RecordProvision(string(result.State))
	if result.Success {
		log.Info().Bool("created", result.Created).Msg("bucket provisioned")
	} else {
		log.Warn().Str("state", string(result.State)).Int("status", result.StatusCode).Msg(result.Message)
	}
	return result, nil
}

func (p *Provisioner) run(ctx context.Context, t bucketTarget, applyPolicy bool, log zerolog.Logger) (*ProvisionResult, error) {
	log.Debug().Str("state", string(StateChecking)).Msg("checking bucket")

	state, resp, err := p.head(ctx, t)
	if err != nil {
		return nil, err
	}

	created := false
	switch state {
	case StateExists:
	case StateNotFound:
		result, err := p.create(ctx, t, log)
		if err != nil || result != nil {
			return result, err
		}
		created = true
	default:
		return headFailure(state, t, resp), nil
	}

	if resp, err := p.putPublicAccessBlock(ctx, t); err != nil {
		return nil, err
	} else if !resp.IsSuccess() {
		return failed(resp, created, "failed to update public access block"), nil
	}

	if applyPolicy {
		resp, err := p.putPublicPolicy(ctx, t)
		if err != nil {
			return nil, err
		}
		if !resp.IsSuccess() {
			return failed(resp, created, "failed to apply public read policy"), nil
		}
	}

	message := "bucket ready"
	if created {
		message = "bucket created"
	}
	return &ProvisionResult{Success: true, State: StateProvisioned, Message: message, Created: created}, nil
}

// head classifies the bucket by a HEAD request.
func (p *Provisioner) head(ctx context.Context, t bucketTarget) (ProvisionState, *httpapi.Response, error) {
	resp, _, err := sendSigned(ctx, p.doer, t.signer, t.creds, p.now(), s3Request{
		Operation:   "HeadBucket",
		Method:      http.MethodHead,
		Address:     t.addr,
		PayloadHash: auth.UnsignedPayload,
	})
	if err != nil {
		return StateUnknown, nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return StateExists, resp, nil
	case http.StatusNotFound:
		return StateNotFound, resp, nil
	case http.StatusForbidden:
		return StateForbidden, resp, nil
	case http.StatusMovedPermanently:
		return StateWrongRegion, resp, nil
	default:
		return StateUnknown, resp, nil
	}
}

type createBucketConfiguration struct {
	XMLName            xml.Name `xml:"CreateBucketConfiguration"`
	Xmlns              string   `xml:"xmlns,attr"`
	LocationConstraint string   `xml:"LocationConstraint"`
}

// create sends CreateBucket. It returns a nil result when the bucket now
// exists and provisioning should continue.
func (p *Provisioner) create(ctx context.Context, t bucketTarget, log zerolog.Logger) (*ProvisionResult, error) {
	req := s3Request{
		Operation:   "CreateBucket",
		Method:      http.MethodPut,
		Address:     t.addr,
		PayloadHash: auth.UnsignedPayload,
	}
	if t.region != auth.DefaultRegion {
		body, err := xml.Marshal(createBucketConfiguration{Xmlns: s3Namespace, LocationConstraint: t.region})
		if err != nil {
			return nil, fmt.Errorf("failed to encode bucket configuration: %w", err)
		}
		req.Body = bytes.NewReader(body)
		req.ContentLength = int64(len(body))
		req.ContentType = "application/xml"
	}

	resp, _, err := sendSigned(ctx, p.doer, t.signer, t.creds, p.now(), req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.IsSuccess():
		log.Info().Msg("bucket created")
		return nil, nil
	case resp.StatusCode == http.StatusConflict:
		return p.recheck(ctx, t, resp, log)
	default:
		return failed(resp, false, "failed to create bucket"), nil
	}
}

// recheck resolves a 409 on create. Another creator may have won the race
// or the bucket may still be propagating, so HEAD is retried with a linear
// backoff a bounded number of times.
func (p *Provisioner) recheck(ctx context.Context, t bucketTarget, conflict *httpapi.Response, log zerolog.Logger) (*ProvisionResult, error) {
	code := errorCode(conflict.Body)
	log.Debug().Str("code", code).Msg("bucket create conflicted, re-checking")

	for attempt := 1; attempt <= p.recheckAttempts; attempt++ {
		state, resp, err := p.head(ctx, t)
		if err != nil {
			return nil, err
		}
		switch state {
		case StateExists:
			return nil, nil
		case StateForbidden, StateWrongRegion:
			return headFailure(state, t, resp), nil
		}

		if attempt < p.recheckAttempts {
			if err := p.sleep(ctx, time.Duration(attempt)*p.recheckBackoff); err != nil {
				return nil, err
			}
		}
	}

	return &ProvisionResult{
		State:      StateFailed,
		StatusCode: conflict.StatusCode,
		Message:    fmt.Sprintf("bucket create conflicted (%s) and the bucket did not become visible after %d checks", code, p.recheckAttempts),
	}, nil
}

type publicAccessBlockConfiguration struct {
	XMLName               xml.Name `xml:"PublicAccessBlockConfiguration"`
	Xmlns                 string   `xml:"xmlns,attr"`
	BlockPublicAcls       bool     `xml:"BlockPublicAcls"`
	IgnorePublicAcls      bool     `xml:"IgnorePublicAcls"`
	BlockPublicPolicy     bool     `xml:"BlockPublicPolicy"`
	RestrictPublicBuckets bool     `xml:"RestrictPublicBuckets"`
}

// putPublicAccessBlock turns off all four public access blocks.
func (p *Provisioner) putPublicAccessBlock(ctx context.Context, t bucketTarget) (*httpapi.Response, error) {
	body, err := xml.Marshal(publicAccessBlockConfiguration{Xmlns: s3Namespace})
	if err != nil {
		return nil, fmt.Errorf("failed to encode public access block: %w", err)
	}

	resp, _, err := sendSigned(ctx, p.doer, t.signer, t.creds, p.now(), s3Request{
		Operation:     "PutPublicAccessBlock",
		Method:        http.MethodPut,
		Address:       t.addr,
		Query:         map[string][]string{"publicAccessBlock": {""}},
		Header:        map[string]string{auth.HeaderContentMD5: crypto.ComputeMD5Base64(body)},
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
		ContentType:   "application/xml",
		PayloadHash:   auth.UnsignedPayload,
	})
	return resp, err
}

type policyStatement struct {
	Sid       string `json:"Sid"`
	Effect    string `json:"Effect"`
	Principal string `json:"Principal"`
	Action    string `json:"Action"`
	Resource  string `json:"Resource"`
}

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

// PublicReadPolicy returns the policy document granting anonymous
// s3:GetObject on every object of bucket.
func PublicReadPolicy(bucket string) ([]byte, error) {
	return json.Marshal(bucketPolicy{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Sid:       "PublicReadGetObject",
			Effect:    "Allow",
			Principal: "*",
			Action:    "s3:GetObject",
			Resource:  "arn:aws:s3:::" + bucket + "/*",
		}},
	})
}

func (p *Provisioner) putPublicPolicy(ctx context.Context, t bucketTarget) (*httpapi.Response, error) {
	body, err := PublicReadPolicy(t.name)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bucket policy: %w", err)
	}

	resp, _, err := sendSigned(ctx, p.doer, t.signer, t.creds, p.now(), s3Request{
		Operation:     "PutBucketPolicy",
		Method:        http.MethodPut,
		Address:       t.addr,
		Query:         map[string][]string{"policy": {""}},
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
		ContentType:   "application/json",
		PayloadHash:   auth.UnsignedPayload,
	})
	return resp, err
}

func headFailure(state ProvisionState, t bucketTarget, resp *httpapi.Response) *ProvisionResult {
	result := &ProvisionResult{State: state, StatusCode: resp.StatusCode}
	switch state {
	case StateForbidden:
		result.Message = fmt.Sprintf("access to bucket %q is forbidden; it may belong to another account", t.name)
	case StateWrongRegion:
		actual := resp.Header.Get("X-Amz-Bucket-Region")
		if actual == "" {
			actual = "another region"
		}
		result.Message = fmt.Sprintf("bucket %q exists in %s, not %s", t.name, actual, t.region)
	default:
		result.State = StateFailed
		result.Message = fmt.Sprintf("unexpected status checking bucket: %d %s", resp.StatusCode, string(resp.Body))
	}
	return result
}

func failed(resp *httpapi.Response, created bool, message string) *ProvisionResult {
	msg := message
	if code := errorCode(resp.Body); code != "" {
		msg = fmt.Sprintf("%s: %s", message, code)
	}
	return &ProvisionResult{
		State:      StateFailed,
		Message:    fmt.Sprintf("%s (status %d): %s", msg, resp.StatusCode, string(resp.Body)),
		Created:    created,
		StatusCode: resp.StatusCode,
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
