// Package httpapi issues single HTTP requests for the S3 and SSO clients.
// Callers get the status, headers and body of any response and decide for
// themselves which statuses are failures.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uplink/internal/metrics"
)

const (
	// DefaultTimeout bounds a whole request including the body transfer.
	DefaultTimeout = 60 * time.Second

	// DefaultUserAgent is sent when no user agent is configured.
	DefaultUserAgent = "alexander-uplink"

	// maxResponseBody caps how much of a response body is kept in memory.
	maxResponseBody = 10 << 20

	// HeaderInvocationID carries a per-request id for server-side tracing.
	HeaderInvocationID = "Amz-Sdk-Invocation-Id"
)

// Request describes one outgoing request.
type Request struct {
	// Service and Operation label logs and metrics, e.g. "s3"/"PutObject".
	Service   string
	Operation string

	Method string
	URL    string
	Header http.Header

	// Host overrides the Host header derived from URL.
	Host string

	Body io.Reader

	// ContentLength is the body size. Zero sends no body at all; negative
	// means unknown and the body is sent chunked.
	ContentLength int64

	ContentType string
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Doer sends a request. Any HTTP status yields a Response; an error means no
// usable response was received.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(ctx context.Context, req *Request) (*Response, error)

// Do implements Doer.
func (f DoerFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Config contains configuration for the client.
type Config struct {
	Timeout   time.Duration
	UserAgent string

	// Transport overrides http.DefaultTransport.
	Transport http.RoundTripper

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Client implements Doer over net/http.
type Client struct {
	http      *http.Client
	userAgent string
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

var _ Doer = (*Client)(nil)

// NewClient creates a new Client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: cfg.Transport,
			// S3 answers 301 for wrong-region buckets and callers need to see it.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: userAgent,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With().Str("component", "httpapi").Logger(),
	}
}

// Do sends req and reads the whole response body.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	body := req.Body
	if body == nil || req.ContentLength == 0 {
		body = http.NoBody
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", req.Operation, err)
	}

	for name, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(name, value)
		}
	}
	if req.Host != "" {
		httpReq.Host = req.Host
	}
	if req.ContentLength > 0 {
		httpReq.ContentLength = req.ContentLength
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)

	invocationID := uuid.NewString()
	httpReq.Header.Set(HeaderInvocationID, invocationID)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.ObserveHTTP(req.Service, req.Operation, 0, time.Since(start))
		c.logger.Debug().Err(err).
			Str("operation", req.Operation).
			Str("invocation_id", invocationID).
			Msg("request failed")
		return nil, fmt.Errorf("%s: %w", req.Operation, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	elapsed := time.Since(start)
	c.metrics.ObserveHTTP(req.Service, req.Operation, resp.StatusCode, elapsed)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", req.Operation, err)
	}

	c.logger.Debug().
		Str("service", req.Service).
		Str("operation", req.Operation).
		Str("method", req.Method).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Str("invocation_id", invocationID).
		Msg("request completed")

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// NewJSONRequest builds a POST request with payload encoded as JSON.
func NewJSONRequest(service, operation, url, contentType string, header http.Header, payload any) (*Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode request: %w", operation, err)
	}
	if header == nil {
		header = make(http.Header)
	}
	return &Request{
		Service:       service,
		Operation:     operation,
		Method:        http.MethodPost,
		URL:           url,
		Header:        header,
		Body:          bytes.NewReader(data),
		ContentLength: int64(len(data)),
		ContentType:   contentType,
	}, nil
}
