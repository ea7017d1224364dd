package s3

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prn-tf/alexander-uplink/internal/auth"
	"github.com/prn-tf/alexander-uplink/internal/httpapi"
)

const serviceS3 = "s3"

// transportHeaders are signed but set by the transport rather than copied
// into the header map.
var transportHeaders = map[string]bool{
	auth.HeaderHost:          true,
	auth.HeaderContentType:   true,
	auth.HeaderContentLength: true,
}

// sendsContentLength reports whether net/http writes Content-Length for
// method even when the body is empty.
func sendsContentLength(method string) bool {
	return method == http.MethodPut || method == http.MethodPost || method == http.MethodPatch
}

// s3Request is one S3 call before signing.
type s3Request struct {
	Operation string
	Method    string
	Address   Address

	// Query holds sub-resources such as {"policy": {""}}.
	Query map[string][]string

	// Header holds extra headers to sign, e.g. x-amz-storage-class.
	Header map[string]string

	Body          io.Reader
	ContentLength int64
	ContentType   string
	PayloadHash   string
}

// sendSigned signs req and sends it. The signature covers every header that
// goes on the wire; nothing is added after signing.
func sendSigned(ctx context.Context, doer httpapi.Doer, signer *auth.Signer, creds auth.Credentials, now time.Time, req s3Request) (*httpapi.Response, *auth.Signature, error) {
	header := make(map[string]string, len(req.Header)+2)
	for name, value := range req.Header {
		header[name] = value
	}
	if req.ContentType != "" {
		header[auth.HeaderContentType] = req.ContentType
	}
	if req.ContentLength > 0 || sendsContentLength(req.Method) {
		header[auth.HeaderContentLength] = strconv.FormatInt(req.ContentLength, 10)
	}

	sig, err := signer.SignAt(auth.SigningInput{
		Method:      req.Method,
		Host:        req.Address.Host,
		Path:        req.Address.Path,
		Query:       req.Query,
		Header:      header,
		PayloadHash: req.PayloadHash,
	}, creds, now)
	if err != nil {
		return nil, nil, err
	}

	wire := make(http.Header, len(sig.Headers))
	for name, value := range sig.Headers {
		if transportHeaders[name] {
			continue
		}
		wire[http.CanonicalHeaderKey(name)] = []string{value}
	}
	wire.Set("Authorization", sig.Authorization)

	url := req.Address.URL()
	if qs := auth.CanonicalQueryString(req.Query); qs != "" {
		url += "?" + qs
	}

	resp, err := doer.Do(ctx, &httpapi.Request{
		Service:       serviceS3,
		Operation:     req.Operation,
		Method:        req.Method,
		URL:           url,
		Header:        wire,
		Host:          req.Address.Host,
		Body:          req.Body,
		ContentLength: req.ContentLength,
		ContentType:   req.ContentType,
	})
	if err != nil {
		return nil, sig, err
	}
	return resp, sig, nil
}
