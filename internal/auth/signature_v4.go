package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// Signer
// =============================================================================

// Signer computes SigV4 signatures. It performs no I/O and is safe for
// concurrent use.
type Signer struct {
	region  string
	service string
	now     func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithClock overrides the signing clock.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		s.now = now
	}
}

// WithService overrides the service name in the credential scope.
func WithService(service string) SignerOption {
	return func(s *Signer) {
		s.service = service
	}
}

// NewSigner creates a Signer for region. An empty region means DefaultRegion.
func NewSigner(region string, opts ...SignerOption) *Signer {
	if region == "" {
		region = DefaultRegion
	}
	s := &Signer{
		region:  region,
		service: ServiceS3,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Region returns the signing region.
func (s *Signer) Region() string {
	return s.region
}

// Sign signs in with creds at the signer's current time.
func (s *Signer) Sign(in SigningInput, creds Credentials) (*Signature, error) {
	return s.SignAt(in, creds, s.now())
}

// SignAt signs in with creds at t. The result is deterministic for a fixed
// input and time.
func (s *Signer) SignAt(in SigningInput, creds Credentials, t time.Time) (*Signature, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if in.Method == "" {
		return nil, fmt.Errorf("%w: method is required", ErrInvalidSigningInput)
	}
	if in.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidSigningInput)
	}

	t = t.UTC()
	payloadHash := in.PayloadHash
	if payloadHash == "" {
		payloadHash = UnsignedPayload
	}

	headers := NormalizeHeaders(in.Header)
	headers[HeaderHost] = in.Host
	headers[HeaderXAmzDate] = t.Format(ISO8601BasicFormat)
	headers[HeaderXAmzContentSHA256] = payloadHash
	if creds.SessionToken != "" {
		headers[HeaderXAmzSecurityToken] = creds.SessionToken
	}

	signedHeaders := SignedHeaderNames(headers)
	canonical := CanonicalRequest{
		Method:        strings.ToUpper(in.Method),
		URI:           CanonicalURI(in.Path),
		QueryString:   CanonicalQueryString(in.Query),
		Headers:       CanonicalHeaders(headers),
		SignedHeaders: strings.Join(signedHeaders, ";"),
		PayloadHash:   payloadHash,
	}

	scope := CredentialScope{Date: t, Region: s.region, Service: s.service}
	stringToSign := GetStringToSign(canonical.String(), t, scope)
	signature := GetSignature(GetSigningKey(creds.SecretAccessKey, t, s.region, s.service), stringToSign)

	return &Signature{
		Authorization: BuildAuthorization(CredentialHeader{AccessKey: creds.AccessKeyID, Scope: scope}, signedHeaders, signature),
		Headers:       headers,
		SignedHeaders: signedHeaders,
		Canonical:     canonical,
		StringToSign:  stringToSign,
		Value:         signature,
		Time:          t,
	}, nil
}

// BuildAuthorization formats the Authorization header value.
func BuildAuthorization(credential CredentialHeader, signedHeaders []string, signature string) string {
	return SignV4Algorithm +
		" Credential=" + credential.String() +
		",SignedHeaders=" + strings.Join(signedHeaders, ";") +
		",Signature=" + signature
}

// =============================================================================
// Signing Key Generation
// =============================================================================

// GetSigningKey derives the signing key for AWS v4 signatures.
// This implements the key derivation: HMAC(HMAC(HMAC(HMAC("AWS4"+secret, date), region), service), "aws4_request")
func GetSigningKey(secretKey string, date time.Time, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), []byte(date.UTC().Format(YYYYMMDD)))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte(AWS4Request))
}

// GetSignature calculates the signature using the signing key.
func GetSignature(signingKey []byte, stringToSign string) string {
	return hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))
}

// hmacSHA256 computes HMAC-SHA256.
func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// =============================================================================
// Canonical Request Building
// =============================================================================

// CanonicalURI percent-encodes path per RFC 3986, leaving "/" intact.
func CanonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return uriEncode(path, false)
}

// CanonicalQueryString returns the sorted, encoded query string. Parameters
// without a value are rendered as "key=".
func CanonicalQueryString(query map[string][]string) string {
	if len(query) == 0 {
		return ""
	}

	type pair struct{ key, value string }
	pairs := make([]pair, 0, len(query))
	for key, values := range query {
		encodedKey := uriEncode(key, true)
		if len(values) == 0 {
			pairs = append(pairs, pair{key: encodedKey})
			continue
		}
		for _, value := range values {
			pairs = append(pairs, pair{key: encodedKey, value: uriEncode(value, true)})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	encoded := make([]string, len(pairs))
	for i, p := range pairs {
		encoded[i] = p.key + "=" + p.value
	}
	return strings.Join(encoded, "&")
}

// NormalizeHeaders lower-cases header names. Names that collide after
// lower-casing are joined with a comma in sorted value order.
func NormalizeHeaders(header map[string]string) map[string]string {
	normalized := make(map[string]string, len(header)+4)
	collisions := make(map[string][]string)

	for name, value := range header {
		lower := strings.ToLower(strings.TrimSpace(name))
		if lower == "" || lower == HeaderAuthorization {
			continue
		}
		collisions[lower] = append(collisions[lower], value)
	}

	for name, values := range collisions {
		sort.Strings(values)
		normalized[name] = strings.Join(values, ",")
	}
	return normalized
}

// CanonicalHeaders renders "name:value\n" lines sorted by lower-case name,
// with values trimmed and inner whitespace runs collapsed. The output does
// not depend on the iteration order of header.
func CanonicalHeaders(header map[string]string) string {
	normalized := NormalizeHeaders(header)

	var canonical strings.Builder
	for _, name := range SignedHeaderNames(normalized) {
		canonical.WriteString(name)
		canonical.WriteString(":")
		canonical.WriteString(strings.Join(strings.Fields(normalized[name]), " "))
		canonical.WriteString("\n")
	}
	return canonical.String()
}

// SignedHeaderNames returns the sorted lower-case header names.
func SignedHeaderNames(header map[string]string) []string {
	seen := make(map[string]bool, len(header))
	names := make([]string, 0, len(header))
	for name := range header {
		lower := strings.ToLower(strings.TrimSpace(name))
		if lower == "" || lower == HeaderAuthorization || seen[lower] {
			continue
		}
		seen[lower] = true
		names = append(names, lower)
	}
	sort.Strings(names)
	return names
}

// uriEncode applies RFC 3986 percent-encoding. Unreserved characters
// (A-Z a-z 0-9 - _ . ~) pass through, and "/" does when encodeSlash is false.
func uriEncode(s string, encodeSlash bool) string {
	const hexDigits = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == '/' && !encodeSlash:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0F])
		}
	}
	return b.String()
}

// EncodePath percent-encodes an object key for use in a URL path.
func EncodePath(path string) string {
	return uriEncode(path, false)
}

// =============================================================================
// String to Sign Building
// =============================================================================

// GetStringToSign builds the string to sign.
func GetStringToSign(canonicalRequest string, requestTime time.Time, scope CredentialScope) string {
	hash := sha256.Sum256([]byte(canonicalRequest))

	return StringToSign{
		Algorithm:            SignV4Algorithm,
		RequestDateTime:      requestTime.UTC().Format(ISO8601BasicFormat),
		CredentialScope:      scope.String(),
		CanonicalRequestHash: hex.EncodeToString(hash[:]),
	}.String()
}
