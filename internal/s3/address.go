package s3

import (
	"strings"

	"github.com/prn-tf/alexander-uplink/internal/auth"
)

// Address locates a bucket or object on an endpoint.
type Address struct {
	Scheme string
	Host   string

	// Path is unescaped and always starts with "/".
	Path string
}

// URL returns the absolute URL with the path percent-encoded.
func (a Address) URL() string {
	return a.Scheme + "://" + a.Host + auth.EncodePath(a.Path)
}

// BucketAddress addresses bucket on endpoint. Path-style puts the bucket in
// the path; virtual-hosted style puts it in the host.
func BucketAddress(endpoint, bucket string, pathStyle bool) Address {
	scheme, host := schemeOf(endpoint), hostOnly(endpoint)
	if pathStyle {
		return Address{Scheme: scheme, Host: host, Path: "/" + bucket}
	}
	return Address{Scheme: scheme, Host: bucket + "." + host, Path: "/"}
}

// ObjectAddress addresses key inside bucket.
func ObjectAddress(endpoint, bucket, key string, pathStyle bool) Address {
	addr := BucketAddress(endpoint, bucket, pathStyle)
	key = strings.TrimLeft(key, "/")
	if pathStyle {
		addr.Path += "/" + key
	} else {
		addr.Path = "/" + key
	}
	return addr
}

// PublicURL is the URL handed back to the user for key. A custom domain
// replaces the bucket host; it may carry its own scheme.
func PublicURL(addr Address, customDomain, key string) string {
	customDomain = strings.TrimRight(strings.TrimSpace(customDomain), "/")
	if customDomain == "" {
		return addr.URL()
	}

	scheme := "https"
	if i := strings.Index(customDomain, "://"); i > 0 {
		scheme, customDomain = customDomain[:i], customDomain[i+3:]
	}
	return scheme + "://" + customDomain + auth.EncodePath("/"+strings.TrimLeft(key, "/"))
}
