// Package s3 uploads objects to Amazon S3 and S3-compatible stores and
// provisions the destination bucket. Requests are signed with SigV4 and sent
// through an httpapi.Doer.
package s3

import (
	"net"
	"regexp"
	"strings"
	"sync"

	"github.com/prn-tf/alexander-uplink/internal/auth"
)

// GlobalEndpoint is the legacy global S3 host. It serves us-east-1.
const GlobalEndpoint = "s3.amazonaws.com"

// Endpoint is a known Amazon S3 regional endpoint.
type Endpoint struct {
	Name   string
	Region string
	Host   string
}

var (
	endpointsOnce  sync.Once
	endpointList   []Endpoint
	endpointByHost map[string]Endpoint
	endpointByID   map[string]Endpoint
)

// loadEndpoints builds the lookup tables. The tables are never modified
// after the first call.
func loadEndpoints() {
	endpointsOnce.Do(func() {
		endpointList = []Endpoint{
			{Name: "US East (N. Virginia)", Region: "us-east-1", Host: GlobalEndpoint},
			{Name: "US East (Ohio)", Region: "us-east-2", Host: "s3.us-east-2.amazonaws.com"},
			{Name: "US West (N. California)", Region: "us-west-1", Host: "s3.us-west-1.amazonaws.com"},
			{Name: "US West (Oregon)", Region: "us-west-2", Host: "s3.us-west-2.amazonaws.com"},
			{Name: "Canada (Central)", Region: "ca-central-1", Host: "s3.ca-central-1.amazonaws.com"},
			{Name: "Africa (Cape Town)", Region: "af-south-1", Host: "s3.af-south-1.amazonaws.com"},
			{Name: "Asia Pacific (Hong Kong)", Region: "ap-east-1", Host: "s3.ap-east-1.amazonaws.com"},
			{Name: "Asia Pacific (Mumbai)", Region: "ap-south-1", Host: "s3.ap-south-1.amazonaws.com"},
			{Name: "Asia Pacific (Tokyo)", Region: "ap-northeast-1", Host: "s3.ap-northeast-1.amazonaws.com"},
			{Name: "Asia Pacific (Seoul)", Region: "ap-northeast-2", Host: "s3.ap-northeast-2.amazonaws.com"},
			{Name: "Asia Pacific (Osaka)", Region: "ap-northeast-3", Host: "s3.ap-northeast-3.amazonaws.com"},
			{Name: "Asia Pacific (Singapore)", Region: "ap-southeast-1", Host: "s3.ap-southeast-1.amazonaws.com"},
			{Name: "Asia Pacific (Sydney)", Region: "ap-southeast-2", Host: "s3.ap-southeast-2.amazonaws.com"},
			{Name: "China (Beijing)", Region: "cn-north-1", Host: "s3.cn-north-1.amazonaws.com.cn"},
			{Name: "China (Ningxia)", Region: "cn-northwest-1", Host: "s3.cn-northwest-1.amazonaws.com.cn"},
			{Name: "EU (Frankfurt)", Region: "eu-central-1", Host: "s3.eu-central-1.amazonaws.com"},
			{Name: "EU (Ireland)", Region: "eu-west-1", Host: "s3.eu-west-1.amazonaws.com"},
			{Name: "EU (London)", Region: "eu-west-2", Host: "s3.eu-west-2.amazonaws.com"},
			{Name: "EU (Paris)", Region: "eu-west-3", Host: "s3.eu-west-3.amazonaws.com"},
			{Name: "EU (Milan)", Region: "eu-south-1", Host: "s3.eu-south-1.amazonaws.com"},
			{Name: "EU (Stockholm)", Region: "eu-north-1", Host: "s3.eu-north-1.amazonaws.com"},
			{Name: "Middle East (Bahrain)", Region: "me-south-1", Host: "s3.me-south-1.amazonaws.com"},
			{Name: "South America (São Paulo)", Region: "sa-east-1", Host: "s3.sa-east-1.amazonaws.com"},
			{Name: "AWS GovCloud (US-East)", Region: "us-gov-east-1", Host: "s3.us-gov-east-1.amazonaws.com"},
			{Name: "AWS GovCloud (US-West)", Region: "us-gov-west-1", Host: "s3.us-gov-west-1.amazonaws.com"},
		}

		endpointByHost = make(map[string]Endpoint, len(endpointList))
		endpointByID = make(map[string]Endpoint, len(endpointList))
		for _, e := range endpointList {
			endpointByHost[e.Host] = e
			endpointByID[e.Region] = e
		}
	})
}

// Endpoints returns a copy of the known Amazon endpoints.
func Endpoints() []Endpoint {
	loadEndpoints()
	out := make([]Endpoint, len(endpointList))
	copy(out, endpointList)
	return out
}

// EndpointForRegion looks up the endpoint of region.
func EndpointForRegion(region string) (Endpoint, bool) {
	loadEndpoints()
	e, ok := endpointByID[region]
	return e, ok
}

// s3.<region>.amazonaws.com, s3-<region>.amazonaws.com and their .cn and
// dualstack forms.
var amazonHostPattern = regexp.MustCompile(`^s3[.-](?:dualstack\.)?([a-z]{2}(?:-gov)?-[a-z]+-\d)\.amazonaws\.com(?:\.cn)?$`)

// RegionFromHost infers the signing region from an Amazon S3 host. It
// returns "" for hosts that are not Amazon endpoints.
func RegionFromHost(host string) string {
	host = strings.ToLower(stripPort(host))

	loadEndpoints()
	if e, ok := endpointByHost[host]; ok {
		return e.Region
	}
	if host == "s3-external-1.amazonaws.com" {
		return auth.DefaultRegion
	}
	if m := amazonHostPattern.FindStringSubmatch(host); m != nil {
		return m[1]
	}
	return ""
}

// IsAmazonHost reports whether host belongs to Amazon S3.
func IsAmazonHost(host string) bool {
	host = strings.ToLower(stripPort(host))
	return strings.HasSuffix(host, ".amazonaws.com") || strings.HasSuffix(host, ".amazonaws.com.cn")
}

// ResolveRegion picks the signing region: the configured one, else the one
// implied by the endpoint host, else DefaultRegion.
func ResolveRegion(region, endpointHost string) string {
	if region != "" {
		return region
	}
	if r := RegionFromHost(hostOnly(endpointHost)); r != "" {
		return r
	}
	return auth.DefaultRegion
}

// ResolveEndpointHost returns the host to send requests to. The global
// endpoint is swapped for the regional one when a non-default region is
// configured, since S3 answers 301 otherwise.
func ResolveEndpointHost(endpointHost, region string) string {
	host := hostOnly(endpointHost)
	if strings.EqualFold(host, GlobalEndpoint) && region != "" && region != auth.DefaultRegion {
		if e, ok := EndpointForRegion(region); ok {
			return e.Host
		}
		return "s3." + region + ".amazonaws.com"
	}
	return host
}

// hostOnly strips an optional scheme and trailing path from an endpoint.
func hostOnly(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		endpoint = endpoint[i+3:]
	}
	if i := strings.IndexByte(endpoint, '/'); i >= 0 {
		endpoint = endpoint[:i]
	}
	return strings.TrimSpace(endpoint)
}

// schemeOf returns the scheme of endpoint, defaulting to https.
func schemeOf(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i > 0 {
		return strings.ToLower(endpoint[:i])
	}
	return "https"
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
