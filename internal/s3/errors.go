package s3

import (
	"encoding/xml"

	"github.com/prn-tf/alexander-uplink/internal/domain"
	"github.com/prn-tf/alexander-uplink/internal/httpapi"
)

const codeSignatureDoesNotMatch = "SignatureDoesNotMatch"

// errorResponse is the XML error body returned by S3.
type errorResponse struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	RequestID string   `xml:"RequestId"`
}

// errorCode extracts the S3 error code from body, or "" if body is not an
// S3 error document.
func errorCode(body []byte) string {
	var out errorResponse
	if err := xml.Unmarshal(body, &out); err != nil {
		return ""
	}
	return out.Code
}

// remoteError wraps a non-2xx S3 response.
func remoteError(op string, resp *httpapi.Response) *domain.APIError {
	apiErr := domain.NewRemoteError(op, resp.StatusCode, resp.Body)
	apiErr.Code = errorCode(resp.Body)
	return apiErr
}
