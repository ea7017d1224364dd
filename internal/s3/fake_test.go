package s3

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uplink/internal/auth"
	"github.com/prn-tf/alexander-uplink/internal/httpapi"
)

var (
	testNow   = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	testCreds = auth.Credentials{AccessKeyID: "ASIAEXAMPLE", SecretAccessKey: "secret", SessionToken: "session"}
)

type s3Call struct {
	Op     string
	Host   string
	Bucket string
	Key    string
	Header http.Header
	Body   []byte
}

// fakeS3 is an in-memory S3 endpoint behind the SigV4 verifier. Buckets are
// taken from the Host header when it differs from the listener address.
type fakeS3 struct {
	mu         sync.Mutex
	listenHost string

	buckets  map[string]bool
	objects  map[string][]byte
	policies map[string]string
	calls    []s3Call

	// headStatus, when set, answers every HEAD with this status.
	headStatus int
	headHeader http.Header

	// conflictOnCreate answers CreateBucket with 409. The bucket then shows
	// up after hiddenHeads more HEAD requests; -1 keeps it hidden.
	conflictOnCreate bool
	hiddenHeads      int
	pendingBucket    string

	publicBlockStatus int
}

func newFakeS3(t *testing.T) (*fakeS3, *httptest.Server) {
	t.Helper()
	fake := &fakeS3{
		buckets:  map[string]bool{},
		objects:  map[string][]byte{},
		policies: map[string]string{},
	}
	server := httptest.NewServer(&sigV4Verifier{
		keys: map[string]string{testCreds.AccessKeyID: testCreds.SecretAccessKey},
		now:  func() time.Time { return testNow },
		next: fake,
	})
	t.Cleanup(server.Close)

	u, _ := url.Parse(server.URL)
	fake.listenHost = u.Host
	return fake, server
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	bucket, key := f.route(r)
	call := s3Call{Host: r.Host, Bucket: bucket, Key: key, Header: r.Header.Clone(), Body: body}
	query := r.URL.Query()

	switch {
	case r.Method == http.MethodHead:
		call.Op = "HeadBucket"
		f.calls = append(f.calls, call)
		f.headBucket(w, bucket)
	case r.Method == http.MethodPut && key != "":
		call.Op = "PutObject"
		f.calls = append(f.calls, call)
		f.objects[bucket+"/"+key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && query.Has("publicAccessBlock"):
		call.Op = "PutPublicAccessBlock"
		f.calls = append(f.calls, call)
		if f.publicBlockStatus != 0 {
			writeS3Error(w, f.publicBlockStatus, "AccessDenied")
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && query.Has("policy"):
		call.Op = "PutBucketPolicy"
		f.calls = append(f.calls, call)
		f.policies[bucket] = string(body)
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPut:
		call.Op = "CreateBucket"
		f.calls = append(f.calls, call)
		if f.conflictOnCreate {
			f.pendingBucket = bucket
			writeS3Error(w, http.StatusConflict, "OperationAborted")
			return
		}
		f.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)
	default:
		writeS3Error(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func (f *fakeS3) headBucket(w http.ResponseWriter, bucket string) {
	if f.headStatus != 0 {
		for name, values := range f.headHeader {
			w.Header()[name] = values
		}
		w.WriteHeader(f.headStatus)
		return
	}
	if f.pendingBucket == bucket && f.hiddenHeads >= 0 {
		if f.hiddenHeads == 0 {
			f.buckets[bucket] = true
			f.pendingBucket = ""
		} else {
			f.hiddenHeads--
		}
	}
	if f.buckets[bucket] {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (f *fakeS3) route(r *http.Request) (bucket, key string) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if r.Host != f.listenHost {
		bucket, _, _ = strings.Cut(r.Host, ".")
		return bucket, path
	}
	bucket, key, _ = strings.Cut(path, "/")
	return bucket, key
}

func (f *fakeS3) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, len(f.calls))
	for i, call := range f.calls {
		ops[i] = call.Op
	}
	return ops
}

func (f *fakeS3) call(op string) *s3Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.calls {
		if f.calls[i].Op == op {
			return &f.calls[i]
		}
	}
	return nil
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>`+code+`</Code><Message>fake</Message></Error>`)
}

// redirectTransport sends every request to target while leaving the Host
// header as signed, so virtual-hosted AWS hosts can be served locally.
type redirectTransport struct {
	target *url.URL
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if clone.Host == "" {
		clone.Host = req.URL.Host
	}
	clone.URL.Scheme = rt.target.Scheme
	clone.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(clone)
}

type fakeS3Server struct {
	fake   *fakeS3
	server *httptest.Server
}

func startFake(t *testing.T) *fakeS3Server {
	t.Helper()
	fake, server := newFakeS3(t)
	return &fakeS3Server{fake: fake, server: server}
}

func newTestDoer(t *testing.T, server *httptest.Server) httpapi.Doer {
	t.Helper()
	target, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	return httpapi.NewClient(httpapi.Config{
		Transport: redirectTransport{target: target},
		Logger:    zerolog.Nop(),
	})
}
