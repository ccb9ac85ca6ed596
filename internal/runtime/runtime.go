// Package runtime defines the capability bundle injected into the engine
// at process start: HTTP and HTTP/2-only upstream clients, environment
// and file access, the response-cache capability, and an optional worker
// sandbox hook for request/response filters. The evaluator is parametric
// over this bundle and contains no direct syscalls, so the same core
// runs unmodified against a server, serverless, or edge host.
package runtime

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http2"
)

// Response is the capability-level HTTP response shape: status, headers,
// and a fully-buffered body.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// HTTPClient executes a fully-formed *http.Request and returns a buffered
// Response; implementations wrap an async/pooled client behind a
// synchronous contract.
type HTTPClient interface {
	Execute(ctx context.Context, req *http.Request) (*Response, error)
}

// EnvSource looks up a process or platform environment variable.
type EnvSource interface {
	Get(key string) (string, bool)
}

// FileSource provides optional file access; some targets (edge, WASM)
// disable writes entirely.
type FileSource interface {
	Read(path string) (string, error)
	Write(path string, data []byte) error
}

// Cache is the abstract response-cache capability the evaluator's Cache
// IR node delegates to; rescache.Cache implements it, as would a
// Redis-backed alternative.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	// GetOrEval collapses concurrent misses on the same key into one
	// producer call (single-flight), so the Cache IR node never runs an
	// expensive inner evaluation twice for the same fingerprint.
	GetOrEval(ctx context.Context, key string, ttl time.Duration, f func() (any, error)) (any, error)
}

// FilterDecision is what a Worker request filter returns for one
// upstream call: either a (possibly rewritten) request to continue with,
// or a synthesised response that short-circuits the call entirely.
type FilterDecision struct {
	Request  *http.Request
	Response *Response
}

// Worker is the optional bidirectional hook into a scripting sandbox
// used by request/response filters declared on a field's IO node.
type Worker interface {
	Filter(ctx context.Context, name string, req *http.Request) (FilterDecision, error)
}

// GrpcCall is the structural description of one dynamic gRPC invocation:
// the originating service/method identity (the owning GraphQL type name
// and field name) plus already-rendered argument values. Actual
// protobuf message construction is the invoker's concern, not the
// evaluator's.
type GrpcCall struct {
	Service string
	Method  string
	Args    map[string]any
}

// GrpcInvoker performs a Grpc-kind IO node's call; the default
// implementation bridges to the registry-backed dynamic dispatch the
// process already has for RPC-resolved fields.
type GrpcInvoker interface {
	Invoke(ctx context.Context, call GrpcCall) (any, error)
}

// Runtime is the capability bundle threaded through every evaluation.
type Runtime struct {
	Http        HTTPClient
	Http2Only   HTTPClient
	Env         EnvSource
	File        FileSource
	Cache       Cache
	Worker      Worker
	GrpcInvoker GrpcInvoker
}

// RetryableHTTPClient adapts hashicorp/go-retryablehttp's client to the
// HTTPClient capability, giving the HTTP-kind IO path retries with
// exponential backoff under the client's retry policy (by default any
// method is retried, not only GET) without the evaluator itself ever
// retrying an upstream call.
type RetryableHTTPClient struct {
	client *retryablehttp.Client
}

func NewRetryableHTTPClient(client *retryablehttp.Client) *RetryableHTTPClient {
	if client == nil {
		client = retryablehttp.NewClient()
		client.Logger = nil
	}
	return &RetryableHTTPClient{client: client}
}

func (c *RetryableHTTPClient) Execute(ctx context.Context, req *http.Request) (*Response, error) {
	rreq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, req.URL.String(), req.Body)
	if err != nil {
		return nil, err
	}
	rreq.Header = req.Header
	resp, err := c.client.Do(rreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

// Http2OnlyClient forces a cleartext or TLS HTTP/2 connection for
// targets (gRPC-compatible upstreams) that reject HTTP/1.1, mirroring
// the teacher's dedicated connection handling for gRPC traffic but
// exposed through the same synchronous Execute contract as Http.
type Http2OnlyClient struct {
	client *http.Client
}

// NewHTTP2OnlyClient builds a client that always dials HTTP/2, falling
// back to prior-knowledge cleartext h2c when allowH2C is true (needed
// for upstreams without TLS termination in front of them).
func NewHTTP2OnlyClient(allowH2C bool) *Http2OnlyClient {
	transport := &http2.Transport{}
	if allowH2C {
		transport.AllowHTTP = true
		transport.DialTLSContext = func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		}
	}
	return &Http2OnlyClient{client: &http.Client{Transport: transport}}
}

func (c *Http2OnlyClient) Execute(ctx context.Context, req *http.Request) (*Response, error) {
	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

// OSEnv is the process-environment EnvSource used outside of sandboxed
// targets.
type OSEnv struct{}

func (OSEnv) Get(key string) (string, bool) { return os.LookupEnv(key) }

// OSFile is the local-filesystem FileSource used outside of sandboxed
// targets.
type OSFile struct{}

func (OSFile) Read(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}

func (OSFile) Write(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
