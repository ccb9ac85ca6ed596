// Package reqtemplate declaratively describes an HTTP/gRPC/GraphQL
// upstream call with mustache holes in its URL, query, headers, and body,
// and renders it against an evaluation context into a concrete,
// hashable UpstreamRequest.
package reqtemplate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/tailcallhq/tailcall-go/internal/mustache"
)

// Kind names the upstream protocol a Template addresses.
type Kind int

const (
	Http Kind = iota
	Grpc
	GraphQL
)

// Encoding names the body encoding of an HTTP request.
type Encoding int

const (
	EncodingJSON Encoding = iota
	EncodingForm
)

// Param is one query parameter; order and duplicate keys are preserved
// exactly as declared.
type Param struct {
	Key   string
	Value mustache.Template
}

// GrpcOperation names the protobuf method a Grpc-kind template invokes;
// the actual descriptor lookup happens in the caller's registry.
type GrpcOperation struct {
	Service string
	Method  string
}

// GraphQLOperation names the upstream operation a GraphQL-kind template
// invokes. Alias is carried along with the rendered request but is not
// read by any batcher: no aliased batch document is built, and group-by
// loaders merge only by URL query parameter.
type GraphQLOperation struct {
	Field string
	Alias string
}

// Template is the unrendered, mustache-bearing description of one
// upstream call.
type Template struct {
	Kind Kind

	Method   string
	BaseURL  mustache.Template
	Path     mustache.Template
	Query    []Param
	Headers  map[string]mustache.Template
	Body     mustache.Template // request body; the query document for GraphQL
	Encoding Encoding

	Grpc    *GrpcOperation
	GraphQL *GraphQLOperation
}

// UpstreamRequest is the rendered, concrete form of a Template: every
// mustache hole has been substituted and the result is ready to dispatch
// or to use as a data-loader / cache key.
type UpstreamRequest struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
	Kind    Kind

	Grpc    *GrpcOperation
	GraphQL *GraphQLOperation
}

// TemplateError is returned by ToRequest for malformed render output; it
// is one of the closed evaluator error causes (see evaluator.EvalError).
type TemplateError struct {
	Reason string
}

func (e *TemplateError) Error() string { return "template: " + e.Reason }

// ToRequest renders every mustache hole in t against ctx and produces a
// concrete UpstreamRequest. Missing lookups render as empty strings;
// header values containing CR or LF are reported as TemplateError rather
// than silently dropped (no other header-value check is made).
func (t *Template) ToRequest(ctx mustache.PathResolver) (*UpstreamRequest, error) {
	base, err := t.BaseURL.RenderString(ctx)
	if err != nil {
		return nil, &TemplateError{Reason: err.Error()}
	}
	path, err := t.Path.RenderString(ctx)
	if err != nil {
		return nil, &TemplateError{Reason: err.Error()}
	}

	full := strings.TrimRight(base, "/") + path
	u, err := url.Parse(full)
	if err != nil {
		return nil, &TemplateError{Reason: fmt.Sprintf("unrenderable URL %q: %v", full, err)}
	}

	if len(t.Query) > 0 {
		values := u.Query()
		for _, p := range t.Query {
			v, err := p.Value.RenderString(ctx)
			if err != nil {
				return nil, &TemplateError{Reason: err.Error()}
			}
			// Empty rendered values are kept: they are still sent as k=.
			values.Add(p.Key, v)
		}
		u.RawQuery = values.Encode()
	}

	headers := make(http.Header, len(t.Headers))
	names := make([]string, 0, len(t.Headers))
	for name := range t.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := t.Headers[name].RenderString(ctx)
		if err != nil {
			return nil, &TemplateError{Reason: err.Error()}
		}
		if !validHeaderValue(v) {
			return nil, &TemplateError{Reason: fmt.Sprintf("invalid header value for %q", name)}
		}
		headers.Add(name, v)
	}

	var body []byte
	switch t.Kind {
	case GraphQL:
		body, err = t.renderGraphQLBody(ctx)
		headers.Set("Content-Type", "application/json")
	case Grpc:
		headers.Set("Content-Type", "application/grpc")
	default:
		body, err = t.renderHTTPBody(ctx)
		if t.Encoding == EncodingJSON && len(body) > 0 {
			headers.Set("Content-Type", "application/json")
		} else if t.Encoding == EncodingForm {
			headers.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, &TemplateError{Reason: err.Error()}
	}

	return &UpstreamRequest{
		Method:  t.Method,
		URL:     u.String(),
		Headers: headers,
		Body:    body,
		Kind:    t.Kind,
		Grpc:    t.Grpc,
		GraphQL: t.GraphQL,
	}, nil
}

func (t *Template) renderHTTPBody(ctx mustache.PathResolver) ([]byte, error) {
	if t.Body.IsConst() && t.Body.String() == "" {
		return nil, nil
	}
	v, err := t.Body.Render(ctx)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	if t.Encoding == EncodingForm {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("form-encoded body must render to an object")
		}
		form := url.Values{}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			form.Set(k, fmt.Sprintf("%v", obj[k]))
		}
		return []byte(form.Encode()), nil
	}
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(v)
}

func (t *Template) renderGraphQLBody(ctx mustache.PathResolver) ([]byte, error) {
	query, err := t.Body.RenderString(ctx)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"query": query}
	return json.Marshal(payload)
}

func validHeaderValue(v string) bool {
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\r' || c == '\n' {
			return false
		}
	}
	return true
}

// CanonicalKey returns the byte-stable identity of the rendered request
// used by the data-loader and response-cache key derivation: method, URL
// with sorted query, canonicalised body, and the subset of headers
// declared batch-relevant (batchHeaders may be nil to mean "all
// rendered headers").
func (r *UpstreamRequest) CanonicalKey(batchHeaders []string) []byte {
	var buf bytes.Buffer
	buf.WriteString(r.Method)
	buf.WriteByte('\n')
	buf.WriteString(r.URL)
	buf.WriteByte('\n')

	names := batchHeaders
	if names == nil {
		for name := range r.Headers {
			names = append(names, name)
		}
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	for _, name := range sorted {
		vals := r.Headers.Values(name)
		sort.Strings(vals)
		buf.WriteString(strings.ToLower(name))
		buf.WriteByte(':')
		buf.WriteString(strings.Join(vals, ","))
		buf.WriteByte('\n')
	}
	buf.Write(r.Body)
	return buf.Bytes()
}
