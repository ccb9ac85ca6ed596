// Package dataloader coalesces upstream calls issued within one GraphQL
// request: identical rendered requests are de-duplicated, and requests
// that differ only in a declared group-by value are merged into a
// single batched upstream call and demultiplexed back to their callers.
//
// It is built on graph-gophers/dataloader, which already gives per-key
// caching (de-dup) and tick-based accumulation (batching) for free; this
// package supplies the batch function that performs the actual merge and
// fan-out. Every batched call goes through Dispatch over an HTTPClient:
// group-by merging works only by repeating a URL query parameter, and the
// response path is matched through nested objects only (lists inside
// an element are not searched). There is no aliased GraphQL batch
// document and no gRPC batch path; gRPC loaders are not built here.
package dataloader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"

	gld "github.com/graph-gophers/dataloader"

	"github.com/tailcallhq/tailcall-go/internal/reqtemplate"
	"github.com/tailcallhq/tailcall-go/internal/runtime"
)

const (
	defaultBatchCapacity = 1000
)

// GroupBy configures the batcher's merge-and-demux behaviour for loaders
// whose IO template declares a group_by hint.
type GroupBy struct {
	// QueryParam is the query parameter that receives the union of every
	// call's group-by value (e.g. "id" for "?id=1&id=2&id=3").
	QueryParam string
	// ResponsePath is the path, within each element of the batched
	// response's list, whose value is matched against a caller's
	// group-by value to demultiplex the merged response. Defaults to
	// QueryParam when empty.
	ResponsePath []string
}

// Key uniquely identifies one coalescable upstream call. Two keys are
// equal (and therefore de-duplicated by the underlying loader's cache)
// iff their Canonical strings are byte-equal, which in turn is computed
// from method, URL, canonicalised body, and the declared batch-relevant
// header subset only.
type Key struct {
	Canonical    string
	Request      *reqtemplate.UpstreamRequest
	GroupByValue any
}

func (k Key) String() string   { return k.Canonical }
func (k Key) Raw() interface{} { return k.Request }

// Loader batches and de-dupes upstream calls for a single blueprint IO
// slot, scoped to one GraphQL request. A fresh Loader is constructed per
// request and dropped with its RequestContext.
type Loader struct {
	client runtime.HTTPClient
	group  *GroupBy
	inner  *gld.Loader
}

// New builds a per-request Loader. client executes the merged or
// per-key upstream request; group is nil for dedupe-only loaders.
func New(client runtime.HTTPClient, group *GroupBy) *Loader {
	l := &Loader{client: client, group: group}
	l.inner = gld.NewBatchedLoader(
		l.batch,
		gld.WithBatchCapacity(defaultBatchCapacity),
		gld.WithWait(0),
	)
	return l
}

// Load enqueues one call for the current batch window and returns its
// eventual result; concurrent Load calls for an equal Key observe the
// single in-flight (or cached) result rather than issuing a second call.
func (l *Loader) Load(ctx context.Context, key Key) (any, error) {
	thunk := l.inner.Load(ctx, key)
	return thunk()
}

func (l *Loader) batch(ctx context.Context, keys gld.Keys) []*gld.Result {
	if l.group != nil {
		return l.batchGrouped(ctx, keys)
	}
	return l.batchDeduped(ctx, keys)
}

// batchDeduped issues one upstream call per distinct key (the
// dataloader's own per-key cache has already collapsed equal keys into
// one Key here) and fans each result out to its single waiter.
func (l *Loader) batchDeduped(ctx context.Context, keys gld.Keys) []*gld.Result {
	results := make([]*gld.Result, len(keys))
	for i, k := range keys {
		rk := k.(Key)
		data, err := l.execute(ctx, rk.Request)
		results[i] = &gld.Result{Data: data, Error: err}
	}
	return results
}

// batchGrouped merges every distinct key's group-by value into one
// upstream call, then demultiplexes the list response by matching each
// element's configured response path against the caller's value.
func (l *Loader) batchGrouped(ctx context.Context, keys gld.Keys) []*gld.Result {
	results := make([]*gld.Result, len(keys))
	if len(keys) == 0 {
		return results
	}

	base := keys[0].(Key).Request
	merged := cloneRequestForMerge(base, l.group.QueryParam, keys)

	raw, err := l.execute(ctx, merged)
	if err != nil {
		for i := range results {
			results[i] = &gld.Result{Error: err}
		}
		return results
	}

	list, ok := raw.([]any)
	if !ok {
		err := fmt.Errorf("dataloader: group-by response is not a list, got %T", raw)
		for i := range results {
			results[i] = &gld.Result{Error: err}
		}
		return results
	}

	responsePath := l.group.ResponsePath
	if len(responsePath) == 0 {
		responsePath = []string{l.group.QueryParam}
	}

	index := make(map[string]any, len(list))
	for _, item := range list {
		v, ok := pathValue(item, responsePath)
		if !ok {
			continue
		}
		index[stringifyKey(v)] = item
	}

	for i, k := range keys {
		rk := k.(Key)
		item, found := index[stringifyKey(rk.GroupByValue)]
		if !found {
			results[i] = &gld.Result{Data: nil}
			continue
		}
		results[i] = &gld.Result{Data: item}
	}
	return results
}

func (l *Loader) execute(ctx context.Context, req *reqtemplate.UpstreamRequest) (any, error) {
	return Dispatch(ctx, l.client, req)
}

// Dispatch issues one rendered UpstreamRequest against client and decodes
// its JSON body, the single piece of wire plumbing shared by a batched
// Loader and the evaluator's uncoalesced IO path.
func Dispatch(ctx context.Context, client runtime.HTTPClient, req *reqtemplate.UpstreamRequest) (any, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header = req.Headers

	resp, err := client.Execute(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, &UpstreamError{Status: resp.Status, Body: truncate(resp.Body, 512)}
	}
	if len(resp.Body) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, fmt.Errorf("dataloader: decoding response: %w", err)
	}
	return decoded, nil
}

// UpstreamError reports a non-2xx upstream response, carrying status and
// a truncated body for diagnostics per the closed error taxonomy.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.Status, e.Body)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

func cloneRequestForMerge(base *reqtemplate.UpstreamRequest, queryParam string, keys gld.Keys) *reqtemplate.UpstreamRequest {
	values := make([]string, 0, len(keys))
	for _, k := range keys {
		rk := k.(Key)
		values = append(values, fmt.Sprintf("%v", rk.GroupByValue))
	}
	sort.Strings(values)

	u := stripQueryParam(base.URL, queryParam)
	for _, v := range values {
		u = appendQueryParam(u, queryParam, v)
	}

	headers := base.Headers.Clone()
	return &reqtemplate.UpstreamRequest{
		Method:  base.Method,
		URL:     u,
		Headers: headers,
		Kind:    base.Kind,
	}
}

func pathValue(v any, path []string) (any, bool) {
	cur := v
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringifyKey(v any) string {
	return fmt.Sprintf("%v", v)
}

func stripQueryParam(rawURL, name string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Del(name)
	u.RawQuery = q.Encode()
	return u.String()
}

func appendQueryParam(rawURL, name, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Add(name, value)
	u.RawQuery = q.Encode()
	return u.String()
}
