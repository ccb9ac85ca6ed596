// Package evalctx implements the per-field EvaluationContext and the
// per-request RequestContext that the evaluator reads from: argument and
// parent-value lookups, header forwarding, the data-loader vector, the
// error bag, and the Cache-Control max-age accumulator.
package evalctx

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/tailcallhq/tailcall-go/internal/dataloader"
	"github.com/tailcallhq/tailcall-go/internal/runtime"
)

// FieldError is one entry of the request's accumulated error bag,
// addressed by the GraphQL response path that produced it.
type FieldError struct {
	Path    []string
	Message string
	Code    string
}

// RequestContext holds state shared across every field evaluation of one
// GraphQL request: the runtime capability bundle, forwarded headers, the
// per-request data-loader vector, the cache-control accumulator, the
// auth cell, and the response extensions bag.
//
// Every mutable field here is guarded by a short-lived mutex; no lock is
// ever held across an await point (a blocking call in the synchronous
// Go translation), matching the concurrency policy the evaluator relies
// on for safe concurrent field evaluation.
type RequestContext struct {
	Runtime        runtime.Runtime
	AllowedHeaders http.Header

	loaders []*dataloader.Loader

	mu            sync.Mutex
	errors        []FieldError
	cacheControl  *int64
	extensions    map[string]any
	authOnce      sync.Once
	authResult    any
	authErr       error
}

// NewRequestContext builds a fresh per-request context with a dense
// vector of nLoaders uninitialized slots; callers populate slots via
// SetLoader as the blueprint's LoaderSpecs are realised.
func NewRequestContext(rt runtime.Runtime, allowedHeaders http.Header, nLoaders int) *RequestContext {
	return &RequestContext{
		Runtime:        rt,
		AllowedHeaders: allowedHeaders,
		loaders:        make([]*dataloader.Loader, nLoaders),
		extensions:     make(map[string]any),
	}
}

// SetLoader installs the data-loader for slot dlID.
func (rc *RequestContext) SetLoader(dlID int, l *dataloader.Loader) {
	rc.loaders[dlID] = l
}

// DataLoader returns the loader at dlID in O(1); dlID must be within the
// dense range established at construction (invariant 2 of the blueprint).
func (rc *RequestContext) DataLoader(dlID int) *dataloader.Loader {
	return rc.loaders[dlID]
}

// AddError appends one field error to the request's error bag.
func (rc *RequestContext) AddError(path []string, message string, code string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.errors = append(rc.errors, FieldError{Path: append([]string(nil), path...), Message: message, Code: code})
}

// TakeErrors returns and clears the accumulated error bag.
func (rc *RequestContext) TakeErrors() []FieldError {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := rc.errors
	rc.errors = nil
	return out
}

// MergeCacheControl monotonically lowers the max-age accumulator; the
// minimum is commutative so this is safe regardless of call order.
func (rc *RequestContext) MergeCacheControl(maxAgeMS int64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.cacheControl == nil || maxAgeMS < *rc.cacheControl {
		v := maxAgeMS
		rc.cacheControl = &v
	}
}

// CacheControlMaxAgeMS returns the folded minimum max-age across every
// cached IO touched this request, or ok=false if none were touched.
func (rc *RequestContext) CacheControlMaxAgeMS() (int64, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.cacheControl == nil {
		return 0, false
	}
	return *rc.cacheControl, true
}

// SetExtension records one entry of the GraphQL response extensions bag.
func (rc *RequestContext) SetExtension(key string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.extensions[key] = value
}

// Extensions returns a snapshot of the response extensions bag.
func (rc *RequestContext) Extensions() map[string]any {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]any, len(rc.extensions))
	for k, v := range rc.extensions {
		out[k] = v
	}
	return out
}

// AuthOnce ensures f runs at most once per request; every caller,
// whether the first or a later one, observes the same result.
func (rc *RequestContext) AuthOnce(f func() (any, error)) (any, error) {
	rc.authOnce.Do(func() {
		rc.authResult, rc.authErr = f()
	})
	return rc.authResult, rc.authErr
}

// EvaluationContext is the lightweight, cheap-to-clone per-field
// resolution scope: a handle to the shared RequestContext, the current
// parent value, arguments, variables, and the selection's field path
// (used to attribute errors). It is re-scoped at every Compose and field
// boundary rather than mutated in place.
type EvaluationContext struct {
	Request *RequestContext

	Value     any
	Args      map[string]any
	Vars      map[string]string
	FieldPath []string
}

// WithValue returns a derived context with Value replaced, used by
// Compose to install a's result as the value seen by b.
func (c EvaluationContext) WithValue(v any) EvaluationContext {
	c.Value = v
	return c
}

// WithArgs returns a derived context with Args replaced.
func (c EvaluationContext) WithArgs(args map[string]any) EvaluationContext {
	c.Args = args
	return c
}

// WithFieldPath returns a derived context scoped to a child field path
// element, used when descending into a selection set.
func (c EvaluationContext) WithFieldPath(elem string) EvaluationContext {
	c.FieldPath = append(append([]string(nil), c.FieldPath...), elem)
	return c
}

// PathValue resolves a dotted path rooted at one of args, value, headers,
// vars, or env, implementing the path roots mustache templates and
// Context(path) IR nodes read from.
func (c EvaluationContext) PathValue(parts []string) (any, bool) {
	if len(parts) == 0 {
		return nil, false
	}
	root, rest := parts[0], parts[1:]
	switch root {
	case "args":
		return walk(c.Args, rest)
	case "value":
		return walk(c.Value, rest)
	case "headers":
		if len(rest) == 0 {
			return nil, false
		}
		v := c.Request.AllowedHeaders.Get(rest[0])
		if v == "" {
			return nil, false
		}
		return v, true
	case "vars":
		if len(rest) == 0 {
			return nil, false
		}
		v, ok := c.Vars[rest[0]]
		if !ok {
			return nil, false
		}
		return v, true
	case "env":
		if len(rest) == 0 {
			return nil, false
		}
		return c.Request.Runtime.Env.Get(rest[0])
	default:
		return nil, false
	}
}

// Walk resolves a dotted path into an already-evaluated value tree
// (map[string]any / []any), the same traversal PathValue uses for its
// args/value roots, exposed for the evaluator's Path IR node which walks
// an arbitrary inner result rather than one of the named context roots.
func Walk(v any, path []string) (any, bool) { return walk(v, path) }

func walk(v any, path []string) (any, bool) {
	cur := v
	for _, p := range path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[p]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, ok := parseIndex(p)
			if !ok || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	if cur == nil && len(path) == 0 && v == nil {
		return nil, false
	}
	return cur, true
}

func parseIndex(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// FilterAllowedHeaders copies only the header names in allowList from src
// into a fresh header map, implementing the blueprint-declared allow-list
// that upstream templates are restricted to reading from.
func FilterAllowedHeaders(src http.Header, allowList []string) http.Header {
	out := make(http.Header, len(allowList))
	for _, name := range allowList {
		if vals := src.Values(name); len(vals) > 0 {
			out[http.CanonicalHeaderKey(name)] = append([]string(nil), vals...)
		}
	}
	return out
}

// SortedHeaderNames returns the canonical, sorted header names present in
// h, used when constructing deterministic batch-header subsets.
func SortedHeaderNames(h http.Header) []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)
	return names
}
