// Package evaluator walks a compiled blueprint.IR tree against an
// evalctx.EvaluationContext and produces a JSON-shaped Go value (or a
// closed EvalError), the one place every other package's capability —
// templating, shape validation, batching, caching — is actually invoked
// to resolve a field.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/tailcallhq/tailcall-go/internal/auth"
	"github.com/tailcallhq/tailcall-go/internal/blueprint"
	"github.com/tailcallhq/tailcall-go/internal/dataloader"
	"github.com/tailcallhq/tailcall-go/internal/evalctx"
	"github.com/tailcallhq/tailcall-go/internal/jsonshape"
	"github.com/tailcallhq/tailcall-go/internal/reqtemplate"
	"github.com/tailcallhq/tailcall-go/internal/runtime"
)

// EvalErrorKind is the closed set of causes an evaluation can fail with.
// Every failure inside this package, and every failure the engine
// attributes to auth or rate-limiting before it ever calls Eval, folds
// into one of these so the server has one place to map errors onto
// GraphQL extensions.code.
type EvalErrorKind int

const (
	KindTemplate EvalErrorKind = iota
	KindShape
	KindUpstream
	KindTimeout
	KindCancelled
	KindRateLimited
	KindAuth
	KindInternal
)

func (k EvalErrorKind) String() string {
	switch k {
	case KindTemplate:
		return "Template"
	case KindShape:
		return "Shape"
	case KindUpstream:
		return "Upstream"
	case KindTimeout:
		return "Timeout"
	case KindCancelled:
		return "Cancelled"
	case KindRateLimited:
		return "RateLimited"
	case KindAuth:
		return "Auth"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// EvalError is the closed error type every Eval call returns on failure,
// addressed by the GraphQL response path of the field being resolved.
type EvalError struct {
	Kind       EvalErrorKind
	Message    string
	Path       []string
	Status     int                  // set when Kind == KindUpstream
	Violations []jsonshape.Violation // set when Kind == KindShape
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ViolationPointers returns the RFC 6901 JSON Pointer path of every shape
// violation, letting the executor surface them in GraphQLError.Extensions
// without depending on the evaluator or jsonshape packages (see
// executor.Violated).
func (e *EvalError) ViolationPointers() []string {
	if len(e.Violations) == 0 {
		return nil
	}
	out := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		out[i] = v.Path
	}
	return out
}

// Code returns the GraphQL response extensions.code for this error,
// letting the executor report a machine-readable failure kind without
// depending on the evaluator package (see executor.CodedError).
func (e *EvalError) Code() string {
	switch e.Kind {
	case KindTemplate:
		return "TEMPLATE_ERROR"
	case KindShape:
		return "SHAPE_VALIDATION_ERROR"
	case KindUpstream:
		return "UPSTREAM_ERROR"
	case KindTimeout:
		return "TIMEOUT"
	case KindCancelled:
		return "CANCELLED"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindAuth:
		return "UNAUTHENTICATED"
	default:
		return "INTERNAL_ERROR"
	}
}

// NewRateLimitedError builds the EvalError a rate-limit-group rejection
// produces; the engine constructs this itself, since group membership is
// a field-level property the IR tree does not carry.
func NewRateLimitedError(path []string, group string) *EvalError {
	return &EvalError{Kind: KindRateLimited, Message: fmt.Sprintf("rate limit exceeded for group %q", group), Path: path}
}

// NewAuthError wraps an auth.Error as the EvalError the engine surfaces
// when a @protected field's credential check fails.
func NewAuthError(path []string, cause *auth.Error) *EvalError {
	if cause == nil {
		return nil
	}
	return &EvalError{Kind: KindAuth, Message: cause.Error(), Path: path}
}

// Evaluator resolves IR trees. It carries no state of its own; every
// per-request capability (loaders, cache, runtime clients) lives on the
// evalctx.RequestContext threaded through Eval.
type Evaluator struct{}

// Eval resolves ir against ec, dispatching over the nine IR variants.
// A nil ir resolves to nil, matching a field with no resolver that falls
// through to the parent value's same-named key (handled by the engine
// before Eval is ever called for such a field).
func (Evaluator) Eval(ctx context.Context, ir *blueprint.IR, ec evalctx.EvaluationContext) (any, *EvalError) {
	var e Evaluator
	if ir == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, classifyErr(ec.FieldPath, err)
	}

	switch ir.Kind {
	case blueprint.IRLiteral:
		return ir.Literal, nil

	case blueprint.IRContext:
		v, _ := ec.PathValue(ir.ContextPath)
		return v, nil

	case blueprint.IRDynamic:
		return e.evalDynamic(ir.Dynamic, ec)

	case blueprint.IRIO:
		return e.evalIO(ctx, ir, ec)

	case blueprint.IRCache:
		return e.evalCache(ctx, ir, ec)

	case blueprint.IRPath:
		inner, err := e.Eval(ctx, ir.Inner, ec)
		if err != nil {
			return nil, err
		}
		v, ok := evalctx.Walk(inner, ir.PathSegments)
		if !ok {
			return nil, nil
		}
		return v, nil

	case blueprint.IRIf:
		cond, err := e.Eval(ctx, ir.Cond, ec)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return e.Eval(ctx, ir.Then, ec)
		}
		return e.Eval(ctx, ir.Else, ec)

	case blueprint.IRMap:
		inner, err := e.Eval(ctx, ir.MapInner, ec)
		if err != nil {
			return nil, err
		}
		for _, entry := range ir.MapTable {
			if deepEqualJSON(entry.Key, inner) {
				return entry.Value, nil
			}
		}
		return inner, nil

	case blueprint.IRCompose:
		// a runs first and its result becomes the `value` root b
		// resolves against; args are left untouched, matching the
		// field-selection chaining a nested resolver performs.
		a, err := e.Eval(ctx, ir.ComposeA, ec)
		if err != nil {
			return nil, err
		}
		return e.Eval(ctx, ir.ComposeB, ec.WithValue(a))

	default:
		return nil, &EvalError{Kind: KindInternal, Message: fmt.Sprintf("unhandled IR kind %v", ir.Kind), Path: ec.FieldPath}
	}
}

func (e Evaluator) evalDynamic(d *blueprint.DynamicValue, ec evalctx.EvaluationContext) (any, *EvalError) {
	if d == nil {
		return nil, nil
	}
	switch d.Kind {
	case blueprint.DynamicConst:
		return d.Const, nil
	case blueprint.DynamicTemplate:
		v, err := d.Template.Render(ec)
		if err != nil {
			return nil, classifyErr(ec.FieldPath, err)
		}
		return v, nil
	case blueprint.DynamicObject:
		out := make(map[string]any, len(d.Object))
		for k, v := range d.Object {
			rv, evErr := e.evalDynamic(v, ec)
			if evErr != nil {
				return nil, evErr
			}
			out[k] = rv
		}
		return out, nil
	case blueprint.DynamicArray:
		out := make([]any, len(d.Array))
		for i, v := range d.Array {
			rv, evErr := e.evalDynamic(v, ec)
			if evErr != nil {
				return nil, evErr
			}
			out[i] = rv
		}
		return out, nil
	default:
		return nil, nil
	}
}

// evalIO dispatches a Grpc-kind node through the runtime's GrpcInvoker
// (dynamic protobuf dispatch lives outside this package), and otherwise
// renders ir's request template and dispatches it either through the
// field's data-loader slot (de-dup/group-by coalescing) or, for
// uncoalesced calls, directly against the matching runtime client.
func (e Evaluator) evalIO(ctx context.Context, ir *blueprint.IR, ec evalctx.EvaluationContext) (any, *EvalError) {
	if ir.IOKind == blueprint.IOGrpc {
		return e.evalGrpc(ctx, ir, ec)
	}

	req, err := ir.ReqTmpl.ToRequest(ec)
	if err != nil {
		return nil, classifyErr(ec.FieldPath, err)
	}

	var result any
	if ir.DLID >= 0 {
		loader := ec.Request.DataLoader(ir.DLID)
		var groupVal any
		if len(ir.GroupBy) > 0 {
			groupVal, _ = ec.PathValue(ir.GroupBy)
		}
		key := dataloader.Key{
			Canonical:    string(req.CanonicalKey(nil)),
			Request:      req,
			GroupByValue: groupVal,
		}
		result, err = loader.Load(ctx, key)
	} else {
		client := ec.Request.Runtime.Http
		if ir.IOKind == blueprint.IOGrpc {
			client = ec.Request.Runtime.Http2Only
		}
		result, err = dataloader.Dispatch(ctx, client, req)
	}
	if err != nil {
		return nil, classifyErr(ec.FieldPath, err)
	}

	if ir.Shape != nil {
		if violations := jsonshape.Validate(*ir.Shape, result); len(violations) > 0 {
			return nil, &EvalError{
				Kind:       KindShape,
				Message:    "upstream response did not match the declared shape",
				Path:       ec.FieldPath,
				Violations: violations,
			}
		}
	}
	return result, nil
}

// evalGrpc renders a Grpc-kind node's argument bindings and invokes the
// runtime's GrpcInvoker with the Service/Method identity that
// LinkProject set to the field's owning type name and field name.
func (e Evaluator) evalGrpc(ctx context.Context, ir *blueprint.IR, ec evalctx.EvaluationContext) (any, *EvalError) {
	if ec.Request.Runtime.GrpcInvoker == nil {
		return nil, &EvalError{Kind: KindInternal, Message: "no GrpcInvoker configured", Path: ec.FieldPath}
	}
	args := make(map[string]any, len(ir.GrpcArgs))
	for name, tmpl := range ir.GrpcArgs {
		v, err := tmpl.Render(ec)
		if err != nil {
			return nil, classifyErr(ec.FieldPath, err)
		}
		args[name] = v
	}

	call := runtime.GrpcCall{Service: ir.ReqTmpl.Grpc.Service, Method: ir.ReqTmpl.Grpc.Method, Args: args}
	result, err := ec.Request.Runtime.GrpcInvoker.Invoke(ctx, call)
	if err != nil {
		return nil, classifyErr(ec.FieldPath, err)
	}
	if ir.Shape != nil {
		if violations := jsonshape.Validate(*ir.Shape, result); len(violations) > 0 {
			return nil, &EvalError{Kind: KindShape, Message: "upstream response did not match the declared shape", Path: ec.FieldPath, Violations: violations}
		}
	}
	return result, nil
}

// evalCache folds ir's max-age into the request's Cache-Control
// accumulator unconditionally (a cached IO contributes to the response
// header whether this evaluation hits or misses), then delegates to the
// runtime cache's single-flight GetOrEval so concurrent callers for the
// same fingerprint collapse into one inner evaluation.
func (e Evaluator) evalCache(ctx context.Context, ir *blueprint.IR, ec evalctx.EvaluationContext) (any, *EvalError) {
	ec.Request.MergeCacheControl(ir.CacheMaxAgeMS)

	cache := ec.Request.Runtime.Cache
	key, ok := cacheKey(ir, ec)
	if cache == nil || !ok {
		return e.Eval(ctx, ir.Inner, ec)
	}

	var innerErr *EvalError
	ttl := time.Duration(ir.CacheMaxAgeMS) * time.Millisecond
	v, err := cache.GetOrEval(ctx, key, ttl, func() (any, error) {
		res, evErr := e.Eval(ctx, ir.Inner, ec)
		if evErr != nil {
			innerErr = evErr
			return nil, evErr
		}
		return res, nil
	})
	if err != nil {
		if innerErr != nil {
			return nil, innerErr
		}
		return nil, classifyErr(ec.FieldPath, err)
	}
	return v, nil
}

// cacheKey derives a Cache node's fingerprint from its IO child's
// rendered request: a blueprint compiled by LinkProject always wraps
// Cache directly around the IO it governs (see blueprint.WrapCache), so
// the rendered request's canonical bytes are exactly the identity of
// "this call, with these arguments, for this requester". Anything else
// (a Cache node the linker never produces this way) is left unfingerprintable
// and falls back to uncached evaluation rather than guessing at identity.
func cacheKey(ir *blueprint.IR, ec evalctx.EvaluationContext) (string, bool) {
	if ir.Inner == nil || ir.Inner.Kind != blueprint.IRIO || ir.Inner.ReqTmpl == nil {
		return "", false
	}
	req, err := ir.Inner.ReqTmpl.ToRequest(ec)
	if err != nil {
		return "", false
	}
	h := xxhash.Sum64(req.CanonicalKey(nil))
	return fmt.Sprintf("io:%016x", h), true
}

// truthy implements the GraphQL-ish falsy set the If node branches on:
// null, false, zero, empty string, and empty list/object are falsy;
// everything else, including non-empty strings and non-zero numbers, is
// truthy.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case []any:
		return len(x) != 0
	case map[string]any:
		return len(x) != 0
	default:
		return true
	}
}

// deepEqualJSON compares two JSON-shaped values for a Map node's table
// lookup, normalising Go's several integer representations to float64 so
// a literal 1 in blueprint data matches a float64(1) decoded from JSON.
func deepEqualJSON(a, b any) bool {
	return reflect.DeepEqual(normalizeJSON(a), normalizeJSON(b))
}

func normalizeJSON(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = normalizeJSON(vv)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = normalizeJSON(vv)
		}
		return out
	default:
		return x
	}
}

// classifyErr folds an arbitrary error from a template render, upstream
// dispatch, or context cancellation into the closed EvalError taxonomy.
func classifyErr(path []string, err error) *EvalError {
	if err == nil {
		return nil
	}
	var tmplErr *reqtemplate.TemplateError
	var upstreamErr *dataloader.UpstreamError
	var authErr *auth.Error

	switch {
	case errors.As(err, &tmplErr):
		return &EvalError{Kind: KindTemplate, Message: tmplErr.Error(), Path: path}
	case errors.As(err, &upstreamErr):
		return &EvalError{Kind: KindUpstream, Message: upstreamErr.Error(), Path: path, Status: upstreamErr.Status}
	case errors.As(err, &authErr):
		return &EvalError{Kind: KindAuth, Message: authErr.Error(), Path: path}
	case errors.Is(err, context.Canceled):
		return &EvalError{Kind: KindCancelled, Message: err.Error(), Path: path}
	case errors.Is(err, context.DeadlineExceeded):
		return &EvalError{Kind: KindTimeout, Message: err.Error(), Path: path}
	default:
		return &EvalError{Kind: KindInternal, Message: err.Error(), Path: path}
	}
}
