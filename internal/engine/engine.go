package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/tailcallhq/tailcall-go/internal/auth"
	"github.com/tailcallhq/tailcall-go/internal/blueprint"
	"github.com/tailcallhq/tailcall-go/internal/evalctx"
	"github.com/tailcallhq/tailcall-go/internal/evaluator"
	"github.com/tailcallhq/tailcall-go/internal/executor"
	"github.com/tailcallhq/tailcall-go/internal/ratelimit"
)

type requestContextKey struct{}

// WithRequestContext installs the per-request shared state (runtime
// capabilities, data-loader vector, error bag, cache-control accumulator)
// that every ResolveSync/BatchResolveAsync call on an Engine reads. The HTTP
// handler builds one RequestContext per incoming GraphQL request and
// installs it on the context passed to executor.ExecuteRequest.
func WithRequestContext(ctx context.Context, rc *evalctx.RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

func requestContextFrom(ctx context.Context) (*evalctx.RequestContext, error) {
	rc, ok := ctx.Value(requestContextKey{}).(*evalctx.RequestContext)
	if !ok || rc == nil {
		return nil, fmt.Errorf("engine: no RequestContext installed on context")
	}
	return rc, nil
}

// Engine implements executor.Runtime by resolving each field's compiled IR
// tree through an Evaluator, the declarative replacement for the single
// proto-registry-backed dispatch grpcrt.Runtime performs. Both sync and
// async paths share the same resolution logic; a field's Async flag
// (derived in BuildSchema from blueprint.HasIO) only decides which of the
// two the Executor calls it through.
type Engine struct {
	Blueprint *blueprint.Blueprint
	Eval      evaluator.Evaluator

	// Auth verifies the bearer credential for @protected fields. Nil
	// disables enforcement entirely, so a Blueprint with no Protected
	// fields never needs one configured.
	Auth *auth.Provider

	// RateLimits holds the token buckets for every declared rate-limit
	// group. Nil disables enforcement, matching Group.Allow's own
	// unlimited-for-unknown-group default.
	RateLimits *ratelimit.Group
}

// New builds an Engine over a compiled Blueprint.
func New(bp *blueprint.Blueprint) *Engine {
	return &Engine{Blueprint: bp}
}

var _ executor.Runtime = (*Engine)(nil)

func (e *Engine) fieldDef(objectType, field string) (*blueprint.FieldDef, error) {
	td, ok := e.Blueprint.Types[objectType]
	if !ok {
		return nil, fmt.Errorf("engine: unknown type %q", objectType)
	}
	fd, ok := td.Fields[field]
	if !ok {
		return nil, fmt.Errorf("engine: unknown field %s.%s", objectType, field)
	}
	return fd, nil
}

func (e *Engine) resolve(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	fd, err := e.fieldDef(objectType, field)
	if err != nil {
		return nil, err
	}
	if fd.Resolver == nil {
		// Unannotated field: read straight off the parent value, the
		// same fallback linkResolver installs for an explicit Context
		// node, kept here so a hand-authored Blueprint may also leave
		// Resolver nil rather than spell out the passthrough.
		v, _ := evalctx.Walk(source, []string{field})
		return v, nil
	}
	rc, err := requestContextFrom(ctx)
	if err != nil {
		return nil, err
	}
	path := []string{objectType, field}

	if fd.Protected && e.Auth != nil {
		if _, authErr := rc.AuthOnce(func() (any, error) {
			claims, verifyErr := e.Auth.Verify(rc.AllowedHeaders.Get("Authorization"))
			if verifyErr != nil {
				return nil, verifyErr
			}
			return claims, nil
		}); authErr != nil {
			ae, ok := authErr.(*auth.Error)
			if !ok {
				return nil, authErr
			}
			return nil, evaluator.NewAuthError(path, ae)
		}
	}

	if fd.RateLimitGroup != "" && e.RateLimits != nil && !e.RateLimits.Allow(fd.RateLimitGroup) {
		return nil, evaluator.NewRateLimitedError(path, fd.RateLimitGroup)
	}

	ec := evalctx.EvaluationContext{
		Request:   rc,
		Value:     source,
		Args:      args,
		FieldPath: path,
	}
	result, evalErr := e.Eval.Eval(ctx, fd.Resolver, ec)
	if evalErr != nil {
		return nil, evalErr
	}
	return result, nil
}

// ResolveSync resolves a field whose compiled resolver reaches no IO node.
func (e *Engine) ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error) {
	return e.resolve(ctx, objectType, field, source, args)
}

// BatchResolveAsync resolves one execution depth's async tasks concurrently;
// the Evaluator's own data-loader and cache layers do the actual batching
// and de-duplication per upstream call, so this only needs to keep
// independent field resolutions from serializing behind one another.
func (e *Engine) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, t := range tasks {
		go func(i int, t executor.AsyncResolveTask) {
			defer wg.Done()
			v, err := e.resolve(ctx, t.ObjectType, t.Field, t.Source, t.Args)
			results[i] = executor.AsyncResolveResult{Value: v, Error: err}
		}(i, t)
	}
	wg.Wait()
	return results
}

// ResolveType discriminates an interface/union value by its "__typename"
// entry, the convention a Map or Dynamic(Object) resolver tree uses to
// stamp a concrete type name onto an otherwise-untyped decoded value.
func (e *Engine) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return "", fmt.Errorf("engine: cannot resolve concrete type for %s: value is not an object", abstractType)
	}
	name, ok := m["__typename"].(string)
	if !ok || name == "" {
		return "", fmt.Errorf("engine: value for abstract type %s carries no __typename", abstractType)
	}
	if td, ok := e.Blueprint.Types[abstractType]; ok {
		valid := false
		for _, p := range td.PossibleTypes {
			if p == name {
				valid = true
				break
			}
		}
		if !valid {
			return "", fmt.Errorf("engine: %q is not a possible type of %s", name, abstractType)
		}
	}
	return name, nil
}

// ResolveUnionConcreteValue and ResolveInterfaceConcreteValue are no-ops:
// unlike grpcrt's protobuf envelopes, a declaratively-resolved value is
// already the concrete object by the time ResolveType has named its type.
func (e *Engine) ResolveUnionConcreteValue(ctx context.Context, unionTypeName string, value any) (any, error) {
	return value, nil
}

func (e *Engine) ResolveInterfaceConcreteValue(ctx context.Context, interfaceTypeName string, value any) (any, error) {
	return value, nil
}

// SerializeLeafValue coerces enum values to their symbolic name and
// byte-slice scalars to base64, mirroring grpcrt.Runtime's own
// SerializeLeafValue; every other Go value produced by the Evaluator is
// already JSON-safe.
func (e *Engine) SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if td, ok := e.Blueprint.Types[scalarOrEnumTypeName]; ok && td.Kind == blueprint.KindEnum {
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", value), nil
	}
	if b, ok := value.([]byte); ok {
		return base64.StdEncoding.EncodeToString(b), nil
	}
	return value, nil
}
