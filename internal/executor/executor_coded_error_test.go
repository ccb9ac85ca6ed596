package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	schema "github.com/tailcallhq/tailcall-go/internal/schema"
)

type codedTestError struct {
	msg  string
	code string
}

func (e *codedTestError) Error() string { return e.msg }
func (e *codedTestError) Code() string  { return e.code }

type violatedTestError struct {
	msg      string
	code     string
	pointers []string
}

func (e *violatedTestError) Error() string             { return e.msg }
func (e *violatedTestError) Code() string               { return e.code }
func (e *violatedTestError) ViolationPointers() []string { return e.pointers }

// Pattern: Result comparison
func TestErrors_CodedError_CarriesExtensionsCode(t *testing.T) {
	sch := &schema.Schema{
		QueryType: "Query",
		Types: map[string]*schema.Type{
			"Query":  {Name: "Query", Kind: schema.TypeKindObject, Fields: schema.NewFieldMap(&schema.Field{Name: "a", Type: schema.NamedType("String")})},
			"String": {Name: "String", Kind: schema.TypeKindScalar},
		},
	}
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.a": NewMockErrorResolver(&codedTestError{msg: "nope", code: "UPSTREAM_ERROR"}),
	})
	exec := NewExecutor(rt, sch)
	doc := mustParseQuery(t, "{ a }")

	gotRes := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)

	wantRes := &ExecutionResult{
		Data: map[string]any{"a": nil},
		Errors: []GraphQLError{{
			Message:    "nope",
			Path:       Path{"a"},
			Extensions: map[string]any{"code": "UPSTREAM_ERROR"},
		}},
	}
	if diff := cmp.Diff(wantRes, gotRes); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

// Pattern: Result comparison
func TestErrors_UncodedError_HasNoExtensions(t *testing.T) {
	sch := &schema.Schema{
		QueryType: "Query",
		Types: map[string]*schema.Type{
			"Query":  {Name: "Query", Kind: schema.TypeKindObject, Fields: schema.NewFieldMap(&schema.Field{Name: "a", Type: schema.NamedType("String")})},
			"String": {Name: "String", Kind: schema.TypeKindScalar},
		},
	}
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.a": NewMockErrorResolver(errors.New("plain")),
	})
	exec := NewExecutor(rt, sch)
	doc := mustParseQuery(t, "{ a }")

	gotRes := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)

	if len(gotRes.Errors) != 1 || gotRes.Errors[0].Extensions != nil {
		t.Fatalf("expected no extensions for a plain error, got %+v", gotRes.Errors)
	}
}

// Pattern: Result comparison
func TestErrors_ShapeViolation_CarriesJSONPointerPathsInExtensions(t *testing.T) {
	sch := &schema.Schema{
		QueryType: "Query",
		Types: map[string]*schema.Type{
			"Query":  {Name: "Query", Kind: schema.TypeKindObject, Fields: schema.NewFieldMap(&schema.Field{Name: "a", Type: schema.NamedType("String")})},
			"String": {Name: "String", Kind: schema.TypeKindScalar},
		},
	}
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.a": NewMockErrorResolver(&violatedTestError{msg: "shape mismatch", code: "SHAPE_VALIDATION_ERROR", pointers: []string{"/id"}}),
	})
	exec := NewExecutor(rt, sch)
	doc := mustParseQuery(t, "{ a }")

	gotRes := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)

	wantRes := &ExecutionResult{
		Data: map[string]any{"a": nil},
		Errors: []GraphQLError{{
			Message:    "shape mismatch",
			Path:       Path{"a"},
			Extensions: map[string]any{"code": "SHAPE_VALIDATION_ERROR", "violations": []string{"/id"}},
		}},
	}
	if diff := cmp.Diff(wantRes, gotRes); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}
