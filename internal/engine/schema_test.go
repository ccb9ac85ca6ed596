package engine

import (
	"testing"

	"github.com/tailcallhq/tailcall-go/internal/blueprint"
	"github.com/tailcallhq/tailcall-go/internal/schema"
)

func TestBuildSchema_MarksIOBearingFieldsAsync(t *testing.T) {
	bp := &blueprint.Blueprint{
		QueryType: "Query",
		Types: map[string]*blueprint.TypeDef{
			"Query": {
				Kind: blueprint.KindObject,
				Name: "Query",
				Fields: map[string]*blueprint.FieldDef{
					"greeting": {Name: "greeting", Type: blueprint.NamedType("String", false), Resolver: &blueprint.IR{Kind: blueprint.IRLiteral, Literal: "hi"}},
					"user":     {Name: "user", Type: blueprint.NamedType("User", false), Resolver: &blueprint.IR{Kind: blueprint.IRIO, IOKind: blueprint.IOGrpc}},
					"cached":   {Name: "cached", Type: blueprint.NamedType("User", false), Resolver: &blueprint.IR{Kind: blueprint.IRCache, Inner: &blueprint.IR{Kind: blueprint.IRIO, IOKind: blueprint.IOGrpc}}},
				},
			},
		},
	}

	s := BuildSchema(bp)
	byName := make(map[string]*schema.Field, len(s.Types["Query"].Fields))
	for _, f := range s.Types["Query"].Fields {
		byName[f.Name] = f
	}

	if byName["greeting"].Async {
		t.Fatal("expected greeting (Literal resolver) to be sync")
	}
	if !byName["user"].Async {
		t.Fatal("expected user (IO resolver) to be async")
	}
	if !byName["cached"].Async {
		t.Fatal("expected cached (Cache wrapping IO) to be async")
	}
}

func TestBuildSchema_ConvertsListAndNonNullTypeRefs(t *testing.T) {
	bp := &blueprint.Blueprint{
		Types: map[string]*blueprint.TypeDef{
			"Query": {
				Kind: blueprint.KindObject,
				Name: "Query",
				Fields: map[string]*blueprint.FieldDef{
					"names": {Name: "names", Type: blueprint.ListType(blueprint.NamedType("String", true), false)},
				},
			},
		},
	}
	s := BuildSchema(bp)
	ref := s.Types["Query"].Fields[0].Type
	if ref.Kind != schema.TypeRefKindList {
		t.Fatalf("expected outer List, got %v", ref.Kind)
	}
	inner := ref.OfType
	if inner.Kind != schema.TypeRefKindNonNull || inner.OfType.Named != "String" {
		t.Fatalf("expected NonNull(String) inner type, got %+v", inner)
	}
}

func TestBuildSchema_EnumAndInputTypesCarryValues(t *testing.T) {
	bp := &blueprint.Blueprint{
		Types: map[string]*blueprint.TypeDef{
			"Status": {Kind: blueprint.KindEnum, Name: "Status", EnumValues: []string{"ACTIVE", "INACTIVE"}},
			"Filter": {Kind: blueprint.KindInput, Name: "Filter", Fields: map[string]*blueprint.FieldDef{
				"status": {Name: "status", Type: blueprint.NamedType("Status", false)},
			}},
		},
	}
	s := BuildSchema(bp)
	if len(s.Types["Status"].EnumValues) != 2 {
		t.Fatalf("expected 2 enum values, got %d", len(s.Types["Status"].EnumValues))
	}
	if len(s.Types["Filter"].InputFields) != 1 {
		t.Fatalf("expected 1 input field, got %d", len(s.Types["Filter"].InputFields))
	}
}
