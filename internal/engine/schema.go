// Package engine bridges a compiled blueprint.Blueprint and its
// evaluator.Evaluator into the executor.Runtime contract the breadth-first
// Executor drives, and builds the schema.Schema view the Executor reads
// type information from. This replaces grpcrt.Runtime as the Executor's
// host integration for fields resolved declaratively rather than through a
// single gRPC backend, while still reaching that same dynamic dispatch for
// Grpc-kind IO nodes via GrpcInvoker.
package engine

import (
	"github.com/tailcallhq/tailcall-go/internal/blueprint"
	"github.com/tailcallhq/tailcall-go/internal/schema"
)

// BuildSchema projects a Blueprint's type definitions into the schema.Schema
// shape the Executor consults for coercion, completion, and abstract-type
// dispatch. A field is Async (BatchResolveAsync-routed) exactly when its
// resolver tree reaches an IO node; everything else resolves synchronously.
func BuildSchema(bp *blueprint.Blueprint) *schema.Schema {
	s := &schema.Schema{
		QueryType:    bp.QueryType,
		MutationType: bp.MutationType,
		Types:        make(map[string]*schema.Type, len(bp.Types)),
	}
	for name, td := range bp.Types {
		s.Types[name] = convertTypeDef(td)
	}
	return s
}

func convertTypeDef(td *blueprint.TypeDef) *schema.Type {
	out := &schema.Type{
		Name:          td.Name,
		Kind:          convertTypeDefKind(td.Kind),
		PossibleTypes: append([]string(nil), td.PossibleTypes...),
	}
	switch td.Kind {
	case blueprint.KindInput:
		out.InputFields = make([]*schema.InputValue, 0, len(td.Fields))
		for _, fd := range td.Fields {
			out.InputFields = append(out.InputFields, &schema.InputValue{
				Name: fd.Name,
				Type: convertTypeRef(fd.Type),
			})
		}
	case blueprint.KindEnum:
		out.EnumValues = make([]*schema.EnumValue, 0, len(td.EnumValues))
		for _, v := range td.EnumValues {
			out.EnumValues = append(out.EnumValues, &schema.EnumValue{Name: v})
		}
	case blueprint.KindScalar:
		// No further structure.
	default: // Object, Interface
		out.Fields = make([]*schema.Field, 0, len(td.Fields))
		for _, fd := range td.Fields {
			out.Fields = append(out.Fields, convertFieldDef(fd))
		}
	}
	return out
}

func convertFieldDef(fd *blueprint.FieldDef) *schema.Field {
	args := make([]*schema.InputValue, 0, len(fd.Args))
	for _, a := range fd.Args {
		args = append(args, &schema.InputValue{
			Name:         a.Name,
			Type:         convertTypeRef(a.Type),
			DefaultValue: a.DefaultValue,
		})
	}
	return &schema.Field{
		Name:      fd.Name,
		Type:      convertTypeRef(fd.Type),
		Arguments: args,
		Async:     blueprint.HasIO(fd.Resolver),
	}
}

func convertTypeDefKind(k blueprint.TypeDefKind) schema.TypeKind {
	switch k {
	case blueprint.KindObject:
		return schema.TypeKindObject
	case blueprint.KindInterface:
		return schema.TypeKindInterface
	case blueprint.KindUnion:
		return schema.TypeKindUnion
	case blueprint.KindInput:
		return schema.TypeKindInputObject
	case blueprint.KindEnum:
		return schema.TypeKindEnum
	case blueprint.KindScalar:
		return schema.TypeKindScalar
	default:
		return schema.TypeKindScalar
	}
}

func convertTypeRef(t *blueprint.Type) *schema.TypeRef {
	if t == nil {
		return nil
	}
	var ref *schema.TypeRef
	if t.List {
		ref = &schema.TypeRef{Kind: schema.TypeRefKindList, OfType: convertTypeRef(t.Of)}
	} else {
		ref = &schema.TypeRef{Kind: schema.TypeRefKindNamed, Named: t.Named}
	}
	if t.NonNull {
		return &schema.TypeRef{Kind: schema.TypeRefKindNonNull, OfType: ref}
	}
	return ref
}
