package blueprint

import (
	"fmt"
	"sort"

	"github.com/tailcallhq/tailcall-go/internal/ir"
	"github.com/tailcallhq/tailcall-go/internal/mustache"
	"github.com/tailcallhq/tailcall-go/internal/reqtemplate"
)

// FieldMeta overlays the directive metadata the compiler front-end has no
// notion of — cache TTL, auth protection, rate-limit grouping, response
// headers — onto a field identified by "Type.Field". The front-end that
// produces an ir.Project resolves @load/@resolve into Resolver/Loader
// bindings but carries no @cache/@protected/@rateLimit equivalent, so a
// deployment supplies this overlay (e.g. from a sidecar config file)
// rather than LinkProject inventing directive syntax of its own.
type FieldMeta struct {
	CacheMaxAgeMS   *int64
	Protected       bool
	RateLimitGroup  string
	ResponseHeaders map[string]string
}

// LinkProject compiles a discovered ir.Project into an immutable
// Blueprint: type definitions carry over structurally, and each field's
// ResolveBySource/ResolveByResolver/ResolveByLoader binding becomes an
// evaluable IR tree. Loader-backed fields are assigned dense dl_id slots
// recorded in Blueprint.Loaders so a RequestContext can build its
// per-request loader vector without re-walking the graph.
//
// Resolver/Loader-backed fields compile to an IOKind Grpc node carrying
// the owning type name and field name as Service/Method — real dynamic
// dispatch for these stays with the existing protoreg/grpcrt registries,
// reached through the runtime.GrpcInvoker capability, rather than
// reimplementing protobuf message construction here.
func LinkProject(proj *ir.Project, meta map[string]FieldMeta) (*Blueprint, error) {
	bp := &Blueprint{
		Types: make(map[string]*TypeDef, len(proj.Definitions)),
	}
	if proj.Schema != nil {
		bp.QueryType = proj.Schema.QueryType
		bp.MutationType = proj.Schema.MutationType
	}

	linker := &linker{proj: proj, meta: meta, bp: bp}
	names := make([]string, 0, len(proj.Definitions))
	for name := range proj.Definitions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := proj.Definitions[name]
		td, err := linker.linkDefinition(name, def)
		if err != nil {
			return nil, err
		}
		if td != nil {
			bp.Types[name] = td
		}
	}

	bp.DataLoaderCount = linker.nextDLID
	bp.Loaders = linker.loaders
	return bp, nil
}

type linker struct {
	proj     *ir.Project
	meta     map[string]FieldMeta
	bp       *Blueprint
	nextDLID int
	loaders  []LoaderSpec
}

func (l *linker) linkDefinition(name string, def *ir.Definition) (*TypeDef, error) {
	switch {
	case def.Object != nil:
		return l.linkObjectLike(def.Object.Name, KindObject, def.Object.Fields)
	case def.Interface != nil:
		td, err := l.linkObjectLike(def.Interface.Name, KindInterface, def.Interface.Fields)
		if err != nil {
			return nil, err
		}
		td.PossibleTypes = append([]string(nil), def.Interface.PossibleTypes...)
		return td, nil
	case def.Union != nil:
		possible := make([]string, 0, len(def.Union.Types))
		for _, t := range def.Union.Types {
			possible = append(possible, t.Name)
		}
		sort.Strings(possible)
		return &TypeDef{Kind: KindUnion, Name: def.Union.Name, PossibleTypes: possible}, nil
	case def.Input != nil:
		fields := make(map[string]*FieldDef, len(def.Input.InputValues))
		for fname, iv := range def.Input.InputValues {
			fields[fname] = &FieldDef{Name: iv.Name, Type: convertType(iv.Type)}
		}
		return &TypeDef{Kind: KindInput, Name: def.Input.Name, Fields: fields}, nil
	case def.Enum != nil:
		values := make([]string, 0, len(def.Enum.Values))
		for _, v := range def.Enum.OrderedValues() {
			values = append(values, v.Name)
		}
		return &TypeDef{Kind: KindEnum, Name: def.Enum.Name, EnumValues: values}, nil
	case def.Scalar != nil:
		return &TypeDef{Kind: KindScalar, Name: def.Scalar.Name}, nil
	default:
		return nil, fmt.Errorf("blueprint: definition %q has no populated variant", name)
	}
}

func (l *linker) linkObjectLike(typeName string, kind TypeDefKind, fields map[string]*ir.FieldDefinition) (*TypeDef, error) {
	out := make(map[string]*FieldDef, len(fields))
	for fname, fd := range fields {
		compiled, err := l.linkField(typeName, fd)
		if err != nil {
			return nil, err
		}
		out[fname] = compiled
	}
	return &TypeDef{Kind: kind, Name: typeName, Fields: out}, nil
}

func (l *linker) linkField(typeName string, fd *ir.FieldDefinition) (*FieldDef, error) {
	args := make([]ArgumentDef, 0, len(fd.Args))
	argNames := make([]string, 0, len(fd.Args))
	for n := range fd.Args {
		argNames = append(argNames, n)
	}
	sort.Strings(argNames)
	for _, n := range argNames {
		a := fd.Args[n]
		args = append(args, ArgumentDef{Name: a.Name, Type: convertType(a.Type), DefaultValue: a.DefaultValue})
	}

	field := &FieldDef{
		Name: fd.Name,
		Args: args,
		Type: convertType(fd.Type),
	}

	if m, ok := l.meta[typeName+"."+fd.Name]; ok {
		field.CacheMaxAgeMS = m.CacheMaxAgeMS
		field.Protected = m.Protected
		field.RateLimitGroup = m.RateLimitGroup
		field.ResponseHeaders = m.ResponseHeaders
	}

	resolver, err := l.linkResolver(typeName, fd)
	if err != nil {
		return nil, err
	}
	if field.CacheMaxAgeMS != nil && resolver != nil {
		resolver = WrapCache(resolver, *field.CacheMaxAgeMS)
	}
	field.Resolver = resolver
	return field, nil
}

// linkResolver compiles one field's binding into an IR tree. Grpc-kind IO
// nodes carry Service/Method as (typeName, fd.Name) rather than the
// resolver/loader's own ID, so a runtime.GrpcInvoker can dispatch through
// the same (objectType, field) keyed registries grpcrt.Registry already
// exposes, without LinkProject needing to know anything about descriptor
// lookup itself.
func (l *linker) linkResolver(typeName string, fd *ir.FieldDefinition) (*IR, error) {
	switch {
	case fd.ResolveBySource != nil:
		return &IR{Kind: IRContext, ContextPath: []string{"value", fd.ResolveBySource.SourceField}}, nil

	case fd.ResolveByResolver != nil:
		resolverDef, ok := l.proj.Resolvers[fd.ResolveByResolver.ResolverID]
		if !ok {
			return nil, fmt.Errorf("blueprint: resolver %q referenced by field %q not found", fd.ResolveByResolver.ResolverID, fd.Name)
		}
		dlid := -1
		if resolverDef.Batch {
			dlid = l.nextDLID
			l.nextDLID++
			l.loaders = append(l.loaders, LoaderSpec{DLID: dlid, Kind: reqtemplate.Grpc})
		}
		return &IR{
			Kind:     IRIO,
			IOKind:   IOGrpc,
			ReqTmpl:  &reqtemplate.Template{Kind: reqtemplate.Grpc, Grpc: &reqtemplate.GrpcOperation{Service: typeName, Method: fd.Name}},
			GrpcArgs: grpcArgBindings(resolverDef.OrderedArgs(), fd.ResolveByResolver.With),
			DLID:     dlid,
		}, nil

	case fd.ResolveByLoader != nil:
		loaderDef, ok := l.proj.Loaders[fd.ResolveByLoader.LoaderID]
		if !ok {
			return nil, fmt.Errorf("blueprint: loader %q referenced by field %q not found", fd.ResolveByLoader.LoaderID, fd.Name)
		}
		dlid := l.nextDLID
		l.nextDLID++
		l.loaders = append(l.loaders, LoaderSpec{DLID: dlid, Kind: reqtemplate.Grpc, GroupBy: append([]string(nil), loaderDef.KeyFields...)})

		keys := make([]string, 0, len(fd.ResolveByLoader.With))
		for k := range fd.ResolveByLoader.With {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		bindings := make(map[string]mustache.Template, len(keys))
		for _, k := range keys {
			bindings[k] = mustache.Parse("{{value." + fd.ResolveByLoader.With[k] + "}}")
		}

		return &IR{
			Kind:     IRIO,
			IOKind:   IOGrpc,
			ReqTmpl:  &reqtemplate.Template{Kind: reqtemplate.Grpc, Grpc: &reqtemplate.GrpcOperation{Service: typeName, Method: fd.Name}},
			GrpcArgs: bindings,
			DLID:     dlid,
		}, nil

	default:
		// No explicit binding: the field resolves from the parent
		// value's same-named key, the compiler's own fallback for
		// non-root fields with no directive applied.
		return &IR{Kind: IRContext, ContextPath: []string{"value", fd.Name}}, nil
	}
}

// grpcArgBindings binds each of a resolver's arguments to a mustache
// path: arguments the `with` mapping covers read from the parent value
// (the compiler's with-mapping direction is requestArg -> parentField),
// everything else is a genuine caller-supplied GraphQL argument.
func grpcArgBindings(args []*ir.MethodArg, with map[string]string) map[string]mustache.Template {
	out := make(map[string]mustache.Template, len(args))
	for _, a := range args {
		if parentField, ok := with[a.Name]; ok {
			out[a.Name] = mustache.Parse("{{value." + parentField + "}}")
		} else {
			out[a.Name] = mustache.Parse("{{args." + a.Name + "}}")
		}
	}
	return out
}

func convertType(t *ir.TypeExpr) *Type {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case ir.TypeExprKindNamed:
		return &Type{Named: t.Named}
	case ir.TypeExprKindList:
		return &Type{Of: convertType(t.OfType), List: true}
	case ir.TypeExprKindNonNull:
		inner := convertType(t.OfType)
		if inner == nil {
			return &Type{NonNull: true}
		}
		wrapped := *inner
		wrapped.NonNull = true
		return &wrapped
	default:
		return &Type{Named: "Unknown"}
	}
}
