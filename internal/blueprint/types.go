// Package blueprint defines the compiled, immutable schema+IR graph that
// the runtime consumes: type definitions, the IR sum type that resolves
// each field, and the directive metadata (cache TTL, protection,
// rate-limit group, output shape) attached to fields by the compiler.
//
// A Blueprint is built once at process start by LinkProject and shared
// read-only across every request; nothing in this package mutates a
// Blueprint after construction.
package blueprint

import (
	"github.com/tailcallhq/tailcall-go/internal/jsonshape"
	"github.com/tailcallhq/tailcall-go/internal/mustache"
	"github.com/tailcallhq/tailcall-go/internal/reqtemplate"
)

// Blueprint is the immutable, process-global compiled schema.
type Blueprint struct {
	QueryType    string
	MutationType string
	Types        map[string]*TypeDef

	// DataLoaderCount is the dense size of the per-request data-loader
	// vector; dl_id indices assigned to IO nodes are < DataLoaderCount.
	DataLoaderCount int

	// Loaders describes each data-loader slot so a fresh per-request
	// instance can be constructed without re-walking the IR graph.
	Loaders []LoaderSpec
}

// TypeDefKind distinguishes the GraphQL definition kinds a Blueprint
// carries over from the compiler front-end.
type TypeDefKind int

const (
	KindObject TypeDefKind = iota
	KindInterface
	KindUnion
	KindInput
	KindEnum
	KindScalar
)

// TypeDef is one named type definition in the schema.
type TypeDef struct {
	Kind   TypeDefKind
	Name   string
	Fields map[string]*FieldDef // Object, Interface, Input

	PossibleTypes []string // Interface, Union
	EnumValues    []string // Enum
}

// Type is the recursive Named/List/NonNull sum describing a field's
// declared output type or an argument's input type.
type Type struct {
	Named   string
	Of      *Type
	List    bool
	NonNull bool
}

func NamedType(name string, nonNull bool) *Type {
	return &Type{Named: name, NonNull: nonNull}
}

func ListType(of *Type, nonNull bool) *Type {
	return &Type{Of: of, List: true, NonNull: nonNull}
}

func (t *Type) String() string {
	if t == nil {
		return "Unknown"
	}
	var s string
	if t.List {
		s = "[" + t.Of.String() + "]"
	} else {
		s = t.Named
	}
	if t.NonNull {
		s += "!"
	}
	return s
}

// ArgumentDef describes one field argument.
type ArgumentDef struct {
	Name         string
	Type         *Type
	DefaultValue any
}

// FieldDef is one field of an Object/Interface/Input type, carrying the
// compiled IR resolver plus the directive-derived metadata that the
// runtime consults: cache TTL, auth protection, rate-limit grouping, and
// an optional declared output shape used for response validation.
type FieldDef struct {
	Name string
	Args []ArgumentDef
	Type *Type

	// Resolver is never nil in a Blueprint built by LinkProject, which
	// compiles parent-value fields to an IRContext node. A hand-built
	// Blueprint may leave it nil; the engine then reads the parent value's
	// matching JSON key.
	Resolver *IR

	CacheMaxAgeMS   *int64
	Protected       bool
	RateLimitGroup  string
	OutputShape     *jsonshape.Shape
	ResponseHeaders map[string]string
}

// LoaderSpec carries the static, per-blueprint configuration a
// dataloader.Loader needs to batch one IO node's traffic; DLID indexes
// into a RequestContext's per-request loader vector.
type LoaderSpec struct {
	DLID     int
	Kind     reqtemplate.Kind
	GroupBy  []string
	Template *reqtemplate.Template
}

// IRKind discriminates the nine evaluable IR variants.
type IRKind int

const (
	IRLiteral IRKind = iota
	IRContext
	IRDynamic
	IRIO
	IRCache
	IRPath
	IRIf
	IRMap
	IRCompose
)

func (k IRKind) String() string {
	switch k {
	case IRLiteral:
		return "Literal"
	case IRContext:
		return "Context"
	case IRDynamic:
		return "Dynamic"
	case IRIO:
		return "IO"
	case IRCache:
		return "Cache"
	case IRPath:
		return "Path"
	case IRIf:
		return "If"
	case IRMap:
		return "Map"
	case IRCompose:
		return "Compose"
	default:
		return "Unknown"
	}
}

// IOKind names the upstream protocol an IO node calls.
type IOKind int

const (
	IOHttp IOKind = iota
	IOGrpc
	IOGraphQL
)

// MapEntry is one key/value pair of a Map node's rewrite table; Key is
// compared to the inner result by deep JSON equality.
type MapEntry struct {
	Key   any
	Value any
}

// IR is the tagged expression tree that resolves one field. Exactly the
// fields matching Kind are populated; this mirrors the compiler's own
// Definition sum type, trading an interface hierarchy for a flat struct
// that is trivial to walk, rewrite (Modify), and serialize.
type IR struct {
	Kind IRKind

	Literal any // IRLiteral

	ContextPath []string // IRContext

	Dynamic *DynamicValue // IRDynamic

	IOKind     IOKind                // IRIO
	ReqTmpl    *reqtemplate.Template // IRIO
	GroupBy    []string              // IRIO, non-empty iff loader group-bys
	DLID       int                   // IRIO, -1 if uncoalesced
	FilterHook string                // IRIO, name of a registered request filter, "" if none
	Shape      *jsonshape.Shape      // IRIO, expected upstream response shape, nil if unchecked

	// GrpcArgs binds a Grpc-kind IO node's call arguments to mustache
	// paths; Grpc dispatch bypasses the HTTP request template entirely
	// since the actual call is a dynamic protobuf invocation performed
	// by a runtime.GrpcInvoker, not an HTTP round trip.
	GrpcArgs map[string]mustache.Template // IRIO, IOKind == IOGrpc only

	CacheMaxAgeMS int64 // IRCache
	Inner         *IR   // IRCache, IRPath

	PathSegments []string // IRPath

	Cond, Then, Else *IR // IRIf

	MapInner *IR        // IRMap
	MapTable []MapEntry // IRMap

	ComposeA, ComposeB *IR // IRCompose
}

// DynamicKind discriminates the Dynamic(Template) shapes a field may
// produce: a constant value, a single mustache template, or a composite
// object/array whose leaves are themselves dynamic.
type DynamicKind int

const (
	DynamicConst DynamicKind = iota
	DynamicTemplate
	DynamicObject
	DynamicArray
)

// DynamicValue is the recursive payload of an IRDynamic node.
type DynamicValue struct {
	Kind     DynamicKind
	Const    any
	Template mustache.Template
	Object   map[string]*DynamicValue
	Array    []*DynamicValue
}

// HasIO reports whether ir or any descendant is an IO node.
func HasIO(ir *IR) bool {
	if ir == nil {
		return false
	}
	switch ir.Kind {
	case IRIO:
		return true
	case IRDynamic:
		return dynamicHasIO(ir.Dynamic)
	case IRCache:
		return HasIO(ir.Inner)
	case IRPath:
		return HasIO(ir.Inner)
	case IRIf:
		return HasIO(ir.Cond) || HasIO(ir.Then) || HasIO(ir.Else)
	case IRMap:
		return HasIO(ir.MapInner)
	case IRCompose:
		return HasIO(ir.ComposeA) || HasIO(ir.ComposeB)
	default:
		return false
	}
}

func dynamicHasIO(d *DynamicValue) bool {
	if d == nil {
		return false
	}
	switch d.Kind {
	case DynamicObject:
		for _, v := range d.Object {
			if dynamicHasIO(v) {
				return true
			}
		}
		return false
	case DynamicArray:
		for _, v := range d.Array {
			if dynamicHasIO(v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// IsConst reports whether ir always evaluates to the same value
// regardless of evaluation context: no Context reads, no IO, and no
// non-const Dynamic leaves.
func IsConst(ir *IR) bool {
	if ir == nil {
		return true
	}
	switch ir.Kind {
	case IRLiteral:
		return true
	case IRContext:
		return false
	case IRDynamic:
		return dynamicIsConst(ir.Dynamic)
	case IRIO:
		return false
	case IRCache:
		return false
	case IRPath:
		return IsConst(ir.Inner)
	case IRIf:
		return IsConst(ir.Cond) && IsConst(ir.Then) && IsConst(ir.Else)
	case IRMap:
		return IsConst(ir.MapInner)
	case IRCompose:
		return IsConst(ir.ComposeA) && IsConst(ir.ComposeB)
	default:
		return false
	}
}

func dynamicIsConst(d *DynamicValue) bool {
	if d == nil {
		return true
	}
	switch d.Kind {
	case DynamicConst:
		return true
	case DynamicTemplate:
		return d.Template.IsConst()
	case DynamicObject:
		for _, v := range d.Object {
			if !dynamicIsConst(v) {
				return false
			}
		}
		return true
	case DynamicArray:
		for _, v := range d.Array {
			if !dynamicIsConst(v) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Modify rewrites ir bottom-up by applying f to every node, used by the
// linker to wrap every IO descendant in Cache{max_age} when a @cache
// directive is present on the owning field.
func Modify(ir *IR, f func(*IR) *IR) *IR {
	if ir == nil {
		return nil
	}
	rewritten := *ir
	switch ir.Kind {
	case IRCache, IRPath:
		rewritten.Inner = Modify(ir.Inner, f)
	case IRIf:
		rewritten.Cond = Modify(ir.Cond, f)
		rewritten.Then = Modify(ir.Then, f)
		rewritten.Else = Modify(ir.Else, f)
	case IRMap:
		rewritten.MapInner = Modify(ir.MapInner, f)
	case IRCompose:
		rewritten.ComposeA = Modify(ir.ComposeA, f)
		rewritten.ComposeB = Modify(ir.ComposeB, f)
	}
	return f(&rewritten)
}

// WrapCache wraps every IO descendant of ir (including ir itself, if it
// is an IO node) in a Cache node with the given max age, implementing the
// @cache directive's effect on a field's resolver tree.
func WrapCache(ir *IR, maxAgeMS int64) *IR {
	return Modify(ir, func(n *IR) *IR {
		if n.Kind == IRIO {
			return &IR{Kind: IRCache, CacheMaxAgeMS: maxAgeMS, Inner: n}
		}
		return n
	})
}
