// Package mustache implements the minimal "{{a.b.c}}" templating language
// used throughout request templates and blueprint field resolvers.
//
// A Template is a parsed sequence of Segments: literal text interleaved
// with path expressions. Expressions never escape their braces; there is
// no support for sections, partials, or lambdas on purpose, since every
// hole a request template needs is a single dotted path into a value tree.
package mustache

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Segment is either a literal run of text or a path expression.
type Segment struct {
	Literal    string
	Expression []string
	isExpr     bool
}

func (s Segment) IsExpression() bool { return s.isExpr }

func (s Segment) String() string {
	if !s.isExpr {
		return s.Literal
	}
	return "{{." + strings.Join(s.Expression, ".") + "}}"
}

// Template is a parsed mustache string.
type Template struct {
	segments []Segment
}

// Parse reads src and splits it into literal and expression segments.
// An unterminated "{{" is treated as a literal rather than an error,
// matching the teacher's tolerant approach to malformed directive text.
func Parse(src string) Template {
	var segs []Segment
	var lit strings.Builder
	flushLit := func() {
		if lit.Len() > 0 {
			segs = append(segs, Segment{Literal: lit.String()})
			lit.Reset()
		}
	}

	i := 0
	for i < len(src) {
		if i+1 < len(src) && src[i] == '{' && src[i+1] == '{' {
			end := strings.Index(src[i+2:], "}}")
			if end < 0 {
				lit.WriteString(src[i:])
				break
			}
			raw := strings.TrimSpace(src[i+2 : i+2+end])
			raw = strings.TrimPrefix(raw, ".")
			flushLit()
			var parts []string
			if raw != "" {
				parts = strings.Split(raw, ".")
			}
			segs = append(segs, Segment{Expression: parts, isExpr: true})
			i += 2 + end + 2
			continue
		}
		lit.WriteByte(src[i])
		i++
	}
	flushLit()
	return Template{segments: segs}
}

// Segments returns the parsed segment list.
func (t Template) Segments() []Segment { return t.segments }

// IsConst reports whether the template contains no expressions, meaning
// Render always produces the same literal string regardless of context.
func (t Template) IsConst() bool {
	for _, s := range t.segments {
		if s.isExpr {
			return false
		}
	}
	return true
}

// ExpressionSegments returns the dotted path of every expression hole,
// used by callers that need to know which context roots a template reads
// from without actually evaluating it (e.g. data-loader key derivation).
func (t Template) ExpressionSegments() [][]string {
	var out [][]string
	for _, s := range t.segments {
		if s.isExpr {
			out = append(out, s.Expression)
		}
	}
	return out
}

// Contains reports whether any expression's path equals the given dotted
// expression, written without braces (e.g. "args.id").
func (t Template) Contains(expression string) bool {
	want := strings.Split(expression, ".")
	for _, s := range t.segments {
		if !s.isExpr {
			continue
		}
		if len(s.Expression) != len(want) {
			continue
		}
		match := true
		for i := range want {
			if s.Expression[i] != want[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func (t Template) String() string {
	var b strings.Builder
	for _, s := range t.segments {
		b.WriteString(s.String())
	}
	return b.String()
}

// PathResolver looks up the value at a dotted path rooted at one of the
// context's named roots (args, value, headers, vars, env, ...). It returns
// ok=false when no value exists at that path, which Render treats as an
// empty string rather than an error.
type PathResolver interface {
	PathValue(parts []string) (any, bool)
}

// PathResolverFunc adapts a function to PathResolver.
type PathResolverFunc func(parts []string) (any, bool)

func (f PathResolverFunc) PathValue(parts []string) (any, bool) { return f(parts) }

// Render evaluates the template against ctx, preserving the shape of the
// single-expression case (an object template renders to an object, not a
// stringified object) and falling back to string concatenation once two or
// more segments are present, mirroring the teacher's literal+expression
// render pipeline.
func (t Template) Render(ctx PathResolver) (any, error) {
	switch len(t.segments) {
	case 0:
		return nil, nil
	case 1:
		return renderSegment(ctx, t.segments[0])
	default:
		var errs []error
		var b strings.Builder
		for _, seg := range t.segments {
			v, err := renderSegment(ctx, seg)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			b.WriteString(stringifySegmentValue(v))
		}
		if len(errs) > 0 {
			return nil, joinErrors(errs)
		}
		return b.String(), nil
	}
}

// RenderString always returns the string form, for callers (URLs, header
// values, gRPC field paths) that have no use for preserving JSON shape.
func (t Template) RenderString(ctx PathResolver) (string, error) {
	v, err := t.Render(ctx)
	if err != nil {
		return "", err
	}
	return stringifySegmentValue(v), nil
}

func renderSegment(ctx PathResolver, seg Segment) (any, error) {
	if !seg.isExpr {
		return seg.Literal, nil
	}
	raw, ok := ctx.PathValue(seg.Expression)
	if !ok || raw == nil {
		return "", nil
	}
	if s, isStr := raw.(string); isStr {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			return decoded, nil
		}
		return s, nil
	}
	return raw, nil
}

func stringifySegmentValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprintf("%v", s)
		}
		return string(b)
	}
}

func joinErrors(errs []error) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("mustache: %s", strings.Join(msgs, "; "))
}
