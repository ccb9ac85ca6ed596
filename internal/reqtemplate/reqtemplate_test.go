package reqtemplate

import (
	"strings"
	"testing"

	"github.com/tailcallhq/tailcall-go/internal/mustache"
)

func ctxWith(roots map[string]any) mustache.PathResolver {
	return mustache.PathResolverFunc(func(parts []string) (any, bool) {
		if len(parts) == 0 {
			return nil, false
		}
		cur, ok := roots[parts[0]]
		if !ok {
			return nil, false
		}
		for _, p := range parts[1:] {
			m, ok2 := cur.(map[string]any)
			if !ok2 {
				return nil, false
			}
			cur, ok2 = m[p]
			if !ok2 {
				return nil, false
			}
		}
		return cur, true
	})
}

func TestToRequest_RendersMissingHeaderAsEmpty(t *testing.T) {
	tmpl := &Template{
		Kind:    Http,
		Method:  "GET",
		BaseURL: mustache.Parse("https://api.example.com"),
		Path:    mustache.Parse("/users/{{args.id}}"),
		Query: []Param{
			{Key: "lang", Value: mustache.Parse("{{headers.accept-language}}")},
		},
	}
	ctx := ctxWith(map[string]any{
		"args":    map[string]any{"id": 42},
		"headers": map[string]any{},
	})

	req, err := tmpl.ToRequest(ctx)
	if err != nil {
		t.Fatalf("ToRequest: %v", err)
	}
	want := "https://api.example.com/users/42?lang="
	if req.URL != want {
		t.Fatalf("URL = %q, want %q", req.URL, want)
	}
}

func TestToRequest_RendersGroupByQueryParamPerValue(t *testing.T) {
	tmpl := &Template{
		Kind:    Http,
		Method:  "GET",
		BaseURL: mustache.Parse("https://api.example.com"),
		Path:    mustache.Parse("/users"),
		Query: []Param{
			{Key: "id", Value: mustache.Parse("{{value.userId}}")},
		},
	}
	for _, id := range []int{1, 2, 3} {
		ctx := ctxWith(map[string]any{"value": map[string]any{"userId": id}})
		req, err := tmpl.ToRequest(ctx)
		if err != nil {
			t.Fatalf("ToRequest(%d): %v", id, err)
		}
		if !strings.Contains(req.URL, "id=") {
			t.Fatalf("expected id query param in %q", req.URL)
		}
	}
}

func TestToRequest_InvalidHeaderValueRejected(t *testing.T) {
	tmpl := &Template{
		Kind:    Http,
		Method:  "GET",
		BaseURL: mustache.Parse("https://api.example.com"),
		Path:    mustache.Parse("/x"),
		Headers: map[string]mustache.Template{
			"x-trace": mustache.Parse("{{args.bad}}"),
		},
	}
	ctx := ctxWith(map[string]any{"args": map[string]any{"bad": "line1\r\nline2"}})
	if _, err := tmpl.ToRequest(ctx); err == nil {
		t.Fatalf("expected TemplateError for invalid header value")
	}
}

func TestToRequest_GraphQLBody(t *testing.T) {
	tmpl := &Template{
		Kind:    GraphQL,
		Method:  "POST",
		BaseURL: mustache.Parse("https://upstream.example.com/graphql"),
		Path:    mustache.Parse(""),
		Body:    mustache.Parse("{ user(id: {{args.id}}) { id } }"),
		GraphQL: &GraphQLOperation{Field: "user", Alias: "a0"},
	}
	ctx := ctxWith(map[string]any{"args": map[string]any{"id": 1}})
	req, err := tmpl.ToRequest(ctx)
	if err != nil {
		t.Fatalf("ToRequest: %v", err)
	}
	if !strings.Contains(string(req.Body), `"query"`) {
		t.Fatalf("expected query field in body, got %s", req.Body)
	}
}

func TestCanonicalKey_IgnoresUndeclaredHeaders(t *testing.T) {
	tmpl := &Template{
		Kind:    Http,
		Method:  "GET",
		BaseURL: mustache.Parse("https://api.example.com"),
		Path:    mustache.Parse("/x"),
		Headers: map[string]mustache.Template{
			"authorization": mustache.Parse("{{headers.authorization}}"),
			"x-request-id":  mustache.Parse("{{headers.x-request-id}}"),
		},
	}
	ctxA := ctxWith(map[string]any{"headers": map[string]any{"authorization": "tok", "x-request-id": "a"}})
	ctxB := ctxWith(map[string]any{"headers": map[string]any{"authorization": "tok", "x-request-id": "b"}})

	reqA, _ := tmpl.ToRequest(ctxA)
	reqB, _ := tmpl.ToRequest(ctxB)

	keyA := reqA.CanonicalKey([]string{"authorization"})
	keyB := reqB.CanonicalKey([]string{"authorization"})
	if string(keyA) != string(keyB) {
		t.Fatalf("expected keys to match when only an undeclared header differs")
	}
}
