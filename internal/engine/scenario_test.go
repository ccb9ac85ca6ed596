package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/tailcallhq/tailcall-go/internal/blueprint"
	"github.com/tailcallhq/tailcall-go/internal/executor"
	"github.com/tailcallhq/tailcall-go/internal/mustache"
	"github.com/tailcallhq/tailcall-go/internal/reqtemplate"
	"github.com/tailcallhq/tailcall-go/internal/rescache"
	"github.com/tailcallhq/tailcall-go/internal/runtime"
)

// scenarioHTTPClient is a fake runtime.HTTPClient that records every call it
// receives and answers from a small set of canned upstream endpoints, so a
// test can assert on exactly how many upstream round trips a resolution
// made rather than merely on the final GraphQL value.
type scenarioHTTPClient struct {
	mu    sync.Mutex
	calls []*url.URL
}

func (c *scenarioHTTPClient) Execute(_ context.Context, req *http.Request) (*runtime.Response, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req.URL)
	c.mu.Unlock()

	switch req.URL.Path {
	case "/posts":
		return jsonResponse(postsFixture), nil
	case "/users":
		ids := req.URL.Query()["id"]
		return jsonResponse(usersFor(ids)), nil
	case "/cached-a":
		return jsonResponse(map[string]any{"v": "a"}), nil
	case "/cached-b":
		return jsonResponse(map[string]any{"v": "b"}), nil
	default:
		return nil, fmt.Errorf("scenarioHTTPClient: unexpected path %s", req.URL.Path)
	}
}

func (c *scenarioHTTPClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

func (c *scenarioHTTPClient) countPath(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, u := range c.calls {
		if u.Path == path {
			n++
		}
	}
	return n
}

func jsonResponse(v any) *runtime.Response {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return &runtime.Response{Status: 200, Headers: http.Header{}, Body: body}
}

var postsFixture = func() []any {
	// 10 posts referencing only 5 distinct userIds, so a correct group-by
	// loader still collapses to one merged upstream call: the duplicate
	// userIds are already deduplicated by the per-request loader's own
	// key cache before batchGrouped ever runs.
	out := make([]any, 10)
	for i := range out {
		out[i] = map[string]any{
			"id":     fmt.Sprintf("p%d", i+1),
			"userId": fmt.Sprintf("u%d", (i%5)+1),
		}
	}
	return out
}()

func usersFor(ids []string) []any {
	seen := make(map[string]bool, len(ids))
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, map[string]any{"id": id, "name": "name-" + id})
	}
	return out
}

func httpTemplate(path string, query []reqtemplate.Param) *reqtemplate.Template {
	return &reqtemplate.Template{
		Kind:    reqtemplate.Http,
		Method:  "GET",
		BaseURL: mustache.Parse("http://api.example"),
		Path:    mustache.Parse(path),
		Query:   query,
	}
}

// scenarioBlueprint hand-builds the one HTTP-kind blueprint every S1/S2/S3/S6
// scenario below drives: Query.posts fetches a list directly, Post.user
// coalesces through a group-by loader, Query.userByID exercises the
// dedupe-only (non-grouped) loader path, and Query.cachedA/cachedB each wrap
// an IO node in a Cache node sharing one runtime.Cache across requests.
func scenarioBlueprint() *blueprint.Blueprint {
	postsIR := &blueprint.IR{
		Kind:    blueprint.IRIO,
		IOKind:  blueprint.IOHttp,
		DLID:    -1,
		ReqTmpl: httpTemplate("/posts", nil),
	}
	userGroupedIR := &blueprint.IR{
		Kind:    blueprint.IRIO,
		IOKind:  blueprint.IOHttp,
		DLID:    0,
		GroupBy: []string{"value", "userId"},
		ReqTmpl: httpTemplate("/users", []reqtemplate.Param{{Key: "id", Value: mustache.Parse("{{value.userId}}")}}),
	}
	userByIDIR := &blueprint.IR{
		Kind:    blueprint.IRIO,
		IOKind:  blueprint.IOHttp,
		DLID:    1,
		ReqTmpl: httpTemplate("/users", []reqtemplate.Param{{Key: "id", Value: mustache.Parse("{{args.id}}")}}),
	}
	cachedAIR := &blueprint.IR{
		Kind:          blueprint.IRCache,
		CacheMaxAgeMS: 300_000,
		Inner: &blueprint.IR{
			Kind: blueprint.IRIO, IOKind: blueprint.IOHttp, DLID: -1,
			ReqTmpl: httpTemplate("/cached-a", nil),
		},
	}
	cachedBIR := &blueprint.IR{
		Kind:          blueprint.IRCache,
		CacheMaxAgeMS: 120_000,
		Inner: &blueprint.IR{
			Kind: blueprint.IRIO, IOKind: blueprint.IOHttp, DLID: -1,
			ReqTmpl: httpTemplate("/cached-b", nil),
		},
	}

	return &blueprint.Blueprint{
		QueryType:       "Query",
		DataLoaderCount: 2,
		Loaders: []blueprint.LoaderSpec{
			{DLID: 0, Kind: reqtemplate.Http, GroupBy: []string{"id"}, Template: userGroupedIR.ReqTmpl},
			{DLID: 1, Kind: reqtemplate.Http, Template: userByIDIR.ReqTmpl},
		},
		Types: map[string]*blueprint.TypeDef{
			"Query": {
				Kind: blueprint.KindObject,
				Name: "Query",
				Fields: map[string]*blueprint.FieldDef{
					"posts":    {Name: "posts", Type: blueprint.ListType(blueprint.NamedType("Post", false), false), Resolver: postsIR},
					"userByID": {Name: "userByID", Type: blueprint.NamedType("User", false), Args: []blueprint.ArgumentDef{{Name: "id", Type: blueprint.NamedType("ID", true)}}, Resolver: userByIDIR},
					"cachedA":  {Name: "cachedA", Type: blueprint.NamedType("JSON", false), Resolver: cachedAIR},
					"cachedB":  {Name: "cachedB", Type: blueprint.NamedType("JSON", false), Resolver: cachedBIR},
				},
			},
			"Post": {
				Kind: blueprint.KindObject,
				Name: "Post",
				Fields: map[string]*blueprint.FieldDef{
					"id":   {Name: "id", Type: blueprint.NamedType("ID", false)},
					"user": {Name: "user", Type: blueprint.NamedType("User", false), Resolver: userGroupedIR},
				},
			},
			"User": {
				Kind: blueprint.KindObject,
				Name: "User",
				Fields: map[string]*blueprint.FieldDef{
					"id":   {Name: "id", Type: blueprint.NamedType("ID", false)},
					"name": {Name: "name", Type: blueprint.NamedType("String", false)},
				},
			},
		},
	}
}

// TestScenario_S1_GroupByLoaderCollapsesNPlus1 resolves 10 posts and every
// post's user field concurrently (the same breadth-first depth the real
// Executor drives BatchResolveAsync at) and asserts the group-by loader
// folds the resulting 10 lookups, covering only 5 distinct userIds, into a
// single merged upstream call: 2 upstream calls total instead of 11.
func TestScenario_S1_GroupByLoaderCollapsesNPlus1(t *testing.T) {
	client := &scenarioHTTPClient{}
	eng := New(scenarioBlueprint())
	rc := NewRequestContext(runtime.Runtime{Http: client, Env: runtime.OSEnv{}}, eng.Blueprint, http.Header{})
	ctx := WithRequestContext(context.Background(), rc)

	postsRes := eng.BatchResolveAsync(ctx, []executor.AsyncResolveTask{{ObjectType: "Query", Field: "posts"}})
	if err := postsRes[0].Error; err != nil {
		t.Fatalf("resolving posts: %v", err)
	}
	posts := postsRes[0].Value.([]any)
	if len(posts) != 10 {
		t.Fatalf("got %d posts, want 10", len(posts))
	}

	tasks := make([]executor.AsyncResolveTask, len(posts))
	for i, p := range posts {
		tasks[i] = executor.AsyncResolveTask{ObjectType: "Post", Field: "user", Source: p}
	}
	userResults := eng.BatchResolveAsync(ctx, tasks)
	for i, r := range userResults {
		if r.Error != nil {
			t.Fatalf("resolving posts[%d].user: %v", i, r.Error)
		}
		want := posts[i].(map[string]any)["userId"]
		got := r.Value.(map[string]any)["id"]
		if got != want {
			t.Fatalf("posts[%d].user.id = %v, want %v", i, got, want)
		}
	}

	if got := client.countPath("/posts"); got != 1 {
		t.Fatalf("/posts calls = %d, want 1", got)
	}
	if got := client.countPath("/users"); got != 1 {
		t.Fatalf("/users calls = %d, want 1 (group-by merge), saw %d total requests for 10 posts", got, len(client.calls))
	}
	if got := len(client.calls); got != 2 {
		t.Fatalf("total upstream calls = %d, want 2", got)
	}
}

// TestScenario_S2_DedupeOnlyLoaderCollapsesIdenticalCalls concurrently
// resolves two aliased fields requesting the exact same argument through the
// non-grouped loader slot and asserts the loader's own per-key cache
// collapses them into one upstream call.
func TestScenario_S2_DedupeOnlyLoaderCollapsesIdenticalCalls(t *testing.T) {
	client := &scenarioHTTPClient{}
	eng := New(scenarioBlueprint())
	rc := NewRequestContext(runtime.Runtime{Http: client, Env: runtime.OSEnv{}}, eng.Blueprint, http.Header{})
	ctx := WithRequestContext(context.Background(), rc)

	tasks := []executor.AsyncResolveTask{
		{ObjectType: "Query", Field: "userByID", Args: map[string]any{"id": "u7"}},
		{ObjectType: "Query", Field: "userByID", Args: map[string]any{"id": "u7"}},
	}
	results := eng.BatchResolveAsync(ctx, tasks)
	for i, r := range results {
		if r.Error != nil {
			t.Fatalf("resolving userByID[%d]: %v", i, r.Error)
		}
		if got := r.Value.(map[string]any)["id"]; got != "u7" {
			t.Fatalf("userByID[%d].id = %v, want u7", i, got)
		}
	}
	if got := client.countPath("/users"); got != 1 {
		t.Fatalf("/users calls = %d, want 1 for two identical aliased requests", got)
	}
}

// TestScenario_S3_CacheHitAcrossRequestsSkipsUpstream drives the same
// Cache-wrapped IO node from two independent RequestContexts sharing one
// runtime.Cache, and asserts the second request's hit within the TTL issues
// zero further upstream calls.
func TestScenario_S3_CacheHitAcrossRequestsSkipsUpstream(t *testing.T) {
	client := &scenarioHTTPClient{}
	cache := rescache.NewMemoryCache(10)
	defer cache.Close()
	eng := New(scenarioBlueprint())
	rt := runtime.Runtime{Http: client, Cache: cache, Env: runtime.OSEnv{}}

	rc1 := NewRequestContext(rt, eng.Blueprint, http.Header{})
	ctx1 := WithRequestContext(context.Background(), rc1)
	v1, err := eng.ResolveSync(ctx1, "Query", "cachedA", nil, nil)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if v1.(map[string]any)["v"] != "a" {
		t.Fatalf("first request value = %v, want {v: a}", v1)
	}
	if got := client.countPath("/cached-a"); got != 1 {
		t.Fatalf("/cached-a calls after first request = %d, want 1", got)
	}

	rc2 := NewRequestContext(rt, eng.Blueprint, http.Header{})
	ctx2 := WithRequestContext(context.Background(), rc2)
	v2, err := eng.ResolveSync(ctx2, "Query", "cachedA", nil, nil)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if v2.(map[string]any)["v"] != "a" {
		t.Fatalf("second request value = %v, want {v: a}", v2)
	}
	if got := client.countPath("/cached-a"); got != 1 {
		t.Fatalf("/cached-a calls after second (cache-hit) request = %d, want still 1", got)
	}
}

// TestScenario_S6_CacheControlFoldsToLowerMaxAge resolves two Cache-wrapped
// IO fields of the same request concurrently and asserts the request's
// Cache-Control accumulator folds to the lower of the two declared max-ages.
func TestScenario_S6_CacheControlFoldsToLowerMaxAge(t *testing.T) {
	client := &scenarioHTTPClient{}
	cache := rescache.NewMemoryCache(10)
	defer cache.Close()
	eng := New(scenarioBlueprint())
	rt := runtime.Runtime{Http: client, Cache: cache, Env: runtime.OSEnv{}}
	rc := NewRequestContext(rt, eng.Blueprint, http.Header{})
	ctx := WithRequestContext(context.Background(), rc)

	results := eng.BatchResolveAsync(ctx, []executor.AsyncResolveTask{
		{ObjectType: "Query", Field: "cachedA"},
		{ObjectType: "Query", Field: "cachedB"},
	})
	for i, r := range results {
		if r.Error != nil {
			t.Fatalf("resolving task %d: %v", i, r.Error)
		}
	}

	maxAge, ok := rc.CacheControlMaxAgeMS()
	if !ok {
		t.Fatal("expected a folded Cache-Control max-age after two cached IOs")
	}
	if maxAge != 120_000 {
		t.Fatalf("folded max-age = %d, want 120000 (the lower of 300000 and 120000)", maxAge)
	}
}
