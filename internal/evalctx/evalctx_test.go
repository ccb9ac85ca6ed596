package evalctx

import (
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tailcallhq/tailcall-go/internal/runtime"
)

type stubEnv struct{ vals map[string]string }

func (s stubEnv) Get(key string) (string, bool) {
	v, ok := s.vals[key]
	return v, ok
}

func newTestRequestContext() *RequestContext {
	rt := runtime.Runtime{Env: stubEnv{vals: map[string]string{"REGION": "us-east"}}}
	headers := http.Header{"X-Allowed": []string{"yes"}}
	return NewRequestContext(rt, headers, 0)
}

func TestPathValue_ArgsValueVarsEnvRoots(t *testing.T) {
	rc := newTestRequestContext()
	ec := EvaluationContext{
		Request: rc,
		Args:    map[string]any{"id": "7"},
		Value:   map[string]any{"name": "ada"},
		Vars:    map[string]string{"region": "eu"},
	}

	cases := []struct {
		path []string
		want any
	}{
		{[]string{"args", "id"}, "7"},
		{[]string{"value", "name"}, "ada"},
		{[]string{"headers", "X-Allowed"}, "yes"},
		{[]string{"vars", "region"}, "eu"},
		{[]string{"env", "REGION"}, "us-east"},
	}
	for _, c := range cases {
		got, ok := ec.PathValue(c.path)
		if !ok || got != c.want {
			t.Fatalf("PathValue(%v) = %v, %v; want %v, true", c.path, got, ok, c.want)
		}
	}
}

func TestPathValue_MissingLookupReportsNotOK(t *testing.T) {
	ec := EvaluationContext{Request: newTestRequestContext(), Args: map[string]any{}}
	if _, ok := ec.PathValue([]string{"args", "missing"}); ok {
		t.Fatalf("expected missing arg to report ok=false")
	}
	if _, ok := ec.PathValue(nil); ok {
		t.Fatalf("expected empty path to report ok=false")
	}
}

func TestMergeCacheControl_KeepsMonotonicMinimum(t *testing.T) {
	rc := newTestRequestContext()
	rc.MergeCacheControl(60_000)
	rc.MergeCacheControl(5_000)
	rc.MergeCacheControl(30_000)

	got, ok := rc.CacheControlMaxAgeMS()
	if !ok || got != 5_000 {
		t.Fatalf("CacheControlMaxAgeMS = %v, %v; want 5000, true", got, ok)
	}
}

func TestCacheControlMaxAgeMS_NotOKWhenUntouched(t *testing.T) {
	rc := newTestRequestContext()
	if _, ok := rc.CacheControlMaxAgeMS(); ok {
		t.Fatalf("expected ok=false before any MergeCacheControl call")
	}
}

func TestAuthOnce_RunsExactlyOnceUnderConcurrency(t *testing.T) {
	rc := newTestRequestContext()
	var calls int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := rc.AuthOnce(func() (any, error) {
				atomic.AddInt32(&calls, 1)
				return "claims", nil
			})
			if err != nil || v != "claims" {
				t.Errorf("AuthOnce = %v, %v", v, err)
			}
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected auth check to run exactly once, got %d", got)
	}
}

func TestFilterAllowedHeaders_KeepsOnlyAllowList(t *testing.T) {
	src := http.Header{}
	src.Set("Authorization", "Bearer xyz")
	src.Set("X-Trace-Id", "abc")
	src.Set("Cookie", "secret=1")

	out := FilterAllowedHeaders(src, []string{"Authorization", "X-Trace-Id"})
	if out.Get("Authorization") != "Bearer xyz" || out.Get("X-Trace-Id") != "abc" {
		t.Fatalf("expected allow-listed headers to be copied, got %v", out)
	}
	if out.Get("Cookie") != "" {
		t.Fatalf("expected Cookie to be dropped, got %v", out)
	}
}

func TestWalk_ResolvesNestedMapsAndArrayIndices(t *testing.T) {
	v := map[string]any{"items": []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}}}
	got, ok := Walk(v, []string{"items", "1", "name"})
	if !ok || got != "b" {
		t.Fatalf("Walk = %v, %v; want b, true", got, ok)
	}
	if _, ok := Walk(v, []string{"items", "9", "name"}); ok {
		t.Fatalf("expected out-of-range index to report ok=false")
	}
}
