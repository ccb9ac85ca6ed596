package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	executor "github.com/tailcallhq/tailcall-go/internal/executor"
)

type fakeResponseMeta struct {
	maxAgeMS int64
	hasMS    bool
	ext      map[string]any
}

func (m fakeResponseMeta) CacheControlMaxAgeMS() (int64, bool) { return m.maxAgeMS, m.hasMS }
func (m fakeResponseMeta) Extensions() map[string]any          { return m.ext }

func TestContextDecorator_SetsCacheControlHeader(t *testing.T) {
	rt := executor.NewMockRuntime(nil)
	rt.SetResolver("Query", "hello", func(ctx context.Context, src any, args map[string]any) (any, error) {
		return "world", nil
	})
	meta := fakeResponseMeta{maxAgeMS: 5000, hasMS: true}
	h := newTestHandler(t, rt, WithContextDecorator(func(ctx context.Context, r *http.Request) (context.Context, ResponseMeta) {
		return ctx, meta
	}))

	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"query":"{ hello }"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != "max-age=5" {
		t.Fatalf("Cache-Control = %q, want max-age=5", got)
	}
}

func TestContextDecorator_MergesExtensionsIntoSingleResult(t *testing.T) {
	rt := executor.NewMockRuntime(nil)
	rt.SetResolver("Query", "hello", func(ctx context.Context, src any, args map[string]any) (any, error) {
		return "world", nil
	})
	meta := fakeResponseMeta{ext: map[string]any{"requestId": "abc-123"}}
	h := newTestHandler(t, rt, WithContextDecorator(func(ctx context.Context, r *http.Request) (context.Context, ResponseMeta) {
		return ctx, meta
	}))

	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"query":"{ hello }"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	ext, ok := body["extensions"].(map[string]any)
	if !ok {
		t.Fatalf("expected extensions in response, got %v", body)
	}
	if ext["requestId"] != "abc-123" {
		t.Fatalf("extensions = %v, want requestId abc-123", ext)
	}
}

func TestNoContextDecorator_OmitsCacheControlAndExtensions(t *testing.T) {
	rt := executor.NewMockRuntime(nil)
	rt.SetResolver("Query", "hello", func(ctx context.Context, src any, args map[string]any) (any, error) {
		return "world", nil
	})
	h := newTestHandler(t, rt)

	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"query":"{ hello }"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Cache-Control"); got != "" {
		t.Fatalf("Cache-Control = %q, want empty", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if _, ok := body["extensions"]; ok {
		t.Fatalf("expected no extensions key, got %v", body)
	}
}
