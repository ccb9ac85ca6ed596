package engine

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tailcallhq/tailcall-go/internal/auth"
	"github.com/tailcallhq/tailcall-go/internal/blueprint"
	"github.com/tailcallhq/tailcall-go/internal/evalctx"
	"github.com/tailcallhq/tailcall-go/internal/ratelimit"
	"github.com/tailcallhq/tailcall-go/internal/runtime"
)

func hmacProvider(secret []byte) *auth.Provider {
	return auth.NewProvider(func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
}

func signedToken(t *testing.T, secret []byte, subject string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": subject, "exp": time.Now().Add(time.Hour).Unix()}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func protectedBlueprint() *blueprint.Blueprint {
	bp := testBlueprint()
	bp.Types["Query"].Fields["secret"] = &blueprint.FieldDef{
		Name:      "secret",
		Type:      blueprint.NamedType("String", false),
		Resolver:  &blueprint.IR{Kind: blueprint.IRLiteral, Literal: "classified"},
		Protected: true,
	}
	return bp
}

func contextWithHeader(rt runtime.Runtime, headers http.Header) context.Context {
	rc := evalctx.NewRequestContext(rt, headers, 0)
	return WithRequestContext(context.Background(), rc)
}

func TestResolveSync_ProtectedFieldRejectsMissingCredential(t *testing.T) {
	secret := []byte("shh")
	e := New(protectedBlueprint())
	e.Auth = hmacProvider(secret)
	ctx := contextWithHeader(runtime.Runtime{Env: runtime.OSEnv{}}, http.Header{})

	if _, err := e.ResolveSync(ctx, "Query", "secret", nil, map[string]any{}); err == nil {
		t.Fatal("expected an error for a protected field with no credential")
	}
}

func TestResolveSync_ProtectedFieldAllowsValidCredential(t *testing.T) {
	secret := []byte("shh")
	e := New(protectedBlueprint())
	e.Auth = hmacProvider(secret)
	headers := http.Header{"Authorization": []string{"Bearer " + signedToken(t, secret, "u1")}}
	ctx := contextWithHeader(runtime.Runtime{Env: runtime.OSEnv{}}, headers)

	got, err := e.ResolveSync(ctx, "Query", "secret", nil, map[string]any{})
	if err != nil {
		t.Fatalf("ResolveSync: %v", err)
	}
	if got != "classified" {
		t.Fatalf("got %v, want classified", got)
	}
}

func TestResolveSync_UnprotectedFieldSkipsAuthEvenWithProviderSet(t *testing.T) {
	e := New(testBlueprint())
	e.Auth = hmacProvider([]byte("shh"))
	ctx := contextWithHeader(runtime.Runtime{Env: runtime.OSEnv{}}, http.Header{})

	got, err := e.ResolveSync(ctx, "Query", "greeting", nil, map[string]any{})
	if err != nil {
		t.Fatalf("ResolveSync: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %v, want hello", got)
	}
}

func rateLimitedBlueprint() *blueprint.Blueprint {
	bp := testBlueprint()
	bp.Types["Query"].Fields["limited"] = &blueprint.FieldDef{
		Name:           "limited",
		Type:           blueprint.NamedType("String", false),
		Resolver:       &blueprint.IR{Kind: blueprint.IRLiteral, Literal: "ok"},
		RateLimitGroup: "group-a",
	}
	return bp
}

func TestResolveSync_RateLimitedFieldRejectsAfterBucketExhausted(t *testing.T) {
	e := New(rateLimitedBlueprint())
	e.RateLimits = ratelimit.NewGroup(map[string]ratelimit.Limit{"group-a": {RatePerSecond: 1, Burst: 1}})
	ctx := testRequestContext()

	if _, err := e.ResolveSync(ctx, "Query", "limited", nil, map[string]any{}); err != nil {
		t.Fatalf("first call should be allowed: %v", err)
	}
	if _, err := e.ResolveSync(ctx, "Query", "limited", nil, map[string]any{}); err == nil {
		t.Fatal("expected the second immediate call to be rate-limited")
	}
}

func TestResolveSync_RateLimitGroupWithNoConfiguredGroupIsUnthrottled(t *testing.T) {
	e := New(rateLimitedBlueprint())
	e.RateLimits = ratelimit.NewGroup(map[string]ratelimit.Limit{})
	ctx := testRequestContext()

	for i := 0; i < 5; i++ {
		if _, err := e.ResolveSync(ctx, "Query", "limited", nil, map[string]any{}); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
}
