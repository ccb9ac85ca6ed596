// Package auth implements the Provider that backs a RequestContext's
// lazy, at-most-once auth verification cell: a bearer token pulled from
// the request's allowed headers, validated against a JWT/JWKS provider.
// The compiler front-end decides which fields are @protected; this
// package only decides whether the current request's credentials hold.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Kind discriminates why an auth attempt failed, mirroring the ordering
// the evaluator's error taxonomy requires: Invalid outranks Missing when
// folding results across multiple providers.
type Kind int

const (
	KindMissing Kind = iota
	KindInvalid
	KindValidationCheckFailed
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "Missing"
	case KindInvalid:
		return "Invalid"
	case KindValidationCheckFailed:
		return "ValidationCheckFailed"
	default:
		return "Unknown"
	}
}

// Severity ranks Kind so that folding two auth results across providers
// keeps the more severe one: Invalid > Missing.
func (k Kind) Severity() int {
	switch k {
	case KindInvalid:
		return 2
	case KindValidationCheckFailed:
		return 1
	default:
		return 0
	}
}

// Error is the auth failure surfaced to the evaluator's closed error
// taxonomy.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("auth: %s: %s", e.Kind, e.Reason) }

// Fold combines two auth errors from independent providers, keeping
// whichever has the higher severity (Invalid beats Missing).
func Fold(a, b *Error) *Error {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.Kind.Severity() > a.Kind.Severity() {
		return b
	}
	return a
}

// Claims is the verified identity produced by a successful auth check.
type Claims struct {
	Subject string
	Scopes  []string
	Raw     jwt.MapClaims
}

// KeyFunc resolves the signing key for a token, typically backed by a
// JWKS endpoint cached by the caller.
type KeyFunc func(token *jwt.Token) (any, error)

// Provider verifies the bearer token found in an incoming request's
// allowed headers.
type Provider struct {
	keyFunc KeyFunc
	parser  *jwt.Parser
}

// NewProvider builds a Provider that verifies tokens with keyFunc, using
// the signing methods valid jwt.Parser options restrict to (callers
// should pass jwt.WithValidMethods to avoid algorithm-confusion attacks).
func NewProvider(keyFunc KeyFunc, opts ...jwt.ParserOption) *Provider {
	return &Provider{keyFunc: keyFunc, parser: jwt.NewParser(opts...)}
}

// Verify extracts a bearer token from the Authorization header value and
// validates it, returning Claims on success or a taxonomy Error.
func (p *Provider) Verify(authorizationHeader string) (*Claims, *Error) {
	if authorizationHeader == "" {
		return nil, &Error{Kind: KindMissing, Reason: "no Authorization header"}
	}
	token := strings.TrimSpace(authorizationHeader)
	if !strings.HasPrefix(token, "Bearer ") {
		return nil, &Error{Kind: KindInvalid, Reason: "Authorization header is not a bearer token"}
	}
	token = strings.TrimPrefix(token, "Bearer ")

	claims := jwt.MapClaims{}
	parsed, err := p.parser.ParseWithClaims(token, claims, p.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, &Error{Kind: KindValidationCheckFailed, Reason: err.Error()}
		}
		return nil, &Error{Kind: KindInvalid, Reason: err.Error()}
	}
	if !parsed.Valid {
		return nil, &Error{Kind: KindInvalid, Reason: "token failed validation"}
	}

	subject, _ := claims.GetSubject()
	var scopes []string
	if raw, ok := claims["scope"].(string); ok {
		scopes = strings.Fields(raw)
	}
	return &Claims{Subject: subject, Scopes: scopes, Raw: claims}, nil
}
