package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoAuthHeader  = errors.New("missing Authorization header")
	ErrBadAuthScheme = errors.New("invalid Authorization header")
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrRoleForbidden = errors.New("role not allowed")
)

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleRider || r == RoleDriver || r == RoleAdmin
}

// Principal is the verified caller. The ride engine trusts it unconditionally.
type Principal struct {
	ID   string
	Role Role
}

type Claims struct {
	Role Role `json:"role"`
	jwtlib.RegisteredClaims
}

// Gate verifies HS256 bearer tokens minted by the external auth service.
type Gate struct {
	secret []byte
}

func NewGate(secret string) (*Gate, error) {
	s := strings.TrimSpace(secret)
	if s == "" {
		return nil, errors.New("auth: empty secret")
	}
	return &Gate{secret: []byte(s)}, nil
}

// Issue signs a token for p that expires after ttl. The service never issues
// tokens itself; this is for tests and local tooling sharing the secret.
func (g *Gate) Issue(p Principal, ttl time.Duration) (string, error) {
	if !p.Role.Valid() {
		return "", fmt.Errorf("invalid role: %q", p.Role)
	}
	now := time.Now().UTC()
	claims := &Claims{
		Role: p.Role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(g.secret)
}

// Verify parses and validates a raw token.
func (g *Gate) Verify(raw string) (Principal, error) {
	parser := jwtlib.NewParser(jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwtlib.Token) (any, error) {
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return Principal{}, ErrInvalidToken
	}
	return Principal{ID: claims.Subject, Role: claims.Role}, nil
}

// FromRequest reads "Authorization: Bearer <token>" and verifies it.
func (g *Gate) FromRequest(r *http.Request) (Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Principal{}, ErrNoAuthHeader
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return Principal{}, ErrBadAuthScheme
	}
	return g.Verify(strings.TrimSpace(parts[1]))
}

// RoleAllowed returns ErrRoleForbidden unless p has one of allowed. An empty
// list allows every role.
func RoleAllowed(p Principal, allowed ...Role) error {
	if len(allowed) == 0 || slices.Contains(allowed, p.Role) {
		return nil
	}
	return ErrRoleForbidden
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
