// Package authmw provides HTTP middleware for bearer token
// authentication and caller identity propagation.
package authmw

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/overwatch/internal/entity"
)

// Caller identifies an authenticated principal.
type Caller struct {
	ID   string
	Role entity.Role
}

type callerKey struct{}

// WithCaller stores the caller in the context.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext extracts the authenticated caller, if present.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// Credentials maps bearer tokens to callers.
type Credentials map[string]Caller

// New validates a credential set. The system role is engine-internal
// and is never a valid HTTP identity.
func New(creds Credentials) Credentials {
	for token, c := range creds {
		if token == "" {
			panic(xerrors.New("empty bearer token in credentials"))
		}
		if c.ID == "" {
			panic(xerrors.New("caller id is required"))
		}
		switch c.Role {
		case entity.RoleOperator, entity.RoleSupervisor, entity.RoleAdmin, entity.RoleCitizen:
		default:
			panic(xerrors.New("invalid caller role " + string(c.Role)))
		}
	}
	return creds
}

// ParseTokens parses the comma-separated token=id:role credential
// format used by configuration into a validated credential set.
func ParseTokens(s string) (Credentials, error) {
	creds := Credentials{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		token, ident, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("credential %q: want token=id:role", part)
		}
		id, role, ok := strings.Cut(ident, ":")
		if !ok || token == "" || id == "" || role == "" {
			return nil, fmt.Errorf("credential %q: want token=id:role", part)
		}
		if _, dup := creds[token]; dup {
			return nil, fmt.Errorf("credential %q: duplicate token", part)
		}
		switch entity.Role(role) {
		case entity.RoleOperator, entity.RoleSupervisor, entity.RoleAdmin, entity.RoleCitizen:
		default:
			return nil, fmt.Errorf("credential %q: invalid role %q", part, role)
		}
		creds[token] = Caller{ID: id, Role: entity.Role(role)}
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("no credentials configured")
	}
	return creds, nil
}

// Middleware validates the Authorization header against the credential
// set and stashes the matched caller in the request context. Every
// token is compared in constant time to prevent timing side-channels.
func (creds Credentials) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")

		if !strings.HasPrefix(auth, "Bearer ") {
			http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
			return
		}

		got := []byte(auth[len("Bearer "):])

		var matched Caller
		found := 0
		for token, c := range creds {
			if subtle.ConstantTimeCompare(got, []byte(token)) == 1 {
				matched = c
				found = 1
			}
		}
		if found != 1 {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), matched)))
	})
}
