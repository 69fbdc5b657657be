package authz

import (
	"context"
	"net/http"
	"strings"

	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

// Header names carrying the caller identity, set by the fronting proxy.
const (
	HeaderPrincipal = "X-User-Principal"
	HeaderRoles     = "X-User-Roles"
)

// Anonymous is the principal of requests without an identity header.
const Anonymous = "anonymous"

// identityCtxKey is an unexported type used as the context key for Identity.
type identityCtxKey struct{}

// Identity represents the authenticated user making a request.
type Identity struct {
	User  string
	Roles []string
}

// Actor converts the identity into a workflow actor.
func (id Identity) Actor() workflow.Actor {
	return workflow.Actor{ID: id.User, Roles: id.Roles}
}

// Anonymous reports whether no principal was supplied.
func (id Identity) Anonymous() bool {
	return id.User == "" || id.User == Anonymous
}

// WithIdentity returns a new context with the given Identity attached.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the Identity from the context.
// Returns the zero value and false if no identity is set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// IdentityMiddleware returns HTTP middleware that extracts identity from
// the X-User-Principal and X-User-Roles headers and stores it in the request
// context. If X-User-Principal is missing, the user defaults to "anonymous".
// X-User-Roles is comma-separated; roles are upper-cased.
func IdentityMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := strings.TrimSpace(r.Header.Get(HeaderPrincipal))
			if user == "" {
				user = Anonymous
			}

			id := Identity{User: user, Roles: ParseRoles(r.Header.Get(HeaderRoles))}
			ctx := WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseRoles splits a comma-separated role list.
func ParseRoles(header string) []string {
	var roles []string
	for _, r := range strings.Split(header, ",") {
		r = strings.ToUpper(strings.TrimSpace(r))
		if r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
