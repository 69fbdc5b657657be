package authz

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/arti-ci/sygfp-ledger/pkg/fiscal"
)

// RequirePermission returns middleware that enforces a specific resource/verb
// permission check. It retrieves the identity from context (via IdentityMiddleware)
// and the exercice from context (via fiscal middleware), then calls the authorizer.
func RequirePermission(authorizer Authorizer, resource, verb string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			check(w, r, next, authorizer, ResourceMapping{Resource: resource, Verb: verb})
		})
	}
}

// AuthzMiddleware returns middleware that auto-maps the HTTP method and URL path
// to a (resource, verb) pair and performs the authorization check. This can be
// mounted as global middleware on the API routes.
func AuthzMiddleware(authorizer Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mapping := MapRequest(r.Method, r.URL.Path)

			// If we cannot map the request, deny by default.
			if mapping == UnknownMapping {
				deny(w, "unknown endpoint, access denied")
				return
			}
			check(w, r, next, authorizer, mapping)
		})
	}
}

func check(w http.ResponseWriter, r *http.Request, next http.Handler, authorizer Authorizer, mapping ResourceMapping) {
	id, _ := IdentityFromContext(r.Context())
	exercice := fiscal.ExerciceFromContext(r.Context())

	req := AuthzRequest{
		User:     id.User,
		Roles:    id.Roles,
		Resource: mapping.Resource,
		Verb:     mapping.Verb,
		Exercice: exercice,
	}

	allowed, err := authorizer.Authorize(r.Context(), req)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "authorization check failed",
			"code":  "INTERNAL",
		})
		return
	}

	if !allowed {
		deny(w, fmt.Sprintf("insufficient permissions for %s/%s", mapping.Resource, mapping.Verb))
		return
	}

	next.ServeHTTP(w, r)
}

func deny(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  "NOT_AUTHORIZED",
	})
}
