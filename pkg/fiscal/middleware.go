package fiscal

import (
	"encoding/json"
	"net/http"
)

// Middleware returns HTTP middleware that resolves the fiscal context using
// resolver and stores it in the request context. On resolution failure it
// responds with a 400 JSON error.
func Middleware(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fc, err := resolver.Resolve(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": err.Error(),
					"code":  "INVALID_INPUT",
				})
				return
			}

			ctx := WithContext(r.Context(), fc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewMiddleware creates middleware with the resolver matching mode.
func NewMiddleware(mode Mode) func(http.Handler) http.Handler {
	var resolver Resolver
	switch mode {
	case ModeExplicit:
		resolver = ExplicitResolver{}
	default:
		resolver = CurrentYearResolver{}
	}
	return Middleware(resolver)
}
