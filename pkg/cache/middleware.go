package cache

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// HeaderCache reports whether a response was served from the cache.
const HeaderCache = "X-Cache"

// ResponseKey is the cache key of a GET response: the request URI followed
// by the value of every vary header, so that responses scoped by those
// headers never mix.
func ResponseKey(r *http.Request, vary ...string) string {
	var b strings.Builder
	b.WriteString("http:")
	b.WriteString(r.URL.RequestURI())
	for _, h := range vary {
		b.WriteString("|")
		b.WriteString(strings.ToLower(h))
		b.WriteString("=")
		b.WriteString(r.Header.Get(h))
	}
	return b.String()
}

// CacheMiddleware caches the 200 JSON responses of GET requests in s. Other
// methods and statuses pass through untouched, as do requests when s
// fails.
func CacheMiddleware(s Store, vary ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			key := ResponseKey(r, vary...)

			if body, ok, err := s.Get(r.Context(), key); err == nil && ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(HeaderCache, "HIT")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(body)
				return
			}

			w.Header().Set(HeaderCache, "MISS")
			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			if ww.Status() == http.StatusOK || (ww.Status() == 0 && buf.Len() > 0) {
				_ = s.Set(r.Context(), key, buf.Bytes())
			}
		})
	}
}
