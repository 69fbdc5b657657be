package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/arti-ci/sygfp-ledger/pkg/authz"
	"github.com/arti-ci/sygfp-ledger/pkg/fiscal"
)

// responseCapture wraps http.ResponseWriter to capture the status code.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// AuditMiddleware creates middleware that records one "http" event per
// mutating API request, including failed and denied ones. Domain events are
// recorded separately by the ledger inside its transactions.
func AuditMiddleware(store *Store, cfg *AuditConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			if !isAuditedRequest(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			startTime := time.Now()

			capture := &responseCapture{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(capture, r)

			statusCode := capture.statusCode
			outcome := outcomeFromStatus(statusCode)

			if outcome == OutcomeDenied && !cfg.LogDenied {
				return
			}

			ctx := r.Context()
			actor := authz.Anonymous
			var roles []string
			if id, ok := authz.IdentityFromContext(ctx); ok {
				actor = id.User
				roles = id.Roles
			}

			requestID := middleware.GetReqID(ctx)

			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = requestID
			}

			event := &EventRecord{
				Exercice:      fiscal.ExerciceFromContext(ctx),
				CorrelationID: correlationID,
				EventType:     EventTypeHTTP,
				Actor:         actor,
				EntityType:    extractResourceType(r.URL.Path),
				EntityID:      extractResourceID(r.URL.Path),
				Action:        extractActionVerb(r.Method, r.URL.Path),
				Outcome:       outcome,
				RequestID:     requestID,
				StatusCode:    statusCode,
				CreatedAt:     startTime.UTC(),
				EventMetadata: JSONAny{
					"method":   r.Method,
					"path":     r.URL.Path,
					"duration": time.Since(startTime).String(),
					"roles":    roles,
				},
			}

			// Best-effort write: don't fail the request if audit write fails.
			if err := store.Append(ctx, event); err != nil {
				logger.Error("failed to write audit event", "error", err, "requestID", requestID)
			}
		})
	}
}

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return OutcomeSuccess
	case code == http.StatusForbidden:
		return OutcomeDenied
	default:
		return OutcomeFailure
	}
}
