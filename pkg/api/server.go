// Package api exposes the ledger over HTTP under /api/ledger/v1.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/arti-ci/sygfp-ledger/pkg/audit"
	"github.com/arti-ci/sygfp-ledger/pkg/authz"
	"github.com/arti-ci/sygfp-ledger/pkg/cache"
	"github.com/arti-ci/sygfp-ledger/pkg/fiscal"
	"github.com/arti-ci/sygfp-ledger/pkg/ledger"
	"github.com/arti-ci/sygfp-ledger/pkg/metrics"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

// Options configures a Server. Service is required.
type Options struct {
	Service *ledger.Service
	Engine  *workflow.Engine
	DB      *gorm.DB

	AuditStore  *audit.Store
	AuditConfig *audit.AuditConfig
	// ResponseCache, when set, caches the read-mostly GET /workflows
	// response. Reloaded definitions show once the entry expires.
	ResponseCache cache.Store
	// Authorizer guards requests by resource and verb. Nil disables the
	// request layer; visa steps still check roles.
	Authorizer authz.Authorizer
	FiscalMode fiscal.Mode

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	BasePath    string
	CORSOrigins []string
	Logger      *slog.Logger

	// Ready reports extra readiness conditions, such as the cache backend.
	Ready func(ctx context.Context) error
}

// Server holds the HTTP handlers of the ledger.
type Server struct {
	svc       *ledger.Service
	engine    *workflow.Engine
	db        *gorm.DB
	audit     *audit.Store
	validate  *validator.Validate
	metrics   *metrics.Metrics
	logger    *slog.Logger
	ready     func(ctx context.Context) error
	startedAt time.Time
}

// NewRouter builds the complete HTTP handler.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BasePath == "" {
		opts.BasePath = authz.APIPrefix
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"https://*", "http://*"}
	}
	s := &Server{
		svc:       opts.Service,
		engine:    opts.Engine,
		db:        opts.DB,
		audit:     opts.AuditStore,
		validate:  newValidator(),
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("component", "api"),
		ready:     opts.Ready,
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", authz.HeaderPrincipal, authz.HeaderRoles, fiscal.Header},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(instrument(opts.Metrics))

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)
	if opts.Gatherer != nil {
		r.Handle("/metrics", metrics.HandlerFor(opts.Gatherer))
	}

	r.Route(opts.BasePath, func(r chi.Router) {
		r.Use(fiscal.NewMiddleware(opts.FiscalMode))
		r.Use(authz.IdentityMiddleware())
		if opts.AuditStore != nil && opts.AuditConfig != nil && opts.AuditConfig.Enabled {
			r.Use(audit.AuditMiddleware(opts.AuditStore, opts.AuditConfig, s.logger))
		}
		if opts.Authorizer != nil {
			r.Use(authz.AuthzMiddleware(opts.Authorizer))
		}

		r.Route("/lines", s.lineRoutes)
		r.Post("/fiscal-years/{ref}", s.fiscalYearAction)
		r.Route("/commitments", stageRoutes(s, s.svc.Commitments, nil))
		r.Route("/verifications", stageRoutes(s, s.svc.Verifications, s.urgencyRoutes))
		r.Route("/payment-orders", stageRoutes(s, s.svc.PaymentOrders.Chain, s.countersignRoutes))
		r.Route("/settlements", stageRoutes(s, s.svc.Settlements, nil))
		r.Route("/transfers", s.transferRoutes)
		if opts.ResponseCache != nil {
			r.With(cache.CacheMiddleware(opts.ResponseCache)).Get("/workflows", s.listWorkflows)
		} else {
			r.Get("/workflows", s.listWorkflows)
		}
		r.Get("/visas/pending", s.pendingVisas)
		if opts.AuditStore != nil {
			// Authorization is already enforced above.
			r.Mount("/audit", audit.Router(opts.AuditStore, nil))
		}
	})

	return r
}

// actor is the caller of r.
func actor(r *http.Request) workflow.Actor {
	id, _ := authz.IdentityFromContext(r.Context())
	return id.Actor()
}

// exercice is the fiscal year a list should be scoped to, or 0 when the
// request did not name one.
func exercice(r *http.Request) int {
	if fc, ok := fiscal.FromContext(r.Context()); ok && fc.Explicit {
		return fc.Exercice
	}
	return 0
}

// splitRef splits the "{id}:{action}" path segment.
func splitRef(r *http.Request) (string, string) {
	id, action, _ := strings.Cut(chi.URLParam(r, "ref"), ":")
	return id, action
}

// dispatch routes POST /{ref} to the handler of its action.
func (s *Server) dispatch(actions map[string]http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, action := splitRef(r)
		h, ok := actions[action]
		if id == "" || !ok {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown action " + strconv.Quote(action), Code: "NOT_FOUND"})
			return
		}
		h(w, r)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler checks database connectivity and the extra conditions.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	allReady := true
	dbStatus := map[string]string{"status": "up"}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			dbStatus["status"] = "down"
			dbStatus["error"] = err.Error()
			allReady = false
		}
	} else {
		dbStatus["status"] = "not_configured"
	}

	extra := map[string]string{"status": "up"}
	if s.ready != nil {
		if err := s.ready(ctx); err != nil {
			extra["status"] = "down"
			extra["error"] = err.Error()
			allReady = false
		}
	}

	status, code := "ready", http.StatusOK
	if !allReady {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": map[string]any{"database": dbStatus, "dependencies": extra},
	})
}

// instrument counts requests by route pattern.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.HTTPRequest(r.Method, route, strconv.Itoa(status))
		})
	}
}

func (s *Server) listWorkflows(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		writeJSON(w, http.StatusOK, page[workflow.Definition]{Items: []workflow.Definition{}})
		return
	}
	defs := s.engine.Registry().List()
	slices.SortFunc(defs, func(a, b workflow.Definition) int { return strings.Compare(string(a.Stage), string(b.Stage)) })
	writeJSON(w, http.StatusOK, page[workflow.Definition]{Items: defs, TotalSize: len(defs)})
}
