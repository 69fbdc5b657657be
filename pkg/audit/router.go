package audit

import (
	"github.com/go-chi/chi/v5"

	"github.com/arti-ci/sygfp-ledger/pkg/authz"
)

// Router creates a chi.Router for the audit API.
// When authorizer is non-nil, endpoints require the audit/list permission.
func Router(store *Store, authorizer authz.Authorizer) chi.Router {
	r := chi.NewRouter()

	listHandler := ListEventsHandler(store)
	getHandler := GetEventHandler(store)

	if authorizer != nil {
		guard := authz.RequirePermission(authorizer, authz.ResourceAudit, authz.VerbList)
		r.Get("/events", guard(listHandler).ServeHTTP)
		r.Get("/events/{eventId}", guard(getHandler).ServeHTTP)
	} else {
		r.Get("/events", listHandler)
		r.Get("/events/{eventId}", getHandler)
	}

	return r
}
