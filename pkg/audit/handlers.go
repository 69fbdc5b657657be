package audit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/arti-ci/sygfp-ledger/pkg/fiscal"
)

// ListEventsHandler handles GET /audit/events
// Query params: actor, entityType, entityId, action, eventType, forced, pageSize, pageToken.
// The exercice comes from the fiscal context when the request named one.
func ListEventsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := ListFilter{
			Actor:      q.Get("actor"),
			EntityType: q.Get("entityType"),
			EntityID:   q.Get("entityId"),
			Action:     q.Get("action"),
			EventType:  q.Get("eventType"),
		}
		if fc, ok := fiscal.FromContext(r.Context()); ok && fc.Explicit {
			filter.Exercice = fc.Exercice
		}
		if v := q.Get("forced"); v != "" {
			forced, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid forced flag %q", v))
				return
			}
			filter.Forced = &forced
		}

		pageSize := 20
		if ps := q.Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}

		records, nextToken, total, err := store.List(r.Context(), filter, pageSize, q.Get("pageToken"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list audit events: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"events":        records,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// GetEventHandler handles GET /audit/events/{eventId}
func GetEventHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "eventId")
		if eventID == "" {
			writeError(w, http.StatusBadRequest, "missing event ID")
			return
		}

		record, err := store.GetByID(r.Context(), eventID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get audit event: %v", err))
			return
		}
		if record == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("audit event %q not found", eventID))
			return
		}

		writeJSON(w, http.StatusOK, record)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	code := "INTERNAL"
	switch status {
	case http.StatusBadRequest:
		code = "INVALID_INPUT"
	case http.StatusNotFound:
		code = "NOT_FOUND"
	}
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
