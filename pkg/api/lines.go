package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/arti-ci/sygfp-ledger/pkg/fiscal"
	"github.com/arti-ci/sygfp-ledger/pkg/ledger"
)

type createLineRequest struct {
	Code             string          `json:"code" validate:"required,max=64"`
	Label            string          `json:"label" validate:"max=255"`
	Exercice         int             `json:"exercice"`
	DotationInitiale decimal.Decimal `json:"dotationInitiale" validate:"gte=0"`
}

type amendLineRequest struct {
	Label            *string          `json:"label,omitempty" validate:"omitempty,max=255"`
	DotationInitiale *decimal.Decimal `json:"dotationInitiale,omitempty"`
	Reason           string           `json:"reason"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) lineRoutes(r chi.Router) {
	r.Get("/", s.listLines)
	r.Post("/", s.createLine)
	r.Get("/{ref}", s.getLine)
	r.Patch("/{ref}", s.amendLine)
	r.Get("/{ref}/availability", s.lineAvailability)
	r.Get("/{ref}/versions", s.lineVersions)
	r.Post("/{ref}", s.dispatch(map[string]http.HandlerFunc{
		"deactivate":          s.deactivateLine,
		"freeze-noncompliant": s.freezeNonCompliant,
	}))
}

func (s *Server) listLines(w http.ResponseWriter, r *http.Request) {
	size, err := intParam(r, "pageSize")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	active, err := boolParam(r, "active")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	lines, next, total, err := s.svc.Ledger.ListLines(r.Context(), ledger.LineFilter{
		Exercice:  exercice(r),
		Active:    active,
		Filter:    r.URL.Query().Get("filter"),
		PageSize:  size,
		PageToken: r.URL.Query().Get("pageToken"),
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page[ledger.BudgetLineRecord]{Items: lines, NextPageToken: next, TotalSize: total})
}

func (s *Server) createLine(w http.ResponseWriter, r *http.Request) {
	var req createLineRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.Exercice == 0 {
		req.Exercice = fiscal.ExerciceFromContext(r.Context())
	}
	line, err := s.svc.Ledger.CreateLine(r.Context(), ledger.CreateLineInput{
		Code:             req.Code,
		Label:            req.Label,
		Exercice:         req.Exercice,
		DotationInitiale: req.DotationInitiale,
		Actor:            actor(r),
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

func (s *Server) getLine(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	line, err := s.svc.Ledger.GetLine(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (s *Server) amendLine(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	var req amendLineRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	line, err := s.svc.Ledger.AmendLine(r.Context(), id, ledger.AmendLineInput{
		Label:            req.Label,
		DotationInitiale: req.DotationInitiale,
		Reason:           req.Reason,
		Actor:            actor(r),
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (s *Server) lineAvailability(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	snap, err := s.svc.Ledger.Snapshot(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) lineVersions(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	if _, err := s.svc.Ledger.GetLine(r.Context(), id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	versions, err := s.svc.Ledger.LineVersions(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page[ledger.BudgetLineVersionRecord]{Items: versions, TotalSize: len(versions)})
}

func (s *Server) deactivateLine(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	var req reasonRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	line, err := s.svc.Ledger.DeactivateLine(r.Context(), id, actor(r), req.Reason)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (s *Server) freezeNonCompliant(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	var req reasonRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	report, err := s.svc.Ledger.FreezeNonCompliant(r.Context(), id, actor(r), req.Reason)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) fiscalYearAction(w http.ResponseWriter, r *http.Request) {
	raw, action := splitRef(r)
	if action != "open" {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown action " + action, Code: "NOT_FOUND"})
		return
	}
	year, err := fiscal.Parse(raw)
	if err != nil {
		writeError(w, s.logger, badRequest("exercice", err.Error()))
		return
	}
	opened, err := s.svc.Ledger.OpenFiscalYear(r.Context(), year, actor(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"exercice": year, "linesOpened": opened})
}
