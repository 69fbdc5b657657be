package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/arti-ci/sygfp-ledger/pkg/ledger"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

type proposeTransferRequest struct {
	SourceLineID  string          `json:"sourceLineId" validate:"required"`
	DestLineID    string          `json:"destLineId" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Justification string          `json:"justification" validate:"max=2000"`
	ReferenceNote string          `json:"referenceNote,omitempty" validate:"max=255"`
}

func (s *Server) transferRoutes(r chi.Router) {
	r.Get("/", s.listTransfers)
	r.Post("/", s.proposeTransfer)
	r.Get("/{ref}", s.getTransfer)
	r.Post("/{ref}/decisions", s.decideTransfer)
	r.Get("/{ref}/steps", s.transferSteps)
	r.Get("/{ref}/step-view", s.transferStepView)
	r.Post("/{ref}", s.dispatch(map[string]http.HandlerFunc{
		"resume": s.resumeTransfer,
	}))
}

func (s *Server) listTransfers(w http.ResponseWriter, r *http.Request) {
	size, err := intParam(r, "pageSize")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	q := r.URL.Query()
	items, next, total, err := s.svc.Transfers.List(r.Context(), ledger.TransferFilter{
		Exercice:  exercice(r),
		LineID:    q.Get("lineId"),
		Status:    workflow.Status(q.Get("status")),
		Filter:    q.Get("filter"),
		PageSize:  size,
		PageToken: q.Get("pageToken"),
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if items == nil {
		items = []ledger.CreditTransferRecord{}
	}
	writeJSON(w, http.StatusOK, page[ledger.CreditTransferRecord]{Items: items, NextPageToken: next, TotalSize: total})
}

// proposeTransfer leaves amount and justification checks to the ledger so
// that they surface as INVALID_TRANSFER.
func (s *Server) proposeTransfer(w http.ResponseWriter, r *http.Request) {
	var req proposeTransferRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	rec, err := s.svc.Transfers.Propose(r.Context(), ledger.ProposeInput{
		SourceLineID:  req.SourceLineID,
		DestLineID:    req.DestLineID,
		Amount:        req.Amount,
		Justification: req.Justification,
		ReferenceNote: req.ReferenceNote,
		Actor:         actor(r),
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) getTransfer(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	rec, err := s.svc.Transfers.Get(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) decideTransfer(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	var req decisionRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	rec, out, err := s.svc.Transfers.Advance(r.Context(), id, req.toDecision(), actor(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResult[*ledger.CreditTransferRecord]{Entity: rec, Outcome: out})
}

func (s *Server) resumeTransfer(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	rec, out, err := s.svc.Transfers.Resume(r.Context(), id, actor(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResult[*ledger.CreditTransferRecord]{Entity: rec, Outcome: out})
}

func (s *Server) transferSteps(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	steps, err := s.svc.Transfers.Steps(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page[workflow.VisaStepRecord]{Items: steps, TotalSize: len(steps)})
}

func (s *Server) transferStepView(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	view, err := s.svc.Transfers.Inspect(r.Context(), id, actor(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
