package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/arti-ci/sygfp-ledger/pkg/ledger"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

type createStageRequest struct {
	ParentID           string          `json:"parentId" validate:"required"`
	Amount             decimal.Decimal `json:"amount" validate:"gt=0"`
	Beneficiary        string          `json:"beneficiary,omitempty" validate:"max=255"`
	Purpose            string          `json:"purpose,omitempty" validate:"max=500"`
	Documents          []string        `json:"documents,omitempty"`
	Forced             bool            `json:"forced,omitempty"`
	ForceJustification string          `json:"forceJustification,omitempty" validate:"required_if=Forced true"`

	Withholdings            ledger.Withholdings `json:"withholdings"`
	PaymentMode             string              `json:"paymentMode,omitempty"`
	PaymentReference        string              `json:"paymentReference,omitempty" validate:"max=100"`
	RequireCountersignature *bool               `json:"requireCountersignature,omitempty"`
}

type updateStageRequest struct {
	Amount           *decimal.Decimal     `json:"amount,omitempty"`
	Beneficiary      *string              `json:"beneficiary,omitempty" validate:"omitempty,max=255"`
	Purpose          *string              `json:"purpose,omitempty" validate:"omitempty,max=500"`
	Documents        *[]string            `json:"documents,omitempty"`
	Withholdings     *ledger.Withholdings `json:"withholdings,omitempty"`
	PaymentMode      *string              `json:"paymentMode,omitempty"`
	PaymentReference *string              `json:"paymentReference,omitempty" validate:"omitempty,max=100"`
}

type decisionRequest struct {
	Decision   workflow.EventKind `json:"decision" validate:"required,oneof=validate skip reject defer auto_reject"`
	Step       int                `json:"step" validate:"gte=1"`
	Comment    string             `json:"comment,omitempty" validate:"max=2000"`
	Reason     string             `json:"reason,omitempty" validate:"max=2000"`
	ResumeDate *time.Time         `json:"resumeDate,omitempty"`
}

func (d decisionRequest) toDecision() workflow.Decision {
	return workflow.Decision{
		Kind:       d.Decision,
		Step:       d.Step,
		Comment:    d.Comment,
		Reason:     d.Reason,
		ResumeDate: d.ResumeDate,
	}
}

// commandResult is the response of a workflow command.
type commandResult[T any] struct {
	Entity  T                `json:"entity"`
	Outcome workflow.Outcome `json:"outcome"`
}

// stageHandlers serves one stage of the chain.
type stageHandlers[T any, PT ledger.EntityPtr[T]] struct {
	*Server
	chain *ledger.Chain[T, PT]
}

// stageRoutes mounts the routes common to every stage. extra may add
// routes and POST actions of its own.
func stageRoutes[T any, PT ledger.EntityPtr[T]](s *Server, c *ledger.Chain[T, PT], extra func(chi.Router, map[string]http.HandlerFunc)) func(chi.Router) {
	h := &stageHandlers[T, PT]{Server: s, chain: c}
	return func(r chi.Router) {
		actions := map[string]http.HandlerFunc{
			"submit": h.submit,
			"resume": h.resume,
			"cancel": h.cancel,
		}
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{ref}", h.get)
		r.Patch("/{ref}", h.update)
		r.Post("/{ref}/decisions", h.decide)
		r.Get("/{ref}/steps", h.steps)
		r.Get("/{ref}/step-view", h.stepView)
		if extra != nil {
			extra(r, actions)
		}
		r.Post("/{ref}", s.dispatch(actions))
	}
}

func (h *stageHandlers[T, PT]) list(w http.ResponseWriter, r *http.Request) {
	size, err := intParam(r, "pageSize")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	items, next, total, err := h.chain.List(r.Context(), ledger.ListOptions{
		Exercice:  exercice(r),
		ParentID:  q.Get("parentId"),
		LineID:    q.Get("lineId"),
		Status:    workflow.Status(q.Get("status")),
		Filter:    q.Get("filter"),
		PageSize:  size,
		PageToken: q.Get("pageToken"),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, page[T]{Items: items, NextPageToken: next, TotalSize: total})
}

func (h *stageHandlers[T, PT]) create(w http.ResponseWriter, r *http.Request) {
	var req createStageRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	e, err := h.chain.Create(r.Context(), ledger.CreateInput{
		ParentID:                req.ParentID,
		Amount:                  req.Amount,
		Beneficiary:             req.Beneficiary,
		Purpose:                 req.Purpose,
		Documents:               req.Documents,
		Forced:                  req.Forced,
		ForceJustification:      req.ForceJustification,
		Withholdings:            req.Withholdings,
		PaymentMode:             req.PaymentMode,
		PaymentReference:        req.PaymentReference,
		RequireCountersignature: req.RequireCountersignature,
		Actor:                   actor(r),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *stageHandlers[T, PT]) get(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	e, err := h.chain.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *stageHandlers[T, PT]) update(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	var req updateStageRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	e, err := h.chain.Update(r.Context(), id, ledger.UpdateInput{
		Amount:           req.Amount,
		Beneficiary:      req.Beneficiary,
		Purpose:          req.Purpose,
		Documents:        req.Documents,
		Withholdings:     req.Withholdings,
		PaymentMode:      req.PaymentMode,
		PaymentReference: req.PaymentReference,
		Actor:            actor(r),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *stageHandlers[T, PT]) submit(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	e, err := h.chain.Submit(r.Context(), id, actor(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// stageReasonRequest carries the free-text reason of a command. An empty body is
// accepted where the reason is optional.
type stageReasonRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=2000"`
}

func (h *stageHandlers[T, PT]) cancel(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	var req stageReasonRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	e, err := h.chain.Cancel(r.Context(), id, req.Reason, actor(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *stageHandlers[T, PT]) decide(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	var req decisionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	e, out, err := h.chain.Advance(r.Context(), id, req.toDecision(), actor(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResult[PT]{Entity: e, Outcome: out})
}

func (h *stageHandlers[T, PT]) resume(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	e, out, err := h.chain.Resume(r.Context(), id, actor(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResult[PT]{Entity: e, Outcome: out})
}

func (h *stageHandlers[T, PT]) steps(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	steps, err := h.chain.Steps(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page[workflow.VisaStepRecord]{Items: steps, TotalSize: len(steps)})
}

func (h *stageHandlers[T, PT]) stepView(w http.ResponseWriter, r *http.Request) {
	id, _ := splitRef(r)
	view, err := h.chain.Inspect(r.Context(), id, actor(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// countersignRoutes adds the signature sub-workflow of payment orders.
func (s *Server) countersignRoutes(r chi.Router, actions map[string]http.HandlerFunc) {
	orders := s.svc.PaymentOrders
	actions["countersign-start"] = func(w http.ResponseWriter, r *http.Request) {
		id, _ := splitRef(r)
		po, err := orders.StartCountersignature(r.Context(), id, actor(r))
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, po)
	}
	r.Post("/{ref}/countersign-decisions", func(w http.ResponseWriter, r *http.Request) {
		id, _ := splitRef(r)
		var req decisionRequest
		if err := s.decode(r, &req); err != nil {
			writeError(w, s.logger, err)
			return
		}
		po, out, err := orders.AdvanceCountersignature(r.Context(), id, req.toDecision(), actor(r))
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, commandResult[*ledger.PaymentOrderRecord]{Entity: po, Outcome: out})
	})
	r.Get("/{ref}/countersign-steps", func(w http.ResponseWriter, r *http.Request) {
		id, _ := splitRef(r)
		steps, err := orders.CountersignatureSteps(r.Context(), id)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, page[workflow.VisaStepRecord]{Items: steps, TotalSize: len(steps)})
	})
	r.Get("/{ref}/countersign-view", func(w http.ResponseWriter, r *http.Request) {
		id, _ := splitRef(r)
		view, err := orders.InspectCountersignature(r.Context(), id, actor(r))
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	})
}

// urgentPage lists urgent verifications along with their totals.
type urgentPage struct {
	page[ledger.VerificationRecord]
	Stats *ledger.UrgentStats `json:"stats"`
}

// urgencyRoutes adds the urgent flag of verifications.
func (s *Server) urgencyRoutes(r chi.Router, actions map[string]http.HandlerFunc) {
	svc := s.svc
	actions["mark-urgent"] = func(w http.ResponseWriter, r *http.Request) {
		id, _ := splitRef(r)
		var req stageReasonRequest
		if err := s.decode(r, &req); err != nil {
			writeError(w, s.logger, err)
			return
		}
		v, err := svc.MarkUrgent(r.Context(), id, req.Reason, actor(r))
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
	actions["clear-urgent"] = func(w http.ResponseWriter, r *http.Request) {
		id, _ := splitRef(r)
		v, err := svc.ClearUrgent(r.Context(), id, actor(r))
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
	r.Get("/urgent", func(w http.ResponseWriter, r *http.Request) {
		size, err := intParam(r, "pageSize")
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		q := r.URL.Query()
		items, next, total, err := svc.ListUrgent(r.Context(), ledger.ListOptions{
			Exercice:  exercice(r),
			Status:    workflow.Status(q.Get("status")),
			PageSize:  size,
			PageToken: q.Get("pageToken"),
		})
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		stats, err := svc.UrgentStats(r.Context(), exercice(r))
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		if items == nil {
			items = []ledger.VerificationRecord{}
		}
		writeJSON(w, http.StatusOK, urgentPage{
			page:  page[ledger.VerificationRecord]{Items: items, NextPageToken: next, TotalSize: total},
			Stats: stats,
		})
	})
}
