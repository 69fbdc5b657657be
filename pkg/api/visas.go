package api

import (
	"net/http"

	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

// pendingVisas lists the open steps the caller may decide through one of
// the roles they hold, oldest first.
func (s *Server) pendingVisas(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "pageSize")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	a := actor(r)
	if s.engine == nil || s.engine.Steps() == nil || len(a.Roles) == 0 {
		writeJSON(w, http.StatusOK, page[workflow.VisaStepRecord]{Items: []workflow.VisaStepRecord{}})
		return
	}
	steps, err := s.engine.Steps().ListPendingByRole(s.db.WithContext(r.Context()), a.Roles, limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if steps == nil {
		steps = []workflow.VisaStepRecord{}
	}
	writeJSON(w, http.StatusOK, page[workflow.VisaStepRecord]{Items: steps, TotalSize: len(steps)})
}
