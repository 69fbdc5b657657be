package authz

import (
	"net/http"
	"testing"
)

func TestMapRequest(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		path         string
		wantResource string
		wantVerb     string
	}{
		{"list lines", http.MethodGet, "/api/ledger/v1/lines", ResourceLines, VerbList},
		{"get line availability", http.MethodGet, "/api/ledger/v1/lines/l1/availability", ResourceLines, VerbGet},
		{"create line", http.MethodPost, "/api/ledger/v1/lines", ResourceLines, VerbCreate},
		{"amend line", http.MethodPatch, "/api/ledger/v1/lines/l1", ResourceLines, VerbUpdate},
		{"deactivate line", http.MethodPost, "/api/ledger/v1/lines/l1:deactivate", ResourceLines, VerbUpdate},
		{"freeze line", http.MethodPost, "/api/ledger/v1/lines/l1:freeze-noncompliant", ResourceLines, VerbFreeze},
		{"open fiscal year", http.MethodPost, "/api/ledger/v1/fiscal-years/2026:open", ResourceFiscalYears, VerbOpen},
		{"create commitment", http.MethodPost, "/api/ledger/v1/commitments", ResourceCommitments, VerbCreate},
		{"submit verification", http.MethodPost, "/api/ledger/v1/verifications/v1:submit", ResourceVerifications, VerbSubmit},
		{"decide payment order", http.MethodPost, "/api/ledger/v1/payment-orders/p1/decisions", ResourcePaymentOrders, VerbDecide},
		{"countersign payment order", http.MethodPost, "/api/ledger/v1/payment-orders/p1/countersign-decisions", ResourcePaymentOrders, VerbDecide},
		{"resume settlement", http.MethodPost, "/api/ledger/v1/settlements/s1:resume", ResourceSettlements, VerbDecide},
		{"cancel commitment", http.MethodPost, "/api/ledger/v1/commitments/c1:cancel", ResourceCommitments, VerbUpdate},
		{"mark verification urgent", http.MethodPost, "/api/ledger/v1/verifications/v1:mark-urgent", ResourceVerifications, VerbUpdate},
		{"clear verification urgency", http.MethodPost, "/api/ledger/v1/verifications/v1:clear-urgent", ResourceVerifications, VerbUpdate},
		{"list urgent verifications", http.MethodGet, "/api/ledger/v1/verifications/urgent", ResourceVerifications, VerbGet},
		{"unknown stage action", http.MethodPost, "/api/ledger/v1/verifications/v1:explode", "", ""},
		{"start countersignature", http.MethodPost, "/api/ledger/v1/payment-orders/p1:countersign-start", ResourcePaymentOrders, VerbDecide},
		{"step view", http.MethodGet, "/api/ledger/v1/commitments/c1/step-view", ResourceCommitments, VerbGet},
		{"update draft transfer", http.MethodPatch, "/api/ledger/v1/transfers/t1", ResourceTransfers, VerbUpdate},
		{"audit events", http.MethodGet, "/api/ledger/v1/audit/events", ResourceAudit, VerbList},
		{"workflows", http.MethodGet, "/api/ledger/v1/workflows", ResourceWorkflows, VerbList},
		{"pending visas", http.MethodGet, "/api/ledger/v1/visas/pending", ResourceVisas, VerbList},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapRequest(tt.method, tt.path)
			if got.Resource != tt.wantResource || got.Verb != tt.wantVerb {
				t.Errorf("MapRequest(%s, %s) = %+v, want {%s %s}", tt.method, tt.path, got, tt.wantResource, tt.wantVerb)
			}
		})
	}
}

func TestMapRequestUnknown(t *testing.T) {
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/unknown/path"},
		{http.MethodDelete, "/api/ledger/v1/lines/l1"},
		{http.MethodPost, "/api/ledger/v1/audit/events"},
		{http.MethodPost, "/api/ledger/v1/commitments/c1:explode"},
		{http.MethodGet, "/api/ledger/v1/fiscal-years/2026"},
	}
	for _, tt := range tests {
		if got := MapRequest(tt.method, tt.path); got != UnknownMapping {
			t.Errorf("MapRequest(%s, %s) = %+v, want unknown", tt.method, tt.path, got)
		}
	}
}
