package audit

import (
	"net/http"
	"testing"
)

func TestExtractResource(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantType string
		wantID   string
	}{
		{"collection", "/api/ledger/v1/commitments", "commitments", ""},
		{"item", "/api/ledger/v1/lines/l-1", "lines", "l-1"},
		{"item action", "/api/ledger/v1/verifications/v-9:submit", "verifications", "v-9"},
		{"sub-resource", "/api/ledger/v1/payment-orders/p-2/decisions", "payment-orders", "p-2"},
		{"fiscal year", "/api/ledger/v1/fiscal-years/2026:open", "fiscal-years", "2026"},
		{"outside the api", "/healthz", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractResourceType(tt.path); got != tt.wantType {
				t.Errorf("extractResourceType(%q) = %q, want %q", tt.path, got, tt.wantType)
			}
			if got := extractResourceID(tt.path); got != tt.wantID {
				t.Errorf("extractResourceID(%q) = %q, want %q", tt.path, got, tt.wantID)
			}
		})
	}
}

func TestExtractActionVerb(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodPost, "/api/ledger/v1/commitments", "create"},
		{http.MethodPost, "/api/ledger/v1/commitments/c1:submit", "submit"},
		{http.MethodPost, "/api/ledger/v1/commitments/c1:resume", "resume"},
		{http.MethodPost, "/api/ledger/v1/commitments/c1/decisions", "decide"},
		{http.MethodPost, "/api/ledger/v1/payment-orders/p1/countersign-decisions", "countersign"},
		{http.MethodPost, "/api/ledger/v1/lines/l1:freeze-noncompliant", "freeze-noncompliant"},
		{http.MethodPatch, "/api/ledger/v1/lines/l1", "patch"},
		{http.MethodGet, "/api/ledger/v1/lines", "get"},
	}

	for _, tt := range tests {
		if got := extractActionVerb(tt.method, tt.path); got != tt.want {
			t.Errorf("extractActionVerb(%s, %q) = %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestIsAuditedRequest(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodPost, "/api/ledger/v1/commitments", true},
		{http.MethodPatch, "/api/ledger/v1/lines/l1", true},
		{http.MethodGet, "/api/ledger/v1/lines", false},
		{http.MethodPost, "/healthz", false},
		{http.MethodGet, "/metrics", false},
	}
	for _, tt := range tests {
		if got := isAuditedRequest(tt.method, tt.path); got != tt.want {
			t.Errorf("isAuditedRequest(%s, %q) = %v, want %v", tt.method, tt.path, got, tt.want)
		}
	}
}
