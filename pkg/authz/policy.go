package authz

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
)

// AnyRole grants a verb to every identified principal.
const AnyRole = "*"

// Policy grants (resource, verb) pairs to roles.
type Policy map[string]map[string][]string

// DefaultPolicy restricts budget structure changes and audit reads to
// the finance direction. Stage entity commands are open to every
// identified principal; the visa steps check roles themselves.
func DefaultPolicy() Policy {
	finance := []string{"CB", "DAF", "ADMIN"}
	open := map[string][]string{
		VerbGet: {AnyRole}, VerbList: {AnyRole}, VerbCreate: {AnyRole},
		VerbUpdate: {AnyRole}, VerbSubmit: {AnyRole}, VerbDecide: {AnyRole},
	}
	return Policy{
		ResourceLines: {
			VerbGet: {AnyRole}, VerbList: {AnyRole},
			VerbCreate: finance, VerbUpdate: finance, VerbFreeze: {"DAF", "ADMIN"},
		},
		ResourceFiscalYears:   {VerbOpen: {"DAF", "ADMIN"}},
		ResourceAudit:         {VerbList: {"AUDITEUR", "DAF", "ADMIN"}},
		ResourceWorkflows:     {VerbList: {AnyRole}},
		ResourceVisas:         {VerbList: {AnyRole}},
		ResourceCommitments:   open,
		ResourceVerifications: open,
		ResourcePaymentOrders: open,
		ResourceSettlements:   open,
		ResourceTransfers:     open,
	}
}

// PolicyAuthorizer checks requests against a Policy.
type PolicyAuthorizer struct {
	policy Policy
}

// NewPolicyAuthorizer creates a PolicyAuthorizer. A nil policy uses DefaultPolicy.
func NewPolicyAuthorizer(p Policy) *PolicyAuthorizer {
	if p == nil {
		p = DefaultPolicy()
	}
	return &PolicyAuthorizer{policy: p}
}

// Authorize implements Authorizer. Anonymous principals are always denied.
func (a *PolicyAuthorizer) Authorize(_ context.Context, req AuthzRequest) (bool, error) {
	if req.User == "" || req.User == Anonymous {
		return false, nil
	}
	allowed := mapset.NewThreadUnsafeSet(a.policy[req.Resource][req.Verb]...)
	if allowed.Contains(AnyRole) {
		return true, nil
	}
	return allowed.Intersect(mapset.NewThreadUnsafeSet(req.Roles...)).Cardinality() > 0, nil
}
