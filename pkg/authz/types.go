// Package authz resolves who is calling the ledger and what they may do.
//
// Two layers exist. The HTTP layer maps each request to a (resource, verb)
// pair and checks it against a role Policy. The workflow layer is
// RoleAuthorizer: it decides whether an actor may act on a given visa step,
// honoring alternative roles and delegations.
package authz

import "context"

// Resource names used by the request mapper and the policy.
const (
	ResourceLines         = "lines"
	ResourceFiscalYears   = "fiscal-years"
	ResourceCommitments   = "commitments"
	ResourceVerifications = "verifications"
	ResourcePaymentOrders = "payment-orders"
	ResourceSettlements   = "settlements"
	ResourceTransfers     = "transfers"
	ResourceWorkflows     = "workflows"
	ResourceAudit         = "audit"
	ResourceVisas         = "visas"
)

// Verb names used by the request mapper and the policy.
const (
	VerbGet    = "get"
	VerbList   = "list"
	VerbCreate = "create"
	VerbUpdate = "update"
	VerbSubmit = "submit"
	VerbDecide = "decide"
	VerbOpen   = "open"
	VerbFreeze = "freeze"
)

// AuthzRequest represents an authorization check.
type AuthzRequest struct {
	User     string
	Roles    []string
	Resource string
	Verb     string
	Exercice int
}

// Authorizer checks whether a user is authorized to perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, req AuthzRequest) (bool, error)
}
