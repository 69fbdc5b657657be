package authz

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

// DelegationSource returns the current role delegations: role -> roles that
// may act in its place.
type DelegationSource func() map[string][]string

// RoleAuthorizer decides visa steps from the roles an actor holds.
// It implements workflow.Authorizer.
type RoleAuthorizer struct {
	delegations DelegationSource
}

var _ workflow.Authorizer = (*RoleAuthorizer)(nil)

// NewRoleAuthorizer creates a RoleAuthorizer. A nil source means no
// delegation.
func NewRoleAuthorizer(src DelegationSource) *RoleAuthorizer {
	return &RoleAuthorizer{delegations: src}
}

// Authorize returns the role the actor acts as on step: the step role
// first, then its alternative role, then a delegate of either.
func (a *RoleAuthorizer) Authorize(_ context.Context, actor workflow.Actor, step workflow.PlannedStep) (string, error) {
	held := mapset.NewThreadUnsafeSet(actor.Roles...)

	if held.Contains(step.Role) {
		return step.Role, nil
	}
	if step.AlternativeRole != "" && held.Contains(step.AlternativeRole) {
		return step.AlternativeRole, nil
	}

	if a.delegations != nil {
		delegations := a.delegations()
		for _, principal := range []string{step.Role, step.AlternativeRole} {
			if principal == "" {
				continue
			}
			for _, delegate := range delegations[principal] {
				if held.Contains(delegate) {
					return delegate, nil
				}
			}
		}
	}

	return "", &apperrors.AuthorizationError{Actor: actor.ID, Role: step.Role, Step: step.Order}
}
