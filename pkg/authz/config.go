package authz

import (
	"os"
	"strings"
)

// AuthzMode selects the request authorization backend.
type AuthzMode string

const (
	// AuthzModeNone disables request-level checks. Visa steps are still
	// checked against the actor roles.
	AuthzModeNone AuthzMode = "none"
	// AuthzModePolicy checks requests against a role Policy.
	AuthzModePolicy AuthzMode = "policy"
)

// ModeFromEnv reads LEDGER_AUTHZ_MODE, defaulting to policy.
func ModeFromEnv() AuthzMode {
	switch AuthzMode(strings.ToLower(strings.TrimSpace(os.Getenv("LEDGER_AUTHZ_MODE")))) {
	case AuthzModeNone:
		return AuthzModeNone
	default:
		return AuthzModePolicy
	}
}
