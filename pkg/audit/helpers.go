package audit

import (
	"net/http"
	"strings"
)

// apiPrefix is the path prefix of the ledger API.
const apiPrefix = "/api/ledger/v1/"

// pathParts returns the segments after the API prefix, or nil for paths
// outside the API.
func pathParts(path string) []string {
	if !strings.HasPrefix(path, apiPrefix) {
		return nil
	}
	return strings.Split(strings.Trim(strings.TrimPrefix(path, apiPrefix), "/"), "/")
}

// extractResourceType returns the resource collection of a path:
// "lines", "commitments", "transfers", ...
func extractResourceType(path string) string {
	parts := pathParts(path)
	if len(parts) == 0 {
		return ""
	}
	return stripAction(parts[0])
}

// extractResourceID returns the identifier following the collection
// segment, without any ":action" suffix.
func extractResourceID(path string) string {
	parts := pathParts(path)
	if len(parts) < 2 {
		return ""
	}
	return stripAction(parts[1])
}

// extractActionVerb returns a human-readable action name from the HTTP method and path.
func extractActionVerb(method, path string) string {
	parts := pathParts(path)

	// ":action" suffix on the identifier segment.
	if len(parts) >= 2 {
		if idx := strings.Index(parts[1], ":"); idx > 0 {
			return parts[1][idx+1:]
		}
	}
	// Sub-resource commands.
	if len(parts) == 3 && method == http.MethodPost {
		switch parts[2] {
		case "decisions":
			return "decide"
		case "countersign-decisions":
			return "countersign"
		}
	}

	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut:
		return "update"
	case http.MethodPatch:
		return "patch"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

func stripAction(segment string) string {
	if idx := strings.Index(segment, ":"); idx >= 0 {
		return segment[:idx]
	}
	return segment
}

// isAuditedRequest returns true if the request should be audited: every
// mutating call to the API. Reads and health checks are not.
func isAuditedRequest(method, path string) bool {
	if isHealthEndpoint(path) {
		return false
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// isHealthEndpoint returns true for health-check paths.
func isHealthEndpoint(path string) bool {
	switch path {
	case "/livez", "/readyz", "/healthz", "/metrics":
		return true
	}
	return false
}
