package authz

import (
	"net/http"
	"strings"
)

// APIPrefix is the path prefix of the ledger API.
const APIPrefix = "/api/ledger/v1"

// ResourceMapping maps an HTTP request to a ledger resource and verb for authorization.
type ResourceMapping struct {
	Resource string
	Verb     string
}

// UnknownMapping is returned when no known pattern matches the request.
// Callers should deny requests with this mapping by default.
var UnknownMapping = ResourceMapping{Resource: "", Verb: ""}

var stageResources = map[string]bool{
	ResourceCommitments:   true,
	ResourceVerifications: true,
	ResourcePaymentOrders: true,
	ResourceSettlements:   true,
	ResourceTransfers:     true,
}

// MapRequest maps an HTTP method and URL path to a ResourceMapping.
func MapRequest(method, path string) ResourceMapping {
	path = strings.TrimRight(path, "/")
	if !strings.HasPrefix(path, APIPrefix+"/") {
		return UnknownMapping
	}
	parts := strings.Split(strings.TrimPrefix(path, APIPrefix+"/"), "/")

	resource, action := splitAction(parts[0])
	switch {
	case resource == ResourceLines:
		return mapLineRoute(method, parts)
	case resource == ResourceFiscalYears:
		if len(parts) == 2 && method == http.MethodPost {
			if _, a := splitAction(parts[1]); a == "open" {
				return ResourceMapping{Resource: ResourceFiscalYears, Verb: VerbOpen}
			}
		}
		return UnknownMapping
	case resource == ResourceAudit, resource == ResourceWorkflows, resource == ResourceVisas:
		if method == http.MethodGet {
			return ResourceMapping{Resource: resource, Verb: VerbList}
		}
		return UnknownMapping
	case stageResources[resource] && action == "":
		return mapStageRoute(resource, method, parts)
	}

	return UnknownMapping
}

// mapLineRoute handles /lines routes.
func mapLineRoute(method string, parts []string) ResourceMapping {
	switch method {
	case http.MethodGet:
		if len(parts) == 1 {
			return ResourceMapping{Resource: ResourceLines, Verb: VerbList}
		}
		return ResourceMapping{Resource: ResourceLines, Verb: VerbGet}
	case http.MethodPost:
		if len(parts) == 1 {
			return ResourceMapping{Resource: ResourceLines, Verb: VerbCreate}
		}
		switch _, action := splitAction(parts[1]); action {
		case "deactivate":
			return ResourceMapping{Resource: ResourceLines, Verb: VerbUpdate}
		case "freeze-noncompliant":
			return ResourceMapping{Resource: ResourceLines, Verb: VerbFreeze}
		}
	case http.MethodPatch, http.MethodPut:
		if len(parts) == 2 {
			return ResourceMapping{Resource: ResourceLines, Verb: VerbUpdate}
		}
	}
	return UnknownMapping
}

// mapStageRoute handles stage entity and transfer routes.
func mapStageRoute(resource, method string, parts []string) ResourceMapping {
	switch method {
	case http.MethodGet:
		if len(parts) == 1 {
			return ResourceMapping{Resource: resource, Verb: VerbList}
		}
		return ResourceMapping{Resource: resource, Verb: VerbGet}
	case http.MethodPatch, http.MethodPut:
		if len(parts) == 2 {
			return ResourceMapping{Resource: resource, Verb: VerbUpdate}
		}
	case http.MethodPost:
		if len(parts) == 1 {
			return ResourceMapping{Resource: resource, Verb: VerbCreate}
		}
		if len(parts) == 3 && strings.HasSuffix(parts[2], "decisions") {
			return ResourceMapping{Resource: resource, Verb: VerbDecide}
		}
		switch _, action := splitAction(parts[1]); action {
		case "submit":
			return ResourceMapping{Resource: resource, Verb: VerbSubmit}
		case "resume", "countersign-start":
			return ResourceMapping{Resource: resource, Verb: VerbDecide}
		case "cancel", "mark-urgent", "clear-urgent":
			return ResourceMapping{Resource: resource, Verb: VerbUpdate}
		}
	}
	return UnknownMapping
}

// splitAction splits "id:action" into its two parts.
func splitAction(segment string) (string, string) {
	if idx := strings.Index(segment, ":"); idx >= 0 {
		return segment[:idx], segment[idx+1:]
	}
	return segment, ""
}
