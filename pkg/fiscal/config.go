// Package fiscal resolves the fiscal year (exercice) a request operates on
// and carries it through the request context.
package fiscal

// Mode controls how the exercice of a request is resolved.
type Mode string

const (
	// ModeCurrent falls back to the current calendar year when the request
	// names no exercice.
	ModeCurrent Mode = "current"
	// ModeExplicit requires every request to name its exercice.
	ModeExplicit Mode = "explicit"
)

// Bounds of an acceptable exercice.
const (
	MinExercice = 2000
	MaxExercice = 2100
)
