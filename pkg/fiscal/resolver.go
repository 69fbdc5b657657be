package fiscal

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// QueryParam is the query parameter naming the exercice.
const QueryParam = "exercice"

// Header is the HTTP header naming the exercice.
const Header = "X-Exercice"

// Resolver resolves the fiscal context of an HTTP request.
type Resolver interface {
	Resolve(r *http.Request) (Context, error)
}

// CurrentYearResolver uses the requested exercice when present, and the
// current calendar year otherwise.
type CurrentYearResolver struct {
	Now func() time.Time
}

// Resolve implements Resolver.
func (c CurrentYearResolver) Resolve(r *http.Request) (Context, error) {
	year, ok, err := requested(r)
	if err != nil {
		return Context{}, err
	}
	if ok {
		return Context{Exercice: year, Explicit: true}, nil
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return Context{Exercice: now().Year()}, nil
}

// ExplicitResolver requires the request to name its exercice.
type ExplicitResolver struct{}

// Resolve implements Resolver.
func (ExplicitResolver) Resolve(r *http.Request) (Context, error) {
	year, ok, err := requested(r)
	if err != nil {
		return Context{}, err
	}
	if !ok {
		return Context{}, fmt.Errorf("exercice is required (use ?exercice= query param or X-Exercice header)")
	}
	return Context{Exercice: year, Explicit: true}, nil
}

// requested reads the exercice from the query parameter first, then the
// header.
func requested(r *http.Request) (int, bool, error) {
	raw := r.URL.Query().Get(QueryParam)
	if raw == "" {
		raw = r.Header.Get(Header)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	year, err := Parse(raw)
	if err != nil {
		return 0, false, err
	}
	return year, true, nil
}

// Parse validates a textual exercice.
func Parse(raw string) (int, error) {
	year, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("exercice %q is not a year", raw)
	}
	if year < MinExercice || year > MaxExercice {
		return 0, fmt.Errorf("exercice %d is outside [%d, %d]", year, MinExercice, MaxExercice)
	}
	return year, nil
}
