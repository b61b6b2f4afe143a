package backend

import (
	"slices"
	"strings"

	"assessgate/internal/platform/config"
	pstrings "assessgate/pkg/platform/strings"
)

// Endpoint is one candidate backend URL. Lower Priority is tried first; ties
// keep their configured order.
type Endpoint struct {
	Name     string
	URL      string
	Priority int
}

// Label is what logs, metrics and the attempt trail call this endpoint.
func (e Endpoint) Label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.URL
}

// EndpointsFromConfig converts configured descriptors.
func EndpointsFromConfig(in []config.Endpoint) []Endpoint {
	out := make([]Endpoint, 0, len(in))
	for _, e := range in {
		out = append(out, Endpoint{Name: e.Name, URL: e.URL, Priority: e.Priority})
	}
	return out
}

// orderEndpoints trims URLs, drops blanks, stable-sorts by priority and keeps
// the first occurrence of each URL.
func orderEndpoints(in []Endpoint) []Endpoint {
	trimmed := make([]Endpoint, 0, len(in))
	for _, e := range in {
		e.URL = strings.TrimSpace(e.URL)
		e.Name = strings.TrimSpace(e.Name)
		trimmed = append(trimmed, e)
	}
	slices.SortStableFunc(trimmed, func(a, b Endpoint) int {
		return a.Priority - b.Priority
	})
	return pstrings.DedupeBy(trimmed, func(e Endpoint) string {
		return pstrings.NormalizeURLKey(e.URL)
	})
}
