package incidents

import (
	"strings"
	"time"

	"github.com/safedrive/go-dispatch-client/internal/models"
)

// Filter is a pure client-side predicate set. Zero fields match everything.
type Filter struct {
	Status          models.IncidentStatus
	Severity        models.IncidentSeverity
	Search          string
	From            time.Time
	To              time.Time
	ExcludeTerminal bool
}

func (f Filter) matches(inc models.Incident) bool {
	if f.Status != "" && inc.Status != f.Status {
		return false
	}
	if f.Severity != "" && inc.Severity != f.Severity {
		return false
	}
	if f.ExcludeTerminal && inc.Status.Terminal() {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(inc.ID), needle) &&
			!strings.Contains(strings.ToLower(inc.DriverID), needle) &&
			!strings.Contains(strings.ToLower(inc.Address), needle) {
			return false
		}
	}
	if !f.From.IsZero() && inc.DetectedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && inc.DetectedAt.After(f.To) {
		return false
	}
	return true
}

// Apply returns the incidents matching the filter, in input order. The input
// slice is never mutated.
func (f Filter) Apply(list []models.Incident) []models.Incident {
	out := make([]models.Incident, 0, len(list))
	for _, inc := range list {
		if f.matches(inc) {
			out = append(out, inc)
		}
	}
	return out
}
