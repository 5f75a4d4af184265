// Package incidents maintains a dispatcher-side incident list: a fetched
// baseline kept current by pushed events. Terminal incidents stay visible,
// marked, until pruned after a grace period; callers hide them with filters.
package incidents

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/safedrive/go-dispatch-client/internal/api"
	"github.com/safedrive/go-dispatch-client/internal/models"
	"github.com/safedrive/go-dispatch-client/internal/realtime"
)

// Backend is the slice of the API client the view fetches its baseline from.
type Backend interface {
	ListIncidents(ctx context.Context, opts api.ListIncidentsOptions) ([]models.Incident, error)
}

// Channel is the subscription surface the view consumes pushes from.
type Channel interface {
	Subscribe(event string, handler realtime.Handler) func()
}

type entry struct {
	incident models.Incident
	markedAt time.Time // when a terminal push marked it, zero otherwise
}

// View merges pushed updates into a fetched baseline, newest first.
type View struct {
	backend Backend
	channel Channel
	limit   int

	mu      sync.Mutex
	entries []entry
	unsubs  []func()
}

func NewView(backend Backend, channel Channel, limit int) *View {
	return &View{backend: backend, channel: channel, limit: limit}
}

// Start subscribes to incident pushes. Stop disposes the subscriptions.
func (v *View) Start() {
	v.mu.Lock()
	v.unsubs = append(v.unsubs,
		v.channel.Subscribe(realtime.EventNewIncident, v.onNew),
		v.channel.Subscribe(realtime.EventIncidentUpdate, v.onUpdate),
		v.channel.Subscribe(realtime.EventIncidentResolved, v.closer(models.StatusResolved)),
		v.channel.Subscribe(realtime.EventIncidentCancelled, v.closer(models.StatusCancelled)),
	)
	v.mu.Unlock()
}

func (v *View) Stop() {
	v.mu.Lock()
	unsubs := v.unsubs
	v.unsubs = nil
	v.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Refresh replaces the baseline with a fresh fetch, ordered by recency.
func (v *View) Refresh(ctx context.Context) error {
	list, err := v.backend.ListIncidents(ctx, api.ListIncidentsOptions{Limit: v.limit})
	if err != nil {
		return err
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].DetectedAt.After(list[j].DetectedAt)
	})

	entries := make([]entry, len(list))
	for i, inc := range list {
		entries[i] = entry{incident: inc}
		if inc.Status.Terminal() {
			entries[i].markedAt = time.Now()
		}
	}

	v.mu.Lock()
	v.entries = entries
	v.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current list; callers filter it themselves.
func (v *View) Snapshot() []models.Incident {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.Incident, len(v.entries))
	for i, e := range v.entries {
		out[i] = e.incident
	}
	return out
}

func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

// Prune drops entries that have been terminal for longer than grace.
func (v *View) Prune(grace time.Duration) {
	cutoff := time.Now().Add(-grace)

	v.mu.Lock()
	defer v.mu.Unlock()
	kept := v.entries[:0]
	for _, e := range v.entries {
		if !e.markedAt.IsZero() && e.markedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}
	v.entries = kept
}

func (v *View) onNew(data json.RawMessage) {
	var incident models.Incident
	if err := json.Unmarshal(data, &incident); err != nil {
		slog.Error("bad new-incident payload", "error", err)
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, e := range v.entries {
		if e.incident.ID == incident.ID {
			return
		}
	}
	v.entries = append([]entry{{incident: incident}}, v.entries...)
}

func (v *View) onUpdate(data json.RawMessage) {
	var incident models.Incident
	if err := json.Unmarshal(data, &incident); err != nil {
		slog.Error("bad incident-update payload", "error", err)
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for i, e := range v.entries {
		if e.incident.ID != incident.ID {
			continue
		}
		v.entries[i].incident = incident
		if incident.Status.Terminal() && e.markedAt.IsZero() {
			v.entries[i].markedAt = time.Now()
		}
		return
	}
	// An update for an incident we never saw is ignored, not inserted: the
	// baseline stays authoritative for membership.
	slog.Debug("update for unknown incident ignored", "incident", incident.ID)
}

func (v *View) closer(status models.IncidentStatus) realtime.Handler {
	return func(data json.RawMessage) {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			slog.Error("bad incident close payload", "error", err)
			return
		}

		v.mu.Lock()
		defer v.mu.Unlock()
		for i, e := range v.entries {
			if e.incident.ID != id {
				continue
			}
			v.entries[i].incident.Status = status
			if e.markedAt.IsZero() {
				v.entries[i].markedAt = time.Now()
			}
			return
		}
	}
}
