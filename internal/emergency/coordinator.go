package emergency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/safedrive/go-dispatch-client/internal/api"
	"github.com/safedrive/go-dispatch-client/internal/config"
	"github.com/safedrive/go-dispatch-client/internal/logging"
	"github.com/safedrive/go-dispatch-client/internal/models"
	"github.com/safedrive/go-dispatch-client/internal/notify"
	"github.com/safedrive/go-dispatch-client/internal/realtime"
)

var (
	// ErrTriggerPending rejects a trigger while a previous one is in flight.
	ErrTriggerPending = errors.New("emergency: trigger already pending")
	// ErrAlreadyActive rejects a trigger while an incident is active.
	ErrAlreadyActive = errors.New("emergency: an incident is already active")
	// ErrNoActiveIncident rejects a cancel with nothing to cancel.
	ErrNoActiveIncident = errors.New("emergency: no active incident")
	// ErrCallEmergencyServices marks failures where the user should dial
	// emergency services directly instead of retrying the app flow.
	ErrCallEmergencyServices = errors.New("emergency: report failed, call emergency services directly")
)

// Backend is the slice of the API client the coordinator issues commands on.
type Backend interface {
	CreateIncident(ctx context.Context, req api.CreateIncidentRequest) (models.Incident, error)
	CancelIncident(ctx context.Context, id string) (models.Incident, error)
	GetIncident(ctx context.Context, id string) (models.Incident, error)
	NotifyContacts(ctx context.Context, incidentID string) error
}

// Channel is the slice of the realtime channel the coordinator uses.
type Channel interface {
	Emit(event string, payload any)
	Subscribe(event string, handler realtime.Handler) func()
	OnStateChange(fn func(realtime.ConnState))
}

// Locator supplies the driver's position: last cached sample, or a fresh
// one-shot fix when nothing is cached.
type Locator interface {
	Cached() (models.LocationSample, bool)
	Once(ctx context.Context) (models.LocationSample, error)
}

// Coordinator is the per-session incident state machine: idle, or exactly one
// active incident. Pushed events and command results both funnel through it;
// the most recent server-confirmed status wins.
type Coordinator struct {
	backend  Backend
	channel  Channel
	locator  Locator
	alerts   *notify.Notifier
	cfg      config.DetectionConfig
	driverID func() string

	mu      sync.Mutex
	active  *models.Incident
	pending bool
	unsubs  []func()
}

func NewCoordinator(backend Backend, channel Channel, locator Locator, alerts *notify.Notifier, cfg config.DetectionConfig, driverID func() string) *Coordinator {
	return &Coordinator{
		backend:  backend,
		channel:  channel,
		locator:  locator,
		alerts:   alerts,
		cfg:      cfg,
		driverID: driverID,
	}
}

// Start subscribes to the incident event stream and arms reconnect
// reconciliation. Stop disposes every subscription.
func (c *Coordinator) Start() {
	subs := []struct {
		event   string
		handler realtime.Handler
	}{
		{realtime.EventNewIncident, c.onNewIncident},
		{realtime.EventIncidentUpdate, c.onIncidentUpdate},
		{realtime.EventIncidentResolved, c.onIncidentClosed},
		{realtime.EventIncidentCancelled, c.onIncidentClosed},
		{realtime.EventResponderAccepted, c.onResponderAccepted},
		{realtime.EventResponderUpdate, c.onResponderUpdate},
	}

	c.mu.Lock()
	for _, s := range subs {
		c.unsubs = append(c.unsubs, c.channel.Subscribe(s.event, s.handler))
	}
	c.mu.Unlock()

	// Events buffered across a connection gap carry no ordering guarantee,
	// so on every reconnect the active incident is re-fetched instead.
	c.channel.OnStateChange(func(cs realtime.ConnState) {
		if cs.Connected {
			go c.Resync(context.Background())
		}
	})
}

func (c *Coordinator) Stop() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// IsActive reports whether an incident is active for this session.
func (c *Coordinator) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Active returns a copy of the active incident, if any.
func (c *Coordinator) Active() (models.Incident, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return models.Incident{}, false
	}
	return *c.active, true
}

// Responders returns a copy of the active incident's responder roster.
func (c *Coordinator) Responders() []models.Responder {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	out := make([]models.Responder, len(c.active.Responders))
	copy(out, c.active.Responders)
	return out
}

// Trigger reports a new emergency of the given type. The transition to active
// is optimistic, applied as soon as the server returns the created incident:
// over-reporting is safer than under-reporting.
func (c *Coordinator) Trigger(ctx context.Context, typ models.IncidentType) (models.Incident, error) {
	req := api.CreateIncidentRequest{
		Type:     typ,
		Severity: models.SeverityCritical,
	}
	return c.report(ctx, req)
}

// Evaluate scores a telemetry frame and auto-triggers when the confidence
// clears the configured cutoff.
func (c *Coordinator) Evaluate(ctx context.Context, t Telemetry) (Detection, error) {
	d := Detect(t, c.cfg)
	if !d.Accident || d.Confidence <= c.cfg.ConfidenceCutoff {
		return d, nil
	}

	_, err := c.report(ctx, api.CreateIncidentRequest{
		Type:        models.TypeCollision,
		Severity:    d.Severity,
		SpeedKmh:    t.SpeedKmh,
		ImpactForce: t.ImpactGForce,
		Airbag:      t.Airbag,
	})
	if errors.Is(err, ErrTriggerPending) || errors.Is(err, ErrAlreadyActive) {
		// The crash is already being reported; the detection still stands.
		return d, nil
	}
	return d, err
}

func (c *Coordinator) report(ctx context.Context, req api.CreateIncidentRequest) (models.Incident, error) {
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return models.Incident{}, ErrTriggerPending
	}
	if c.active != nil {
		c.mu.Unlock()
		return models.Incident{}, ErrAlreadyActive
	}
	c.pending = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
	}()

	loc, ok := c.locator.Cached()
	if !ok {
		var err error
		loc, err = c.locator.Once(ctx)
		if err != nil {
			c.alerts.Alert("Emergency not reported", "Your location could not be determined. Call emergency services directly.")
			return models.Incident{}, errors.Join(ErrCallEmergencyServices, err)
		}
	}

	req.DriverID = c.driverID()
	req.Location = loc.Coordinates()
	if req.SpeedKmh == 0 {
		req.SpeedKmh = loc.SpeedKmh
	}
	req.Timestamp = time.Now()

	incident, err := c.backend.CreateIncident(ctx, req)
	if err != nil {
		c.alerts.Alert("Emergency not reported", "The emergency could not be reported. Call emergency services directly.")
		return models.Incident{}, errors.Join(ErrCallEmergencyServices, err)
	}

	c.mu.Lock()
	c.active = &incident
	c.mu.Unlock()

	// Best-effort: the created incident is already authoritative server-side.
	c.channel.Emit(realtime.EventPanicButton, map[string]any{
		"driverId":  req.DriverID,
		"location":  req.Location,
		"timestamp": req.Timestamp,
	})
	if err := c.backend.NotifyContacts(ctx, incident.ID); err != nil {
		slog.Warn("notifying emergency contacts failed", "incident", incident.ID, "error", err)
	}

	c.alerts.Alert("Emergency reported", "Emergency services have been notified. Help is on the way.")
	slog.Info("incident reported", "incident", incident.ID, "type", incident.Type, "severity", incident.Severity)
	return incident, nil
}

// Cancel withdraws the active incident. Unlike Trigger it is not optimistic:
// the active slot is cleared only after the server acknowledges, because a
// spurious local cancel must not race a real dispatch.
func (c *Coordinator) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return ErrNoActiveIncident
	}
	id := c.active.ID
	c.mu.Unlock()

	if _, err := c.backend.CancelIncident(ctx, id); err != nil {
		return fmt.Errorf("cancelling incident %s: %w", id, err)
	}

	c.mu.Lock()
	if c.active != nil && c.active.ID == id {
		c.active = nil
	}
	c.mu.Unlock()

	c.channel.Emit(realtime.EventCancelEmergency, id)
	c.alerts.Info("Emergency cancelled", "Your emergency report has been withdrawn.")
	slog.Info("incident cancelled", "incident", id)
	return nil
}

// Resync re-fetches the authoritative incident after a reconnect, replacing
// whatever the local copy drifted to during the gap.
func (c *Coordinator) Resync(ctx context.Context) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return
	}
	id := c.active.ID
	c.mu.Unlock()

	incident, err := c.backend.GetIncident(ctx, id)
	if err != nil {
		slog.Warn("resync fetch failed", "incident", id, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.ID != id {
		return
	}
	if incident.Status.Terminal() {
		c.active = nil
		slog.Info("incident closed during connection gap", "incident", id, "status", incident.Status)
		return
	}
	c.active = &incident
}

func (c *Coordinator) onNewIncident(data json.RawMessage) {
	var incident models.Incident
	if err := json.Unmarshal(data, &incident); err != nil {
		slog.Error("bad new-incident payload", "error", err)
		return
	}
	if incident.DriverID != c.driverID() {
		return
	}

	c.mu.Lock()
	if c.active != nil && c.active.ID != incident.ID {
		active := c.active.ID
		c.mu.Unlock()
		logging.Anomaly("new-incident while another is active, ignoring",
			"active", active, "pushed", incident.ID)
		return
	}
	c.active = &incident
	c.mu.Unlock()

	c.alerts.Alert("Accident detected", "An accident was detected and emergency services have been notified.")
	slog.Info("incident opened by server push", "incident", incident.ID)
}

func (c *Coordinator) onIncidentUpdate(data json.RawMessage) {
	var incident models.Incident
	if err := json.Unmarshal(data, &incident); err != nil {
		slog.Error("bad incident-update payload", "error", err)
		return
	}

	c.mu.Lock()
	if c.active == nil || c.active.ID != incident.ID {
		c.mu.Unlock()
		return
	}

	if incident.Status.Terminal() {
		status := incident.Status
		c.active = nil
		c.mu.Unlock()
		if status == models.StatusResolved {
			c.alerts.Info("Emergency resolved", "Your emergency has been resolved. Stay safe.")
		}
		slog.Info("incident closed", "incident", incident.ID, "status", status)
		return
	}

	merged := *c.active
	merged.Status = incident.Status
	merged.Severity = incident.Severity
	merged.ConfirmedAt = incident.ConfirmedAt
	merged.AssignedHospital = incident.AssignedHospital
	merged.AssignedAmbulance = incident.AssignedAmbulance
	merged.UpdatedAt = incident.UpdatedAt
	merged.Responders = mergeRoster(merged.Responders, incident.Responders)
	c.active = &merged
	c.mu.Unlock()

	if incident.Status == models.StatusEnRoute {
		c.alerts.Info("Help is on the way", "An ambulance is en route to your location.")
	}
}

func (c *Coordinator) onIncidentClosed(data json.RawMessage) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		slog.Error("bad incident close payload", "error", err)
		return
	}

	c.mu.Lock()
	if c.active == nil || c.active.ID != id {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.mu.Unlock()
	slog.Info("incident closed by server push", "incident", id)
}

func (c *Coordinator) onResponderAccepted(data json.RawMessage) {
	var payload struct {
		IncidentID string           `json:"incidentId"`
		Responder  models.Responder `json:"responder"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Error("bad responder-accepted payload", "error", err)
		return
	}

	c.mu.Lock()
	if c.active == nil || c.active.ID != payload.IncidentID {
		c.mu.Unlock()
		return
	}
	c.active.Responders = mergeRoster(c.active.Responders, []models.Responder{payload.Responder})
	c.mu.Unlock()

	c.alerts.Info("Responder accepted",
		fmt.Sprintf("%s is en route, ETA %d minutes.", payload.Responder.Name, payload.Responder.ETAMinutes))
}

func (c *Coordinator) onResponderUpdate(data json.RawMessage) {
	var payload struct {
		IncidentID string             `json:"incidentId"`
		Responders []models.Responder `json:"responders"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Error("bad responder-update payload", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.ID != payload.IncidentID {
		return
	}
	c.active.Responders = mergeRoster(c.active.Responders, payload.Responders)
}

// mergeRoster applies pushed responder entries append-or-replace by id. A
// responder's status is monotonic in the dispatched→completed order; an entry
// that would move it backward is dropped with an anomaly.
func mergeRoster(current, pushed []models.Responder) []models.Responder {
	merged := make([]models.Responder, len(current))
	copy(merged, current)

	for _, p := range pushed {
		idx := -1
		for i, r := range merged {
			if r.ID == p.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			merged = append(merged, p)
			continue
		}
		if p.Status.Rank() < merged[idx].Status.Rank() {
			logging.Anomaly("responder status moved backward, ignoring",
				"responder", p.ID, "current", merged[idx].Status, "pushed", p.Status)
			continue
		}
		merged[idx] = p
	}
	return merged
}
