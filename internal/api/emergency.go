package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/safedrive/go-dispatch-client/internal/models"
)

type CreateIncidentRequest struct {
	DriverID    string                  `json:"driverId"`
	Location    models.Coordinates      `json:"location"`
	Type        models.IncidentType     `json:"type"`
	Severity    models.IncidentSeverity `json:"severity,omitempty"`
	SpeedKmh    float64                 `json:"speed,omitempty"`
	ImpactForce float64                 `json:"impactForce,omitempty"`
	Airbag      bool                    `json:"airbagDeployed"`
	Occupants   int                     `json:"occupants,omitempty"`
	Timestamp   time.Time               `json:"timestamp"`
}

type AcceptIncidentRequest struct {
	IncidentID  string `json:"incidentId"`
	HospitalID  string `json:"hospitalId"`
	ResponderID string `json:"responderId"`
	ETAMinutes  int    `json:"eta"`
}

type ListIncidentsOptions struct {
	Status   models.IncidentStatus
	DriverID string
	Limit    int
}

func (c *Client) CreateIncident(ctx context.Context, req CreateIncidentRequest) (models.Incident, error) {
	if err := req.validate(); err != nil {
		return models.Incident{}, err
	}
	var inc models.Incident
	err := c.do(ctx, http.MethodPost, "/emergency/incident", req, &inc)
	return inc, err
}

func (c *Client) GetIncident(ctx context.Context, id string) (models.Incident, error) {
	var inc models.Incident
	err := c.do(ctx, http.MethodGet, "/emergency/incident/"+url.PathEscape(id), nil, &inc)
	return inc, err
}

func (c *Client) ListIncidents(ctx context.Context, opts ListIncidentsOptions) ([]models.Incident, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.DriverID != "" {
		q.Set("driverId", opts.DriverID)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/emergency/incidents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var incidents []models.Incident
	err := c.do(ctx, http.MethodGet, path, nil, &incidents)
	return incidents, err
}

func (c *Client) AcceptIncident(ctx context.Context, req AcceptIncidentRequest) (models.Incident, error) {
	var inc models.Incident
	err := c.do(ctx, http.MethodPost, "/emergency/accept", req, &inc)
	return inc, err
}

func (c *Client) CancelIncident(ctx context.Context, id string) (models.Incident, error) {
	var inc models.Incident
	err := c.do(ctx, http.MethodPost, "/emergency/cancel",
		map[string]string{"incidentId": id}, &inc)
	return inc, err
}

func (c *Client) Stats(ctx context.Context) (models.HospitalStats, error) {
	var stats models.HospitalStats
	err := c.do(ctx, http.MethodGet, "/hospital/stats", nil, &stats)
	return stats, err
}

func (c *Client) ListEmergencyContacts(ctx context.Context) ([]models.EmergencyContact, error) {
	var contacts []models.EmergencyContact
	err := c.do(ctx, http.MethodGet, "/users/emergency-contacts", nil, &contacts)
	return contacts, err
}

func (c *Client) AddEmergencyContact(ctx context.Context, contact models.EmergencyContact) (models.EmergencyContact, error) {
	if contact.Name == "" || contact.Phone == "" {
		return models.EmergencyContact{}, ValidationErrors{
			{Field: "contact", Msg: "name and phone are required"},
		}
	}
	var out models.EmergencyContact
	err := c.do(ctx, http.MethodPost, "/users/emergency-contacts", contact, &out)
	return out, err
}

func (c *Client) DeleteEmergencyContact(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/users/emergency-contacts/"+url.PathEscape(id), nil, nil)
}

// NotifyContacts asks the server to alert the driver's emergency contacts
// about an incident. Best-effort from the caller's perspective.
func (c *Client) NotifyContacts(ctx context.Context, incidentID string) error {
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/emergency/incident/%s/notify-contacts", url.PathEscape(incidentID)), nil, nil)
}

type Hospital struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Location   models.Coordinates `json:"location"`
	DistanceKm float64            `json:"distance"`
}

func (c *Client) NearbyHospitals(ctx context.Context, at models.Coordinates) ([]Hospital, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(at.Lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(at.Lng, 'f', -1, 64))

	var hospitals []Hospital
	err := c.do(ctx, http.MethodGet, "/hospital/nearby?"+q.Encode(), nil, &hospitals)
	return hospitals, err
}
