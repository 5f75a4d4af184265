package devserver

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/safedrive/go-dispatch-client/internal/geo"
	"github.com/safedrive/go-dispatch-client/internal/models"
	"github.com/safedrive/go-dispatch-client/internal/realtime"
)

func (s *Server) createIncident(c *gin.Context) {
	var req struct {
		DriverID    string                  `json:"driverId"`
		Location    models.Coordinates      `json:"location"`
		Type        models.IncidentType     `json:"type"`
		Severity    models.IncidentSeverity `json:"severity"`
		SpeedKmh    float64                 `json:"speed"`
		ImpactForce float64                 `json:"impactForce"`
		Airbag      bool                    `json:"airbagDeployed"`
		Occupants   int                     `json:"occupants"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	now := time.Now()
	incident := models.Incident{
		ID:          uuid.NewString(),
		DriverID:    req.DriverID,
		Type:        req.Type,
		Severity:    req.Severity,
		Status:      models.StatusPending,
		Location:    req.Location,
		SpeedKmh:    req.SpeedKmh,
		ImpactForce: req.ImpactForce,
		Airbag:      req.Airbag,
		Occupants:   req.Occupants,
		DetectedAt:  now,
		Responders:  []models.Responder{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.incidents[incident.ID] = &incident
	s.mu.Unlock()

	s.hub.Broadcast(realtime.EventEmergencyAlert, gin.H{
		"incidentId": incident.ID,
		"driverId":   incident.DriverID,
		"location":   incident.Location,
		"severity":   incident.Severity,
		"timestamp":  now,
	})

	c.JSON(http.StatusCreated, incident)
}

func (s *Server) getIncident(c *gin.Context) {
	s.mu.Lock()
	incident, ok := s.incidents[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		abortWith(c, http.StatusNotFound, "INCIDENT_NOT_FOUND", "incident not found")
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (s *Server) listIncidents(c *gin.Context) {
	limit := 50
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}
	status := models.IncidentStatus(c.Query("status"))
	driverID := c.Query("driverId")

	s.mu.Lock()
	list := make([]models.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		if status != "" && inc.Status != status {
			continue
		}
		if driverID != "" && inc.DriverID != driverID {
			continue
		}
		list = append(list, *inc)
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].DetectedAt.After(list[j].DetectedAt)
	})
	if len(list) > limit {
		list = list[:limit]
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) acceptIncident(c *gin.Context) {
	var req struct {
		IncidentID  string `json:"incidentId"`
		HospitalID  string `json:"hospitalId"`
		ResponderID string `json:"responderId"`
		ETAMinutes  int    `json:"eta"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	s.mu.Lock()
	incident, ok := s.incidents[req.IncidentID]
	if !ok {
		s.mu.Unlock()
		abortWith(c, http.StatusNotFound, "INCIDENT_NOT_FOUND", "incident not found")
		return
	}
	if incident.Status.Terminal() {
		s.mu.Unlock()
		abortWith(c, http.StatusConflict, "INCIDENT_CLOSED", "incident is already closed")
		return
	}
	responder := models.Responder{
		ID:           req.ResponderID,
		Name:         "Ambulance " + req.ResponderID,
		Type:         models.ResponderAmbulance,
		Hospital:     req.HospitalID,
		ETAMinutes:   req.ETAMinutes,
		Status:       models.ResponderDispatched,
		DispatchedAt: time.Now(),
	}
	incident.Responders = append(incident.Responders, responder)
	incident.Status = models.StatusDispatched
	incident.AssignedHospital = req.HospitalID
	incident.UpdatedAt = time.Now()
	snapshot := *incident
	s.mu.Unlock()

	s.hub.Broadcast(realtime.EventResponderAccepted, gin.H{
		"incidentId": snapshot.ID,
		"responder":  responder,
	})
	s.hub.Broadcast(realtime.EventIncidentUpdate, snapshot)

	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) cancelIncident(c *gin.Context) {
	var req struct {
		IncidentID string `json:"incidentId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	s.mu.Lock()
	incident, ok := s.incidents[req.IncidentID]
	if !ok {
		s.mu.Unlock()
		abortWith(c, http.StatusNotFound, "INCIDENT_NOT_FOUND", "incident not found")
		return
	}
	now := time.Now()
	incident.Status = models.StatusCancelled
	incident.ResolvedAt = &now
	incident.UpdatedAt = now
	snapshot := *incident
	s.mu.Unlock()

	s.hub.Broadcast(realtime.EventIncidentCancelled, snapshot.ID)

	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) notifyContacts(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	incident, ok := s.incidents[id]
	if ok {
		incident.ContactsNotified = append(incident.ContactsNotified, "all")
	}
	s.mu.Unlock()

	if !ok {
		abortWith(c, http.StatusNotFound, "INCIDENT_NOT_FOUND", "incident not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notified": true})
}

func (s *Server) stats(c *gin.Context) {
	s.mu.Lock()
	var active, resolved int
	for _, inc := range s.incidents {
		if inc.Status.Terminal() {
			resolved++
		} else {
			active++
		}
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, models.HospitalStats{
		ActiveIncidents:     active,
		AvailableAmbulances: 4,
		AvgResponseMinutes:  8.5,
		ResolvedToday:       resolved,
	})
}

var hospitals = []struct {
	ID       string
	Name     string
	Location models.Coordinates
}{
	{"H1", "Kenyatta National Hospital", models.Coordinates{Lat: -1.3008, Lng: 36.8068}},
	{"H2", "Nairobi Hospital", models.Coordinates{Lat: -1.2955, Lng: 36.8046}},
	{"H3", "Aga Khan University Hospital", models.Coordinates{Lat: -1.2620, Lng: 36.8200}},
}

func (s *Server) nearbyHospitals(c *gin.Context) {
	lat, _ := strconv.ParseFloat(c.Query("lat"), 64)
	lng, _ := strconv.ParseFloat(c.Query("lng"), 64)
	at := models.Coordinates{Lat: lat, Lng: lng}

	type hospitalOut struct {
		ID         string             `json:"id"`
		Name       string             `json:"name"`
		Location   models.Coordinates `json:"location"`
		DistanceKm float64            `json:"distance"`
	}
	out := make([]hospitalOut, len(hospitals))
	for i, h := range hospitals {
		out[i] = hospitalOut{
			ID:         h.ID,
			Name:       h.Name,
			Location:   h.Location,
			DistanceKm: geo.DistanceKm(at, h.Location),
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	c.JSON(http.StatusOK, out)
}

func (s *Server) updateLocation(c *gin.Context) {
	var loc models.DriverLocation
	if err := c.ShouldBindJSON(&loc); err != nil {
		abortWith(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	s.mu.Lock()
	s.locations[loc.DriverID] = append(s.locations[loc.DriverID], loc)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

func (s *Server) locationHistory(c *gin.Context) {
	driverID := c.Query("driverId")

	s.mu.Lock()
	history := make([]models.DriverLocation, len(s.locations[driverID]))
	copy(history, s.locations[driverID])
	s.mu.Unlock()

	c.JSON(http.StatusOK, history)
}

func (s *Server) nearbyDrivers(c *gin.Context) {
	lat, _ := strconv.ParseFloat(c.Query("lat"), 64)
	lng, _ := strconv.ParseFloat(c.Query("lng"), 64)
	radius, err := strconv.ParseFloat(c.Query("radius"), 64)
	if err != nil || radius <= 0 {
		radius = 10
	}
	at := models.Coordinates{Lat: lat, Lng: lng}

	s.mu.Lock()
	var out []models.DriverLocation
	for _, history := range s.locations {
		if len(history) == 0 {
			continue
		}
		last := history[len(history)-1]
		if geo.WithinRadius(at, models.Coordinates{Lat: last.Lat, Lng: last.Lng}, radius) {
			out = append(out, last)
		}
	}
	s.mu.Unlock()

	if out == nil {
		out = []models.DriverLocation{}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listContacts(c *gin.Context) {
	userID := c.GetString("userID")
	s.mu.Lock()
	contacts := make([]models.EmergencyContact, len(s.contacts[userID]))
	copy(contacts, s.contacts[userID])
	s.mu.Unlock()
	c.JSON(http.StatusOK, contacts)
}

func (s *Server) addContact(c *gin.Context) {
	var contact models.EmergencyContact
	if err := c.ShouldBindJSON(&contact); err != nil {
		abortWith(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	contact.ID = uuid.NewString()

	userID := c.GetString("userID")
	s.mu.Lock()
	s.contacts[userID] = append(s.contacts[userID], contact)
	s.mu.Unlock()

	c.JSON(http.StatusCreated, contact)
}

func (s *Server) deleteContact(c *gin.Context) {
	id := c.Param("id")
	userID := c.GetString("userID")

	s.mu.Lock()
	contacts := s.contacts[userID]
	for i, ct := range contacts {
		if ct.ID == id {
			s.contacts[userID] = append(contacts[:i], contacts[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	c.Status(http.StatusNoContent)
}

func (s *Server) debugPush(c *gin.Context) {
	var req struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	s.hub.Broadcast(req.Event, req.Data)
	c.JSON(http.StatusOK, gin.H{"pushed": req.Event})
}
