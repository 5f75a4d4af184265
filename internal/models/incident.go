package models

import "time"

type IncidentStatus string

const (
	StatusPending      IncidentStatus = "pending"
	StatusDetected     IncidentStatus = "detected"
	StatusConfirmed    IncidentStatus = "confirmed"
	StatusDispatched   IncidentStatus = "dispatched"
	StatusEnRoute      IncidentStatus = "en-route"
	StatusArrived      IncidentStatus = "arrived"
	StatusTreating     IncidentStatus = "treating"
	StatusTransporting IncidentStatus = "transporting"
	StatusResolved     IncidentStatus = "resolved"
	StatusCancelled    IncidentStatus = "cancelled"
	StatusFalseAlarm   IncidentStatus = "false-alarm"
)

// Terminal reports whether the status ends an incident's lifecycle.
func (s IncidentStatus) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled || s == StatusFalseAlarm
}

type IncidentSeverity string

const (
	SeverityLow      IncidentSeverity = "low"
	SeverityMedium   IncidentSeverity = "medium"
	SeverityHigh     IncidentSeverity = "high"
	SeverityCritical IncidentSeverity = "critical"
	SeverityFatal    IncidentSeverity = "fatal"
)

type IncidentType string

const (
	TypeCollision IncidentType = "collision"
	TypeRollover  IncidentType = "rollover"
	TypeFire      IncidentType = "fire"
	TypeMedical   IncidentType = "medical"
	TypeOther     IncidentType = "other"
)

type Incident struct {
	ID          string           `json:"id"`
	DriverID    string           `json:"driverId"`
	Type        IncidentType     `json:"type"`
	Severity    IncidentSeverity `json:"severity"`
	Status      IncidentStatus   `json:"status"`
	Location    Coordinates      `json:"location"`
	Address     string           `json:"locationAddress,omitempty"`
	SpeedKmh    float64          `json:"speed,omitempty"`
	ImpactForce float64          `json:"impactForce,omitempty"`
	Airbag      bool             `json:"airbagDeployed"`
	Occupants   int              `json:"occupants,omitempty"`

	DetectedAt  time.Time  `json:"detectedAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`

	Responders        []Responder `json:"responders"`
	ContactsNotified  []string    `json:"emergencyContactsNotified,omitempty"`
	AssignedHospital  string      `json:"assignedHospital,omitempty"`
	AssignedAmbulance string      `json:"assignedAmbulance,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ResponderType string

const (
	ResponderAmbulance ResponderType = "ambulance"
	ResponderPolice    ResponderType = "police"
	ResponderFire      ResponderType = "fire"
	ResponderRescue    ResponderType = "rescue"
)

type ResponderStatus string

const (
	ResponderDispatched   ResponderStatus = "dispatched"
	ResponderEnRoute      ResponderStatus = "en-route"
	ResponderArrived      ResponderStatus = "arrived"
	ResponderTreating     ResponderStatus = "treating"
	ResponderTransporting ResponderStatus = "transporting"
	ResponderCompleted    ResponderStatus = "completed"
)

var responderStatusRank = map[ResponderStatus]int{
	ResponderDispatched:   0,
	ResponderEnRoute:      1,
	ResponderArrived:      2,
	ResponderTreating:     3,
	ResponderTransporting: 4,
	ResponderCompleted:    5,
}

// Rank returns the position of the status in the dispatched→completed
// progression, or -1 for an unknown status. A responder's status must never
// move to a lower rank.
func (s ResponderStatus) Rank() int {
	if r, ok := responderStatusRank[s]; ok {
		return r
	}
	return -1
}

type Responder struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         ResponderType   `json:"type"`
	Hospital     string          `json:"hospital,omitempty"`
	ETAMinutes   int             `json:"eta"`
	DistanceKm   float64         `json:"distance"`
	Status       ResponderStatus `json:"status"`
	Location     *Coordinates    `json:"location,omitempty"`
	DispatchedAt time.Time       `json:"dispatchedAt"`
}
