package models

import "time"

type Role string

const (
	RoleDriver    Role = "driver"
	RoleHospital  Role = "hospital"
	RoleResponder Role = "responder"
	RoleAdmin     Role = "admin"
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type EmergencyContact struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Relation string `json:"relation,omitempty"`
}

type HospitalStats struct {
	ActiveIncidents     int     `json:"activeIncidents"`
	AvailableAmbulances int     `json:"availableAmbulances"`
	AvgResponseMinutes  float64 `json:"avgResponseMinutes"`
	ResolvedToday       int     `json:"resolvedToday"`
}
