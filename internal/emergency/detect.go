package emergency

import (
	"math"

	"github.com/safedrive/go-dispatch-client/internal/config"
	"github.com/safedrive/go-dispatch-client/internal/models"
)

// Telemetry is one crash-detection input frame.
type Telemetry struct {
	SpeedKmh     float64
	SpeedDropKmh float64
	Acceleration Vector3
	ImpactGForce float64
	Airbag       bool
}

type Vector3 struct {
	X, Y, Z float64
}

func (v Vector3) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Detection is the scored outcome of a telemetry frame.
type Detection struct {
	Accident   bool
	Severity   models.IncidentSeverity
	Confidence float64
}

var severityRank = map[models.IncidentSeverity]int{
	models.SeverityLow:      0,
	models.SeverityMedium:   1,
	models.SeverityHigh:     2,
	models.SeverityCritical: 3,
	models.SeverityFatal:    4,
}

func maxSeverity(a, b models.IncidentSeverity) models.IncidentSeverity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// Detect scores a telemetry frame against the configured thresholds. Pure:
// same frame and config, same result. The thresholds are heuristics, not a
// calibrated model.
func Detect(t Telemetry, cfg config.DetectionConfig) Detection {
	d := Detection{Severity: models.SeverityLow}

	if t.SpeedDropKmh >= cfg.SpeedDropKmh {
		d.Accident = true
		d.Severity = maxSeverity(d.Severity, models.SeverityMedium)
		d.Confidence += cfg.SpeedDropWeight
	}

	if t.ImpactGForce > cfg.ImpactGForce {
		d.Accident = true
		sev := models.SeverityHigh
		if t.ImpactGForce > 15 {
			sev = models.SeverityCritical
		}
		d.Severity = maxSeverity(d.Severity, sev)
		d.Confidence += cfg.ImpactWeight
	}

	if t.Airbag {
		d.Accident = true
		d.Severity = maxSeverity(d.Severity, models.SeverityCritical)
		d.Confidence += cfg.AirbagWeight
	}

	if mag := t.Acceleration.Magnitude(); mag > cfg.DecelerationMs2 {
		d.Accident = true
		sev := models.SeverityHigh
		if mag > 25 {
			sev = models.SeverityCritical
		}
		d.Severity = maxSeverity(d.Severity, sev)
		d.Confidence += cfg.DecelerationWeight
	}

	if d.Confidence > 1 {
		d.Confidence = 1
	}
	return d
}
