package realtime

// Server-to-client events.
const (
	EventNewIncident        = "new-incident"
	EventIncidentUpdate     = "incident-update"
	EventIncidentResolved   = "incident-resolved"
	EventIncidentCancelled  = "incident-cancelled"
	EventResponderAccepted  = "responder-accepted"
	EventResponderUpdate    = "responder-update"
	EventResponderLocation  = "responder-location"
	EventDriverStatusChange = "driver-status-change"
	EventEmergencyAlert     = "emergency-alert"
	EventHospitalStats      = "hospital-stats-update"
	EventSystemNotification = "system-notification"
	EventError              = "error"
)

// Client-to-server events.
const (
	EventLocationUpdate   = "location-update"
	EventStartTracking    = "start-tracking"
	EventStopTracking     = "stop-tracking"
	EventPanicButton      = "panic-button"
	EventCancelEmergency  = "cancel-emergency"
	EventAcceptIncident   = "accept-incident"
	EventReportIncident   = "report-incident"
	EventConfirmIncident  = "confirm-incident"
	EventDriverConnect    = "driver-connect"
	EventHospitalConnect  = "hospital-connect"
	EventResponderConnect = "responder-connect"
)
