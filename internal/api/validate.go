package api

import (
	"fmt"
	"strings"
)

// ValidationError rejects a field client-side, before any network call.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (c Credentials) validate() error {
	var errs ValidationErrors
	if !strings.Contains(c.Email, "@") {
		errs = append(errs, ValidationError{Field: "email", Msg: "invalid email address"})
	}
	if c.Password == "" {
		errs = append(errs, ValidationError{Field: "password", Msg: "password is required"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (r RegisterData) validate() error {
	var errs ValidationErrors
	if r.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Msg: "name is required"})
	}
	if !strings.Contains(r.Email, "@") {
		errs = append(errs, ValidationError{Field: "email", Msg: "invalid email address"})
	}
	if len(r.Password) < 8 {
		errs = append(errs, ValidationError{Field: "password", Msg: "password must be at least 8 characters"})
	}
	switch r.Role {
	case "driver", "hospital", "responder":
	default:
		errs = append(errs, ValidationError{Field: "role", Msg: "role must be driver, hospital or responder"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (r CreateIncidentRequest) validate() error {
	var errs ValidationErrors
	if r.DriverID == "" {
		errs = append(errs, ValidationError{Field: "driverId", Msg: "driver id is required"})
	}
	if r.Location.Lat < -90 || r.Location.Lat > 90 {
		errs = append(errs, ValidationError{Field: "location.lat", Msg: "latitude out of range"})
	}
	if r.Location.Lng < -180 || r.Location.Lng > 180 {
		errs = append(errs, ValidationError{Field: "location.lng", Msg: "longitude out of range"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
