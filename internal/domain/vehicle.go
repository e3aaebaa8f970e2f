package domain

import "slices"

const VehicleStatusAvailable = "available"

// Service vehicle based at one or more depots.
type Vehicle struct {
	ID               string
	Name             string
	HomeLocationIDs  []string
	ServiceTypes     []string
	MaxStopsPerRoute int
	Status           string
}

// PrimaryLocationID returns the depot the vehicle is clustered under.
func (v *Vehicle) PrimaryLocationID() string {
	if len(v.HomeLocationIDs) == 0 {
		return ""
	}
	return v.HomeLocationIDs[0]
}

// CanService reports whether the vehicle handles serviceID.
// A vehicle without declared service types handles every service.
func (v *Vehicle) CanService(serviceID string) bool {
	if len(v.ServiceTypes) == 0 {
		return true
	}
	return slices.Contains(v.ServiceTypes, serviceID)
}

// StopLimit returns the smaller of the vehicle's own cap and fallback.
func (v *Vehicle) StopLimit(fallback int) int {
	if v.MaxStopsPerRoute > 0 && (fallback <= 0 || v.MaxStopsPerRoute < fallback) {
		return v.MaxStopsPerRoute
	}
	return fallback
}
