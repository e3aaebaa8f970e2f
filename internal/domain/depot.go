package domain

// A named place vehicles can start or end at.
type DepotLocation struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	City        string      `json:"city,omitempty"`
	Coordinates Coordinates `json:"coordinates"`
}

// Depot is derived per clustering run by grouping vehicles under their
// primary home location. It is never persisted.
type Depot struct {
	LocationID  string
	Name        string
	City        string
	Coordinates Coordinates
	Vehicles    []*Vehicle
}

// EligibleVehicles returns the vehicles able to service at least one of the
// given service ids.
func (d *Depot) EligibleVehicles(serviceIDs []string) []*Vehicle {
	out := make([]*Vehicle, 0, len(d.Vehicles))
	for _, v := range d.Vehicles {
		for _, s := range serviceIDs {
			if v.CanService(s) {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

// HasVehicleFor reports whether any vehicle at the depot handles serviceID.
func (d *Depot) HasVehicleFor(serviceID string) bool {
	for _, v := range d.Vehicles {
		if v.CanService(serviceID) {
			return true
		}
	}
	return false
}
