package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies inside WGS84 bounds.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

type Status string

const (
	StatusRequested  Status = "requested"
	StatusAccepted   Status = "accepted"
	StatusArrived    Status = "arrived"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{
	StatusRequested,
	StatusAccepted,
	StatusArrived,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
}

// Statuses returns the allow-list of ride statuses in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Ride struct {
	ID             string     `json:"id"`
	RiderID        string     `json:"rider_id"`
	DriverID       *string    `json:"driver_id"`
	Pickup         Coord      `json:"pickup"`
	Drop           Coord      `json:"drop"`
	DistanceKm     *float64   `json:"distance_km"`
	EstimatedFare  *float64   `json:"estimated_fare"`
	DriverLocation *Coord     `json:"driver_location"`
	PIN            string     `json:"pin,omitempty"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	AcceptedAt     *time.Time `json:"accepted_at"`
}

// Assigned reports whether a driver has claimed the ride.
func (r Ride) Assigned() bool { return r.DriverID != nil }

// LocationEvent is the payload published for every driver position push.
type LocationEvent struct {
	RideID   string    `json:"ride_id"`
	DriverID string    `json:"driver_id,omitempty"`
	Loc      Coord     `json:"loc"`
	Updated  time.Time `json:"updated"`
}

type EventType string

const (
	EventRideCreated     EventType = "ride.created"
	EventRideClaimed     EventType = "ride.claimed"
	EventLocationUpdated EventType = "ride.location_updated"
	EventPINVerified     EventType = "ride.pin_verified"
	EventStatusChanged   EventType = "ride.status_changed"
)

// RideEvent describes a committed lifecycle change. It never carries the PIN.
type RideEvent struct {
	Type     EventType `json:"type"`
	RideID   string    `json:"ride_id"`
	RiderID  string    `json:"rider_id"`
	DriverID string    `json:"driver_id,omitempty"`
	Status   Status    `json:"status"`
	At       time.Time `json:"at"`
}

// EventFor builds the event for a ride snapshot.
func EventFor(t EventType, r Ride, at time.Time) RideEvent {
	ev := RideEvent{Type: t, RideID: r.ID, RiderID: r.RiderID, Status: r.Status, At: at}
	if r.DriverID != nil {
		ev.DriverID = *r.DriverID
	}
	return ev
}
