// README: Ride aggregate, its assignment variant and the records hanging off it.
package ride

import (
	"time"

	"bora/internal/modules/pricing"
	"bora/internal/types"
)

type Status string

const (
	StatusSearching  Status = "searching"
	StatusAccepted   Status = "accepted"
	StatusArrived    Status = "arrived"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusSearching, StatusAccepted, StatusArrived, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    types.ID
	Role  Role
	Email string
	Name  string
}

type Party struct {
	ID    types.ID `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name"`
}

type DriverInfo struct {
	ID      types.ID `json:"id"`
	Email   string   `json:"email"`
	Name    string   `json:"name"`
	Vehicle string   `json:"vehicle,omitempty"`
	Plate   string   `json:"plate,omitempty"`
}

// Assignment is either Unassigned or Assigned. A ride leaves Unassigned exactly once, on accept.
type Assignment interface {
	assignment()
}

type Unassigned struct{}

type Assigned struct {
	Driver     DriverInfo
	AcceptedAt time.Time
}

func (Unassigned) assignment() {}
func (Assigned) assignment()   {}

type Place struct {
	Address string       `json:"address"`
	Coords  *types.Point `json:"coordinates,omitempty"`
}

// Fix is a driver position report.
type Fix struct {
	Point     types.Point `json:"point"`
	SpeedKmh  *float64    `json:"speed_kmh,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type Rating struct {
	ByPassenger *int   `json:"by_passenger,omitempty"`
	ByDriver    *int   `json:"by_driver,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

type ReportType string

const (
	ReportSafety    ReportType = "safety"
	ReportBehavior  ReportType = "behavior"
	ReportRoute     ReportType = "route"
	ReportTechnical ReportType = "technical"
	ReportOther     ReportType = "other"
)

func (t ReportType) Valid() bool {
	switch t {
	case ReportSafety, ReportBehavior, ReportRoute, ReportTechnical, ReportOther:
		return true
	}
	return false
}

type ReportStatus string

const (
	ReportPending       ReportStatus = "pending"
	ReportInvestigating ReportStatus = "investigating"
	ReportResolved      ReportStatus = "resolved"
)

type Report struct {
	ID          types.ID     `json:"id"`
	Type        ReportType   `json:"type"`
	Description string       `json:"description"`
	ReportedBy  types.ID     `json:"reported_by"`
	ReportedAt  time.Time    `json:"reported_at"`
	Status      ReportStatus `json:"status"`
}

type SpeedEvent struct {
	At       time.Time   `json:"at"`
	SpeedKmh float64     `json:"speed_kmh"`
	Point    types.Point `json:"point"`
}

type Metrics struct {
	DistanceTraveledKm float64      `json:"distance_traveled_km"`
	RouteDeviations    int          `json:"route_deviations"`
	SpeedEvents        []SpeedEvent `json:"speed_events,omitempty"`
}

type Ride struct {
	ID        types.ID
	CreatedAt time.Time
	Version   int

	Passenger  Party
	Assignment Assignment

	Origin         Place
	Destination    Place
	DriverLocation *Fix

	DistanceKm          float64
	EstimatedPrice      float64
	EstimatedTime       time.Duration
	ActualPrice         *float64
	CancellationPenalty *float64
	PenaltyTier         pricing.Tier
	PenaltyReason       string

	StartTime   *time.Time
	EndTime     *time.Time
	Duration    *time.Duration
	ArrivedAt   *time.Time
	CancelledAt *time.Time

	Status        Status
	DriverArrived bool
	CancelReason  string
	CancelledBy   Role

	VerificationCode string
	CodeVerified     bool

	Rating  Rating
	Reports []Report
	Metrics Metrics
}

// Driver returns the assigned driver, if any.
func (r *Ride) Driver() (DriverInfo, bool) {
	a, ok := r.Assignment.(Assigned)
	if !ok {
		return DriverInfo{}, false
	}
	return a.Driver, true
}

func (r *Ride) AcceptedAt() (time.Time, bool) {
	a, ok := r.Assignment.(Assigned)
	if !ok {
		return time.Time{}, false
	}
	return a.AcceptedAt, true
}

func (r *Ride) IsPassenger(id types.ID) bool {
	return id != "" && r.Passenger.ID == id
}

func (r *Ride) IsDriver(id types.ID) bool {
	d, ok := r.Driver()
	return ok && id != "" && d.ID == id
}

// IsParty reports whether id is the passenger or the assigned driver.
func (r *Ride) IsParty(id types.ID) bool {
	return r.IsPassenger(id) || r.IsDriver(id)
}

// Clone returns a deep copy; stores hand out clones so callers never share state.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	c.Origin.Coords = clonePtr(r.Origin.Coords)
	c.Destination.Coords = clonePtr(r.Destination.Coords)
	if r.DriverLocation != nil {
		fix := *r.DriverLocation
		fix.SpeedKmh = clonePtr(r.DriverLocation.SpeedKmh)
		c.DriverLocation = &fix
	}
	c.ActualPrice = clonePtr(r.ActualPrice)
	c.CancellationPenalty = clonePtr(r.CancellationPenalty)
	c.StartTime = clonePtr(r.StartTime)
	c.EndTime = clonePtr(r.EndTime)
	c.Duration = clonePtr(r.Duration)
	c.ArrivedAt = clonePtr(r.ArrivedAt)
	c.CancelledAt = clonePtr(r.CancelledAt)
	c.Rating.ByPassenger = clonePtr(r.Rating.ByPassenger)
	c.Rating.ByDriver = clonePtr(r.Rating.ByDriver)
	if r.Reports != nil {
		c.Reports = append([]Report(nil), r.Reports...)
	}
	if r.Metrics.SpeedEvents != nil {
		c.Metrics.SpeedEvents = append([]SpeedEvent(nil), r.Metrics.SpeedEvents...)
	}
	if c.Assignment == nil {
		c.Assignment = Unassigned{}
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Event is one entry of a ride's lifecycle log.
type Event struct {
	ID        int64     `json:"id"`
	RideID    types.ID  `json:"ride_id"`
	Action    Action    `json:"action"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ActorRole Role      `json:"actor_role"`
	ActorID   types.ID  `json:"actor_id"`
	At        time.Time `json:"at"`
}

// DriverStats summarises a driver's completed rides since a point in time.
type DriverStats struct {
	RidesCount int     `json:"rides_count"`
	Earnings   float64 `json:"earnings"`
}
