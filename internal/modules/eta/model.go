// README: ETA estimates and the route lookup they are computed from.
package eta

import (
	"context"
	"errors"
	"time"

	"bora/internal/types"
)

// ErrUnavailable means no estimate could be produced. Callers proceed without one.
var ErrUnavailable = errors.New("eta unavailable")

// Target is the point the driver is heading to.
type Target string

const (
	TargetPickup  Target = "pickup"
	TargetDropoff Target = "dropoff"
)

type Route struct {
	Duration   time.Duration
	DistanceKm float64
}

// RouteLookup is the external routing provider.
type RouteLookup interface {
	TravelTime(ctx context.Context, from, to types.Point) (time.Duration, error)
	Route(ctx context.Context, origin, destination string) (Route, error)
}

// Estimate is the latest known time-to-target for a ride. It is transient and
// never part of the ride's history.
type Estimate struct {
	RideID     types.ID      `json:"ride_id"`
	Target     Target        `json:"target"`
	Duration   time.Duration `json:"duration"`
	ComputedAt time.Time     `json:"computed_at"`
}

type Store interface {
	Put(ctx context.Context, e Estimate) error
	Get(ctx context.Context, rideID types.ID) (Estimate, bool, error)
}
