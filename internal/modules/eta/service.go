// README: ETA service bounds routing lookups by a timeout and degrades to "unavailable".
package eta

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bora/internal/types"
)

type Service struct {
	lookup  RouteLookup
	store   Store
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

// NewService builds the adapter. A nil lookup is allowed and makes every estimate unavailable.
func NewService(lookup RouteLookup, store Store, timeout time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		lookup:  lookup,
		store:   store,
		timeout: timeout,
		log:     log.With("component", "eta"),
		now:     time.Now,
	}
}

// Estimate returns the travel time between two coordinates or ErrUnavailable.
func (s *Service) Estimate(ctx context.Context, from, to types.Point) (time.Duration, error) {
	if s.lookup == nil {
		return 0, ErrUnavailable
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	d, err := s.lookup.TravelTime(ctx, from, to)
	if err != nil {
		return 0, errors.Join(ErrUnavailable, err)
	}
	if d <= 0 {
		return 0, ErrUnavailable
	}
	return d, nil
}

// Route resolves addresses into distance and duration or ErrUnavailable.
func (s *Service) Route(ctx context.Context, origin, destination string) (Route, error) {
	if s.lookup == nil || origin == "" || destination == "" {
		return Route{}, ErrUnavailable
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	r, err := s.lookup.Route(ctx, origin, destination)
	if err != nil {
		return Route{}, errors.Join(ErrUnavailable, err)
	}
	return r, nil
}

// Refresh recomputes the ETA for a ride and stores it. Failures are logged and swallowed.
func (s *Service) Refresh(ctx context.Context, rideID types.ID, target Target, from, to types.Point) {
	d, err := s.Estimate(ctx, from, to)
	if err != nil {
		s.log.Debug("eta refresh skipped", "ride_id", rideID, "target", target, "error", err)
		return
	}
	if s.store == nil {
		return
	}
	e := Estimate{RideID: rideID, Target: target, Duration: d, ComputedAt: s.now()}
	if err := s.store.Put(ctx, e); err != nil {
		s.log.Warn("eta store failed", "ride_id", rideID, "error", err)
	}
}

// Latest returns the last stored estimate for a ride, if any.
func (s *Service) Latest(ctx context.Context, rideID types.ID) (Estimate, bool) {
	if s.store == nil {
		return Estimate{}, false
	}
	e, ok, err := s.store.Get(ctx, rideID)
	if err != nil {
		s.log.Warn("eta load failed", "ride_id", rideID, "error", err)
		return Estimate{}, false
	}
	return e, ok
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
