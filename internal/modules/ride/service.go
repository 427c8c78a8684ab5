// README: Ride service: request, lifecycle transitions, queries and post-commit side effects.
package ride

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bora/internal/geo"
	"bora/internal/modules/eta"
	"bora/internal/modules/pricing"
	"bora/internal/types"
)

type Service struct {
	repo      *Repository
	pricing   *pricing.Engine
	eta       *eta.Service
	publisher Publisher
	cfg       Lifecycle
	log       *slog.Logger

	now   func() time.Time
	newID func() types.ID
	bg    sync.WaitGroup
}

func NewService(repo *Repository, engine *pricing.Engine, etas *eta.Service, cfg Lifecycle, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if etas == nil {
		etas = eta.NewService(nil, nil, 0, log)
	}
	return &Service{
		repo:    repo,
		pricing: engine,
		eta:     etas,
		cfg:     cfg,
		log:     log.With("component", "ride"),
		now:     time.Now,
		newID:   func() types.ID { return types.ID(uuid.NewString()) },
	}
}

// SetPublisher enables broker announcements of committed events.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

// Close waits for in-flight background work (event publishing, ETA refreshes).
func (s *Service) Close() {
	s.bg.Wait()
}

type RequestCommand struct {
	Origin      Place
	Destination Place
	// Optional client hints, used when the route cannot be resolved server side.
	DistanceKm    float64
	EstimatedTime time.Duration
}

func (c RequestCommand) validate() error {
	for _, p := range []Place{c.Origin, c.Destination} {
		if strings.TrimSpace(p.Address) == "" && p.Coords == nil {
			return ErrBadRequest
		}
		if p.Coords != nil && !p.Coords.Valid() {
			return ErrBadRequest
		}
	}
	if c.DistanceKm < 0 || c.EstimatedTime < 0 {
		return ErrBadRequest
	}
	return nil
}

// Request creates a ride in searching with a fresh verification code and a priced estimate.
func (s *Service) Request(ctx context.Context, a Actor, cmd RequestCommand) (*Ride, error) {
	if a.ID == "" || a.Role != RolePassenger {
		return nil, ErrForbidden
	}
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	code, err := newVerificationCode()
	if err != nil {
		return nil, err
	}

	distanceKm, expected := s.plan(ctx, cmd)
	r := &Ride{
		ID:        s.newID(),
		CreatedAt: s.now(),
		Passenger: Party{
			ID:    a.ID,
			Email: a.Email,
			Name:  a.Name,
		},
		Assignment:       Unassigned{},
		Origin:           cmd.Origin,
		Destination:      cmd.Destination,
		DistanceKm:       distanceKm,
		EstimatedTime:    expected,
		EstimatedPrice:   s.pricing.Estimate(distanceKm, expected),
		Status:           StatusSearching,
		VerificationCode: code,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	s.afterCommit(ctx, a, ActionRequest, "", r)
	return r, nil
}

// plan prices from server-side data: straight-line distance from coordinates, then the
// routing provider. The client's hints only fill what neither of those can supply.
func (s *Service) plan(ctx context.Context, cmd RequestCommand) (float64, time.Duration) {
	var (
		distanceKm float64
		expected   time.Duration
	)
	from, to := cmd.Origin.Coords, cmd.Destination.Coords

	if from != nil && to != nil {
		distanceKm = geo.HaversineKm(*from, *to)
		if d, err := s.eta.Estimate(ctx, *from, *to); err == nil {
			expected = d
		}
	}
	if distanceKm == 0 || expected == 0 {
		if route, err := s.eta.Route(ctx, cmd.Origin.Address, cmd.Destination.Address); err == nil {
			if distanceKm == 0 {
				distanceKm = route.DistanceKm
			}
			if expected == 0 {
				expected = route.Duration
			}
		}
	}
	if distanceKm == 0 {
		distanceKm = cmd.DistanceKm
	}
	if expected == 0 {
		expected = cmd.EstimatedTime
	}
	return distanceKm, expected
}

// Apply runs one lifecycle command against a ride inside its critical section.
func (s *Service) Apply(ctx context.Context, a Actor, id types.ID, cmd Command) (*Ride, error) {
	if id == "" || a.ID == "" {
		return nil, ErrBadRequest
	}
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	var from Status
	r, err := s.repo.Mutate(ctx, id, func(r *Ride) error {
		from = r.Status
		return dispatch(r, a, cmd, s.env())
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, a, cmd.Action(), from, r)
	return r, nil
}

func (s *Service) env() effectEnv {
	return effectEnv{
		now:       s.now(),
		pricing:   s.pricing,
		lifecycle: s.cfg,
		newID:     s.newID,
	}
}

func (s *Service) Accept(ctx context.Context, a Actor, id types.ID, driver DriverInfo) (*Ride, error) {
	return s.Apply(ctx, a, id, AcceptCommand{Driver: driver})
}

func (s *Service) Arrive(ctx context.Context, a Actor, id types.ID) (*Ride, error) {
	return s.Apply(ctx, a, id, ArriveCommand{})
}

func (s *Service) VerifyCode(ctx context.Context, a Actor, id types.ID, code string) (*Ride, error) {
	return s.Apply(ctx, a, id, VerifyCodeCommand{Code: code})
}

func (s *Service) Start(ctx context.Context, a Actor, id types.ID) (*Ride, error) {
	return s.Apply(ctx, a, id, StartCommand{})
}

func (s *Service) Finish(ctx context.Context, a Actor, id types.ID) (*Ride, error) {
	return s.Apply(ctx, a, id, FinishCommand{})
}

func (s *Service) Cancel(ctx context.Context, a Actor, id types.ID, reason string) (*Ride, error) {
	return s.Apply(ctx, a, id, CancelCommand{Reason: reason})
}

func (s *Service) Rate(ctx context.Context, a Actor, id types.ID, score int, comment string) (*Ride, error) {
	return s.Apply(ctx, a, id, RateCommand{Score: score, Comment: comment})
}

func (s *Service) Report(ctx context.Context, a Actor, id types.ID, typ ReportType, description string) (*Ride, error) {
	return s.Apply(ctx, a, id, ReportCommand{Type: typ, Description: description})
}

func (s *Service) UpdateLocation(ctx context.Context, a Actor, id types.ID, p types.Point, speedKmh *float64) (*Ride, error) {
	return s.Apply(ctx, a, id, LocationCommand{Point: p, SpeedKmh: speedKmh})
}

// StatusUpdateCommand moves a ride to a target status through the matching action.
type StatusUpdateCommand struct {
	Status   Status
	Reason   string
	Location *types.Point
	SpeedKmh *float64
}

func (s *Service) StatusUpdate(ctx context.Context, a Actor, id types.ID, cmd StatusUpdateCommand) (*Ride, error) {
	var next Command
	switch cmd.Status {
	case StatusArrived:
		next = ArriveCommand{}
	case StatusInProgress:
		next = StartCommand{}
	case StatusCompleted:
		next = FinishCommand{}
	case StatusCancelled:
		next = CancelCommand{Reason: cmd.Reason}
	default:
		return nil, ErrBadRequest
	}
	if cmd.Location != nil && !cmd.Location.Valid() {
		return nil, ErrBadRequest
	}

	r, err := s.Apply(ctx, a, id, next)
	if err != nil {
		return nil, err
	}
	if cmd.Location == nil || !CanApply(ActionLocation, r.Status) {
		return r, nil
	}
	// The status change has committed; a failed location write does not undo it.
	moved, err := s.UpdateLocation(ctx, a, id, *cmd.Location, cmd.SpeedKmh)
	if err != nil {
		s.log.Warn("status update location failed", "ride_id", id, "status", r.Status, "error", err)
		return r, nil
	}
	return moved, nil
}

// Get returns a ride to one of its parties.
func (s *Service) Get(ctx context.Context, a Actor, id types.ID) (*Ride, error) {
	r, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsParty(a.ID) {
		return nil, ErrForbidden
	}
	return r, nil
}

// Details is a ride plus the freshest ETA of its driver, when one is known.
type Details struct {
	Ride *Ride
	ETA  *eta.Estimate
}

func (s *Service) Details(ctx context.Context, a Actor, id types.ID) (Details, error) {
	r, err := s.Get(ctx, a, id)
	if err != nil {
		return Details{}, err
	}
	out := Details{Ride: r}

	target, from, to, ok := etaLeg(r)
	if !ok {
		return out, nil
	}
	if e, found := s.eta.Latest(ctx, r.ID); found && e.Target == target {
		out.ETA = &e
		return out, nil
	}
	if d, err := s.eta.Estimate(ctx, from, to); err == nil {
		out.ETA = &eta.Estimate{RideID: r.ID, Target: target, Duration: d, ComputedAt: s.now()}
	}
	return out, nil
}

// etaLeg picks what the driver is heading to: the pickup while en route to the
// passenger, the drop-off during the ride.
func etaLeg(r *Ride) (eta.Target, types.Point, types.Point, bool) {
	if r.DriverLocation == nil {
		return "", types.Point{}, types.Point{}, false
	}
	var target eta.Target
	var dest *types.Point
	switch r.Status {
	case StatusAccepted, StatusArrived:
		target, dest = eta.TargetPickup, r.Origin.Coords
	case StatusInProgress:
		target, dest = eta.TargetDropoff, r.Destination.Coords
	}
	if dest == nil {
		return "", types.Point{}, types.Point{}, false
	}
	return target, r.DriverLocation.Point, *dest, true
}

// ListAvailable offers searching rides inside the freshness window, newest first.
// With near set and a radius configured, rides whose pickup is farther away are skipped.
func (s *Service) ListAvailable(ctx context.Context, a Actor, near *types.Point) ([]*Ride, error) {
	if a.Role != RoleDriver {
		return nil, ErrForbidden
	}
	since := s.now().Add(-s.cfg.FreshnessWindow)
	rides, err := s.repo.Store().FindAvailable(ctx, since, s.cfg.AvailableLimit)
	if err != nil {
		return nil, err
	}
	if near == nil || s.cfg.AvailableRadiusKm <= 0 {
		return rides, nil
	}
	out := rides[:0]
	for _, r := range rides {
		if r.Origin.Coords == nil || geo.WithinKm(*near, *r.Origin.Coords, s.cfg.AvailableRadiusKm) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListMine returns the caller's rides as passenger or driver, newest first.
func (s *Service) ListMine(ctx context.Context, a Actor) ([]*Ride, error) {
	if a.ID == "" {
		return nil, ErrBadRequest
	}
	return s.repo.Store().ListByParty(ctx, a.ID, s.cfg.ListLimit)
}

// DriverStats counts the caller's completed rides and earnings since local midnight.
func (s *Service) DriverStats(ctx context.Context, a Actor) (DriverStats, error) {
	if a.Role != RoleDriver {
		return DriverStats{}, ErrForbidden
	}
	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.repo.Store().DriverStats(ctx, a.ID, midnight)
}

func (s *Service) Events(ctx context.Context, a Actor, id types.ID) ([]Event, error) {
	if _, err := s.Get(ctx, a, id); err != nil {
		return nil, err
	}
	return s.repo.Store().Events(ctx, id)
}

// afterCommit runs the side effects of a committed action. Nothing here can fail the action.
func (s *Service) afterCommit(ctx context.Context, a Actor, action Action, from Status, r *Ride) {
	e := Event{
		RideID:    r.ID,
		Action:    action,
		From:      from,
		To:        r.Status,
		ActorRole: a.Role,
		ActorID:   a.ID,
		At:        s.now(),
	}
	if err := s.repo.Store().AppendEvent(ctx, &e); err != nil {
		s.log.Warn("append ride event failed", "ride_id", r.ID, "action", action, "error", err)
	}
	s.log.Info("ride updated",
		"ride_id", r.ID,
		"action", action,
		"from", from,
		"to", r.Status,
		"actor_id", a.ID,
	)

	bg := context.WithoutCancel(ctx)
	if s.publisher != nil {
		snapshot := r.Clone()
		s.goBackground(func() {
			if err := s.publisher.Publish(bg, e, snapshot); err != nil {
				s.log.Warn("publish ride event failed", "ride_id", e.RideID, "action", e.Action, "error", err)
			}
		})
	}
	if action == ActionLocation {
		if target, pos, dest, ok := etaLeg(r); ok {
			id := r.ID
			s.goBackground(func() {
				s.eta.Refresh(bg, id, target, pos, dest)
			})
		}
	}
}

func (s *Service) goBackground(fn func()) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn()
	}()
}

// ViewFor returns the ride as a caller may see it: the pickup code is for the passenger only.
func (r *Ride) ViewFor(a Actor) *Ride {
	if r.IsPassenger(a.ID) {
		return r
	}
	c := r.Clone()
	c.VerificationCode = ""
	return c
}
