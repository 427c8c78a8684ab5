package ride

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"bora/internal/modules/eta"
	"bora/internal/modules/pricing"
	"bora/internal/types"
)

const earthRadiusKm = 6371.0

var (
	passenger = Actor{ID: "p1", Role: RolePassenger, Email: "ana@example.com", Name: "Ana"}
	driverA   = Actor{ID: "dA", Role: RoleDriver, Email: "bruno@example.com", Name: "Bruno"}
	driverB   = Actor{ID: "dB", Role: RoleDriver, Email: "carla@example.com", Name: "Carla"}
	stranger  = Actor{ID: "x9", Role: RolePassenger}

	originPt = types.Point{Lat: -23.5505, Lng: -46.6333}
	// 10 km due south of originPt
	destPt = types.Point{Lat: originPt.Lat - 10/earthRadiusKm*180/math.Pi, Lng: originPt.Lng}
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type stubLookup struct {
	d   time.Duration
	err error
}

func (s stubLookup) TravelTime(context.Context, types.Point, types.Point) (time.Duration, error) {
	return s.d, s.err
}

func (s stubLookup) Route(context.Context, string, string) (eta.Route, error) {
	return eta.Route{}, eta.ErrUnavailable
}

type testEnv struct {
	svc   *Service
	store *MemoryStore
	clock *testClock
	etas  *eta.MemoryStore
}

type envOption func(*Lifecycle, *eta.RouteLookup)

func withLifecycle(fn func(*Lifecycle)) envOption {
	return func(l *Lifecycle, _ *eta.RouteLookup) { fn(l) }
}

func withLookup(lookup eta.RouteLookup) envOption {
	return func(_ *Lifecycle, l *eta.RouteLookup) { *l = lookup }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := DefaultLifecycle()
	var lookup eta.RouteLookup
	for _, opt := range opts {
		opt(&cfg, &lookup)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := newTestClock()
	etaStore := eta.NewMemoryStore(0)
	etas := eta.NewService(lookup, etaStore, time.Second, log)
	store := NewMemoryStore()
	svc := NewService(NewRepository(store, NewKeyedMutex()), pricing.NewEngine(pricing.DefaultConfig()), etas, cfg, log)
	svc.now = clock.Now
	t.Cleanup(svc.Close)

	return &testEnv{svc: svc, store: store, clock: clock, etas: etaStore}
}

// mustRequest creates a ride between originPt and destPt (10 km); with no routing
// provider its estimate is 25.
func mustRequest(t *testing.T, env *testEnv) *Ride {
	t.Helper()
	o, d := originPt, destPt
	r, err := env.svc.Request(context.Background(), passenger, RequestCommand{
		Origin:      Place{Address: "Praça da Sé", Coords: &o},
		Destination: Place{Address: "Morumbi", Coords: &d},
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return r
}

func mustApply(t *testing.T, env *testEnv, a Actor, id types.ID, cmd Command) *Ride {
	t.Helper()
	r, err := env.svc.Apply(context.Background(), a, id, cmd)
	if err != nil {
		t.Fatalf("%s: %v", cmd.Action(), err)
	}
	return r
}

func mustLoad(t *testing.T, env *testEnv, id types.ID) *Ride {
	t.Helper()
	r, err := env.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	return r
}

// rideAt drives a fresh ride to the given status.
func rideAt(t *testing.T, env *testEnv, status Status) *Ride {
	t.Helper()
	r := mustRequest(t, env)
	steps := map[Status][]Command{
		StatusSearching:  nil,
		StatusAccepted:   {AcceptCommand{}},
		StatusArrived:    {AcceptCommand{}, ArriveCommand{}},
		StatusInProgress: {AcceptCommand{}, ArriveCommand{}, StartCommand{}},
		StatusCompleted:  {AcceptCommand{}, StartCommand{}, FinishCommand{}},
	}
	if status == StatusCancelled {
		mustApply(t, env, passenger, r.ID, CancelCommand{Reason: "changed plans"})
		return mustLoad(t, env, r.ID)
	}
	for _, cmd := range steps[status] {
		mustApply(t, env, driverA, r.ID, cmd)
	}
	return mustLoad(t, env, r.ID)
}

// flakyUpdates lets the first ok updates through and fails the rest.
type flakyUpdates struct {
	Store
	mu sync.Mutex
	ok int
}

func (f *flakyUpdates) Update(ctx context.Context, r *Ride, expectedVersion int) error {
	f.mu.Lock()
	if f.ok == 0 {
		f.mu.Unlock()
		return errStoreDown
	}
	f.ok--
	f.mu.Unlock()
	return f.Store.Update(ctx, r, expectedVersion)
}

var errStoreDown = errors.New("store down")

// serviceOver builds a second service on top of store, sharing env's clock.
func serviceOver(t *testing.T, env *testEnv, store Store) *Service {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(NewRepository(store, nil), pricing.NewEngine(pricing.DefaultConfig()), nil, DefaultLifecycle(), log)
	svc.now = env.clock.Now
	t.Cleanup(svc.Close)
	return svc
}
