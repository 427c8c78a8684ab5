// README: Ride lifecycle tests (flow, pricing, penalties, actor rules, terminal states).
package ride

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"bora/internal/modules/eta"
	"bora/internal/modules/pricing"
	"bora/internal/types"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCanApply(t *testing.T) {
	cases := []struct {
		action Action
		from   Status
		want   bool
	}{
		{ActionAccept, StatusSearching, true},
		{ActionArrive, StatusAccepted, true},
		{ActionStart, StatusAccepted, true},
		{ActionStart, StatusArrived, true},
		{ActionFinish, StatusInProgress, true},
		{ActionVerifyCode, StatusArrived, true},
		{ActionLocation, StatusInProgress, true},
		// cancel from every non-terminal state
		{ActionCancel, StatusSearching, true},
		{ActionCancel, StatusAccepted, true},
		{ActionCancel, StatusArrived, true},
		{ActionCancel, StatusInProgress, true},
		// rate and report survive terminal states
		{ActionRate, StatusCompleted, true},
		{ActionReport, StatusCancelled, true},
		// invalid: skipping or repeating states
		{ActionAccept, StatusAccepted, false},
		{ActionArrive, StatusArrived, false},
		{ActionFinish, StatusAccepted, false},
		{ActionStart, StatusSearching, false},
		{ActionLocation, StatusSearching, false},
		// invalid: terminal states
		{ActionCancel, StatusCompleted, false},
		{ActionCancel, StatusCancelled, false},
		{ActionStart, StatusCompleted, false},
		{ActionLocation, StatusCompleted, false},
		{Action("teleport"), StatusSearching, false},
	}
	for _, tc := range cases {
		if got := CanApply(tc.action, tc.from); got != tc.want {
			t.Errorf("CanApply(%s, %s) = %v, want %v", tc.action, tc.from, got, tc.want)
		}
	}
}

func TestRideFlowHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.svc

	r := mustRequest(t, env)
	if r.Status != StatusSearching {
		t.Fatalf("expected searching, got %s", r.Status)
	}
	if _, ok := r.Driver(); ok {
		t.Fatal("searching ride must have no driver")
	}
	if len(r.VerificationCode) != codeLength {
		t.Fatalf("unexpected verification code %q", r.VerificationCode)
	}
	if !approx(r.EstimatedPrice, 25) {
		t.Fatalf("expected estimate 25, got %v", r.EstimatedPrice)
	}

	env.clock.Advance(time.Minute)
	r, err := svc.Accept(ctx, driverA, r.ID, DriverInfo{Vehicle: "Onix prata", Plate: "ABC1D23"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	d, ok := r.Driver()
	if !ok || d.ID != driverA.ID || d.Name != driverA.Name || d.Plate != "ABC1D23" {
		t.Fatalf("unexpected driver: %+v", d)
	}
	if at, _ := r.AcceptedAt(); !at.Equal(env.clock.Now()) {
		t.Fatalf("accepted at %s, want %s", at, env.clock.Now())
	}

	if r, err = svc.Arrive(ctx, driverA, r.ID); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if r.Status != StatusArrived || !r.DriverArrived || r.ArrivedAt == nil {
		t.Fatalf("arrive effects missing: %+v", r)
	}

	if _, err := svc.VerifyCode(ctx, driverA, r.ID, "ZZZZZZ"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if r, err = svc.VerifyCode(ctx, driverA, r.ID, r.VerificationCode); err != nil {
		t.Fatalf("verify code: %v", err)
	}
	if !r.CodeVerified || r.Status != StatusArrived {
		t.Fatalf("verify should only flag the code, got %+v", r)
	}

	if r, err = svc.Start(ctx, driverA, r.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if r.Status != StatusInProgress || r.StartTime == nil {
		t.Fatalf("start effects missing: %+v", r)
	}

	env.clock.Advance(20 * time.Minute)
	if r, err = svc.Finish(ctx, driverA, r.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if r.Status != StatusCompleted || r.EndTime == nil || r.Duration == nil || r.ActualPrice == nil {
		t.Fatalf("finish effects missing: %+v", r)
	}
	if *r.Duration != 20*time.Minute {
		t.Fatalf("duration = %s, want 20m", *r.Duration)
	}
	// 5 + 10*2 + 20*0.5
	if !approx(*r.ActualPrice, 35) {
		t.Fatalf("actual price = %v, want 35", *r.ActualPrice)
	}
	if r.CancelledAt != nil || r.CancellationPenalty != nil {
		t.Fatal("completed ride must carry no cancellation fields")
	}

	events, err := svc.Events(ctx, passenger, r.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	want := []Action{ActionRequest, ActionAccept, ActionArrive, ActionVerifyCode, ActionStart, ActionFinish}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, e := range events {
		if e.Action != want[i] {
			t.Errorf("event %d: got %s, want %s", i, e.Action, want[i])
		}
	}
	if last := events[len(events)-1]; last.From != StatusInProgress || last.To != StatusCompleted {
		t.Fatalf("unexpected last event: %+v", last)
	}
}

func TestStartDirectlyFromAccepted(t *testing.T) {
	env := newTestEnv(t)
	r := rideAt(t, env, StatusAccepted)

	r = mustApply(t, env, driverA, r.ID, StartCommand{})
	if r.Status != StatusInProgress || r.DriverArrived {
		t.Fatalf("unexpected ride after start: status=%s arrived=%v", r.Status, r.DriverArrived)
	}
}

func TestRequireVerifiedCode(t *testing.T) {
	env := newTestEnv(t, withLifecycle(func(l *Lifecycle) { l.RequireVerifiedCode = true }))
	ctx := context.Background()
	r := rideAt(t, env, StatusArrived)

	if _, err := env.svc.Start(ctx, driverA, r.ID); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode before verification, got %v", err)
	}
	if got := mustLoad(t, env, r.ID); got.Status != StatusArrived || got.StartTime != nil {
		t.Fatalf("failed start must not persist, got %+v", got)
	}
	mustApply(t, env, driverA, r.ID, VerifyCodeCommand{Code: r.VerificationCode})
	if _, err := env.svc.Start(ctx, driverA, r.ID); err != nil {
		t.Fatalf("start after verification: %v", err)
	}
}

func TestCancelPenaltyTiers(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, env *testEnv) *Ride
		wait  time.Duration
		by    Actor
		want  float64
		tier  pricing.Tier
	}{
		{
			name:  "searching is free",
			setup: func(t *testing.T, env *testEnv) *Ride { return rideAt(t, env, StatusSearching) },
			wait:  10 * time.Minute,
			by:    passenger,
			want:  0,
			tier:  pricing.TierNone,
		},
		{
			name:  "accepted within grace",
			setup: func(t *testing.T, env *testEnv) *Ride { return rideAt(t, env, StatusAccepted) },
			wait:  3 * time.Minute,
			by:    passenger,
			want:  0,
			tier:  pricing.TierNone,
		},
		{
			name:  "accepted exactly at grace",
			setup: func(t *testing.T, env *testEnv) *Ride { return rideAt(t, env, StatusAccepted) },
			wait:  5 * time.Minute,
			by:    passenger,
			want:  0,
			tier:  pricing.TierNone,
		},
		{
			name:  "accepted after grace",
			setup: func(t *testing.T, env *testEnv) *Ride { return rideAt(t, env, StatusAccepted) },
			wait:  6 * time.Minute,
			by:    passenger,
			want:  2.5,
			tier:  pricing.TierAccepted,
		},
		{
			name:  "driver arrived",
			setup: func(t *testing.T, env *testEnv) *Ride { return rideAt(t, env, StatusArrived) },
			wait:  time.Minute,
			by:    passenger,
			want:  5,
			tier:  pricing.TierArrived,
		},
		{
			name:  "in progress after arrival",
			setup: func(t *testing.T, env *testEnv) *Ride { return rideAt(t, env, StatusInProgress) },
			wait:  time.Minute,
			by:    passenger,
			want:  7.5,
			tier:  pricing.TierInProgress,
		},
		{
			name: "in progress without arrival",
			setup: func(t *testing.T, env *testEnv) *Ride {
				r := rideAt(t, env, StatusAccepted)
				return mustApply(t, env, driverA, r.ID, StartCommand{})
			},
			wait: 10 * time.Minute,
			by:   driverA,
			want: 7.5,
			tier: pricing.TierInProgress,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			r := tc.setup(t, env)
			env.clock.Advance(tc.wait)

			r, err := env.svc.Cancel(context.Background(), tc.by, r.ID, "")
			if err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if r.Status != StatusCancelled || r.CancelledAt == nil || r.CancellationPenalty == nil {
				t.Fatalf("cancel effects missing: %+v", r)
			}
			if !approx(*r.CancellationPenalty, tc.want) {
				t.Fatalf("penalty = %v, want %v", *r.CancellationPenalty, tc.want)
			}
			if r.PenaltyTier != tc.tier || (tc.tier != pricing.TierNone && r.PenaltyReason == "") {
				t.Fatalf("penalty tier = %q (%q), want %q", r.PenaltyTier, r.PenaltyReason, tc.tier)
			}
			if r.CancelledBy != tc.by.Role {
				t.Fatalf("cancelled by %s, want %s", r.CancelledBy, tc.by.Role)
			}
			if r.CancelReason == "" {
				t.Fatal("cancel reason must be set")
			}
		})
	}
}

func TestCancelWhileSearchingKeepsUnassigned(t *testing.T) {
	env := newTestEnv(t)
	r := rideAt(t, env, StatusCancelled)
	if _, ok := r.Driver(); ok {
		t.Fatal("ride cancelled while searching must stay unassigned")
	}
}

func TestTerminalRidesAreImmutable(t *testing.T) {
	for _, status := range []Status{StatusCompleted, StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			env := newTestEnv(t)
			r := rideAt(t, env, status)
			before, _ := json.Marshal(mustLoad(t, env, r.ID))

			attempts := []struct {
				actor Actor
				cmd   Command
			}{
				{driverB, AcceptCommand{}},
				{passenger, CancelCommand{Reason: "again"}},
				{driverA, ArriveCommand{}},
				{driverA, VerifyCodeCommand{Code: r.VerificationCode}},
				{driverA, StartCommand{}},
				{driverA, FinishCommand{}},
				{driverA, LocationCommand{Point: originPt}},
			}
			for _, at := range attempts {
				_, err := env.svc.Apply(context.Background(), at.actor, r.ID, at.cmd)
				if status == StatusCancelled && at.actor.ID == driverA.ID {
					// nobody was ever assigned, so the driver is not a party
					if !errors.Is(err, ErrForbidden) {
						t.Errorf("%s: expected ErrForbidden, got %v", at.cmd.Action(), err)
					}
					continue
				}
				if !errors.Is(err, ErrAlreadyTerminal) || !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("%s: expected ErrAlreadyTerminal, got %v", at.cmd.Action(), err)
				}
			}

			after, _ := json.Marshal(mustLoad(t, env, r.ID))
			if string(before) != string(after) {
				t.Fatalf("terminal ride changed:\nbefore %s\nafter  %s", before, after)
			}
		})
	}
}

func TestUndefinedEdgesLeaveRideUnchanged(t *testing.T) {
	cases := []struct {
		from Status
		cmd  Command
	}{
		{StatusAccepted, FinishCommand{}},
		{StatusArrived, ArriveCommand{}},
		{StatusInProgress, ArriveCommand{}},
		{StatusInProgress, StartCommand{}},
		{StatusInProgress, VerifyCodeCommand{Code: "ABC123"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"/"+string(tc.cmd.Action()), func(t *testing.T) {
			env := newTestEnv(t)
			r := rideAt(t, env, tc.from)

			_, err := env.svc.Apply(context.Background(), driverA, r.ID, tc.cmd)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			got := mustLoad(t, env, r.ID)
			if got.Version != r.Version || got.Status != tc.from {
				t.Fatalf("ride modified: version %d->%d status %s", r.Version, got.Version, got.Status)
			}
		})
	}
}

func TestActorRules(t *testing.T) {
	ctx := context.Background()

	t.Run("passenger cannot accept", func(t *testing.T) {
		env := newTestEnv(t)
		r := rideAt(t, env, StatusSearching)
		if _, err := env.svc.Accept(ctx, stranger, r.ID, DriverInfo{}); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("driver cannot accept own request", func(t *testing.T) {
		env := newTestEnv(t)
		r := rideAt(t, env, StatusSearching)
		self := Actor{ID: passenger.ID, Role: RoleDriver}
		if _, err := env.svc.Accept(ctx, self, r.ID, DriverInfo{}); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("only the assigned driver drives", func(t *testing.T) {
		env := newTestEnv(t)
		r := rideAt(t, env, StatusAccepted)
		for _, cmd := range []Command{ArriveCommand{}, StartCommand{}, VerifyCodeCommand{Code: r.VerificationCode}, LocationCommand{Point: originPt}} {
			if _, err := env.svc.Apply(ctx, driverB, r.ID, cmd); !errors.Is(err, ErrForbidden) {
				t.Errorf("%s by other driver: expected ErrForbidden, got %v", cmd.Action(), err)
			}
			if _, err := env.svc.Apply(ctx, passenger, r.ID, cmd); !errors.Is(err, ErrForbidden) {
				t.Errorf("%s by passenger: expected ErrForbidden, got %v", cmd.Action(), err)
			}
		}
	})

	t.Run("strangers cannot cancel rate or report", func(t *testing.T) {
		env := newTestEnv(t)
		r := rideAt(t, env, StatusAccepted)
		for _, cmd := range []Command{CancelCommand{}, RateCommand{Score: 5}, ReportCommand{Type: ReportOther, Description: "x"}} {
			if _, err := env.svc.Apply(ctx, driverB, r.ID, cmd); !errors.Is(err, ErrForbidden) {
				t.Errorf("%s: expected ErrForbidden, got %v", cmd.Action(), err)
			}
		}
		if _, err := env.svc.Get(ctx, stranger, r.ID); !errors.Is(err, ErrForbidden) {
			t.Fatalf("get by stranger: expected ErrForbidden, got %v", err)
		}
	})

	t.Run("unknown ride", func(t *testing.T) {
		env := newTestEnv(t)
		if _, err := env.svc.Cancel(ctx, passenger, "missing", ""); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("driver cannot request", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.Request(ctx, driverA, RequestCommand{
			Origin:      Place{Address: "a"},
			Destination: Place{Address: "b"},
		})
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	bad := types.Point{Lat: 123, Lng: 0}
	cases := []RequestCommand{
		{Origin: Place{}, Destination: Place{Address: "b"}},
		{Origin: Place{Address: "a"}, Destination: Place{Coords: &bad}},
		{Origin: Place{Address: "a"}, Destination: Place{Address: "b"}, DistanceKm: -1},
	}
	for i, cmd := range cases {
		if _, err := env.svc.Request(context.Background(), passenger, cmd); !errors.Is(err, ErrBadRequest) {
			t.Errorf("case %d: expected ErrBadRequest, got %v", i, err)
		}
	}
}

func TestRequestUsesRoutingProvider(t *testing.T) {
	env := newTestEnv(t, withLookup(stubLookup{d: 12 * time.Minute}))
	o, d := originPt, destPt
	r, err := env.svc.Request(context.Background(), passenger, RequestCommand{
		Origin:      Place{Coords: &o},
		Destination: Place{Coords: &d},
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if r.EstimatedTime != 12*time.Minute {
		t.Fatalf("estimated time = %s, want 12m", r.EstimatedTime)
	}
	if math.Abs(r.DistanceKm-10) > 1e-6 {
		t.Fatalf("straight-line distance = %v, want 10", r.DistanceKm)
	}
	want := 5 + r.DistanceKm*2 + 12*0.5
	if !approx(r.EstimatedPrice, want) {
		t.Fatalf("estimate = %v, want %v", r.EstimatedPrice, want)
	}
}

func TestRequestIgnoresHintsWhenServerCanPrice(t *testing.T) {
	env := newTestEnv(t, withLookup(stubLookup{d: 12 * time.Minute}))
	ctx := context.Background()
	o, d := originPt, destPt
	r, err := env.svc.Request(ctx, passenger, RequestCommand{
		Origin:        Place{Coords: &o},
		Destination:   Place{Coords: &d},
		DistanceKm:    0.01,
		EstimatedTime: time.Second,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if math.Abs(r.DistanceKm-10) > 1e-6 || r.EstimatedTime != 12*time.Minute {
		t.Fatalf("client hints must not override server values: distance=%v time=%s", r.DistanceKm, r.EstimatedTime)
	}
	if math.Abs(r.EstimatedPrice-31) > 1e-6 {
		t.Fatalf("estimate = %v, want 31", r.EstimatedPrice)
	}

	mustApply(t, env, driverA, r.ID, AcceptCommand{})
	mustApply(t, env, driverA, r.ID, StartCommand{})
	env.clock.Advance(12 * time.Minute)
	r = mustApply(t, env, driverA, r.ID, FinishCommand{})
	if r.ActualPrice == nil || math.Abs(*r.ActualPrice-31) > 1e-6 {
		t.Fatalf("final price = %v, want 31", r.ActualPrice)
	}
}

func TestRequestFallsBackToHints(t *testing.T) {
	env := newTestEnv(t)
	r, err := env.svc.Request(context.Background(), passenger, RequestCommand{
		Origin:        Place{Address: "Praça da Sé"},
		Destination:   Place{Address: "Morumbi"},
		DistanceKm:    7,
		EstimatedTime: 10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if r.DistanceKm != 7 || r.EstimatedTime != 10*time.Minute || !approx(r.EstimatedPrice, 24) {
		t.Fatalf("hints should price a ride without coordinates: %+v", r)
	}
}

func TestAcceptTwiceConflicts(t *testing.T) {
	env := newTestEnv(t)
	r := rideAt(t, env, StatusAccepted)

	_, err := env.svc.Accept(context.Background(), driverB, r.ID, DriverInfo{})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got := mustLoad(t, env, r.ID)
	if d, _ := got.Driver(); d.ID != driverA.ID {
		t.Fatalf("driver overwritten: %s", d.ID)
	}
}

func TestRateAndReport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	searching := rideAt(t, env, StatusSearching)
	if _, err := env.svc.Rate(ctx, passenger, searching.ID, 5, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("rate before acceptance: expected ErrInvalidTransition, got %v", err)
	}

	r := rideAt(t, env, StatusCompleted)
	if _, err := env.svc.Rate(ctx, passenger, r.ID, 6, ""); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for score 6, got %v", err)
	}
	if _, err := env.svc.Rate(ctx, passenger, r.ID, 5, "great ride"); err != nil {
		t.Fatalf("passenger rate: %v", err)
	}
	r, err := env.svc.Rate(ctx, driverA, r.ID, 4, "")
	if err != nil {
		t.Fatalf("driver rate: %v", err)
	}
	if r.Rating.ByPassenger == nil || *r.Rating.ByPassenger != 5 {
		t.Fatalf("passenger score missing: %+v", r.Rating)
	}
	if r.Rating.ByDriver == nil || *r.Rating.ByDriver != 4 {
		t.Fatalf("driver score missing: %+v", r.Rating)
	}
	if r.Rating.Comment != "great ride" {
		t.Fatalf("comment lost: %q", r.Rating.Comment)
	}
	if r.Status != StatusCompleted {
		t.Fatalf("rating changed status to %s", r.Status)
	}

	if _, err := env.svc.Report(ctx, passenger, r.ID, "noise", "loud music"); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for unknown report type, got %v", err)
	}
	r, err = env.svc.Report(ctx, passenger, r.ID, ReportBehavior, "rude driver")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	r, err = env.svc.Report(ctx, driverA, r.ID, ReportRoute, "passenger asked for a detour")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(r.Reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(r.Reports))
	}
	for _, rep := range r.Reports {
		if rep.Status != ReportPending || rep.ID == "" || rep.ReportedAt.IsZero() {
			t.Fatalf("unexpected report: %+v", rep)
		}
	}
	if r.Reports[1].ReportedBy != driverA.ID {
		t.Fatalf("reports must keep append order, got %+v", r.Reports)
	}
}

func TestLocationMetrics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := rideAt(t, env, StatusInProgress)

	fast := 95.0
	slow := 40.0
	fixes := []struct {
		p     types.Point
		speed *float64
	}{
		{types.Point{Lat: -23.55, Lng: -46.65}, &slow},
		// heads away from the destination
		{types.Point{Lat: -23.50, Lng: -46.60}, &fast},
		{types.Point{Lat: -23.55, Lng: -46.65}, nil},
	}
	for _, f := range fixes {
		env.clock.Advance(time.Minute)
		var err error
		if r, err = env.svc.UpdateLocation(ctx, driverA, r.ID, f.p, f.speed); err != nil {
			t.Fatalf("location: %v", err)
		}
	}

	m := r.Metrics
	if m.DistanceTraveledKm < 10 || m.DistanceTraveledKm > 20 {
		t.Fatalf("distance traveled out of range: %v", m.DistanceTraveledKm)
	}
	if m.RouteDeviations != 1 {
		t.Fatalf("expected 1 deviation, got %d", m.RouteDeviations)
	}
	if len(m.SpeedEvents) != 1 || m.SpeedEvents[0].SpeedKmh != 95 {
		t.Fatalf("expected one speed event at 95, got %+v", m.SpeedEvents)
	}
	if r.DriverLocation == nil || r.DriverLocation.Point != fixes[2].p || !r.DriverLocation.UpdatedAt.Equal(env.clock.Now()) {
		t.Fatalf("driver location not overwritten: %+v", r.DriverLocation)
	}

	if _, err := env.svc.UpdateLocation(ctx, driverA, r.ID, types.Point{Lat: 91}, nil); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for invalid point, got %v", err)
	}
}

func TestLocationBeforeRideKeepsMetricsEmpty(t *testing.T) {
	env := newTestEnv(t)
	r := rideAt(t, env, StatusAccepted)
	fast := 120.0
	r, err := env.svc.UpdateLocation(context.Background(), driverA, r.ID, originPt, &fast)
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if r.Metrics.DistanceTraveledKm != 0 || len(r.Metrics.SpeedEvents) != 0 {
		t.Fatalf("metrics must only track in-ride fixes: %+v", r.Metrics)
	}
}

func TestLocationRefreshesETA(t *testing.T) {
	env := newTestEnv(t, withLookup(stubLookup{d: 4 * time.Minute}))
	ctx := context.Background()
	r := rideAt(t, env, StatusAccepted)

	if _, err := env.svc.UpdateLocation(ctx, driverA, r.ID, types.Point{Lat: -23.54, Lng: -46.62}, nil); err != nil {
		t.Fatalf("location: %v", err)
	}
	env.svc.Close()

	e, ok, err := env.etas.Get(ctx, r.ID)
	if err != nil || !ok {
		t.Fatalf("expected stored estimate, ok=%v err=%v", ok, err)
	}
	if e.Target != eta.TargetPickup || e.Duration != 4*time.Minute {
		t.Fatalf("unexpected estimate: %+v", e)
	}

	details, err := env.svc.Details(ctx, passenger, r.ID)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.ETA == nil || details.ETA.Duration != 4*time.Minute {
		t.Fatalf("details should carry the estimate: %+v", details.ETA)
	}
}

func TestETAUnavailableDoesNotFailTransition(t *testing.T) {
	env := newTestEnv(t, withLookup(stubLookup{err: errors.New("quota exceeded")}))
	ctx := context.Background()
	r := rideAt(t, env, StatusInProgress)

	if _, err := env.svc.UpdateLocation(ctx, driverA, r.ID, originPt, nil); err != nil {
		t.Fatalf("location must succeed without an ETA: %v", err)
	}
	env.svc.Close()

	details, err := env.svc.Details(ctx, driverA, r.ID)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.ETA != nil {
		t.Fatalf("expected no ETA, got %+v", details.ETA)
	}
}

func TestStatusUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := rideAt(t, env, StatusAccepted)

	r, err := env.svc.StatusUpdate(ctx, driverA, r.ID, StatusUpdateCommand{Status: StatusArrived})
	if err != nil {
		t.Fatalf("status update arrived: %v", err)
	}
	if r.Status != StatusArrived || !r.DriverArrived {
		t.Fatalf("unexpected ride: %+v", r)
	}

	here := types.Point{Lat: -23.551, Lng: -46.634}
	r, err = env.svc.StatusUpdate(ctx, driverA, r.ID, StatusUpdateCommand{Status: StatusInProgress, Location: &here})
	if err != nil {
		t.Fatalf("status update in_progress: %v", err)
	}
	if r.Status != StatusInProgress || r.DriverLocation == nil || r.DriverLocation.Point != here {
		t.Fatalf("unexpected ride: %+v", r)
	}

	if _, err := env.svc.StatusUpdate(ctx, driverA, r.ID, StatusUpdateCommand{Status: StatusSearching}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	if _, err := env.svc.StatusUpdate(ctx, driverA, r.ID, StatusUpdateCommand{Status: StatusArrived}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	r, err = env.svc.StatusUpdate(ctx, driverA, r.ID, StatusUpdateCommand{Status: StatusCompleted, Location: &here})
	if err != nil {
		t.Fatalf("status update completed: %v", err)
	}
	if r.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", r.Status)
	}
}

func TestStatusUpdateKeepsCommittedStatusWhenLocationFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := rideAt(t, env, StatusAccepted)

	svc := serviceOver(t, env, &flakyUpdates{Store: env.store, ok: 1})
	here := types.Point{Lat: -23.551, Lng: -46.634}
	got, err := svc.StatusUpdate(ctx, driverA, r.ID, StatusUpdateCommand{Status: StatusArrived, Location: &here})
	if err != nil {
		t.Fatalf("status update must report the committed change, got %v", err)
	}
	if got.Status != StatusArrived || got.DriverLocation != nil {
		t.Fatalf("expected arrived without a location, got %+v", got)
	}
	if stored := mustLoad(t, env, r.ID); stored.Status != StatusArrived || stored.Version != got.Version {
		t.Fatalf("stored ride out of sync: status=%s version=%d", stored.Status, stored.Version)
	}
}

func TestListAvailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale := mustRequest(t, env)
	env.clock.Advance(31 * time.Minute)
	older := mustRequest(t, env)
	env.clock.Advance(time.Minute)
	newer := mustRequest(t, env)
	env.clock.Advance(time.Minute)
	taken := rideAt(t, env, StatusAccepted)

	rides, err := env.svc.ListAvailable(ctx, driverB, nil)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(rides) != 2 || rides[0].ID != newer.ID || rides[1].ID != older.ID {
		ids := make([]types.ID, 0, len(rides))
		for _, r := range rides {
			ids = append(ids, r.ID)
		}
		t.Fatalf("expected [newer older], got %v (stale=%s taken=%s)", ids, stale.ID, taken.ID)
	}
	if got := mustLoad(t, env, stale.ID); got.Status != StatusSearching {
		t.Fatalf("stale ride must not be mutated, got %s", got.Status)
	}

	if _, err := env.svc.ListAvailable(ctx, passenger, nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for passenger, got %v", err)
	}
}

func TestListAvailableWithinRadius(t *testing.T) {
	env := newTestEnv(t, withLifecycle(func(l *Lifecycle) { l.AvailableRadiusKm = 5 }))
	ctx := context.Background()
	near := mustRequest(t, env)

	far := types.Point{Lat: -22.9068, Lng: -43.1729}
	if _, err := env.svc.Request(ctx, passenger, RequestCommand{
		Origin:      Place{Address: "Rio", Coords: &far},
		Destination: Place{Address: "Niterói"},
		DistanceKm:  15,
	}); err != nil {
		t.Fatalf("request: %v", err)
	}

	driverAt := types.Point{Lat: -23.56, Lng: -46.64}
	rides, err := env.svc.ListAvailable(ctx, driverA, &driverAt)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(rides) != 1 || rides[0].ID != near.ID {
		t.Fatalf("expected only the nearby ride, got %d rides", len(rides))
	}
}

func TestListMineAndDriverStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	done1 := rideAt(t, env, StatusCompleted)
	done2 := rideAt(t, env, StatusCompleted)
	rideAt(t, env, StatusSearching)

	mine, err := env.svc.ListMine(ctx, driverA)
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("driver should see 2 rides, got %d", len(mine))
	}
	mine, err = env.svc.ListMine(ctx, passenger)
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if len(mine) != 3 {
		t.Fatalf("passenger should see 3 rides, got %d", len(mine))
	}

	stats, err := env.svc.DriverStats(ctx, driverA)
	if err != nil {
		t.Fatalf("driver stats: %v", err)
	}
	want := *done1.ActualPrice + *done2.ActualPrice
	if stats.RidesCount != 2 || !approx(stats.Earnings, want) {
		t.Fatalf("unexpected stats: %+v, want earnings %v", stats, want)
	}

	env.clock.Advance(24 * time.Hour)
	stats, err = env.svc.DriverStats(ctx, driverA)
	if err != nil {
		t.Fatalf("driver stats: %v", err)
	}
	if stats.RidesCount != 0 {
		t.Fatalf("yesterday's rides must not count, got %+v", stats)
	}

	if _, err := env.svc.DriverStats(ctx, passenger); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestViewForHidesCodeFromDriver(t *testing.T) {
	env := newTestEnv(t)
	r := rideAt(t, env, StatusAccepted)

	if got := r.ViewFor(passenger); got.VerificationCode == "" {
		t.Fatal("passenger must see the pickup code")
	}
	if got := r.ViewFor(driverA); got.VerificationCode != "" {
		t.Fatal("driver must not see the pickup code")
	}
	if r.VerificationCode == "" {
		t.Fatal("ViewFor must not modify the ride")
	}
}

type recordingPublisher struct {
	events chan Event
}

func (p *recordingPublisher) Publish(_ context.Context, e Event, _ *Ride) error {
	p.events <- e
	return nil
}

func TestPublisherReceivesCommittedEvents(t *testing.T) {
	env := newTestEnv(t)
	pub := &recordingPublisher{events: make(chan Event, 8)}
	env.svc.SetPublisher(pub)

	r := rideAt(t, env, StatusAccepted)
	_, _ = env.svc.Accept(context.Background(), driverB, r.ID, DriverInfo{})
	env.svc.Close()
	close(pub.events)

	var got []Action
	for e := range pub.events {
		got = append(got, e.Action)
	}
	if len(got) != 2 {
		t.Fatalf("expected request and accept only, got %v", got)
	}
}
