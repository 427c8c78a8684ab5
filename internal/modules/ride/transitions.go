// README: Lifecycle transition table and the single dispatcher that applies it.
package ride

import (
	"math"
	"slices"
	"time"

	"bora/internal/geo"
	"bora/internal/modules/pricing"
	"bora/internal/types"
)

type Action string

const (
	ActionRequest    Action = "request"
	ActionAccept     Action = "accept"
	ActionArrive     Action = "arrive"
	ActionVerifyCode Action = "verify_code"
	ActionStart      Action = "start"
	ActionFinish     Action = "finish"
	ActionCancel     Action = "cancel"
	ActionRate       Action = "rate"
	ActionReport     Action = "report"
	ActionLocation   Action = "location"
)

type actorRule int

const (
	// anyDriver: a caller with the driver role who is not the ride's passenger.
	anyDriver actorRule = iota
	assignedDriver
	party
)

// transition describes one action. An empty to leaves the status unchanged; a nil
// from means every status is accepted.
type transition struct {
	actor           actorRule
	from            []Status
	to              Status
	terminalOK      bool
	needsDriver     bool
	preconditionErr error
}

// transitions is the lifecycle as code. Every status change and side effect goes
// through dispatch, which consults this table before running the command's effect.
var transitions = map[Action]transition{
	ActionAccept: {
		actor:           anyDriver,
		from:            []Status{StatusSearching},
		to:              StatusAccepted,
		preconditionErr: ErrConflict,
	},
	ActionArrive: {
		actor:       assignedDriver,
		from:        []Status{StatusAccepted},
		to:          StatusArrived,
		needsDriver: true,
	},
	ActionVerifyCode: {
		actor:       assignedDriver,
		from:        []Status{StatusAccepted, StatusArrived},
		needsDriver: true,
	},
	ActionStart: {
		actor:       assignedDriver,
		from:        []Status{StatusAccepted, StatusArrived},
		to:          StatusInProgress,
		needsDriver: true,
	},
	ActionFinish: {
		actor:       assignedDriver,
		from:        []Status{StatusInProgress},
		to:          StatusCompleted,
		needsDriver: true,
	},
	ActionCancel: {
		actor: party,
		from:  []Status{StatusSearching, StatusAccepted, StatusArrived, StatusInProgress},
		to:    StatusCancelled,
	},
	ActionRate: {
		actor:       party,
		terminalOK:  true,
		needsDriver: true,
	},
	ActionReport: {
		actor:      party,
		terminalOK: true,
	},
	ActionLocation: {
		actor:       assignedDriver,
		from:        []Status{StatusAccepted, StatusArrived, StatusInProgress},
		needsDriver: true,
	},
}

// CanApply reports whether action is allowed from status, ignoring who is asking.
func CanApply(action Action, from Status) bool {
	t, ok := transitions[action]
	if !ok {
		return false
	}
	if from.Terminal() && !t.terminalOK {
		return false
	}
	return t.from == nil || slices.Contains(t.from, from)
}

func (t transition) allows(r *Ride, a Actor) bool {
	switch t.actor {
	case anyDriver:
		return a.Role == RoleDriver && !r.IsPassenger(a.ID)
	case assignedDriver:
		return r.IsDriver(a.ID)
	case party:
		return r.IsParty(a.ID)
	}
	return false
}

// Command is one lifecycle action with its arguments.
type Command interface {
	Action() Action
	validate() error
	apply(r *Ride, a Actor, env effectEnv) error
}

// effectEnv carries everything an effect may need besides the ride itself.
type effectEnv struct {
	now       time.Time
	pricing   *pricing.Engine
	lifecycle Lifecycle
	newID     func() types.ID
}

// dispatch checks actor, terminal state and status precondition, in that order,
// then runs the effect and moves the status. On error r may be partially modified
// and must be discarded.
func dispatch(r *Ride, a Actor, cmd Command, env effectEnv) error {
	t, ok := transitions[cmd.Action()]
	if !ok {
		return ErrBadRequest
	}
	if !t.allows(r, a) {
		return ErrForbidden
	}
	if r.Status.Terminal() && !t.terminalOK {
		return ErrAlreadyTerminal
	}
	if t.from != nil && !slices.Contains(t.from, r.Status) {
		if t.preconditionErr != nil {
			return t.preconditionErr
		}
		return ErrInvalidTransition
	}
	if _, assigned := r.Driver(); t.needsDriver && !assigned {
		return ErrInvalidTransition
	}
	if err := cmd.apply(r, a, env); err != nil {
		return err
	}
	if t.to != "" {
		r.Status = t.to
	}
	return nil
}

type AcceptCommand struct {
	Driver DriverInfo
}

func (AcceptCommand) Action() Action { return ActionAccept }

func (c AcceptCommand) validate() error { return nil }

func (c AcceptCommand) apply(r *Ride, a Actor, env effectEnv) error {
	d := c.Driver
	d.ID = a.ID
	if d.Email == "" {
		d.Email = a.Email
	}
	if d.Name == "" {
		d.Name = a.Name
	}
	r.Assignment = Assigned{Driver: d, AcceptedAt: env.now}
	return nil
}

type ArriveCommand struct{}

func (ArriveCommand) Action() Action { return ActionArrive }

func (ArriveCommand) validate() error { return nil }

func (ArriveCommand) apply(r *Ride, _ Actor, env effectEnv) error {
	at := env.now
	r.ArrivedAt = &at
	r.DriverArrived = true
	return nil
}

type VerifyCodeCommand struct {
	Code string
}

func (VerifyCodeCommand) Action() Action { return ActionVerifyCode }

func (c VerifyCodeCommand) validate() error {
	if c.Code == "" {
		return ErrBadRequest
	}
	return nil
}

func (c VerifyCodeCommand) apply(r *Ride, _ Actor, _ effectEnv) error {
	if !codesEqual(c.Code, r.VerificationCode) {
		return ErrInvalidCode
	}
	r.CodeVerified = true
	return nil
}

type StartCommand struct{}

func (StartCommand) Action() Action { return ActionStart }

func (StartCommand) validate() error { return nil }

func (StartCommand) apply(r *Ride, _ Actor, env effectEnv) error {
	if env.lifecycle.RequireVerifiedCode && !r.CodeVerified {
		return ErrInvalidCode
	}
	at := env.now
	r.StartTime = &at
	return nil
}

type FinishCommand struct{}

func (FinishCommand) Action() Action { return ActionFinish }

func (FinishCommand) validate() error { return nil }

func (FinishCommand) apply(r *Ride, _ Actor, env effectEnv) error {
	if r.StartTime == nil {
		return ErrInvalidTransition
	}
	end := env.now
	elapsed := end.Sub(*r.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}
	price := env.pricing.Final(r.DistanceKm, elapsed)
	r.EndTime = &end
	r.Duration = &elapsed
	r.ActualPrice = &price
	return nil
}

type CancelCommand struct {
	Reason string
}

func (CancelCommand) Action() Action { return ActionCancel }

func (CancelCommand) validate() error { return nil }

func (c CancelCommand) apply(r *Ride, a Actor, env effectEnv) error {
	in := pricing.PenaltyInput{
		InProgress:     r.Status == StatusInProgress,
		DriverArrived:  r.DriverArrived,
		EstimatedPrice: r.EstimatedPrice,
	}
	if acceptedAt, ok := r.AcceptedAt(); ok {
		in.Accepted = r.Status == StatusAccepted
		in.SinceAcceptance = env.now.Sub(acceptedAt)
	}
	p := env.pricing.Penalty(in)

	at := env.now
	amount := p.Amount
	r.CancellationPenalty = &amount
	r.PenaltyTier = p.Tier
	r.PenaltyReason = p.Reason
	r.CancelledAt = &at
	r.CancelReason = c.Reason
	if r.CancelReason == "" {
		r.CancelReason = "no reason given"
	}
	if r.IsPassenger(a.ID) {
		r.CancelledBy = RolePassenger
	} else {
		r.CancelledBy = RoleDriver
	}
	return nil
}

type RateCommand struct {
	Score   int
	Comment string
}

func (RateCommand) Action() Action { return ActionRate }

func (c RateCommand) validate() error {
	if c.Score < 1 || c.Score > 5 {
		return ErrBadRequest
	}
	return nil
}

func (c RateCommand) apply(r *Ride, a Actor, _ effectEnv) error {
	score := c.Score
	if r.IsPassenger(a.ID) {
		r.Rating.ByPassenger = &score
	} else {
		r.Rating.ByDriver = &score
	}
	if c.Comment != "" {
		r.Rating.Comment = c.Comment
	}
	return nil
}

type ReportCommand struct {
	Type        ReportType
	Description string
}

func (ReportCommand) Action() Action { return ActionReport }

func (c ReportCommand) validate() error {
	if !c.Type.Valid() || c.Description == "" {
		return ErrBadRequest
	}
	return nil
}

func (c ReportCommand) apply(r *Ride, a Actor, env effectEnv) error {
	r.Reports = append(r.Reports, Report{
		ID:          env.newID(),
		Type:        c.Type,
		Description: c.Description,
		ReportedBy:  a.ID,
		ReportedAt:  env.now,
		Status:      ReportPending,
	})
	return nil
}

type LocationCommand struct {
	Point    types.Point
	SpeedKmh *float64
}

func (LocationCommand) Action() Action { return ActionLocation }

func (c LocationCommand) validate() error {
	if !c.Point.Valid() {
		return ErrBadRequest
	}
	if c.SpeedKmh != nil && (*c.SpeedKmh < 0 || math.IsNaN(*c.SpeedKmh)) {
		return ErrBadRequest
	}
	return nil
}

func (c LocationCommand) apply(r *Ride, _ Actor, env effectEnv) error {
	prev := r.DriverLocation
	if r.Status == StatusInProgress {
		trackMetrics(r, prev, c, env)
	}
	r.DriverLocation = &Fix{
		Point:     c.Point,
		SpeedKmh:  clonePtr(c.SpeedKmh),
		UpdatedAt: env.now,
	}
	return nil
}

// trackMetrics folds one in-ride position fix into the ride metrics.
func trackMetrics(r *Ride, prev *Fix, c LocationCommand, env effectEnv) {
	m := &r.Metrics
	if prev != nil {
		m.DistanceTraveledKm += geo.HaversineKm(prev.Point, c.Point)
		if dest := r.Destination.Coords; dest != nil && env.lifecycle.DeviationThresholdKm > 0 {
			before := geo.HaversineKm(prev.Point, *dest)
			after := geo.HaversineKm(c.Point, *dest)
			if after-before > env.lifecycle.DeviationThresholdKm {
				m.RouteDeviations++
			}
		}
	}
	if c.SpeedKmh != nil && env.lifecycle.SpeedLimitKmh > 0 && *c.SpeedKmh > env.lifecycle.SpeedLimitKmh {
		m.SpeedEvents = append(m.SpeedEvents, SpeedEvent{
			At:       env.now,
			SpeedKmh: *c.SpeedKmh,
			Point:    c.Point,
		})
	}
}
