// README: Pricing engine computes fare estimates, final fares and cancellation penalties.
package pricing

import "time"

// Engine is stateless apart from its configuration; every method is a pure function.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Estimate prices a ride before it happens from the expected distance and travel time.
func (e *Engine) Estimate(distanceKm float64, expected time.Duration) float64 {
	return e.fare(distanceKm, expected)
}

// Final prices a completed ride: base + km*perKm + minutes*perMinute.
func (e *Engine) Final(distanceKm float64, elapsed time.Duration) float64 {
	return e.fare(distanceKm, elapsed)
}

func (e *Engine) fare(distanceKm float64, d time.Duration) float64 {
	km := clamp(distanceKm)
	minutes := clamp(d.Minutes())
	r := e.cfg.Rates
	return r.BaseFare + km*r.PerKm + minutes*r.PerMinute
}

// Penalty applies the first matching tier: in progress, then driver arrived, then
// accepted past the grace window. Tiers never add up.
func (e *Engine) Penalty(in PenaltyInput) Penalty {
	rules := e.cfg.Penalty
	price := clamp(in.EstimatedPrice)

	switch {
	case in.InProgress:
		return Penalty{
			Amount: price * rules.InProgressPercent / 100,
			Tier:   TierInProgress,
			Reason: "cancelled during the ride",
		}
	case in.DriverArrived:
		return Penalty{
			Amount: price * rules.ArrivedPercent / 100,
			Tier:   TierArrived,
			Reason: "cancelled after the driver arrived",
		}
	case in.Accepted && in.SinceAcceptance > rules.GracePeriod:
		return Penalty{
			Amount: price * rules.AcceptedPercent / 100,
			Tier:   TierAccepted,
			Reason: "free cancellation window exceeded",
		}
	}
	return Penalty{Tier: TierNone}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
