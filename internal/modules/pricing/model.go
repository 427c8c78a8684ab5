// README: Pricing rates and cancellation penalty rules.
package pricing

import (
	"errors"
	"time"
)

// Rates drive both the estimate shown at request time and the final fare.
type Rates struct {
	BaseFare  float64 `yaml:"base_fare"`
	PerKm     float64 `yaml:"per_km"`
	PerMinute float64 `yaml:"per_minute"`
}

// PenaltyRules are percentages of the estimated price charged on cancellation.
type PenaltyRules struct {
	InProgressPercent float64       `yaml:"in_progress_percent"`
	ArrivedPercent    float64       `yaml:"arrived_percent"`
	AcceptedPercent   float64       `yaml:"accepted_percent"`
	GracePeriod       time.Duration `yaml:"grace_period"`
}

type Config struct {
	Rates   Rates        `yaml:"rates"`
	Penalty PenaltyRules `yaml:"penalty"`
}

// DefaultConfig returns base 5.0, 2.0/km, 0.5/min and 30/20/10 percent penalty tiers
// with a five minute grace window after acceptance.
func DefaultConfig() Config {
	return Config{
		Rates: Rates{
			BaseFare:  5.0,
			PerKm:     2.0,
			PerMinute: 0.5,
		},
		Penalty: PenaltyRules{
			InProgressPercent: 30,
			ArrivedPercent:    20,
			AcceptedPercent:   10,
			GracePeriod:       5 * time.Minute,
		},
	}
}

var ErrInvalidConfig = errors.New("invalid pricing config")

func (c Config) Validate() error {
	switch {
	case c.Rates.BaseFare < 0 || c.Rates.PerKm < 0 || c.Rates.PerMinute < 0:
		return errors.Join(ErrInvalidConfig, errors.New("rates must not be negative"))
	case !validPercent(c.Penalty.InProgressPercent),
		!validPercent(c.Penalty.ArrivedPercent),
		!validPercent(c.Penalty.AcceptedPercent):
		return errors.Join(ErrInvalidConfig, errors.New("penalty percentages must be within [0, 100]"))
	case c.Penalty.GracePeriod < 0:
		return errors.Join(ErrInvalidConfig, errors.New("grace period must not be negative"))
	}
	return nil
}

func validPercent(p float64) bool {
	return p >= 0 && p <= 100
}

type Tier string

const (
	TierNone       Tier = "none"
	TierInProgress Tier = "in_progress"
	TierArrived    Tier = "driver_arrived"
	TierAccepted   Tier = "accepted_after_grace"
)

// PenaltyInput is the slice of ride state the penalty rules look at.
type PenaltyInput struct {
	InProgress      bool
	Accepted        bool
	DriverArrived   bool
	EstimatedPrice  float64
	SinceAcceptance time.Duration
}

type Penalty struct {
	Amount float64
	Tier   Tier
	Reason string
}
