package ride

import "time"

// Lifecycle holds the tunables of the ride state machine and availability query.
type Lifecycle struct {
	FreshnessWindow      time.Duration `yaml:"freshness_window"`
	AvailableLimit       int           `yaml:"available_limit"`
	AvailableRadiusKm    float64       `yaml:"available_radius_km"`
	RequireVerifiedCode  bool          `yaml:"require_verified_code"`
	SpeedLimitKmh        float64       `yaml:"speed_limit_kmh"`
	DeviationThresholdKm float64       `yaml:"deviation_threshold_km"`
	ListLimit            int           `yaml:"list_limit"`
}

func DefaultLifecycle() Lifecycle {
	return Lifecycle{
		FreshnessWindow:      30 * time.Minute,
		AvailableLimit:       50,
		SpeedLimitKmh:        80,
		DeviationThresholdKm: 0.5,
		ListLimit:            50,
	}
}
