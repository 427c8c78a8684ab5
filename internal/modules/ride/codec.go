// README: JSON document form of a ride, shared by the Postgres store and the HTTP layer.
package ride

import (
	"encoding/json"
	"time"

	"bora/internal/modules/pricing"
	"bora/internal/types"
)

type rideDoc struct {
	ID        types.ID  `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Version   int       `json:"version"`

	Passenger  Party       `json:"passenger"`
	Driver     *DriverInfo `json:"driver,omitempty"`
	AcceptedAt *time.Time  `json:"accepted_at,omitempty"`

	Origin         Place `json:"origin"`
	Destination    Place `json:"destination"`
	DriverLocation *Fix  `json:"driver_location,omitempty"`

	DistanceKm           float64      `json:"distance_km"`
	EstimatedPrice       float64      `json:"estimated_price"`
	EstimatedTimeSeconds int64        `json:"estimated_time_seconds"`
	ActualPrice          *float64     `json:"actual_price,omitempty"`
	CancellationPenalty  *float64     `json:"cancellation_penalty,omitempty"`
	PenaltyTier          pricing.Tier `json:"penalty_tier,omitempty"`
	PenaltyReason        string       `json:"penalty_reason,omitempty"`

	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
	ArrivedAt       *time.Time `json:"arrived_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`

	Status        Status `json:"status"`
	DriverArrived bool   `json:"driver_arrived"`
	CancelReason  string `json:"cancel_reason,omitempty"`
	CancelledBy   Role   `json:"cancelled_by,omitempty"`

	VerificationCode string `json:"verification_code"`
	CodeVerified     bool   `json:"code_verified"`

	Rating  Rating   `json:"rating"`
	Reports []Report `json:"reports"`
	Metrics Metrics  `json:"metrics"`
}

func (r Ride) MarshalJSON() ([]byte, error) {
	d := rideDoc{
		ID:                   r.ID,
		CreatedAt:            r.CreatedAt,
		Version:              r.Version,
		Passenger:            r.Passenger,
		Origin:               r.Origin,
		Destination:          r.Destination,
		DriverLocation:       r.DriverLocation,
		DistanceKm:           r.DistanceKm,
		EstimatedPrice:       r.EstimatedPrice,
		EstimatedTimeSeconds: int64(r.EstimatedTime / time.Second),
		ActualPrice:          r.ActualPrice,
		CancellationPenalty:  r.CancellationPenalty,
		PenaltyTier:          r.PenaltyTier,
		PenaltyReason:        r.PenaltyReason,
		StartTime:            r.StartTime,
		EndTime:              r.EndTime,
		ArrivedAt:            r.ArrivedAt,
		CancelledAt:          r.CancelledAt,
		Status:               r.Status,
		DriverArrived:        r.DriverArrived,
		CancelReason:         r.CancelReason,
		CancelledBy:          r.CancelledBy,
		VerificationCode:     r.VerificationCode,
		CodeVerified:         r.CodeVerified,
		Rating:               r.Rating,
		Reports:              r.Reports,
		Metrics:              r.Metrics,
	}
	if d.Reports == nil {
		d.Reports = []Report{}
	}
	if a, ok := r.Assignment.(Assigned); ok {
		driver, at := a.Driver, a.AcceptedAt
		d.Driver, d.AcceptedAt = &driver, &at
	}
	if r.Duration != nil {
		secs := int64(*r.Duration / time.Second)
		d.DurationSeconds = &secs
	}
	return json.Marshal(d)
}

func (r *Ride) UnmarshalJSON(b []byte) error {
	var d rideDoc
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	*r = Ride{
		ID:                  d.ID,
		CreatedAt:           d.CreatedAt,
		Version:             d.Version,
		Passenger:           d.Passenger,
		Assignment:          Unassigned{},
		Origin:              d.Origin,
		Destination:         d.Destination,
		DriverLocation:      d.DriverLocation,
		DistanceKm:          d.DistanceKm,
		EstimatedPrice:      d.EstimatedPrice,
		EstimatedTime:       time.Duration(d.EstimatedTimeSeconds) * time.Second,
		ActualPrice:         d.ActualPrice,
		CancellationPenalty: d.CancellationPenalty,
		PenaltyTier:         d.PenaltyTier,
		PenaltyReason:       d.PenaltyReason,
		StartTime:           d.StartTime,
		EndTime:             d.EndTime,
		ArrivedAt:           d.ArrivedAt,
		CancelledAt:         d.CancelledAt,
		Status:              d.Status,
		DriverArrived:       d.DriverArrived,
		CancelReason:        d.CancelReason,
		CancelledBy:         d.CancelledBy,
		VerificationCode:    d.VerificationCode,
		CodeVerified:        d.CodeVerified,
		Rating:              d.Rating,
		Reports:             d.Reports,
		Metrics:             d.Metrics,
	}
	if d.Driver != nil {
		a := Assigned{Driver: *d.Driver}
		if d.AcceptedAt != nil {
			a.AcceptedAt = *d.AcceptedAt
		}
		r.Assignment = a
	}
	if d.DurationSeconds != nil {
		dur := time.Duration(*d.DurationSeconds) * time.Second
		r.Duration = &dur
	}
	return nil
}
