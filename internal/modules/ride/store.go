// README: Ride persistence contract.
package ride

import (
	"context"
	"time"

	"bora/internal/types"
)

// Store persists rides as whole documents. Update is a compare-and-swap on Version:
// it writes r only when the stored version still equals expectedVersion and
// returns ErrConflict otherwise.
type Store interface {
	Create(ctx context.Context, r *Ride) error
	Get(ctx context.Context, id types.ID) (*Ride, error)
	Update(ctx context.Context, r *Ride, expectedVersion int) error
	// FindAvailable lists searching rides created at or after since, newest first.
	FindAvailable(ctx context.Context, since time.Time, limit int) ([]*Ride, error)
	// ListByParty lists rides where id is the passenger or the driver, newest first.
	ListByParty(ctx context.Context, id types.ID, limit int) ([]*Ride, error)
	// DriverStats sums completed rides of a driver that ended at or after since.
	DriverStats(ctx context.Context, driverID types.ID, since time.Time) (DriverStats, error)
	AppendEvent(ctx context.Context, e *Event) error
	Events(ctx context.Context, rideID types.ID) ([]Event, error)
}
