// README: Repository runs each ride mutation as one load-modify-save unit under the ride's lock.
package ride

import (
	"context"

	"bora/internal/types"
)

type Repository struct {
	store  Store
	locker Locker
}

func NewRepository(store Store, locker Locker) *Repository {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Repository{store: store, locker: locker}
}

func (r *Repository) Store() Store {
	return r.store
}

func (r *Repository) Create(ctx context.Context, ride *Ride) error {
	return r.store.Create(ctx, ride)
}

func (r *Repository) Load(ctx context.Context, id types.ID) (*Ride, error) {
	return r.store.Get(ctx, id)
}

// Mutate loads the ride, hands it to fn and saves the result with a version check,
// all while holding the ride's lock. When fn fails nothing is saved. Only the wait
// for the lock honours ctx: once the ride is loaded the unit runs to completion.
func (r *Repository) Mutate(ctx context.Context, id types.ID, fn func(*Ride) error) (*Ride, error) {
	unlock, err := r.locker.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	ride, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := ride.Version
	if err := fn(ride); err != nil {
		return nil, err
	}
	ride.Version = expected + 1
	if err := r.store.Update(ctx, ride, expected); err != nil {
		return nil, err
	}
	return ride, nil
}
