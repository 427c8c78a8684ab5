// README: In-memory Store used by tests and single-node runs.
package ride

import (
	"context"
	"sort"
	"sync"
	"time"

	"bora/internal/types"
)

type MemoryStore struct {
	mu     sync.RWMutex
	rides  map[types.ID]*Ride
	events map[types.ID][]Event
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:  make(map[types.ID]*Ride),
		events: make(map[types.ID][]Event),
	}
}

func (s *MemoryStore) Create(_ context.Context, r *Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rides[r.ID]; ok {
		return ErrConflict
	}
	s.rides[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, r *Ride, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rides[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConflict
	}
	s.rides[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) FindAvailable(_ context.Context, since time.Time, limit int) ([]*Ride, error) {
	return s.filter(limit, func(r *Ride) bool {
		return r.Status == StatusSearching && !r.CreatedAt.Before(since)
	}), nil
}

func (s *MemoryStore) ListByParty(_ context.Context, id types.ID, limit int) ([]*Ride, error) {
	return s.filter(limit, func(r *Ride) bool {
		return r.IsParty(id)
	}), nil
}

func (s *MemoryStore) DriverStats(_ context.Context, driverID types.ID, since time.Time) (DriverStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st DriverStats
	for _, r := range s.rides {
		if r.Status != StatusCompleted || !r.IsDriver(driverID) || r.EndTime == nil || r.EndTime.Before(since) {
			continue
		}
		st.RidesCount++
		if r.ActualPrice != nil {
			st.Earnings += *r.ActualPrice
		}
	}
	return st, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	s.events[e.RideID] = append(s.events[e.RideID], *e)
	return nil
}

func (s *MemoryStore) Events(_ context.Context, rideID types.ID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events[rideID]...), nil
}

// filter returns clones of matching rides, newest first.
func (s *MemoryStore) filter(limit int, keep func(*Ride) bool) []*Ride {
	s.mu.RLock()
	out := make([]*Ride, 0)
	for _, r := range s.rides {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
