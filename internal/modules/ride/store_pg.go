// README: Ride store backed by PostgreSQL: JSONB document plus indexed columns.
package ride

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bora/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, r *Ride) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode ride: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO rides (id, status, passenger_id, driver_id, version, created_at, ended_at, actual_price, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(r.ID), string(r.Status), string(r.Passenger.ID), driverColumn(r), r.Version,
		r.CreatedAt, r.EndTime, r.ActualPrice, doc,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	var doc []byte
	var version int
	err := s.db.QueryRow(ctx, `SELECT doc, version FROM rides WHERE id = $1`, string(id)).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRide(doc, version)
}

func (s *PGStore) Update(ctx context.Context, r *Ride, expectedVersion int) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode ride: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE rides
		SET status = $2, driver_id = $3, version = $4, ended_at = $5, actual_price = $6, doc = $7, updated_at = now()
		WHERE id = $1 AND version = $8`,
		string(r.ID), string(r.Status), driverColumn(r), r.Version, r.EndTime, r.ActualPrice, doc, expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rides WHERE id = $1)`, string(r.ID)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *PGStore) FindAvailable(ctx context.Context, since time.Time, limit int) ([]*Ride, error) {
	return s.query(ctx, `
		SELECT doc, version FROM rides
		WHERE status = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3`,
		string(StatusSearching), since, limitOrAll(limit),
	)
}

func (s *PGStore) ListByParty(ctx context.Context, id types.ID, limit int) ([]*Ride, error) {
	return s.query(ctx, `
		SELECT doc, version FROM rides
		WHERE passenger_id = $1 OR driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		string(id), limitOrAll(limit),
	)
}

func (s *PGStore) DriverStats(ctx context.Context, driverID types.ID, since time.Time) (DriverStats, error) {
	var st DriverStats
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(actual_price), 0)
		FROM rides
		WHERE driver_id = $1 AND status = $2 AND ended_at >= $3`,
		string(driverID), string(StatusCompleted), since,
	).Scan(&st.RidesCount, &st.Earnings)
	return st, err
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO ride_events (ride_id, action, from_status, to_status, actor_role, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		string(e.RideID), string(e.Action), string(e.From), string(e.To), string(e.ActorRole), string(e.ActorID), e.At,
	).Scan(&e.ID)
}

func (s *PGStore) Events(ctx context.Context, rideID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ride_id, action, from_status, to_status, actor_role, actor_id, created_at
		FROM ride_events
		WHERE ride_id = $1
		ORDER BY id`, string(rideID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RideID, &e.Action, &e.From, &e.To, &e.ActorRole, &e.ActorID, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PGStore) query(ctx context.Context, sql string, args ...any) ([]*Ride, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Ride, 0)
	for rows.Next() {
		var doc []byte
		var version int
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		r, err := decodeRide(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func decodeRide(doc []byte, version int) (*Ride, error) {
	var r Ride
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode ride: %w", err)
	}
	r.Version = version
	return &r, nil
}

func driverColumn(r *Ride) *string {
	d, ok := r.Driver()
	if !ok {
		return nil
	}
	id := string(d.ID)
	return &id
}

// limitOrAll maps a non-positive limit to NULL, which Postgres reads as no limit.
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
