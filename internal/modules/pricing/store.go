// README: Pricing store backed by PostgreSQL. Operators may override configured rates per deployment.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Rates returns the stored override, if any.
func (s *Store) Rates(ctx context.Context) (Rates, bool, error) {
	var r Rates
	err := s.db.QueryRow(ctx,
		`SELECT base_fare, per_km, per_minute FROM pricing_rates WHERE id = 1`,
	).Scan(&r.BaseFare, &r.PerKm, &r.PerMinute)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rates{}, false, nil
	}
	if err != nil {
		return Rates{}, false, fmt.Errorf("load pricing rates: %w", err)
	}
	return r, true, nil
}

func (s *Store) SaveRates(ctx context.Context, r Rates) error {
	if r.BaseFare < 0 || r.PerKm < 0 || r.PerMinute < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("rates must not be negative"))
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO pricing_rates (id, base_fare, per_km, per_minute, updated_at)
		VALUES (1, $1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE
		SET base_fare = EXCLUDED.base_fare, per_km = EXCLUDED.per_km,
		    per_minute = EXCLUDED.per_minute, updated_at = now()`,
		r.BaseFare, r.PerKm, r.PerMinute)
	if err != nil {
		return fmt.Errorf("save pricing rates: %w", err)
	}
	return nil
}

// Resolve applies the stored override on top of cfg.
func (s *Store) Resolve(ctx context.Context, cfg Config) (Config, error) {
	r, ok, err := s.Rates(ctx)
	if err != nil || !ok {
		return cfg, err
	}
	cfg.Rates = r
	return cfg, cfg.Validate()
}
