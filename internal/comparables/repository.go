// Package comparables looks up prices per area of nearby active listings.
package comparables

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/observability"
)

const pricesNearQuery = `
SELECT CASE WHEN area_sqm > 0 THEN price / area_sqm ELSE NULL END AS price_sqm
FROM light_listings
WHERE is_active = true
  AND expires_at > NOW()
  AND ST_DWithin(
        geometry::geography,
        ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography,
        $3
      )
  AND price > 0
  AND area_sqm > 0`

// Repository reads comparable listings from the listings database.
type Repository struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewRepository(db *pgxpool.Pool, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log}
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	const op = "comparables.Connect"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}
	return pool, nil
}

// PricesNear returns the positive prices per square meter of active,
// non-expired listings within radiusM meters of (lng, lat).
func (r *Repository) PricesNear(ctx context.Context, lng, lat, radiusM float64) ([]float64, error) {
	const op = "ComparablesRepository.PricesNear"

	start := time.Now()
	rows, err := r.db.Query(ctx, pricesNearQuery, lng, lat, radiusM)
	observability.ObserveUpstreamLatency("listings", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v *float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		if v != nil && *v > 0 {
			out = append(out, *v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}

	r.log.Debug("comparables loaded", "lng", lng, "lat", lat, "radius_m", radiusM, "count", len(out))
	return out, nil
}

// Ping reports whether the listings database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *Repository) Close() {
	r.db.Close()
}
