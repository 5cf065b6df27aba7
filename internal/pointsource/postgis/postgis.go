// Package postgis reads building centroids from a PostGIS houses table.
package postgis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/config"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/observability"
	"github.com/mohammed-shakir/price-cluster-map/internal/pointsource"
)

func init() {
	pointsource.Register("postgis", func(cfg config.Config, logger *slog.Logger) (pointsource.Source, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		src, err := New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("postgis point source ready")
		return src, nil
	})
}

type Source struct {
	db *sqlx.DB
}

func New(ctx context.Context, dsn string) (*Source, error) {
	if dsn == "" {
		return nil, errors.New("postgis: database url is required")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgis connect: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Source{db: db}, nil
}

// NewFromDB wraps an existing handle.
func NewFromDB(db *sqlx.DB) *Source { return &Source{db: db} }

const columns = `
		id::text AS id,
		ST_X(ST_Centroid(geometry)) AS lng,
		ST_Y(ST_Centroid(geometry)) AS lat,
		area_sqm,
		COALESCE(building_type, '') AS building_type,
		building_levels`

// pointsQuery matches on the centroid, the position the point is drawn at.
// A footprint overlapping the edge of the envelope is not in view.
const pointsQuery = `SELECT` + columns + `
		FROM houses
		WHERE ST_Intersects(ST_Centroid(geometry), ST_MakeEnvelope($1, $2, $3, $4, 4326))
		ORDER BY id
		LIMIT $5`

func (s *Source) Points(ctx context.Context, bbox model.BBox, limit int) ([]pointsource.Row, error) {
	const op = "postgis.Points"

	start := time.Now()
	var rows []pointsource.Row
	err := s.db.SelectContext(ctx, &rows, pointsQuery, bbox.X1, bbox.Y1, bbox.X2, bbox.Y2, limit)
	observability.ObserveUpstreamLatency("postgis", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rows, nil
}

func (s *Source) House(ctx context.Context, id string) (pointsource.Row, error) {
	const op = "postgis.House"
	query := `SELECT` + columns + `
		FROM houses
		WHERE id = $1::uuid
		LIMIT 1`

	var row pointsource.Row
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pointsource.Row{}, fmt.Errorf("%s: %w", op, pointsource.ErrNotFound)
		}
		return pointsource.Row{}, fmt.Errorf("%s: %w", op, err)
	}
	return row, nil
}

func (s *Source) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Source) Close() error {
	return s.db.Close()
}
