// Package demo generates a reproducible synthetic building set for any viewport.
package demo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/config"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
	"github.com/mohammed-shakir/price-cluster-map/internal/pointsource"
)

const PointsPerViewport = 50

func init() {
	pointsource.Register("demo", func(_ config.Config, _ *slog.Logger) (pointsource.Source, error) {
		return Source{}, nil
	})
}

// Source seeds its generator from the bbox, so one viewport always yields the same points.
type Source struct{}

func (Source) Points(ctx context.Context, bbox model.BBox, limit int) ([]pointsource.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := PointsPerViewport
	if limit > 0 && limit < n {
		n = limit
	}

	seed := xxhash.Sum64String(bbox.String())
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	rows := make([]pointsource.Row, 0, n)
	for i := range n {
		lat := bbox.Y1 + r.Float64()*(bbox.Y2-bbox.Y1)
		lng := bbox.X1 + r.Float64()*(bbox.X2-bbox.X1)

		// 25% low, 40% mid, 25% upper, 10% premium
		var price float64
		switch u := r.Float64(); {
		case u < 0.25:
			price = 4000 + r.Float64()*2000
		case u < 0.65:
			price = 6000 + r.Float64()*2000
		case u < 0.90:
			price = 8000 + r.Float64()*2000
		default:
			price = 10000 + r.Float64()*4000
		}
		price = math.Round(price)

		typ := "house"
		if r.Float64() > 0.3 {
			typ = "apartment"
		}
		rows = append(rows, pointsource.Row{
			ID:           fmt.Sprintf("demo_%d", i),
			Lng:          lng,
			Lat:          lat,
			BuildingType: typ,
			PricePerArea: &price,
		})
	}
	return rows, nil
}
