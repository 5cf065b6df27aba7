// Package pointsource normalizes building rows from a spatial store or a
// synthetic generator into cluster points.
package pointsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/config"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
)

var ErrNotFound = errors.New("house not found")

// Row is one building as delivered by a source. Optional fields are nil when unknown.
type Row struct {
	ID           string   `db:"id"`
	Lng          float64  `db:"lng"`
	Lat          float64  `db:"lat"`
	AreaSqm      *float64 `db:"area_sqm"`
	BuildingType string   `db:"building_type"`
	Levels       *int     `db:"building_levels"`
	PricePerArea *float64 `db:"-"`
}

type Source interface {
	Points(ctx context.Context, bbox model.BBox, limit int) ([]Row, error)
}

// Houses is implemented by sources that can resolve a single building by id.
type Houses interface {
	House(ctx context.Context, id string) (Row, error)
}

type Factory func(cfg config.Config, logger *slog.Logger) (Source, error)

var reg = map[string]Factory{}

func Register(name string, f Factory) {
	reg[name] = f
}

func New(name string, cfg config.Config, logger *slog.Logger) (Source, error) {
	if f, ok := reg[name]; ok {
		return f(cfg, logger)
	}
	if f, ok := reg["demo"]; ok {
		logger.Warn("unknown point source; falling back to demo", "source", name)
		return f(cfg, logger)
	}
	return nil, fmt.Errorf("no factory for point source %q and no demo registered", name)
}

// ToClusterPoint maps a row to a cluster point. The id is carried unchanged.
func ToClusterPoint(r Row) model.ClusterPoint {
	p := model.ClusterPoint{
		ID:           r.ID,
		Lng:          r.Lng,
		Lat:          r.Lat,
		PropertyType: PropertyType(r.BuildingType),
		AreaSqm:      r.AreaSqm,
		BuildingType: r.BuildingType,
		Levels:       r.Levels,
	}
	if r.PricePerArea != nil && *r.PricePerArea >= 0 {
		p.PricePerArea = *r.PricePerArea
	}
	return p
}

var displayTypes = map[string]string{
	"apartment":          "apartment",
	"apartments":         "apartment",
	"flat":               "apartment",
	"condo":              "apartment",
	"house":              "house",
	"detached":           "house",
	"semidetached_house": "house",
	"terrace":            "house",
	"bungalow":           "house",
	"single_family":      "house",
	"townhouse":          "house",
	"commercial":         "commercial",
	"retail":             "commercial",
	"office":             "commercial",
	"shop":               "commercial",
	"industrial":         "industrial",
	"warehouse":          "industrial",
}

// PropertyType maps a raw building tag to a display category.
func PropertyType(buildingType string) string {
	k := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(buildingType)), " ", "_")
	if t, ok := displayTypes[k]; ok {
		return t
	}
	return model.DefaultPropertyType
}
