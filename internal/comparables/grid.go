package comparables

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	h3 "github.com/uber/h3-go/v4"
)

// Average hexagon edge length in meters, indexed by H3 resolution.
var edgeLengthM = [16]float64{
	1281256.011, 483056.8391, 182512.9565, 68979.22179,
	26071.75968, 9854.090990, 3724.532667, 1406.475763,
	531.414010, 200.786148, 75.863783, 28.663897,
	10.830188, 4.092010, 1.546100, 0.584169,
}

const maxRing = 64

var ErrRadiusTooLarge = errors.New("comparables: radius too large for grid resolution")

// Listing is a priced listing held in a Grid.
type Listing struct {
	ID        string    `json:"id"`
	Lng       float64   `json:"lng"`
	Lat       float64   `json:"lat"`
	Price     float64   `json:"price"`
	AreaSqm   float64   `json:"area_sqm"`
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PricePerArea is price/area when both are positive.
func (l Listing) PricePerArea() (float64, bool) {
	if l.Price <= 0 || l.AreaSqm <= 0 {
		return 0, false
	}
	return l.Price / l.AreaSqm, true
}

func (l Listing) liveAt(now time.Time) bool {
	return l.Active && (l.ExpiresAt.IsZero() || l.ExpiresAt.After(now))
}

// Grid is an in-memory comparables source bucketed by H3 cell.
type Grid struct {
	mu    sync.RWMutex
	res   int
	cells map[h3.Cell]map[string]Listing
	byID  map[string]h3.Cell
	now   func() time.Time
}

func NewGrid(res int) (*Grid, error) {
	if res < 0 || res > 15 {
		return nil, fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return &Grid{
		res:   res,
		cells: make(map[h3.Cell]map[string]Listing),
		byID:  make(map[string]h3.Cell),
		now:   time.Now,
	}, nil
}

// Upsert inserts or replaces a listing by id.
func (g *Grid) Upsert(l Listing) error {
	if l.ID == "" {
		return errors.New("comparables: listing id is required")
	}
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: l.Lat, Lng: l.Lng}, g.res)
	if err != nil {
		return fmt.Errorf("h3 cell for listing %s: %w", l.ID, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(l.ID)
	bucket, ok := g.cells[cell]
	if !ok {
		bucket = make(map[string]Listing)
		g.cells[cell] = bucket
	}
	bucket[l.ID] = l
	g.byID[l.ID] = cell
	return nil
}

// Remove drops a listing. It reports whether the id was present.
func (g *Grid) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeLocked(id)
}

func (g *Grid) removeLocked(id string) bool {
	cell, ok := g.byID[id]
	if !ok {
		return false
	}
	delete(g.byID, id)
	if bucket := g.cells[cell]; bucket != nil {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(g.cells, cell)
		}
	}
	return true
}

func (g *Grid) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byID)
}

// PricesNear returns prices per area of live listings within radiusM meters.
func (g *Grid) PricesNear(ctx context.Context, lng, lat, radiusM float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if radiusM <= 0 {
		return nil, nil
	}
	k := int(math.Ceil(radiusM/(edgeLengthM[g.res]*1.5))) + 1
	if k > maxRing {
		return nil, ErrRadiusTooLarge
	}

	origin, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, g.res)
	if err != nil {
		return nil, fmt.Errorf("h3 cell: %w", err)
	}
	disk, err := h3.GridDisk(origin, k)
	if err != nil {
		return nil, fmt.Errorf("h3 grid disk: %w", err)
	}

	center := orb.Point{lng, lat}
	now := g.now()

	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []float64
	for _, c := range disk {
		for _, l := range g.cells[c] {
			if !l.liveAt(now) {
				continue
			}
			if geo.Distance(center, orb.Point{l.Lng, l.Lat}) > radiusM {
				continue
			}
			if v, ok := l.PricePerArea(); ok {
				out = append(out, v)
			}
		}
	}
	return out, nil
}
