package viewport

import (
	"context"
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
	"github.com/mohammed-shakir/price-cluster-map/internal/pointsource"
	"github.com/mohammed-shakir/price-cluster-map/internal/pricing"
)

// BulkPrice is one building of the bulk price overlay.
type BulkPrice struct {
	HouseID      string         `json:"house_id"`
	Lng          float64        `json:"lng"`
	Lat          float64        `json:"lat"`
	PricePerArea float64        `json:"price_per_area"`
	Segment      model.Segment  `json:"segment"`
	Color        string         `json:"color"`
	Confidence   float64        `json:"confidence"`
	Method       pricing.Method `json:"method"`
}

type BulkResult struct {
	Region string      `json:"region"`
	Prices []BulkPrice `json:"prices"`
}

// Bulk estimates every building in bbox, up to the bulk limit.
func (s *Service) Bulk(ctx context.Context, bbox model.BBox, region string) (BulkResult, error) {
	if err := bbox.Validate(); err != nil {
		return BulkResult{}, fmt.Errorf("invalid bbox: %w", err)
	}
	rows, err := s.source.Points(ctx, bbox, s.bulkLimit)
	if err != nil {
		return BulkResult{}, fmt.Errorf("%w: %w", ErrPointSource, err)
	}
	rows = s.inside(bbox, rows)
	r := s.engine.Regions().Resolve(s.regionID(region, bbox))
	bands := r.Segments()

	points := lo.Map(rows, func(row pointsource.Row, _ int) model.ClusterPoint { return pointsource.ToClusterPoint(row) })
	ins := lo.Map(points, func(p model.ClusterPoint, _ int) pricing.Input { return estimateInput(r.ID, p) })
	ests := s.engine.EstimateMany(ctx, ins)

	out := BulkResult{Region: r.ID, Prices: make([]BulkPrice, len(points))}
	for i, p := range points {
		e := ests[i]
		out.Prices[i] = BulkPrice{
			HouseID:      p.ID,
			Lng:          p.Lng,
			Lat:          p.Lat,
			PricePerArea: e.PricePerArea,
			Segment:      bands.Classify(e.PricePerArea),
			Color:        bands.Color(e.PricePerArea),
			Confidence:   e.Confidence,
			Method:       e.Method,
		}
	}
	return out, nil
}

// House estimates a single building resolved by id. Sources that cannot
// look buildings up report pointsource.ErrNotFound.
func (s *Service) House(ctx context.Context, id, region string) (pricing.PriceEstimate, error) {
	h, ok := s.source.(pointsource.Houses)
	if !ok {
		return pricing.PriceEstimate{}, pointsource.ErrNotFound
	}
	row, err := h.House(ctx, id)
	if err != nil {
		return pricing.PriceEstimate{}, err
	}
	in := estimateInput(region, pointsource.ToClusterPoint(row))
	if region == "" {
		in.Region = s.regionFor(row.Lng, row.Lat)
	}
	return s.engine.Estimate(ctx, in), nil
}

// Estimate prices an explicit input.
func (s *Service) Estimate(ctx context.Context, in pricing.Input) pricing.PriceEstimate {
	if in.Region == "" {
		in.Region = s.regionFor(in.Lng, in.Lat)
	}
	return s.engine.Estimate(ctx, in)
}

// regionFor picks the smallest region bbox containing the point, or the
// default region.
func (s *Service) regionFor(lng, lat float64) string {
	reg := s.engine.Regions()
	best, bestArea := reg.Default().ID, math.Inf(1)
	for _, r := range reg.Regions() {
		if r.BBox == nil {
			continue
		}
		b := model.BBox{X1: r.BBox[0], Y1: r.BBox[1], X2: r.BBox[2], Y2: r.BBox[3]}
		if !b.Contains(lng, lat) {
			continue
		}
		if a := (b.X2 - b.X1) * (b.Y2 - b.Y1); a < bestArea {
			best, bestArea = r.ID, a
		}
	}
	return best
}
