// Package viewport turns a map viewport into clustered, priced features.
package viewport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"

	"github.com/mohammed-shakir/price-cluster-map/internal/cluster"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/observability"
	"github.com/mohammed-shakir/price-cluster-map/internal/pointsource"
	"github.com/mohammed-shakir/price-cluster-map/internal/pricing"
	"github.com/mohammed-shakir/price-cluster-map/internal/segment"
)

const (
	MinZoom     = 0
	MaxZoom     = 22
	DefaultZoom = 14

	DefaultPointLimit = 1000
	DefaultBulkLimit  = 500

	windowCacheSize = 64
)

// ErrPointSource marks failures of the point source, the only error Resolve
// propagates.
var ErrPointSource = errors.New("point source unavailable")

type Request struct {
	BBox   model.BBox
	Zoom   int
	Region string
}

func (r Request) Validate() error {
	if err := r.BBox.Validate(); err != nil {
		return fmt.Errorf("invalid bbox: %w", err)
	}
	if r.Zoom < MinZoom || r.Zoom > MaxZoom {
		return fmt.Errorf("zoom %d out of range [%d,%d]", r.Zoom, MinZoom, MaxZoom)
	}
	return nil
}

type Result struct {
	Features []model.Feature
	Meta     model.Meta
}

// window is one loaded viewport: its index and the band table used to
// classify its points.
type window struct {
	index  *cluster.Index
	bands  *segment.Table
	region *pricing.Region
}

type Option func(*Service)

func WithPointLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pointLimit = n
		}
	}
}

func WithBulkLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.bulkLimit = n
		}
	}
}

func WithClusterOptions(o cluster.Options) Option {
	return func(s *Service) { s.clusterOpts = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

type Service struct {
	source      pointsource.Source
	engine      *pricing.Engine
	clusterOpts cluster.Options
	pointLimit  int
	bulkLimit   int
	log         *slog.Logger
	windows     *lru.Cache[string, *window]
}

func New(source pointsource.Source, engine *pricing.Engine, opts ...Option) (*Service, error) {
	s := &Service{
		source:      source,
		engine:      engine,
		clusterOpts: cluster.DefaultOptions(),
		pointLimit:  DefaultPointLimit,
		bulkLimit:   DefaultBulkLimit,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.clusterOpts.Validate(); err != nil {
		return nil, fmt.Errorf("cluster options: %w", err)
	}
	w, err := lru.New[string, *window](windowCacheSize)
	if err != nil {
		return nil, err
	}
	s.windows = w
	return s, nil
}

func (s *Service) Engine() *pricing.Engine { return s.engine }

// Resolve fetches, prices, classifies and clusters the points of a viewport.
// Zero points is a valid, empty result.
func (s *Service) Resolve(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	w, err := s.load(ctx, req)
	if err != nil {
		return Result{}, err
	}

	nodes := w.index.Query(req.BBox, req.Zoom)
	res := Result{
		Features: make([]model.Feature, 0, len(nodes)),
		Meta:     model.Meta{Zoom: req.Zoom, BBox: req.BBox},
	}
	for _, n := range nodes {
		if n.IsCluster() {
			res.Features = append(res.Features, model.ClusterFeature{
				ClusterID:             n.ID,
				Lng:                   n.Lng,
				Lat:                   n.Lat,
				PointCount:            n.Count,
				PointCountAbbreviated: cluster.Abbreviate(n.Count),
			})
			res.Meta.TotalClusters++
			continue
		}
		res.Features = append(res.Features, w.pointFeature(*n.Point))
		res.Meta.TotalPoints++
	}
	res.Meta.TotalFeatures = len(res.Features)
	return res, nil
}

// Leaves pages through the points inside a cluster of the viewport.
func (s *Service) Leaves(ctx context.Context, req Request, clusterID, limit, offset int) ([]model.PointFeature, error) {
	w, err := s.window(ctx, req)
	if err != nil {
		return nil, err
	}
	pts, err := w.index.Leaves(clusterID, limit, offset)
	if err != nil {
		return nil, err
	}
	return lo.Map(pts, func(p model.ClusterPoint, _ int) model.PointFeature { return w.pointFeature(p) }), nil
}

func (s *Service) ExpansionZoom(ctx context.Context, req Request, clusterID int) (int, error) {
	w, err := s.window(ctx, req)
	if err != nil {
		return 0, err
	}
	return w.index.ExpansionZoom(clusterID)
}

type ClusterSegments struct {
	ClusterID int                 `json:"cluster_id"`
	Summary   segment.Summary     `json:"summary"`
	Style     segment.MarkerStyle `json:"style"`
}

// ClusterSegments summarizes the price bands of every point in a cluster.
func (s *Service) ClusterSegments(ctx context.Context, req Request, clusterID int) (ClusterSegments, error) {
	w, err := s.window(ctx, req)
	if err != nil {
		return ClusterSegments{}, err
	}
	pts, err := w.index.Leaves(clusterID, w.index.Len(), 0)
	if err != nil {
		return ClusterSegments{}, err
	}
	sum := w.bands.Summarize(lo.Map(pts, func(p model.ClusterPoint, _ int) float64 { return p.PricePerArea }))
	return ClusterSegments{
		ClusterID: clusterID,
		Summary:   sum,
		Style:     w.bands.Marker(len(pts), sum.Dominant),
	}, nil
}

// VisibleHouseIDs lists the distinct house ids on screen, expanding clusters
// into their members.
func (s *Service) VisibleHouseIDs(ctx context.Context, req Request) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	w, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, n := range w.index.Query(req.BBox, req.Zoom) {
		if !n.IsCluster() {
			ids = append(ids, n.Point.ID)
			continue
		}
		pts, err := w.index.Leaves(n.ID, n.Count, 0)
		if err != nil {
			return nil, err
		}
		ids = append(ids, lo.Map(pts, func(p model.ClusterPoint, _ int) string { return p.ID })...)
	}
	return lo.Uniq(ids), nil
}

// window returns the loaded viewport for drill-down calls, rebuilding it
// when it is no longer cached. Cluster ids are only meaningful within the
// window that produced them.
func (s *Service) window(ctx context.Context, req Request) (*window, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if w, ok := s.windows.Get(windowKey(req)); ok {
		return w, nil
	}
	return s.load(ctx, req)
}

func (s *Service) load(ctx context.Context, req Request) (*window, error) {
	rows, err := s.source.Points(ctx, req.BBox, s.pointLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPointSource, err)
	}
	rows = s.inside(req.BBox, rows)
	observability.ObserveViewportPoints(len(rows))

	region := s.engine.Regions().Resolve(s.regionID(req.Region, req.BBox))
	points := s.price(ctx, region, rows)

	ix, err := cluster.New(s.clusterOpts)
	if err != nil {
		return nil, err
	}
	ix.Load(points)

	w := &window{index: ix, bands: region.Segments(), region: region}
	s.windows.Add(windowKey(req), w)
	return w, nil
}

// inside keeps the rows whose position lies in bb. Sources may match on
// footprints or padded envelopes; cluster counts cover only points in view.
func (s *Service) inside(bb model.BBox, rows []pointsource.Row) []pointsource.Row {
	kept := lo.Filter(rows, func(r pointsource.Row, _ int) bool { return bb.Contains(r.Lng, r.Lat) })
	if d := len(rows) - len(kept); d > 0 {
		s.log.Debug("dropped points outside viewport", "bbox", bb.String(), "dropped", d)
	}
	return kept
}

// regionID resolves the requested region, or the region covering the bbox
// center when none was requested.
func (s *Service) regionID(requested string, bb model.BBox) string {
	if requested != "" {
		return s.engine.Regions().Resolve(requested).ID
	}
	return s.regionFor((bb.X1+bb.X2)/2, (bb.Y1+bb.Y2)/2)
}

// price normalizes rows and estimates the ones the source left unpriced.
func (s *Service) price(ctx context.Context, region *pricing.Region, rows []pointsource.Row) []model.ClusterPoint {
	points := make([]model.ClusterPoint, len(rows))
	var missing []int
	for i, r := range rows {
		points[i] = pointsource.ToClusterPoint(r)
		if r.PricePerArea == nil {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return points
	}

	start := time.Now()
	ins := lo.Map(missing, func(i int, _ int) pricing.Input { return estimateInput(region.ID, points[i]) })
	for j, est := range s.engine.EstimateMany(ctx, ins) {
		points[missing[j]].PricePerArea = est.PricePerArea
	}
	s.log.Debug("estimated unpriced points",
		"region", region.ID, "count", len(missing), "took_ms", time.Since(start).Milliseconds())
	return points
}

func (w *window) pointFeature(p model.ClusterPoint) model.PointFeature {
	return model.PointFeature{
		HouseID:      p.ID,
		Lng:          p.Lng,
		Lat:          p.Lat,
		PricePerArea: p.PricePerArea,
		Segment:      w.bands.Classify(p.PricePerArea),
		PropertyType: p.PropertyType,
	}
}

func estimateInput(region string, p model.ClusterPoint) pricing.Input {
	return pricing.Input{
		SubjectID:    p.ID,
		AreaSqm:      p.AreaSqm,
		BuildingType: p.BuildingType,
		Levels:       p.Levels,
		Lng:          p.Lng,
		Lat:          p.Lat,
		Region:       region,
	}
}

func windowKey(req Request) string {
	return req.Region + "|" + req.BBox.String()
}
