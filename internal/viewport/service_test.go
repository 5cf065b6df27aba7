package viewport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/mohammed-shakir/price-cluster-map/internal/cluster"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
	"github.com/mohammed-shakir/price-cluster-map/internal/pointsource"
	"github.com/mohammed-shakir/price-cluster-map/internal/pricing"
)

type fakeSource struct {
	rows   []pointsource.Row
	err    error
	calls  atomic.Int32
	houses atomic.Int32
}

func (f *fakeSource) Points(ctx context.Context, bb model.BBox, limit int) ([]pointsource.Row, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	var out []pointsource.Row
	for _, r := range f.rows {
		if bb.Contains(r.Lng, r.Lat) && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) House(ctx context.Context, id string) (pointsource.Row, error) {
	f.houses.Add(1)
	for _, r := range f.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return pointsource.Row{}, pointsource.ErrNotFound
}

func ptr[T any](v T) *T { return &v }

var area = model.BBox{X1: 6.8, Y1: 46.1, X2: 7.2, Y2: 46.4}

// twenty priced buildings around Monthey station plus five unpriced ones
// far enough apart to stay single at zoom 10.
func fixtureRows() []pointsource.Row {
	var rows []pointsource.Row
	for i := range 20 {
		price := 5000.0
		switch {
		case i >= 16:
			price = 12000
		case i >= 10:
			price = 7000
		}
		rows = append(rows, pointsource.Row{
			ID:           fmt.Sprintf("c-%02d", i),
			Lng:          6.955 + float64(i%5)*0.0001,
			Lat:          46.255 + float64(i/5)*0.0001,
			BuildingType: "apartments",
			PricePerArea: ptr(price),
		})
	}
	for i, p := range [][2]float64{{6.85, 46.15}, {6.95, 46.35}, {7.05, 46.15}, {7.15, 46.35}, {7.15, 46.15}} {
		rows = append(rows, pointsource.Row{
			ID:           fmt.Sprintf("s-%d", i),
			Lng:          p[0],
			Lat:          p[1],
			BuildingType: "house",
			AreaSqm:      ptr(120.0),
		})
	}
	return rows
}

func newService(t *testing.T, src pointsource.Source) *Service {
	t.Helper()
	svc, err := New(src, pricing.NewEngine(pricing.MustBuiltin()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func clusterOf(t *testing.T, res Result) model.ClusterFeature {
	t.Helper()
	for _, f := range res.Features {
		if c, ok := f.(model.ClusterFeature); ok {
			return c
		}
	}
	t.Fatalf("no cluster in %d features", len(res.Features))
	return model.ClusterFeature{}
}

func TestResolve_EmptyViewport(t *testing.T) {
	svc := newService(t, &fakeSource{})
	res, err := svc.Resolve(t.Context(), Request{BBox: area, Zoom: 14, Region: "ch-monthey"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Features) != 0 || res.Meta.TotalFeatures != 0 || res.Meta.TotalClusters != 0 || res.Meta.TotalPoints != 0 {
		t.Fatalf("expected empty result, got %+v", res.Meta)
	}
	if res.Meta.Zoom != 14 || res.Meta.BBox != area {
		t.Fatalf("meta must echo the request: %+v", res.Meta)
	}
}

func TestResolve_ClustersAndCounts(t *testing.T) {
	svc := newService(t, &fakeSource{rows: fixtureRows()})
	res, err := svc.Resolve(t.Context(), Request{BBox: area, Zoom: 10, Region: "ch-monthey"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	m := res.Meta
	if m.TotalClusters != 1 || m.TotalPoints != 5 || m.TotalFeatures != 6 {
		t.Fatalf("meta=%+v want 1 cluster, 5 points, 6 features", m)
	}

	total := 0
	for _, f := range res.Features {
		switch f := f.(type) {
		case model.ClusterFeature:
			total += f.PointCount
			if f.PointCountAbbreviated != "20" {
				t.Fatalf("abbreviated=%q", f.PointCountAbbreviated)
			}
		case model.PointFeature:
			total++
			if f.PricePerArea <= 0 {
				t.Fatalf("unpriced point %s was not estimated", f.HouseID)
			}
			if f.PropertyType != "house" {
				t.Fatalf("property type=%q", f.PropertyType)
			}
		}
	}
	if total != 25 {
		t.Fatalf("points not conserved: %d", total)
	}
}

func TestResolve_HighZoomReturnsEveryPointWithIDs(t *testing.T) {
	svc := newService(t, &fakeSource{rows: fixtureRows()})
	res, err := svc.Resolve(t.Context(), Request{BBox: area, Zoom: 22})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Meta.TotalPoints != 25 || res.Meta.TotalClusters != 0 {
		t.Fatalf("meta=%+v", res.Meta)
	}
	for _, f := range res.Features {
		p := f.(model.PointFeature)
		if p.HouseID == "c-00" && (p.Segment != model.SegmentLow || p.PricePerArea != 5000) {
			t.Fatalf("c-00 = %+v", p)
		}
		if p.HouseID == "c-19" && p.Segment != model.SegmentPremium {
			t.Fatalf("c-19 = %+v", p)
		}
	}
}

func TestResolve_Errors(t *testing.T) {
	svc := newService(t, &fakeSource{err: errors.New("connection refused")})
	_, err := svc.Resolve(t.Context(), Request{BBox: area, Zoom: 14})
	if !errors.Is(err, ErrPointSource) {
		t.Fatalf("err=%v want ErrPointSource", err)
	}

	for _, req := range []Request{
		{BBox: model.BBox{X1: 7, Y1: 46, X2: 6, Y2: 47}, Zoom: 14},
		{BBox: area, Zoom: 23},
		{BBox: area, Zoom: -1},
	} {
		if _, err := svc.Resolve(t.Context(), req); err == nil || errors.Is(err, ErrPointSource) {
			t.Fatalf("request %+v: err=%v want validation error", req, err)
		}
	}
}

func TestDrillDown(t *testing.T) {
	src := &fakeSource{rows: fixtureRows()}
	svc := newService(t, src)
	req := Request{BBox: area, Zoom: 10, Region: "ch-monthey"}
	res, err := svc.Resolve(t.Context(), req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	c := clusterOf(t, res)

	leaves, err := svc.Leaves(t.Context(), req, c.ClusterID, 100, 0)
	if err != nil {
		t.Fatalf("Leaves: %v", err)
	}
	if len(leaves) != 20 {
		t.Fatalf("leaves=%d want 20", len(leaves))
	}
	page, _ := svc.Leaves(t.Context(), req, c.ClusterID, 5, 18)
	if len(page) != 2 {
		t.Fatalf("page=%d want 2", len(page))
	}

	z, err := svc.ExpansionZoom(t.Context(), req, c.ClusterID)
	if err != nil || z <= 10 {
		t.Fatalf("expansion zoom=%d err=%v", z, err)
	}

	segs, err := svc.ClusterSegments(t.Context(), req, c.ClusterID)
	if err != nil {
		t.Fatalf("ClusterSegments: %v", err)
	}
	if segs.Summary.Total != 20 || segs.Summary.Dominant != model.SegmentLow {
		t.Fatalf("summary=%+v", segs.Summary)
	}
	pct := map[model.Segment]int{}
	for _, s := range segs.Summary.Segments {
		pct[s.Segment] = s.Percentage
	}
	if pct[model.SegmentLow] != 50 || pct[model.SegmentMid] != 30 || pct[model.SegmentPremium] != 20 {
		t.Fatalf("percentages=%v", pct)
	}
	if segs.Style.Size != 52 || segs.Style.Color != "#22c55e" {
		t.Fatalf("style=%+v", segs.Style)
	}

	if src.calls.Load() != 1 {
		t.Fatalf("drill-down should reuse the loaded window; source calls=%d", src.calls.Load())
	}

	if _, err := svc.Leaves(t.Context(), req, 3, 10, 0); !errors.Is(err, cluster.ErrClusterNotFound) {
		t.Fatalf("err=%v want ErrClusterNotFound", err)
	}
}

func TestVisibleHouseIDs(t *testing.T) {
	svc := newService(t, &fakeSource{rows: fixtureRows()})
	ids, err := svc.VisibleHouseIDs(t.Context(), Request{BBox: area, Zoom: 10})
	if err != nil {
		t.Fatalf("VisibleHouseIDs: %v", err)
	}
	if len(ids) != 25 {
		t.Fatalf("ids=%d want 25", len(ids))
	}
	sort.Strings(ids)
	if ids[0] != "c-00" || ids[24] != "s-4" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestBulkAndHouse(t *testing.T) {
	svc := newService(t, &fakeSource{rows: fixtureRows()})
	bulk, err := svc.Bulk(t.Context(), area, "ch-monthey")
	if err != nil {
		t.Fatalf("Bulk: %v", err)
	}
	if len(bulk.Prices) != 25 || bulk.Region != "ch-monthey" {
		t.Fatalf("bulk=%d region=%s", len(bulk.Prices), bulk.Region)
	}
	for _, p := range bulk.Prices {
		if p.PricePerArea <= 0 || p.Color == "" || p.Method != pricing.MethodFallback {
			t.Fatalf("bulk price %+v", p)
		}
	}

	est, err := svc.House(t.Context(), "s-0", "")
	if err != nil {
		t.Fatalf("House: %v", err)
	}
	if est.SubjectID != "s-0" || est.TotalPrice == nil {
		t.Fatalf("estimate=%+v", est)
	}
	if _, err := svc.House(t.Context(), "nope", ""); !errors.Is(err, pointsource.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestRegionFor(t *testing.T) {
	svc := newService(t, &fakeSource{})
	if got := svc.regionFor(7.36, 46.23); got != "ch-sion" {
		t.Fatalf("got=%s want ch-sion", got)
	}
	if got := svc.regionFor(0, 0); got != svc.engine.Regions().Default().ID {
		t.Fatalf("got=%s want default", got)
	}
}

// spillSource matches on padded envelopes: it returns every row regardless
// of the requested bbox.
type spillSource struct{ rows []pointsource.Row }

func (s spillSource) Points(context.Context, model.BBox, int) ([]pointsource.Row, error) {
	return s.rows, nil
}

func TestResolve_IgnoresRowsOutsideBBox(t *testing.T) {
	view := model.BBox{X1: 6.95, Y1: 46.25, X2: 6.96, Y2: 46.26}
	var rows []pointsource.Row
	for i := range 6 {
		rows = append(rows,
			pointsource.Row{ID: fmt.Sprintf("in-%d", i), Lng: 6.9550 + float64(i)*0.0005, Lat: 46.255, PricePerArea: ptr(6500.0)},
			pointsource.Row{ID: fmt.Sprintf("out-%d", i), Lng: 6.9605 + float64(i)*0.0005, Lat: 46.255, PricePerArea: ptr(6500.0)},
		)
	}
	svc := newService(t, spillSource{rows: rows})

	for _, zoom := range []int{8, 12, 16, 22} {
		res, err := svc.Resolve(t.Context(), Request{BBox: view, Zoom: zoom, Region: "ch-monthey"})
		if err != nil {
			t.Fatalf("zoom %d: %v", zoom, err)
		}
		counted := 0
		for _, f := range res.Features {
			switch f := f.(type) {
			case model.ClusterFeature:
				counted += f.PointCount
			case model.PointFeature:
				if !view.Contains(f.Lng, f.Lat) {
					t.Fatalf("zoom %d: point %s outside viewport", zoom, f.HouseID)
				}
				counted++
			}
		}
		if counted != 6 {
			t.Fatalf("zoom %d: features account for %d points, want 6 (meta=%+v)", zoom, counted, res.Meta)
		}
	}

	ids, err := svc.VisibleHouseIDs(t.Context(), Request{BBox: view, Zoom: 12, Region: "ch-monthey"})
	if err != nil || len(ids) != 6 {
		t.Fatalf("visible ids=%v err=%v", ids, err)
	}
	bulk, err := svc.Bulk(t.Context(), view, "ch-monthey")
	if err != nil || len(bulk.Prices) != 6 {
		t.Fatalf("bulk=%d err=%v", len(bulk.Prices), err)
	}
}

func TestResolve_EmptyRegionFollowsViewport(t *testing.T) {
	mitte := model.BBox{X1: 13.38, Y1: 52.51, X2: 13.395, Y2: 52.525}
	row := pointsource.Row{ID: "b-1", Lng: 13.389, Lat: 52.518, BuildingType: "apartments", AreaSqm: ptr(80.0)}
	svc := newService(t, spillSource{rows: []pointsource.Row{row}})

	bulk, err := svc.Bulk(t.Context(), mitte, "")
	if err != nil {
		t.Fatalf("Bulk: %v", err)
	}
	if bulk.Region != "berlin-mitte" {
		t.Fatalf("region=%s want berlin-mitte", bulk.Region)
	}

	res, err := svc.Resolve(t.Context(), Request{BBox: mitte, Zoom: 16})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	p := res.Features[0].(model.PointFeature)
	want := svc.Estimate(t.Context(), estimateInput("berlin-mitte", pointsource.ToClusterPoint(row)))
	if p.PricePerArea != want.PricePerArea {
		t.Fatalf("price=%v want berlin-mitte price %v", p.PricePerArea, want.PricePerArea)
	}
	if got := svc.regionID("", mitte); got != "berlin-mitte" {
		t.Fatalf("regionID=%s", got)
	}
	if got := svc.regionID("sion", mitte); got != "ch-sion" {
		t.Fatalf("explicit alias must win: %s", got)
	}
}
