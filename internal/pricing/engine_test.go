package pricing

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeComparables struct {
	prices []float64
	err    error
	calls  int
}

func (f *fakeComparables) PricesNear(ctx context.Context, _, _, _ float64) ([]float64, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.prices, f.err
}

type fakePredictor struct {
	ratio float64
	err   error
}

func (f fakePredictor) Predict(_ context.Context, x []float64) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return x[FeatStageAPrice] * f.ratio, nil
}

func ptr[T any](v T) *T { return &v }

// twelve prices with median 7100
var twelve = []float64{6000, 6200, 6400, 6600, 6800, 7000, 7200, 7400, 7600, 7800, 8000, 8200}

func TestEstimate_MontheyApartmentsFallback(t *testing.T) {
	e := NewEngine(MustBuiltin(), WithComparables(&fakeComparables{}))
	got := e.Estimate(t.Context(), Input{
		SubjectID:    "h1",
		Region:       "ch-monthey",
		BuildingType: "apartments",
		Levels:       ptr(2),
	})
	if got.PricePerArea != 8424 {
		t.Fatalf("price got=%v want=8424", got.PricePerArea)
	}
	if got.Method != MethodFallback {
		t.Fatalf("method got=%s want=fallback", got.Method)
	}
	if got.TotalPrice != nil {
		t.Fatalf("total price must be nil without area, got=%v", *got.TotalPrice)
	}
	want := []string{"base", "building_type", "floors", "proximity"}
	if len(got.Breakdown) != len(want) {
		t.Fatalf("breakdown got=%+v", got.Breakdown)
	}
	for i, f := range got.Breakdown {
		if f.Name != want[i] {
			t.Fatalf("breakdown[%d] got=%s want=%s", i, f.Name, want[i])
		}
	}
	if got.Breakdown[0].Impact != 7800 || got.Breakdown[1].Impact != 624 || got.Breakdown[2].Impact != 0 {
		t.Fatalf("impacts got=%+v", got.Breakdown)
	}
	// base .55 + type .10 + levels .05
	if got.Confidence != 0.7 {
		t.Fatalf("confidence got=%v want=0.7", got.Confidence)
	}
}

func TestEstimate_TotalPriceWithArea(t *testing.T) {
	e := NewEngine(MustBuiltin())
	got := e.Estimate(t.Context(), Input{Region: "monthey", BuildingType: "Apartments", AreaSqm: ptr(100.0)})
	if got.TotalPrice == nil || *got.TotalPrice != 842400 {
		t.Fatalf("total got=%v want=842400", got.TotalPrice)
	}
	zero := e.Estimate(t.Context(), Input{Region: "monthey", AreaSqm: ptr(0.0)})
	if zero.TotalPrice != nil {
		t.Fatalf("zero area must not produce a total")
	}
}

func TestEstimate_AggregatedMedian(t *testing.T) {
	comps := &fakeComparables{prices: twelve}
	e := NewEngine(MustBuiltin(), WithComparables(comps))
	got := e.Estimate(t.Context(), Input{Region: "ch-monthey", BuildingType: "apartments", Levels: ptr(2)})
	if got.Method != MethodAggregated {
		t.Fatalf("method got=%s want=aggregated", got.Method)
	}
	if got.Breakdown[0].Impact != 7100 {
		t.Fatalf("base got=%v want=7100", got.Breakdown[0].Impact)
	}
	if got.PricePerArea != 7668 {
		t.Fatalf("price got=%v want=7668", got.PricePerArea)
	}
	if got.ComparableCount != 12 {
		t.Fatalf("comparable count got=%d", got.ComparableCount)
	}
	if got.Confidence != 0.9 {
		t.Fatalf("confidence got=%v want=0.9 (ceiling)", got.Confidence)
	}
}

func TestEstimate_ComparableBonusIsCapped(t *testing.T) {
	conf := func(n int) float64 {
		prices := make([]float64, n)
		for i := range prices {
			prices[i] = 5000
		}
		e := NewEngine(MustBuiltin(), WithComparables(&fakeComparables{prices: prices}))
		return e.Estimate(t.Context(), Input{Region: "berlin"}).Confidence
	}
	// base .50 + aggregated .20 + n*.02 capped at .15
	if got := conf(3); got != 0.76 {
		t.Fatalf("3 comps got=%v want=0.76", got)
	}
	if got := conf(12); got != 0.85 {
		t.Fatalf("12 comps got=%v want=0.85", got)
	}
	if got := conf(40); got != 0.85 {
		t.Fatalf("40 comps got=%v want=0.85", got)
	}
	if got := conf(2); got != 0.5 {
		t.Fatalf("2 comps should fall back, got=%v", got)
	}
}

func TestEstimate_ComparablesErrorFallsBack(t *testing.T) {
	e := NewEngine(MustBuiltin(), WithComparables(&fakeComparables{prices: twelve, err: errors.New("db down")}))
	got := e.Estimate(t.Context(), Input{Region: "ch-monthey", BuildingType: "apartments"})
	if got.Method != MethodFallback || got.PricePerArea != 8424 {
		t.Fatalf("got method=%s price=%v", got.Method, got.PricePerArea)
	}
}

func TestEstimate_UnknownTypeEqualsOmitted(t *testing.T) {
	e := NewEngine(MustBuiltin())
	for _, region := range []string{"ch-monthey", "berlin-mitte", "us-fl-tampa", "nowhere"} {
		a := e.Estimate(t.Context(), Input{SubjectID: "x", Region: region, BuildingType: "UNKNOWN_TYPE"})
		b := e.Estimate(t.Context(), Input{SubjectID: "x", Region: region})
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("%s: unknown type differs from omitted:\n%+v\n%+v", region, a, b)
		}
	}
	upper := e.Estimate(t.Context(), Input{Region: "ch-monthey", BuildingType: "APARTMENTS"})
	lower := e.Estimate(t.Context(), Input{Region: "ch-monthey", BuildingType: "apartments"})
	if upper.PricePerArea != lower.PricePerArea {
		t.Fatalf("type lookup must be case-insensitive: %v vs %v", upper.PricePerArea, lower.PricePerArea)
	}
}

func TestFloorMultiplier_MonotoneAndCapped(t *testing.T) {
	r := MustBuiltin().Resolve("ch-monthey")
	prev := 0.0
	for lv := 0; lv <= 60; lv++ {
		m := r.floorMultiplier(ptr(lv))
		if m < prev {
			t.Fatalf("floor multiplier decreased at %d: %v < %v", lv, m, prev)
		}
		if m > 1.12+1e-9 {
			t.Fatalf("floor multiplier above cap at %d: %v", lv, m)
		}
		prev = m
	}
	if a, b := r.floorMultiplier(ptr(10)), r.floorMultiplier(ptr(50)); a != b {
		t.Fatalf("10 floors=%v 50 floors=%v, want equal", a, b)
	}
	if m := r.floorMultiplier(ptr(2)); m != 1 {
		t.Fatalf("baseline floors got=%v want=1", m)
	}
	if m := MustBuiltin().Resolve("berlin").floorMultiplier(ptr(3)); m != 1 {
		t.Fatalf("berlin baseline is 3 floors, got=%v", m)
	}
}

func TestEstimate_ProximityClamp(t *testing.T) {
	e := NewEngine(MustBuiltin())
	// Sarasota: 60 miles * -0.02 = -1.2, clamped at 0.7
	got := e.Estimate(t.Context(), Input{Region: "sarasota", BuildingType: "condo",
		Signals: Signals{DistanceToWaterMiles: ptr(60.0)}})
	if got.PricePerArea != 245 {
		t.Fatalf("price got=%v want=245", got.PricePerArea)
	}
	last := got.Breakdown[len(got.Breakdown)-1]
	if last.Name != "proximity" || last.Multiplier != 0.7 {
		t.Fatalf("proximity factor got=%+v", last)
	}
}

func TestEstimate_FloridaMarketFactors(t *testing.T) {
	e := NewEngine(MustBuiltin())
	got := e.Estimate(t.Context(), Input{Region: "us-fl-sarasota", BuildingType: "Condo",
		Signals: Signals{Waterfront: "Bay", Zip: "34231"}})
	if got.PricePerArea != 525 {
		t.Fatalf("price got=%v want=525", got.PricePerArea)
	}
	names := []string{}
	for _, f := range got.Breakdown {
		names = append(names, f.Name)
	}
	if !reflect.DeepEqual(names, []string{"base", "building_type", "floors", "waterfront", "zip", "proximity"}) {
		t.Fatalf("breakdown names got=%v", names)
	}
	// base .50 + type .10 + zip .15 + waterfront .10
	if got.Confidence != 0.85 {
		t.Fatalf("confidence got=%v want=0.85", got.Confidence)
	}
}

func TestEstimate_ConfidenceAndPriceBounds(t *testing.T) {
	yes, no := ptr(true), ptr(false)
	e := NewEngine(MustBuiltin(), WithComparables(&fakeComparables{prices: twelve}))
	for _, r := range MustBuiltin().Regions() {
		for _, in := range []Input{
			{},
			{BuildingType: "office", AreaSqm: ptr(80.0), Levels: ptr(40)},
			{Signals: Signals{MountainView: yes, NearTrain: yes, NearWater: yes, NearPark: yes, Industrial: no,
				DistanceToWaterMiles: ptr(0.5), Waterfront: "gulf", Zip: "34236"}},
			{Signals: Signals{Industrial: yes}, Lng: 13.5, Lat: 52.6},
		} {
			in.Region = r.ID
			got := e.Estimate(t.Context(), in)
			if got.Confidence < 0 || got.Confidence > MaxConfidence {
				t.Fatalf("%s: confidence out of range: %v", r.ID, got.Confidence)
			}
			if got.PricePerArea < 0 {
				t.Fatalf("%s: negative price %v", r.ID, got.PricePerArea)
			}
		}
	}
}

func TestEstimate_UnknownRegionUsesDefault(t *testing.T) {
	got := NewEngine(MustBuiltin()).Estimate(t.Context(), Input{Region: "atlantis"})
	if got.Region != "ch-default" || got.PricePerArea != 7500 {
		t.Fatalf("got region=%s price=%v", got.Region, got.PricePerArea)
	}
}

func TestRefine_SanityGateRejectsOutliers(t *testing.T) {
	for _, ratio := range []float64{3, 0.2} {
		e := NewEngine(MustBuiltin(), WithPredictor(fakePredictor{ratio: ratio}),
			WithComparables(&fakeComparables{prices: twelve}))
		got := e.Estimate(t.Context(), Input{Region: "ch-monthey", BuildingType: "apartments"})
		if got.Method != MethodAggregated {
			t.Fatalf("ratio %v: method got=%s want=aggregated", ratio, got.Method)
		}
		if got.PricePerArea != 7668 {
			t.Fatalf("ratio %v: price got=%v want=7668", ratio, got.PricePerArea)
		}
	}
}

func TestRefine_AcceptsSaneML(t *testing.T) {
	e := NewEngine(MustBuiltin(), WithPredictor(fakePredictor{ratio: 1.1}))
	got := e.Estimate(t.Context(), Input{Region: "ch-monthey", BuildingType: "apartments", AreaSqm: ptr(50.0)})
	if got.Method != MethodML {
		t.Fatalf("method got=%s want=ml", got.Method)
	}
	if got.PricePerArea != 9266 {
		t.Fatalf("price got=%v want=9266", got.PricePerArea)
	}
	if last := got.Breakdown[len(got.Breakdown)-1]; last.Name != "ml" || last.Impact != 842 {
		t.Fatalf("ml factor got=%+v", last)
	}
	// .7 + area .05 + type .05
	if got.Confidence != 0.8 {
		t.Fatalf("confidence got=%v want=0.8", got.Confidence)
	}
}

func TestRefine_MLConfidenceTracksCompleteness(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want float64
	}{
		{"bare", Input{Region: "ch-monthey"}, 0.7},
		{"unknown type", Input{Region: "ch-monthey", BuildingType: "castle"}, 0.7},
		{"type", Input{Region: "ch-monthey", BuildingType: "office"}, 0.75},
		{"type area levels", Input{Region: "ch-monthey", BuildingType: "office", AreaSqm: ptr(80.0), Levels: ptr(3)}, 0.85},
	}
	for _, tc := range cases {
		e := NewEngine(MustBuiltin(), WithPredictor(fakePredictor{ratio: 1.1}))
		got := e.Estimate(t.Context(), tc.in)
		if got.Method != MethodML {
			t.Fatalf("%s: method got=%s want=ml", tc.name, got.Method)
		}
		if got.Confidence != tc.want {
			t.Fatalf("%s: confidence got=%v want=%v", tc.name, got.Confidence, tc.want)
		}
	}

	full := Input{Region: "ch-monthey", BuildingType: "office", AreaSqm: ptr(80.0), Levels: ptr(3)}
	e := NewEngine(MustBuiltin(), WithPredictor(fakePredictor{ratio: 1.1}),
		WithComparables(&fakeComparables{prices: twelve}))
	if got := e.Estimate(t.Context(), full); got.Confidence != 0.95 {
		t.Fatalf("complete input with comparables confidence got=%v want=0.95", got.Confidence)
	}
}

func TestRefine_PredictorErrorKeepsStageA(t *testing.T) {
	e := NewEngine(MustBuiltin(), WithPredictor(fakePredictor{err: errors.New("no model")}))
	got := e.Estimate(t.Context(), Input{Region: "ch-monthey", BuildingType: "apartments"})
	if got.Method != MethodFallback || got.PricePerArea != 8424 {
		t.Fatalf("got method=%s price=%v", got.Method, got.PricePerArea)
	}
}

func TestNormalizeType(t *testing.T) {
	cases := []struct{ in, mode, want string }{
		{"Apartments", normLetters, "apartments"},
		{" multi-family 2 ", normLetters, "multifamily"},
		{"Single Family", normSnake, "single_family"},
		{"multi-family", normSnake, "multi_family"},
		{"", normLetters, ""},
	}
	for _, tc := range cases {
		if got := NormalizeType(tc.in, tc.mode); got != tc.want {
			t.Fatalf("NormalizeType(%q,%s) got=%q want=%q", tc.in, tc.mode, got, tc.want)
		}
	}
}

func TestMedian(t *testing.T) {
	if m, ok := Median([]float64{3, 1, 2}); !ok || m != 2 {
		t.Fatalf("odd median got=%v", m)
	}
	if m, ok := Median(twelve); !ok || m != 7100 {
		t.Fatalf("even median got=%v want=7100", m)
	}
	if _, ok := Median(nil); ok {
		t.Fatalf("empty median must report false")
	}
}
