// Package pricing estimates a price per unit area from building attributes
// using a per-region multiplier chain, optionally refined by a tree ensemble.
package pricing

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"unicode"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/shopspring/decimal"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/observability"
)

type Method string

const (
	MethodAggregated Method = "aggregated"
	MethodML         Method = "ml"
	MethodFallback   Method = "fallback"
)

const (
	normLetters = "letters"
	normSnake   = "snake"

	typeResidential = "residential"
	typeDefault     = "default"
)

// Signals are optional proximity and market inputs. Nil means "not provided".
type Signals struct {
	MountainView         *bool    `json:"mountain_view,omitempty"`
	NearTrain            *bool    `json:"near_train,omitempty"`
	NearWater            *bool    `json:"near_water,omitempty"`
	NearPark             *bool    `json:"near_park,omitempty"`
	Industrial           *bool    `json:"industrial,omitempty"`
	DistanceToWaterMiles *float64 `json:"distance_to_water_miles,omitempty"`
	Waterfront           string   `json:"waterfront,omitempty"`
	Zip                  string   `json:"zip,omitempty"`
}

type Input struct {
	SubjectID    string   `json:"subject_id"`
	AreaSqm      *float64 `json:"area_sqm,omitempty"`
	BuildingType string   `json:"building_type,omitempty"`
	Levels       *int     `json:"levels,omitempty"`
	Lng          float64  `json:"lng"`
	Lat          float64  `json:"lat"`
	Region       string   `json:"region,omitempty"`
	Signals      Signals  `json:"signals"`
}

// Factor is one step of the multiplier chain. Impact is the price delta the
// step contributed, in region currency.
type Factor struct {
	Name       string  `json:"name"`
	Multiplier float64 `json:"multiplier"`
	Impact     float64 `json:"impact"`
}

type PriceEstimate struct {
	SubjectID       string   `json:"subject_id,omitempty"`
	PricePerArea    float64  `json:"price_per_area"`
	TotalPrice      *float64 `json:"total_price"`
	Confidence      float64  `json:"confidence"`
	Method          Method   `json:"method"`
	Breakdown       []Factor `json:"breakdown"`
	Region          string   `json:"region"`
	Currency        string   `json:"currency"`
	AreaUnit        string   `json:"area_unit"`
	ComparableCount int      `json:"comparable_count"`
}

// Comparables returns price-per-area values of active listings near a point.
type Comparables interface {
	PricesNear(ctx context.Context, lng, lat, radiusM float64) ([]float64, error)
}

// Predictor evaluates a feature vector built by Features.
type Predictor interface {
	Predict(ctx context.Context, features []float64) (float64, error)
}

type Option func(*Engine)

func WithComparables(c Comparables) Option {
	return func(e *Engine) { e.comps = c }
}

func WithPredictor(p Predictor) Option {
	return func(e *Engine) { e.pred = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithSearchRadius(m float64) Option {
	return func(e *Engine) {
		if m > 0 {
			e.radiusM = m
		}
	}
}

func WithMinComparables(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minComps = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

const (
	DefaultSearchRadiusM  = 500
	DefaultMinComparables = 3
	DefaultWorkers        = 10

	mlRatioMin = 0.5
	mlRatioMax = 2.0
)

// Engine is safe for concurrent use; it holds only read-only tables and collaborators.
type Engine struct {
	regions  *Registry
	comps    Comparables
	pred     Predictor
	log      *slog.Logger
	radiusM  float64
	minComps int
	workers  int
}

func NewEngine(regions *Registry, opts ...Option) *Engine {
	e := &Engine{
		regions:  regions,
		log:      slog.Default(),
		radiusM:  DefaultSearchRadiusM,
		minComps: DefaultMinComparables,
		workers:  DefaultWorkers,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Regions() *Registry { return e.regions }

// Estimate never fails: upstream problems degrade to the region base price.
func (e *Engine) Estimate(ctx context.Context, in Input) PriceEstimate {
	r := e.regions.Resolve(in.Region)
	est := e.aggregate(r, in, e.comparables(ctx, in))
	if e.pred != nil {
		est = e.refine(ctx, r, in, est)
	}
	observability.IncPriceEstimate(string(est.Method), r.ID)
	return est
}

func (e *Engine) aggregate(r *Region, in Input, prices []float64) PriceEstimate {
	est := PriceEstimate{
		SubjectID: in.SubjectID,
		Method:    MethodFallback,
		Region:    r.ID,
		Currency:  r.Currency,
		AreaUnit:  r.AreaUnit,
	}

	base := r.BasePrice
	if len(prices) >= e.minComps {
		if m, ok := Median(prices); ok {
			base = m
			est.Method = MethodAggregated
			est.ComparableCount = len(prices)
		}
	}

	chain := newChain(base)
	typeMult, typeKnown := r.typeMultiplier(in.BuildingType)
	chain.apply("building_type", typeMult)
	chain.apply("floors", r.floorMultiplier(in.Levels))
	if m, ok := lookupMarket(r.Waterfront, in.Signals.Waterfront); ok {
		chain.apply("waterfront", m)
	}
	if m, ok := lookupMarket(r.Zip, in.Signals.Zip); ok {
		chain.apply("zip", m)
	}
	chain.apply("proximity", r.proximityMultiplier(in))

	est.PricePerArea = roundTo(chain.price, r.Rounding)
	est.TotalPrice = total(est.PricePerArea, in.AreaSqm)
	est.Breakdown = chain.factors
	est.Confidence = r.confidence(in, est.Method, est.ComparableCount, typeKnown)
	return est
}

func (e *Engine) comparables(ctx context.Context, in Input) []float64 {
	if e.comps == nil {
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	prices, err := e.comps.PricesNear(ctx, in.Lng, in.Lat, e.radiusM)
	if err != nil {
		e.log.Warn("comparables lookup failed, using region base",
			"subject", in.SubjectID, "err", err)
		return nil
	}
	return prices
}

func (e *Engine) refine(ctx context.Context, r *Region, in Input, a PriceEstimate) PriceEstimate {
	if a.PricePerArea <= 0 || ctx.Err() != nil {
		return a
	}
	pred, err := e.pred.Predict(ctx, Features(r, in, a))
	if err != nil {
		e.log.Debug("ml prediction unavailable", "subject", in.SubjectID, "err", err)
		return a
	}
	ratio := pred / a.PricePerArea
	if math.IsNaN(ratio) || ratio < mlRatioMin || ratio > mlRatioMax {
		e.log.Debug("ml prediction rejected by sanity gate",
			"subject", in.SubjectID, "ml", pred, "stage_a", a.PricePerArea)
		return a
	}

	ml := a
	ml.Method = MethodML
	ml.PricePerArea = roundTo(pred, r.Rounding)
	ml.TotalPrice = total(ml.PricePerArea, in.AreaSqm)
	ml.Breakdown = append(append([]Factor(nil), a.Breakdown...), Factor{
		Name:       "ml",
		Multiplier: round2(ratio),
		Impact:     roundTo(ml.PricePerArea-a.PricePerArea, 1),
	})

	conf := 0.7
	if a.ComparableCount >= 5 {
		conf += 0.1
	}
	if in.AreaSqm != nil && *in.AreaSqm > 0 {
		conf += 0.05
	}
	if _, known := r.typeMultiplier(in.BuildingType); known {
		conf += 0.05
	}
	if in.Levels != nil && *in.Levels > 0 {
		conf += 0.05
	}
	ml.Confidence = round2(math.Min(conf, MaxConfidence))
	return ml
}

type chain struct {
	price   float64
	factors []Factor
}

func newChain(base float64) *chain {
	return &chain{
		price:   base,
		factors: []Factor{{Name: "base", Multiplier: 1, Impact: roundTo(base, 1)}},
	}
}

func (c *chain) apply(name string, m float64) {
	prev := c.price
	c.price *= m
	c.factors = append(c.factors, Factor{Name: name, Multiplier: m, Impact: roundTo(c.price-prev, 1)})
}

// NormalizeType folds a building type string per the region convention.
func NormalizeType(s, mode string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if mode == normSnake {
		return strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || r == '_' {
				return r
			}
			return '_'
		}, s)
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return -1
	}, s)
}

// typeMultiplier reports whether the type matched its own entry; fallbacks
// report false so an unknown type and an omitted one behave the same.
func (r *Region) typeMultiplier(buildingType string) (float64, bool) {
	if k := NormalizeType(buildingType, r.TypeNormalization); k != "" {
		if m, ok := r.TypeMultipliers[k]; ok {
			return m, true
		}
	}
	if m, ok := r.TypeMultipliers[typeResidential]; ok {
		return m, false
	}
	if m, ok := r.TypeMultipliers[typeDefault]; ok {
		return m, false
	}
	return 1.0, false
}

func (r *Region) floorMultiplier(levels *int) float64 {
	if levels == nil || *levels <= r.Floors.Baseline {
		return 1.0
	}
	bonus := float64(*levels-r.Floors.Baseline) * r.Floors.PerFloor
	return 1 + math.Min(bonus, r.Floors.MaxBonus)
}

func lookupMarket(table map[string]float64, key string) (float64, bool) {
	if len(table) == 0 || strings.TrimSpace(key) == "" {
		return 0, false
	}
	if m, ok := table[NormalizeType(key, normSnake)]; ok {
		return m, true
	}
	if m, ok := table[strings.TrimSpace(key)]; ok {
		return m, true
	}
	return 0, false
}

func (r *Region) proximityMultiplier(in Input) float64 {
	p := r.Proximity
	s := in.Signals
	sum := 1.0
	if isTrue(s.MountainView) {
		sum += p.MountainView
	}
	if isTrue(s.NearTrain) {
		sum += p.Train
	}
	if isTrue(s.NearWater) {
		sum += p.Water
	}
	if isTrue(s.NearPark) {
		sum += p.Park
	}
	if isTrue(s.Industrial) {
		sum += p.Industrial
	}
	if p.PerKmFromCenter != 0 {
		if km, ok := r.kmFromCenter(in.Lng, in.Lat); ok {
			sum += km * p.PerKmFromCenter
		}
	}
	if p.PerMileFromWater != 0 && s.DistanceToWaterMiles != nil && *s.DistanceToWaterMiles >= 0 {
		sum += *s.DistanceToWaterMiles * p.PerMileFromWater
	}
	return math.Max(p.ClampMin, math.Min(p.ClampMax, sum))
}

func (r *Region) kmFromCenter(lng, lat float64) (float64, bool) {
	if r.Center == nil || (lng == 0 && lat == 0) {
		return 0, false
	}
	return geo.Distance(orb.Point{lng, lat}, orb.Point(*r.Center)) / 1000, true
}

func (r *Region) confidence(in Input, method Method, comps int, typeKnown bool) float64 {
	c := r.Confidence
	conf := c.Base
	if method == MethodAggregated {
		conf += c.Aggregated + math.Min(float64(comps)*c.PerComparable, c.ComparableCap)
	}
	if typeKnown {
		conf += c.TypeKnown
	}
	if in.AreaSqm != nil && *in.AreaSqm > 0 {
		conf += c.AreaKnown
	}
	if in.Levels != nil && *in.Levels > 0 {
		conf += c.LevelsKnown
	}
	for _, name := range providedSignals(in.Signals) {
		conf += c.Signals[name]
	}
	conf = math.Max(0, math.Min(conf, c.Ceiling))
	return round2(conf)
}

func providedSignals(s Signals) []string {
	var out []string
	if s.MountainView != nil {
		out = append(out, "mountain_view")
	}
	if s.NearTrain != nil {
		out = append(out, "train")
	}
	if s.NearWater != nil {
		out = append(out, "water")
	}
	if s.NearPark != nil {
		out = append(out, "park")
	}
	if s.Industrial != nil {
		out = append(out, "industrial")
	}
	if s.DistanceToWaterMiles != nil {
		out = append(out, "distance")
	}
	if w := strings.TrimSpace(s.Waterfront); w != "" && !strings.EqualFold(w, "none") {
		out = append(out, "waterfront")
	}
	if strings.TrimSpace(s.Zip) != "" {
		out = append(out, "zip")
	}
	return out
}

func isTrue(b *bool) bool { return b != nil && *b }

// roundTo rounds half away from zero to the nearest multiple of step.
func roundTo(v, step float64) float64 {
	if step <= 0 {
		step = 1
	}
	s := decimal.NewFromFloat(step)
	f, _ := decimal.NewFromFloat(v).Div(s).Round(0).Mul(s).Float64()
	return f
}

func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

func total(pricePerArea float64, area *float64) *float64 {
	if area == nil || *area <= 0 {
		return nil
	}
	t := roundTo(pricePerArea**area, 1)
	return &t
}
