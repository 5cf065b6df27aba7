package pricing

// Feature vector layout consumed by Predictor implementations.
const (
	FeatArea = iota
	FeatLevels
	FeatTypeApartment
	FeatTypeHouse
	FeatTypeCommercial
	FeatTypeOffice
	FeatTypeIndustrial
	FeatLat
	FeatLng
	FeatDistCenterKm
	FeatStageAPrice
	FeatComparableCount
	FeatDistWaterMiles
	FeatNearWater
	FeatNearPark

	NumFeatures
)

var typeSlot = map[string]int{
	"apartment":    FeatTypeApartment,
	"apartments":   FeatTypeApartment,
	"flat":         FeatTypeApartment,
	"condo":        FeatTypeApartment,
	"house":        FeatTypeHouse,
	"detached":     FeatTypeHouse,
	"singlefamily": FeatTypeHouse,
	"townhouse":    FeatTypeHouse,
	"commercial":   FeatTypeCommercial,
	"retail":       FeatTypeCommercial,
	"office":       FeatTypeOffice,
	"industrial":   FeatTypeIndustrial,
}

// Features builds the fixed-order vector from the input and the stage A result.
// Missing values are encoded as 0; a missing water distance is -1.
func Features(r *Region, in Input, a PriceEstimate) []float64 {
	x := make([]float64, NumFeatures)
	if in.AreaSqm != nil && *in.AreaSqm > 0 {
		x[FeatArea] = *in.AreaSqm
	}
	if in.Levels != nil && *in.Levels > 0 {
		x[FeatLevels] = float64(*in.Levels)
	}
	if slot, ok := typeSlot[NormalizeType(in.BuildingType, normLetters)]; ok {
		x[slot] = 1
	}
	x[FeatLat] = in.Lat
	x[FeatLng] = in.Lng
	if km, ok := r.kmFromCenter(in.Lng, in.Lat); ok {
		x[FeatDistCenterKm] = km
	}
	x[FeatStageAPrice] = a.PricePerArea
	x[FeatComparableCount] = float64(a.ComparableCount)
	x[FeatDistWaterMiles] = -1
	if d := in.Signals.DistanceToWaterMiles; d != nil && *d >= 0 {
		x[FeatDistWaterMiles] = *d
	}
	if isTrue(in.Signals.NearWater) {
		x[FeatNearWater] = 1
	}
	if isTrue(in.Signals.NearPark) {
		x[FeatNearPark] = 1
	}
	return x
}
