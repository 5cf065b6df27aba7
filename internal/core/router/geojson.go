package router

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
)

type wireMeta struct {
	TotalFeatures int        `json:"total_features"`
	TotalClusters int        `json:"total_clusters"`
	TotalPoints   int        `json:"total_points"`
	Zoom          int        `json:"zoom"`
	BBox          [4]float64 `json:"bbox"`
}

// featureCollection is the only place the tagged feature union becomes a
// property bag.
func featureCollection(features []model.Feature, meta *model.Meta) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Features = make([]*geojson.Feature, 0, len(features))
	for _, f := range features {
		fc.Append(toGeoJSON(f))
	}
	if meta != nil {
		fc.ExtraMembers = geojson.Properties{"meta": wireMeta{
			TotalFeatures: meta.TotalFeatures,
			TotalClusters: meta.TotalClusters,
			TotalPoints:   meta.TotalPoints,
			Zoom:          meta.Zoom,
			BBox:          meta.BBox.Slice(),
		}}
	}
	return fc
}

func toGeoJSON(f model.Feature) *geojson.Feature {
	lng, lat := f.Position()
	gf := geojson.NewFeature(orb.Point{lng, lat})
	switch v := f.(type) {
	case model.ClusterFeature:
		gf.Properties = geojson.Properties{
			"cluster":                 true,
			"cluster_id":              v.ClusterID,
			"point_count":             v.PointCount,
			"point_count_abbreviated": v.PointCountAbbreviated,
		}
	case model.PointFeature:
		gf.Properties = pointProperties(v)
	}
	return gf
}

func pointProperties(p model.PointFeature) geojson.Properties {
	return geojson.Properties{
		"cluster":       false,
		"houseId":       p.HouseID,
		"listing_id":    p.HouseID,
		"price_sqm":     p.PricePerArea,
		"segment":       p.Segment,
		"property_type": p.PropertyType,
	}
}

func pointCollection(points []model.PointFeature) *geojson.FeatureCollection {
	features := make([]model.Feature, len(points))
	for i, p := range points {
		features[i] = p
	}
	return featureCollection(features, nil)
}
