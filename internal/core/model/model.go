// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"
)

// BBox is a WGS84 bounding box: X is longitude, Y is latitude.
type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
}

// String renders the box as minLng,minLat,maxLng,maxLat
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.X1, b.Y1, b.X2, b.Y2)
}

func (b BBox) Validate() error {
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("bbox coordinates must be finite")
		}
	}
	if !(b.X1 >= -180 && b.X1 <= 180 && b.X2 >= -180 && b.X2 <= 180) {
		return errors.New("longitude must be in [-180,180]")
	}
	if !(b.Y1 >= -90 && b.Y1 <= 90 && b.Y2 >= -90 && b.Y2 <= 90) {
		return errors.New("latitude must be in [-90,90]")
	}
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return errors.New("coordinates must satisfy maxLng>minLng and maxLat>minLat")
	}
	return nil
}

func (b BBox) Contains(lng, lat float64) bool {
	return lng >= b.X1 && lng <= b.X2 && lat >= b.Y1 && lat <= b.Y2
}

// Slice returns [minLng, minLat, maxLng, maxLat].
func (b BBox) Slice() [4]float64 {
	return [4]float64{b.X1, b.Y1, b.X2, b.Y2}
}

type Cells []string

type Segment string

const (
	SegmentLow     Segment = "low"
	SegmentMid     Segment = "mid"
	SegmentUpper   Segment = "upper"
	SegmentPremium Segment = "premium"
)

const DefaultPropertyType = "residential"

// ClusterPoint is a single pricable building. Its segment is never stored here;
// it is derived from PricePerArea whenever a point feature is produced.
type ClusterPoint struct {
	ID           string
	Lng, Lat     float64
	PricePerArea float64
	PropertyType string

	AreaSqm      *float64
	BuildingType string
	Levels       *int
}

// Feature is either a ClusterFeature or a PointFeature.
type Feature interface {
	Position() (lng, lat float64)
	isFeature()
}

type ClusterFeature struct {
	ClusterID             int
	Lng, Lat              float64
	PointCount            int
	PointCountAbbreviated string
}

func (c ClusterFeature) Position() (float64, float64) { return c.Lng, c.Lat }
func (ClusterFeature) isFeature()                     {}

type PointFeature struct {
	HouseID      string
	Lng, Lat     float64
	PricePerArea float64
	Segment      Segment
	PropertyType string
}

func (p PointFeature) Position() (float64, float64) { return p.Lng, p.Lat }
func (PointFeature) isFeature()                     {}

type Meta struct {
	TotalFeatures int
	TotalClusters int
	TotalPoints   int
	Zoom          int
	BBox          BBox
}
