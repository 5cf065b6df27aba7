package segment

import "github.com/mohammed-shakir/price-cluster-map/internal/core/model"

type MarkerStyle struct {
	Size       int    `json:"size"`
	Color      string `json:"color"`
	ColorLight string `json:"color_light"`
}

// Marker sizes a cluster marker by member count and colors it by the dominant segment.
func (t *Table) Marker(count int, dominant model.Segment) MarkerStyle {
	size := 68
	switch {
	case count < 5:
		size = 36
	case count < 20:
		size = 44
	case count < 50:
		size = 52
	case count < 100:
		size = 60
	}
	b, ok := t.Band(dominant)
	if !ok {
		b, _ = t.Band(model.SegmentMid)
	}
	return MarkerStyle{Size: size, Color: b.Color, ColorLight: b.ColorLight}
}
