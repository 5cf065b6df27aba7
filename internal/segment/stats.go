package segment

import (
	"math"

	"github.com/samber/lo"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
)

type Stats struct {
	Segment    model.Segment `json:"segment"`
	Count      int           `json:"count"`
	Percentage int           `json:"percentage"`
	AvgPrice   float64       `json:"avg_price"`
	MinPrice   float64       `json:"min_price"`
	MaxPrice   float64       `json:"max_price"`
	Color      string        `json:"color"`
	Label      string        `json:"label"`
}

type Summary struct {
	Total    int           `json:"total"`
	Segments []Stats       `json:"segments"`
	Dominant model.Segment `json:"dominant_segment"`
}

// Summarize buckets prices per band. The dominant segment is the band with the
// highest count; ties keep the earlier band and an empty input reports mid.
func (t *Table) Summarize(prices []float64) Summary {
	groups := lo.GroupBy(prices, t.Classify)

	out := Summary{Total: len(prices), Dominant: model.SegmentMid, Segments: make([]Stats, 0, len(t.bands))}
	best := 0
	for _, b := range t.bands {
		ps := groups[b.Segment]
		st := Stats{Segment: b.Segment, Count: len(ps), Color: b.Color, Label: b.Label}
		if len(ps) > 0 {
			st.AvgPrice = math.Round(lo.Sum(ps) / float64(len(ps)))
			st.MinPrice = lo.Min(ps)
			st.MaxPrice = lo.Max(ps)
			st.Percentage = int(math.Round(float64(len(ps)) / float64(len(prices)) * 100))
		}
		if st.Count > best {
			best = st.Count
			out.Dominant = b.Segment
		}
		out.Segments = append(out.Segments, st)
	}
	return out
}
