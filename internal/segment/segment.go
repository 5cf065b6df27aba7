// Package segment maps price-per-area values onto ordered price bands.
package segment

import (
	"errors"
	"fmt"
	"math"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
)

type Band struct {
	Segment    model.Segment `json:"id" yaml:"id"`
	Min        float64       `json:"min" yaml:"min"`
	Max        float64       `json:"max" yaml:"max"` // +Inf for the top band
	Label      string        `json:"label" yaml:"label"`
	LabelShort string        `json:"label_short" yaml:"label_short"`
	Color      string        `json:"color" yaml:"color"`
	ColorLight string        `json:"color_light" yaml:"color_light"`
}

// Table is an immutable, ordered set of bands covering [0, +Inf).
type Table struct {
	bands []Band
}

var defaultBands = []Band{
	{Segment: model.SegmentLow, Min: 0, Max: 6000, Label: "Below market", LabelShort: "Budget", Color: "#22c55e", ColorLight: "#86efac"},
	{Segment: model.SegmentMid, Min: 6000, Max: 8000, Label: "Market average", LabelShort: "Average", Color: "#3b82f6", ColorLight: "#93c5fd"},
	{Segment: model.SegmentUpper, Min: 8000, Max: 10000, Label: "Above market", LabelShort: "Above Avg", Color: "#f97316", ColorLight: "#fdba74"},
	{Segment: model.SegmentPremium, Min: 10000, Max: math.Inf(1), Label: "Premium", LabelShort: "Premium", Color: "#ef4444", ColorLight: "#fca5a5"},
}

var defaultTable = mustTable(defaultBands...)

// Default returns the canonical low/mid/upper/premium table.
func Default() *Table { return defaultTable }

func NewTable(bands ...Band) (*Table, error) {
	if len(bands) == 0 {
		return nil, errors.New("segment table needs at least one band")
	}
	if bands[0].Min != 0 {
		return nil, fmt.Errorf("first band %q must start at 0 (got %v)", bands[0].Segment, bands[0].Min)
	}
	seen := make(map[model.Segment]struct{}, len(bands))
	for i, b := range bands {
		if b.Segment == "" {
			return nil, fmt.Errorf("band %d has no id", i)
		}
		if _, dup := seen[b.Segment]; dup {
			return nil, fmt.Errorf("duplicate band %q", b.Segment)
		}
		seen[b.Segment] = struct{}{}
		if !(b.Max > b.Min) {
			return nil, fmt.Errorf("band %q: max %v must exceed min %v", b.Segment, b.Max, b.Min)
		}
		if i > 0 && bands[i-1].Max != b.Min {
			return nil, fmt.Errorf("band %q must start where %q ends (%v != %v)",
				b.Segment, bands[i-1].Segment, b.Min, bands[i-1].Max)
		}
	}
	if last := bands[len(bands)-1]; !math.IsInf(last.Max, 1) {
		return nil, fmt.Errorf("last band %q must be unbounded", last.Segment)
	}
	cp := make([]Band, len(bands))
	copy(cp, bands)
	return &Table{bands: cp}, nil
}

func mustTable(bands ...Band) *Table {
	t, err := NewTable(bands...)
	if err != nil {
		panic(err)
	}
	return t
}

// Classify returns the first band whose upper bound exceeds price.
// Callers pass non-negative prices; negatives land in the first band.
func (t *Table) Classify(price float64) model.Segment {
	for _, b := range t.bands {
		if price < b.Max {
			return b.Segment
		}
	}
	return t.bands[len(t.bands)-1].Segment
}

func (t *Table) Band(s model.Segment) (Band, bool) {
	for _, b := range t.bands {
		if b.Segment == s {
			return b, true
		}
	}
	return Band{}, false
}

func (t *Table) Bands() []Band {
	out := make([]Band, len(t.bands))
	copy(out, t.bands)
	return out
}

// Color returns the display color for a price, used by the bulk overlay.
func (t *Table) Color(price float64) string {
	b, _ := t.Band(t.Classify(price))
	return b.Color
}
