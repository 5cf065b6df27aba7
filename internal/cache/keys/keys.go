package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
)

const prefix = "pricemap"

// Viewport keys a clustered response by region, zoom and bbox.
func Viewport(region string, zoom int, bb model.BBox) string {
	return fmt.Sprintf("%s:vp:%s:z%d:b=%016x", prefix, sanitize(region), zoom, bboxSum(bb))
}

// LocatedRegion stands in for the region of estimates priced by the
// house's own location.
const LocatedRegion = "located"

// Estimate keys a single-house estimate priced with region's tables.
func Estimate(region, houseID string) string {
	return fmt.Sprintf("%s:est:%s:%s", prefix, sanitize(region), sanitize(houseID))
}

// Estimates lists the estimate keys of a house across regions, including
// the located form.
func Estimates(regions []string, houseID string) []string {
	out := make([]string, 0, len(regions)+1)
	out = append(out, Estimate(LocatedRegion, houseID))
	for _, r := range regions {
		out = append(out, Estimate(r, houseID))
	}
	return out
}

// Bulk keys a bulk price listing for a bbox.
func Bulk(region string, bb model.BBox) string {
	return fmt.Sprintf("%s:bulk:%s:b=%016x", prefix, sanitize(region), bboxSum(bb))
}

// CellIndex keys the list of viewport keys touching an H3 cell.
func CellIndex(res int, cell string) string {
	return fmt.Sprintf("%s:cellidx:%d:%s", prefix, res, sanitize(cell))
}

func bboxSum(bb model.BBox) uint64 {
	return xxhash.Sum64String(bb.String())
}

// sanitize lowercases and keeps [a-z0-9:_-], collapsing runs of replacements.
func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}
