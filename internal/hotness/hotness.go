// Package hotness tracks how often viewport cells are requested and maps
// that demand onto cache lifetimes.
package hotness

import "time"

type Interface interface {
	Inc(cell string)
	Score(cell string) float64
	Reset(cells ...string)
}

const (
	TierCold = "cold"
	TierWarm = "warm"
	TierHot  = "hot"
)

// Tiers picks a cache TTL from a hotness score. Scores at or above
// Threshold are hot, scores at or above a quarter of it are warm.
type Tiers struct {
	Threshold float64
	Cold      time.Duration
	Warm      time.Duration
	Hot       time.Duration
}

func (t Tiers) TTL(score float64) (time.Duration, string) {
	switch {
	case t.Threshold > 0 && score >= t.Threshold:
		return t.Hot, TierHot
	case t.Threshold > 0 && score >= t.Threshold/4:
		return t.Warm, TierWarm
	default:
		return t.Cold, TierCold
	}
}

// MaxScore is the highest score among cells.
func MaxScore(h Interface, cells []string) float64 {
	best := 0.0
	for _, c := range cells {
		best = max(best, h.Score(c))
	}
	return best
}
