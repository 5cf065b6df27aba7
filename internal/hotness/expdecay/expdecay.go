// Package expdecay scores viewport cells with exponentially decaying request counts.
package expdecay

import (
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/price-cluster-map/internal/hotness"
)

const numShards = 64

// Tracker is safe for concurrent use. Cells are spread over shards by hash.
type Tracker struct {
	halfLife float64 // seconds
	now      func() time.Time
	shards   [numShards]shard
}

type shard struct {
	mu    sync.Mutex
	cells map[string]sample
}

type sample struct {
	score float64
	at    time.Time
}

var _ hotness.Interface = (*Tracker)(nil)

func New(halfLife time.Duration) *Tracker {
	if halfLife <= 0 {
		halfLife = time.Minute
	}
	t := &Tracker{halfLife: halfLife.Seconds(), now: time.Now}
	for i := range t.shards {
		t.shards[i].cells = make(map[string]sample)
	}
	return t
}

func (t *Tracker) Inc(cell string) {
	if cell == "" {
		return
	}
	s := t.shard(cell)
	now := t.now()

	s.mu.Lock()
	cur := s.cells[cell]
	s.cells[cell] = sample{score: t.decayed(cur, now) + 1, at: now}
	s.mu.Unlock()
}

func (t *Tracker) Score(cell string) float64 {
	if cell == "" {
		return 0
	}
	s := t.shard(cell)

	s.mu.Lock()
	cur, ok := s.cells[cell]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return t.decayed(cur, t.now())
}

func (t *Tracker) Reset(cells ...string) {
	for _, cell := range cells {
		s := t.shard(cell)
		s.mu.Lock()
		delete(s.cells, cell)
		s.mu.Unlock()
	}
}

// Prune forgets cells whose decayed score fell below floor and reports how
// many were dropped.
func (t *Tracker) Prune(floor float64) int {
	now := t.now()
	dropped := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for cell, cur := range s.cells {
			if t.decayed(cur, now) < floor {
				delete(s.cells, cell)
				dropped++
			}
		}
		s.mu.Unlock()
	}
	return dropped
}

func (t *Tracker) Size() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.Lock()
		total += len(t.shards[i].cells)
		t.shards[i].mu.Unlock()
	}
	return total
}

func (t *Tracker) decayed(s sample, now time.Time) float64 {
	return decay(s.score, now.Sub(s.at).Seconds(), t.halfLife)
}

// decay returns score·e^(-ln2·dt/halfLife).
func decay(score, dt, halfLife float64) float64 {
	if score == 0 || dt <= 0 || halfLife <= 0 {
		return score
	}
	return score * math.Exp(-math.Ln2*dt/halfLife)
}

func (t *Tracker) shard(cell string) *shard {
	return &t.shards[xxhash.Sum64String(cell)%numShards]
}
