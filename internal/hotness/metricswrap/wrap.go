// Package metricswrap reports hotness tracker size and threshold crossings.
package metricswrap

import (
	"fmt"
	"log/slog"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/observability"
	"github.com/mohammed-shakir/price-cluster-map/internal/hotness"
)

type Sizer interface{ Size() int }

type WithMetrics struct {
	inner     hotness.Interface
	threshold float64
	log       *slog.Logger
}

var _ hotness.Interface = (*WithMetrics)(nil)

// New wraps inner. A cell crossing threshold on Inc is logged once per crossing.
func New(inner hotness.Interface, threshold float64, log *slog.Logger) *WithMetrics {
	if log == nil {
		log = slog.Default()
	}
	return &WithMetrics{inner: inner, threshold: threshold, log: log}
}

func (w *WithMetrics) Inc(cell string) {
	before := w.inner.Score(cell)
	w.inner.Inc(cell)
	if w.threshold > 0 && before < w.threshold {
		if after := w.inner.Score(cell); after >= w.threshold {
			w.log.Info("viewport cell turned hot",
				"cell_hash", fmt.Sprintf("%08x", uint32(xxhash.Sum64String(cell))),
				"score", after)
		}
	}
	w.report()
}

func (w *WithMetrics) Score(cell string) float64 { return w.inner.Score(cell) }

func (w *WithMetrics) Reset(cells ...string) {
	w.inner.Reset(cells...)
	w.report()
}

func (w *WithMetrics) report() {
	if s, ok := w.inner.(Sizer); ok {
		observability.SetHotCells(s.Size())
	}
}
