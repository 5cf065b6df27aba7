// Package mapper converts between coordinates and H3 cells.
package mapper

import (
	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
)

type Interface interface {
	CellsForViewport(bb model.BBox, res int) (model.Cells, error)
	CellForPoint(lng, lat float64, res int) (string, error)
}
