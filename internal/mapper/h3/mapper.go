// Package h3mapper implements mapper.Interface on uber/h3-go.
package h3mapper

import (
	"errors"
	"fmt"
	"slices"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
)

// Viewports covering more cells than this are refused.
const MaxCells = 4096

var ErrTooManyCells = errors.New("h3mapper: viewport covers too many cells")

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// CellsForBBox returns the sorted, unique cells whose centers fall in bb.
func (m *Mapper) CellsForBBox(bb model.BBox, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	poly := h3.GeoPolygon{GeoLoop: h3.GeoLoop{
		{Lat: bb.Y1, Lng: bb.X1},
		{Lat: bb.Y1, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X1},
	}}
	cells, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	if len(cells) > MaxCells {
		return nil, fmt.Errorf("%w: %d at res %d", ErrTooManyCells, len(cells), res)
	}
	out := make(model.Cells, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.String())
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// CellForPoint returns the cell containing (lng, lat) at res.
func (m *Mapper) CellForPoint(lng, lat float64, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// CellsNearPoint returns the cell containing (lng, lat) and its first ring.
func (m *Mapper) CellsNearPoint(lng, lat float64, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 cell: %w", err)
	}
	disk, err := h3.GridDisk(c, 1)
	if err != nil {
		return nil, fmt.Errorf("h3 grid disk: %w", err)
	}
	out := make(model.Cells, 0, len(disk))
	for _, d := range disk {
		out = append(out, d.String())
	}
	slices.Sort(out)
	return out, nil
}

// CellsForViewport covers bb with cells. Viewports too small to contain a
// cell center fall back to the cells of their corners.
func (m *Mapper) CellsForViewport(bb model.BBox, res int) (model.Cells, error) {
	cells, err := m.CellsForBBox(bb, res)
	if err != nil {
		return nil, err
	}
	if len(cells) > 0 {
		return cells, nil
	}
	for _, p := range [][2]float64{{bb.X1, bb.Y1}, {bb.X2, bb.Y1}, {bb.X2, bb.Y2}, {bb.X1, bb.Y2}} {
		c, err := m.CellForPoint(p[0], p[1], res)
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	slices.Sort(cells)
	return slices.Compact(cells), nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}
