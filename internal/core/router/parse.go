package router

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
	"github.com/mohammed-shakir/price-cluster-map/internal/viewport"
)

// parseBBox accepts minLng,minLat,maxLng,maxLat with an optional trailing
// EPSG:4326.
func parseBBox(raw string) (model.BBox, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.BBox{}, errors.New("missing required parameter: bbox")
	}
	parts := strings.Split(raw, ",")
	switch len(parts) {
	case 4:
	case 5:
		if srid := strings.ToUpper(strings.TrimSpace(parts[4])); srid != "EPSG:4326" {
			return model.BBox{}, fmt.Errorf("only EPSG:4326 is supported (got %q)", srid)
		}
	default:
		return model.BBox{}, errors.New("bbox: expected minLng,minLat,maxLng,maxLat[,EPSG:4326]")
	}
	var v [4]float64
	for i, name := range []string{"minLng", "minLat", "maxLng", "maxLat"} {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("bbox %s: %w", name, err)
		}
		v[i] = f
	}
	bb := model.BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
	if err := bb.Validate(); err != nil {
		return model.BBox{}, fmt.Errorf("bbox: %w", err)
	}
	return bb, nil
}

func parseZoom(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return viewport.DefaultZoom, nil
	}
	z, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("zoom: %w", err)
	}
	if z < viewport.MinZoom || z > viewport.MaxZoom {
		return 0, fmt.Errorf("zoom must be in [%d,%d]", viewport.MinZoom, viewport.MaxZoom)
	}
	return z, nil
}

func parseViewport(r *http.Request) (viewport.Request, error) {
	q := r.URL.Query()
	bb, err := parseBBox(q.Get("bbox"))
	if err != nil {
		return viewport.Request{}, err
	}
	zoom, err := parseZoom(q.Get("zoom"))
	if err != nil {
		return viewport.Request{}, err
	}
	return viewport.Request{BBox: bb, Zoom: zoom, Region: strings.TrimSpace(q.Get("region"))}, nil
}

func parseClusterID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		return 0, errors.New("cluster id must be a non-negative integer")
	}
	return id, nil
}

// queryInt reads a non-negative integer parameter capped at maxV.
func queryInt(r *http.Request, name string, def, maxV int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return min(n, maxV), nil
}
