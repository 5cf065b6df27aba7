// Package overpass loads building footprints live from an Overpass API endpoint.
package overpass

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/serjvanilla/go-overpass"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/config"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/httpclient"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/observability"
	"github.com/mohammed-shakir/price-cluster-map/internal/pointsource"
)

func init() {
	pointsource.Register("overpass", func(cfg config.Config, _ *slog.Logger) (pointsource.Source, error) {
		return New(cfg.OverpassURL, httpclient.NewOutbound()), nil
	})
}

type Source struct {
	client overpass.Client
}

func New(endpoint string, httpClient *http.Client) *Source {
	return &Source{client: overpass.NewWithSettings(endpoint, 2, httpClient)}
}

func buildingsQuery(b model.BBox) string {
	// overpass bbox order is south,west,north,east
	return fmt.Sprintf(`
		[out:json][timeout:25];
		(
			way["building"](%f,%f,%f,%f);
		);
		out body;
		>;
		out skel qt;
	`, b.Y1, b.X1, b.Y2, b.X2)
}

func (s *Source) Points(ctx context.Context, bbox model.BBox, limit int) ([]pointsource.Row, error) {
	type result struct {
		res overpass.Result
		err error
	}
	ch := make(chan result, 1)
	start := time.Now()
	go func() {
		res, err := s.client.Query(buildingsQuery(bbox))
		ch <- result{res, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-ch:
	}
	observability.ObserveUpstreamLatency("overpass", time.Since(start).Seconds())
	if r.err != nil {
		return nil, fmt.Errorf("overpass query failed: %w", r.err)
	}

	rows := waysToRows(r.res.Ways, bbox)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// waysToRows averages each way's nodes into a centroid and keeps those inside bbox.
func waysToRows(ways map[int64]*overpass.Way, bbox model.BBox) []pointsource.Row {
	rows := make([]pointsource.Row, 0, len(ways))
	for _, way := range ways {
		if len(way.Nodes) == 0 {
			continue
		}
		var lat, lon float64
		ring := make(orb.Ring, 0, len(way.Nodes))
		for _, node := range way.Nodes {
			lat += node.Lat
			lon += node.Lon
			ring = append(ring, orb.Point{node.Lon, node.Lat})
		}
		n := float64(len(way.Nodes))
		lat /= n
		lon /= n
		if !bbox.Contains(lon, lat) {
			continue
		}

		row := pointsource.Row{
			ID:           fmt.Sprintf("osm-way-%d", way.ID),
			Lng:          lon,
			Lat:          lat,
			BuildingType: way.Tags["building"],
		}
		if len(ring) >= 4 && ring.Closed() {
			if a := geo.Area(orb.Polygon{ring}); a > 0 {
				row.AreaSqm = &a
			}
		}
		if lv, err := strconv.Atoi(strings.TrimSpace(way.Tags["building:levels"])); err == nil && lv > 0 {
			row.Levels = &lv
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b pointsource.Row) int { return cmp.Compare(a.ID, b.ID) })
	return rows
}
