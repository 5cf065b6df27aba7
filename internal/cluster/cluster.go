// Package cluster builds a zoom-aware hierarchical point index: one R-tree per
// zoom level, where each level greedily merges the previous level's entries
// that fall within a zoom-scaled pixel radius.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/observability"
)

var ErrClusterNotFound = errors.New("cluster not found")

type Options struct {
	Radius    float64 // in pixels of a tile of size Extent
	MinZoom   int
	MaxZoom   int // no clustering above this zoom
	MinPoints int // smallest group that becomes a cluster
	Extent    int
	NodeSize  int // R-tree branching factor
}

func DefaultOptions() Options {
	return Options{Radius: 60, MinZoom: 0, MaxZoom: 16, MinPoints: 2, Extent: 512, NodeSize: 64}
}

func (o Options) Validate() error {
	switch {
	case o.Radius <= 0:
		return fmt.Errorf("radius must be > 0 (got %v)", o.Radius)
	case o.MinZoom < 0 || o.MaxZoom < o.MinZoom:
		return fmt.Errorf("zoom range [%d,%d] is invalid", o.MinZoom, o.MaxZoom)
	case o.MaxZoom > 30:
		// zoom+1 is packed into the low 5 bits of cluster ids
		return fmt.Errorf("max zoom must be <= 30 (got %d)", o.MaxZoom)
	case o.MinPoints < 2:
		return fmt.Errorf("min points must be >= 2 (got %d)", o.MinPoints)
	case o.Extent <= 0:
		return fmt.Errorf("extent must be > 0 (got %d)", o.Extent)
	case o.NodeSize < 4:
		return fmt.Errorf("node size must be >= 4 (got %d)", o.NodeSize)
	}
	return nil
}

// Node is one query result: a cluster aggregate or a single loaded point.
type Node struct {
	ID    int // cluster id, or the point's load index
	Lng   float64
	Lat   float64
	Count int
	Point *model.ClusterPoint // nil for clusters
}

func (n Node) IsCluster() bool { return n.Point == nil }

// entry is a point or cluster at one zoom level, in projected [0,1] space.
type entry struct {
	x, y   float64
	zoom   int // last zoom this entry was processed at
	id     int // point index for points, cluster id for clusters
	parent int
	count  int
}

const (
	unprocessed = math.MaxInt
	noParent    = -1
	pointTol    = 1e-12
)

type rtreeItem struct {
	rect  rtreego.Rect
	index int
}

func (item rtreeItem) Bounds() rtreego.Rect {
	return item.rect
}

type level struct {
	entries []entry
	tree    *rtreego.Rtree
}

// Index is safe for concurrent queries; Load takes an exclusive lock.
type Index struct {
	opts Options

	mu     sync.RWMutex
	points []model.ClusterPoint
	levels []*level // indexed by zoom, MinZoom..MaxZoom+1
}

func New(opts Options) (*Index, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Index{opts: opts}, nil
}

func (ix *Index) Options() Options { return ix.opts }

// Load replaces the index content. The slice is copied.
func (ix *Index) Load(points []model.ClusterPoint) {
	start := time.Now()
	pts := make([]model.ClusterPoint, len(points))
	copy(pts, points)

	levels := make([]*level, ix.opts.MaxZoom+2)
	entries := make([]entry, len(pts))
	for i, p := range pts {
		entries[i] = entry{
			x:      lngX(p.Lng),
			y:      latY(p.Lat),
			zoom:   unprocessed,
			id:     i,
			parent: noParent,
			count:  1,
		}
	}
	levels[ix.opts.MaxZoom+1] = ix.newLevel(entries)

	for z := ix.opts.MaxZoom; z >= ix.opts.MinZoom; z-- {
		levels[z] = ix.newLevel(ix.clusterLevel(levels[z+1], z, len(pts)))
	}

	ix.mu.Lock()
	ix.points = pts
	ix.levels = levels
	ix.mu.Unlock()
	observability.ObserveClusterBuild(time.Since(start).Seconds())
}

// Len reports the number of loaded points.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.points)
}

func (ix *Index) newLevel(entries []entry) *level {
	items := make([]rtreego.Spatial, len(entries))
	for i, e := range entries {
		items[i] = rtreeItem{rect: rtreego.Point{e.x, e.y}.ToRect(pointTol), index: i}
	}
	return &level{
		entries: entries,
		tree:    rtreego.NewTree(2, max(2, ix.opts.NodeSize/2), ix.opts.NodeSize, items...),
	}
}

func (ix *Index) radiusAt(zoom int) float64 {
	return ix.opts.Radius / (float64(ix.opts.Extent) * math.Pow(2, float64(zoom)))
}

// clusterLevel merges prev's entries for zoom. Entries are visited in order,
// so the result depends only on the input order.
func (ix *Index) clusterLevel(prev *level, zoom, numPoints int) []entry {
	r := ix.radiusAt(zoom)
	next := make([]entry, 0, len(prev.entries))

	for i := range prev.entries {
		p := &prev.entries[i]
		if p.zoom <= zoom {
			continue
		}
		p.zoom = zoom

		neighbors := prev.within(p.x, p.y, r)
		total := p.count
		for _, j := range neighbors {
			if prev.entries[j].zoom > zoom {
				total += prev.entries[j].count
			}
		}

		if total > p.count && total >= ix.opts.MinPoints {
			wx, wy := p.x*float64(p.count), p.y*float64(p.count)
			id := (i << 5) + (zoom + 1) + numPoints
			for _, j := range neighbors {
				b := &prev.entries[j]
				if b.zoom <= zoom {
					continue
				}
				b.zoom = zoom
				wx += b.x * float64(b.count)
				wy += b.y * float64(b.count)
				b.parent = id
			}
			p.parent = id
			next = append(next, entry{
				x:      wx / float64(total),
				y:      wy / float64(total),
				zoom:   unprocessed,
				id:     id,
				parent: noParent,
				count:  total,
			})
			continue
		}

		next = append(next, *p)
		if total > 1 {
			for _, j := range neighbors {
				b := &prev.entries[j]
				if b.zoom <= zoom {
					continue
				}
				b.zoom = zoom
				next = append(next, *b)
			}
		}
	}
	return next
}

// within returns entry positions whose distance to (x,y) is <= r, ascending.
func (l *level) within(x, y, r float64) []int {
	cands := l.tree.SearchIntersect(rtreego.Point{x, y}.ToRect(r + pointTol))
	out := make([]int, 0, len(cands))
	r2 := r * r
	for _, c := range cands {
		i := c.(rtreeItem).index
		dx, dy := l.entries[i].x-x, l.entries[i].y-y
		if dx*dx+dy*dy <= r2 {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

// rangeSearch returns entry positions inside the projected box, ascending.
func (l *level) rangeSearch(minX, minY, maxX, maxY float64) []int {
	rect, err := rtreego.NewRectFromPoints(
		rtreego.Point{minX - pointTol, minY - pointTol},
		rtreego.Point{maxX + pointTol, maxY + pointTol},
	)
	if err != nil {
		return nil
	}
	cands := l.tree.SearchIntersect(rect)
	out := make([]int, 0, len(cands))
	for _, c := range cands {
		i := c.(rtreeItem).index
		e := l.entries[i]
		if e.x >= minX && e.x <= maxX && e.y >= minY && e.y <= maxY {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

func (ix *Index) clampZoom(zoom int) int {
	return max(ix.opts.MinZoom, min(zoom, ix.opts.MaxZoom+1))
}

// Query returns clusters and points whose position lies inside bbox at zoom.
func (ix *Index) Query(bbox model.BBox, zoom int) []Node {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.levels) == 0 {
		return nil
	}
	l := ix.levels[ix.clampZoom(zoom)]

	minLng := math.Max(-180, bbox.X1)
	maxLng := math.Min(180, bbox.X2)
	minLat := math.Max(-90, bbox.Y1)
	maxLat := math.Min(90, bbox.Y2)
	// y grows southwards
	ids := l.rangeSearch(lngX(minLng), latY(maxLat), lngX(maxLng), latY(minLat))

	out := make([]Node, 0, len(ids))
	for _, i := range ids {
		out = append(out, ix.node(l.entries[i]))
	}
	return out
}

func (ix *Index) node(e entry) Node {
	if e.count > 1 {
		return Node{ID: e.id, Lng: xLng(e.x), Lat: yLat(e.y), Count: e.count}
	}
	p := &ix.points[e.id]
	return Node{ID: e.id, Lng: p.Lng, Lat: p.Lat, Count: 1, Point: p}
}

func (ix *Index) originZoom(id int) int { return (id - len(ix.points)) % 32 }
func (ix *Index) originID(id int) int   { return (id - len(ix.points)) >> 5 }

// Children returns the clusters and points one zoom step below clusterID.
func (ix *Index) Children(clusterID int) ([]Node, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.children(clusterID)
}

func (ix *Index) children(clusterID int) ([]Node, error) {
	if clusterID < len(ix.points) {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}
	oz, oid := ix.originZoom(clusterID), ix.originID(clusterID)
	if oz <= ix.opts.MinZoom || oz > ix.opts.MaxZoom+1 || oz >= len(ix.levels) || ix.levels[oz] == nil {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}
	l := ix.levels[oz]
	if oid >= len(l.entries) {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}

	origin := l.entries[oid]
	var out []Node
	for _, i := range l.within(origin.x, origin.y, ix.radiusAt(oz-1)) {
		if e := l.entries[i]; e.parent == clusterID {
			out = append(out, ix.node(e))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}
	return out, nil
}

// Leaves pages through the points folded into clusterID, depth first.
// A non-positive limit means 100.
func (ix *Index) Leaves(clusterID, limit, offset int) ([]model.ClusterPoint, error) {
	if limit <= 0 {
		limit = 100
	}
	offset = max(0, offset)

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []model.ClusterPoint
	if _, err := ix.appendLeaves(&out, clusterID, limit, offset, 0); err != nil {
		return nil, err
	}
	return out, nil
}

func (ix *Index) appendLeaves(out *[]model.ClusterPoint, clusterID, limit, offset, skipped int) (int, error) {
	kids, err := ix.children(clusterID)
	if err != nil {
		return skipped, err
	}
	for _, c := range kids {
		switch {
		case c.IsCluster():
			if skipped+c.Count <= offset {
				skipped += c.Count
			} else if skipped, err = ix.appendLeaves(out, c.ID, limit, offset, skipped); err != nil {
				return skipped, err
			}
		case skipped < offset:
			skipped++
		default:
			*out = append(*out, *c.Point)
		}
		if len(*out) == limit {
			break
		}
	}
	return skipped, nil
}

// ExpansionZoom is the zoom at which clusterID first splits into more than one child.
func (ix *Index) ExpansionZoom(clusterID int) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if _, err := ix.children(clusterID); err != nil {
		return 0, err
	}

	zoom := ix.originZoom(clusterID) - 1
	for zoom <= ix.opts.MaxZoom {
		kids, err := ix.children(clusterID)
		if err != nil {
			return 0, err
		}
		zoom++
		if len(kids) != 1 || !kids[0].IsCluster() {
			break
		}
		clusterID = kids[0].ID
	}
	return zoom, nil
}

// Abbreviate renders a point count for a marker label: 1000 and above as "Nk".
func Abbreviate(n int) string {
	if n >= 1000 {
		return fmt.Sprintf("%dk", int(math.Round(float64(n)/1000)))
	}
	return fmt.Sprintf("%d", n)
}

func lngX(lng float64) float64 {
	return lng/360 + 0.5
}

func latY(lat float64) float64 {
	s := math.Sin(lat * math.Pi / 180)
	y := 0.5 - 0.25*math.Log((1+s)/(1-s))/math.Pi
	return math.Max(0, math.Min(1, y))
}

func xLng(x float64) float64 {
	return (x - 0.5) * 360
}

func yLat(y float64) float64 {
	y2 := (180 - y*360) * math.Pi / 180
	return 360*math.Atan(math.Exp(y2))/math.Pi - 90
}
