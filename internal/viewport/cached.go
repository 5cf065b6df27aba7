package viewport

import (
	"context"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/price-cluster-map/internal/cache"
	"github.com/mohammed-shakir/price-cluster-map/internal/cache/cellindex"
	"github.com/mohammed-shakir/price-cluster-map/internal/cache/codec"
	"github.com/mohammed-shakir/price-cluster-map/internal/cache/keys"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
	"github.com/mohammed-shakir/price-cluster-map/internal/hotness"
	"github.com/mohammed-shakir/price-cluster-map/internal/mapper"
	"github.com/mohammed-shakir/price-cluster-map/internal/pricing"
)

type CacheConfig struct {
	Tiers       hotness.Tiers // viewport TTL by hotness
	TTLEstimate time.Duration
	TTLBulk     time.Duration
}

// Cached fronts a Service with the byte cache. Cache failures are logged and
// never fail a request.
type Cached struct {
	*Service

	store  cache.Interface
	cells  *cellindex.Index
	mapper mapper.Interface
	hot    hotness.Interface
	cfg    CacheConfig
	log    *slog.Logger
}

func NewCached(svc *Service, store cache.Interface, cells *cellindex.Index, m mapper.Interface, hot hotness.Interface, cfg CacheConfig) *Cached {
	if store == nil {
		store = cache.Nop{}
	}
	if hot == nil {
		hot = coldOnly{}
	}
	return &Cached{Service: svc, store: store, cells: cells, mapper: m, hot: hot, cfg: cfg, log: svc.log}
}

type coldOnly struct{}

func (coldOnly) Inc(string)           {}
func (coldOnly) Score(string) float64 { return 0 }
func (coldOnly) Reset(...string)      {}

// cachedFeature is the stored form of model.Feature.
type cachedFeature struct {
	Cluster *model.ClusterFeature `json:"c,omitempty"`
	Point   *model.PointFeature   `json:"p,omitempty"`
}

type cachedResult struct {
	Features []cachedFeature `json:"f"`
	Meta     model.Meta      `json:"m"`
}

// Resolve reports whether the result was served from cache.
func (c *Cached) Resolve(ctx context.Context, req Request) (Result, bool, error) {
	if err := req.Validate(); err != nil {
		return Result{}, false, err
	}
	key := keys.Viewport(c.Service.regionID(req.Region, req.BBox), req.Zoom, req.BBox)
	cells := c.viewportCells(req.BBox)
	for _, cell := range cells {
		c.hot.Inc(cell)
	}

	var stored cachedResult
	if c.get(key, &stored) {
		return stored.result(), true, nil
	}

	res, err := c.Service.Resolve(ctx, req)
	if err != nil {
		return Result{}, false, err
	}

	ttl, tier := c.cfg.Tiers.TTL(hotness.MaxScore(c.hot, cells))
	if c.put(key, toCached(res), ttl) && c.cells != nil {
		if err := c.cells.Add(cells, key, ttl); err != nil {
			c.log.Warn("cell index update failed", "key", key, "err", err)
		}
	}
	c.log.Debug("viewport cached", "key", key, "tier", tier, "ttl", ttl)
	return res, false, nil
}

// House serves single-house estimates from cache by region and house id.
// Without a region the house's own location decides, keyed as
// keys.LocatedRegion.
func (c *Cached) House(ctx context.Context, id, region string) (pricing.PriceEstimate, bool, error) {
	rk := keys.LocatedRegion
	if region != "" {
		rk = c.Service.engine.Regions().Resolve(region).ID
	}
	key := keys.Estimate(rk, id)
	var est pricing.PriceEstimate
	if c.get(key, &est) {
		return est, true, nil
	}
	est, err := c.Service.House(ctx, id, region)
	if err != nil {
		return est, false, err
	}
	c.put(key, est, c.cfg.TTLEstimate)
	return est, false, nil
}

func (c *Cached) Bulk(ctx context.Context, bbox model.BBox, region string) (BulkResult, bool, error) {
	key := keys.Bulk(c.Service.regionID(region, bbox), bbox)
	var res BulkResult
	if c.get(key, &res) {
		return res, true, nil
	}
	res, err := c.Service.Bulk(ctx, bbox, region)
	if err != nil {
		return res, false, err
	}
	if c.put(key, res, c.cfg.TTLBulk) && c.cells != nil {
		if err := c.cells.Add(c.viewportCells(bbox), key, c.cfg.TTLBulk); err != nil {
			c.log.Warn("cell index update failed", "key", key, "err", err)
		}
	}
	return res, false, nil
}

func (c *Cached) viewportCells(bb model.BBox) []string {
	if c.mapper == nil || c.cells == nil {
		return nil
	}
	cells, err := c.mapper.CellsForViewport(bb, c.cells.Res())
	if err != nil {
		c.log.Debug("viewport not indexed by cell", "bbox", bb.String(), "err", err)
		return nil
	}
	return cells
}

func (c *Cached) get(key string, v any) bool {
	raw, ok, err := cache.Get(c.store, key)
	if err != nil {
		c.log.Warn("cache read failed", "key", key, "err", err)
		return false
	}
	if !ok {
		return false
	}
	if err := codec.Unmarshal(raw, v); err != nil {
		c.log.Warn("cache entry unreadable", "key", key, "err", err)
		_ = c.store.Del(key)
		return false
	}
	return true
}

func (c *Cached) put(key string, v any, ttl time.Duration) bool {
	b, err := codec.Marshal(v)
	if err != nil {
		c.log.Warn("cache encode failed", "key", key, "err", err)
		return false
	}
	if err := c.store.Set(key, b, ttl); err != nil {
		c.log.Warn("cache write failed", "key", key, "err", err)
		return false
	}
	return true
}

func toCached(r Result) cachedResult {
	out := cachedResult{Meta: r.Meta, Features: make([]cachedFeature, 0, len(r.Features))}
	for _, f := range r.Features {
		switch f := f.(type) {
		case model.ClusterFeature:
			out.Features = append(out.Features, cachedFeature{Cluster: &f})
		case model.PointFeature:
			out.Features = append(out.Features, cachedFeature{Point: &f})
		}
	}
	return out
}

func (r cachedResult) result() Result {
	out := Result{Meta: r.Meta, Features: make([]model.Feature, 0, len(r.Features))}
	for _, f := range r.Features {
		switch {
		case f.Cluster != nil:
			out.Features = append(out.Features, *f.Cluster)
		case f.Point != nil:
			out.Features = append(out.Features, *f.Point)
		}
	}
	return out
}
