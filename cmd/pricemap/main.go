package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/price-cluster-map/internal/cache"
	"github.com/mohammed-shakir/price-cluster-map/internal/cache/cellindex"
	"github.com/mohammed-shakir/price-cluster-map/internal/cache/memstore"
	"github.com/mohammed-shakir/price-cluster-map/internal/cache/redisstore"
	"github.com/mohammed-shakir/price-cluster-map/internal/cluster"
	"github.com/mohammed-shakir/price-cluster-map/internal/comparables"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/config"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/health"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/observability"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/router"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/server"
	"github.com/mohammed-shakir/price-cluster-map/internal/hotness"
	"github.com/mohammed-shakir/price-cluster-map/internal/hotness/expdecay"
	"github.com/mohammed-shakir/price-cluster-map/internal/hotness/metricswrap"
	"github.com/mohammed-shakir/price-cluster-map/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/price-cluster-map/internal/logger"
	h3mapper "github.com/mohammed-shakir/price-cluster-map/internal/mapper/h3"
	"github.com/mohammed-shakir/price-cluster-map/internal/metrics"
	"github.com/mohammed-shakir/price-cluster-map/internal/pointsource"
	_ "github.com/mohammed-shakir/price-cluster-map/internal/pointsource/demo"
	_ "github.com/mohammed-shakir/price-cluster-map/internal/pointsource/overpass"
	_ "github.com/mohammed-shakir/price-cluster-map/internal/pointsource/postgis"
	"github.com/mohammed-shakir/price-cluster-map/internal/pricing"
	"github.com/mohammed-shakir/price-cluster-map/internal/pricing/gbm"
	"github.com/mohammed-shakir/price-cluster-map/internal/viewport"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	sourceFlag := flag.String("source", "", "point source (demo|postgis|overpass)")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	cfg := config.FromEnv()
	if *sourceFlag != "" {
		cfg.PointSource = *sourceFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "pricemap",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.SetSource(cfg.PointSource)
	observability.ExposeBuildInfo(Version)
	appLog.Info("starting pricemap",
		"addr", cfg.Addr,
		"version", Version,
		"source", cfg.PointSource,
		"cache", cfg.Cache.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if mc := metrics.ConfigFromEnv(); mc.Enabled {
		p := metrics.Init(mc)
		observability.Init(p.Registerer(), true)
		go func() {
			if err := p.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	} else {
		observability.Init(nil, false)
	}

	checks := map[string]health.Pinger{}
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	engine, grid, err := buildEngine(ctx, cfg, appLog, checks, &closers)
	if err != nil {
		appLog.Error("pricing setup failed", "err", err)
		return 1
	}

	src, err := pointsource.New(cfg.PointSource, cfg, appLog)
	if err != nil {
		appLog.Error("point source setup failed", "source", cfg.PointSource, "err", err)
		return 1
	}
	if p, ok := src.(health.Pinger); ok {
		checks["points"] = p
	}
	if c, ok := src.(interface{ Close() error }); ok {
		closers = append(closers, func() { _ = c.Close() })
	}

	svc, err := viewport.New(src, engine,
		viewport.WithPointLimit(cfg.PointLimit),
		viewport.WithBulkLimit(cfg.BulkLimit),
		viewport.WithClusterOptions(clusterOptions(cfg.Cluster)),
		viewport.WithLogger(appLog),
	)
	if err != nil {
		appLog.Error("viewport setup failed", "err", err)
		return 1
	}

	store, err := buildCache(ctx, cfg.Cache, checks, &closers)
	if err != nil {
		appLog.Error("cache setup failed", "backend", cfg.Cache.Backend, "err", err)
		return 1
	}

	tracker := expdecay.New(cfg.HotHalfLife)
	hot := metricswrap.New(tracker, cfg.HotThreshold, appLog)
	go pruneHotness(ctx, tracker, cfg.HotHalfLife)

	mapper := h3mapper.New()
	cells := cellindex.New(store, cfg.H3Res)
	cached := viewport.NewCached(svc, store, cells, mapper, hot, viewport.CacheConfig{
		Tiers: hotness.Tiers{
			Threshold: cfg.HotThreshold,
			Cold:      cfg.Cache.TTLCold,
			Warm:      cfg.Cache.TTLWarm,
			Hot:       cfg.Cache.TTLHot,
		},
		TTLEstimate: cfg.Cache.TTLEstimate,
		TTLBulk:     cfg.Cache.TTLBulk,
	})

	if cfg.Invalidation.Enabled {
		var regionIDs []string
		for _, r := range engine.Regions().Regions() {
			regionIDs = append(regionIDs, r.ID)
		}
		opts := []kafkaconsumer.Option{kafkaconsumer.WithHotness(hot), kafkaconsumer.WithRegions(regionIDs...)}
		if grid != nil {
			opts = append(opts, kafkaconsumer.WithListings(grid))
		}
		cons := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Invalidation), appLog, store, cells, mapper, opts...)
		go func() {
			if err := cons.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	api := router.New(appLog, cached, engine.Regions())
	if err := server.Run(ctx, cfg, appLog, server.Handler(cfg, appLog, api, checks)); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// buildEngine loads the region tables and picks the comparables backend: the
// listings database when configured, otherwise an in-memory grid fed by
// listing change events.
func buildEngine(ctx context.Context, cfg config.Config, log *slog.Logger, checks map[string]health.Pinger, closers *[]func()) (*pricing.Engine, *comparables.Grid, error) {
	regions, err := pricing.LoadRegistry(cfg.Pricing.RegionsFile)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Pricing.DefaultRegion != "" {
		if err := regions.SetDefault(cfg.Pricing.DefaultRegion); err != nil {
			return nil, nil, fmt.Errorf("DEFAULT_REGION: %w", err)
		}
	}

	opts := []pricing.Option{
		pricing.WithLogger(log),
		pricing.WithSearchRadius(cfg.Pricing.SearchRadiusM),
		pricing.WithMinComparables(cfg.Pricing.MinComparables),
		pricing.WithWorkers(cfg.Pricing.Workers),
	}

	var grid *comparables.Grid
	if cfg.ListingsDatabaseURL != "" {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		pool, err := comparables.Connect(cctx, cfg.ListingsDatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		repo := comparables.NewRepository(pool, log)
		checks["listings"] = health.PingFunc(repo.Ping)
		*closers = append(*closers, repo.Close)
		opts = append(opts, pricing.WithComparables(repo))
	} else {
		grid, err = comparables.NewGrid(cfg.H3Res)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, pricing.WithComparables(grid))
	}

	if cfg.Pricing.MLEnabled {
		m := gbm.Default()
		if cfg.Pricing.MLModelFile != "" {
			if m, err = gbm.Load(cfg.Pricing.MLModelFile); err != nil {
				return nil, nil, err
			}
		}
		opts = append(opts, pricing.WithPredictor(m))
		log.Info("stage B model enabled", "trees", len(m.Trees))
	}
	return pricing.NewEngine(regions, opts...), grid, nil
}

func buildCache(ctx context.Context, c config.CacheCfg, checks map[string]health.Pinger, closers *[]func()) (cache.Interface, error) {
	switch c.Backend {
	case "redis":
		cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		cli, err := redisstore.New(cctx, c.RedisAddr,
			redisstore.WithReadTimeout(c.OpTimeout),
			redisstore.WithWriteTimeout(c.OpTimeout),
		)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() { _ = cli.Close() })
		st := redisstore.NewStore(cli, c.OpTimeout)
		checks["cache"] = health.PingFunc(st.Ping)
		return st, nil
	case "memory", "":
		return memstore.New(c.MaxEntries, max(c.TTLEstimate, c.TTLHot)), nil
	case "none":
		return cache.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q (memory|redis|none)", c.Backend)
	}
}

func clusterOptions(c config.ClusterCfg) cluster.Options {
	o := cluster.DefaultOptions()
	o.Radius = c.Radius
	o.MaxZoom = c.MaxZoom
	o.MinPoints = c.MinPoints
	o.Extent = c.Extent
	o.NodeSize = c.NodeSize
	return o
}

// pruneHotness drops cells whose score decayed to nothing.
func pruneHotness(ctx context.Context, t *expdecay.Tracker, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.Prune(0.01)
			observability.SetHotCells(t.Size())
		}
	}
}
