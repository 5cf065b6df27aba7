// Package kafkaconsumer applies listing/house change events from Kafka to the
// viewport cache, the cell index, hotness and the comparables grid.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/price-cluster-map/internal/cache"
	"github.com/mohammed-shakir/price-cluster-map/internal/cache/keys"
	"github.com/mohammed-shakir/price-cluster-map/internal/comparables"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
	obs "github.com/mohammed-shakir/price-cluster-map/internal/core/observability"
	"github.com/mohammed-shakir/price-cluster-map/internal/invalidation"
	mylog "github.com/mohammed-shakir/price-cluster-map/internal/logger"
)

type CellMapper interface {
	CellsNearPoint(lng, lat float64, res int) (model.Cells, error)
}

type CellIndex interface {
	Res() int
	Keys(cells []string) ([]string, error)
	Drop(cells []string) error
}

type HotnessResetter interface {
	Reset(cells ...string)
}

// ListingSink receives listing state changes. *comparables.Grid implements it.
type ListingSink interface {
	Upsert(l comparables.Listing) error
	Remove(id string) bool
}

type Consumer struct {
	cfg      Config
	logger   *slog.Logger
	cache    cache.Interface
	index    CellIndex
	mapper   CellMapper
	hot      HotnessResetter
	listings ListingSink
	regions  []string
	versions *versionDedupe
}

type Option func(*Consumer)

func WithHotness(h HotnessResetter) Option { return func(c *Consumer) { c.hot = h } }
func WithListings(s ListingSink) Option    { return func(c *Consumer) { c.listings = s } }

// WithRegions names the region ids house estimates may be cached under.
func WithRegions(ids ...string) Option {
	return func(c *Consumer) { c.regions = append([]string(nil), ids...) }
}

func New(cfg Config, logger *slog.Logger, c cache.Interface, index CellIndex, mapper CellMapper, opts ...Option) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	cons := &Consumer{
		cfg:      cfg,
		logger:   logger,
		cache:    c,
		index:    index,
		mapper:   mapper,
		versions: newVersionDedupe(cfg.DedupeSize),
	}
	for _, o := range opts {
		o(cons)
	}
	return cons
}

// Start consumes change events until ctx ends.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil || c.index == nil || c.mapper == nil {
		return errors.New("kafkaconsumer: missing dependencies (cache/index/mapper)")
	}
	if len(c.cfg.Brokers) == 0 {
		return errors.New("kafkaconsumer: no brokers configured")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	handler := &groupHandler{process: c.ProcessOne, log: c.logger}

	c.logger.InfoContext(ctx, "kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			obs.IncKafkaError("consume")
			c.logger.ErrorContext(ctx, "kafka consumer error", "err", err, "topic", c.cfg.Topic)
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "kafka invalidation consumer shutting down")
			return nil
		}
	}
}

// ProcessOne applies one message. Undecodable, invalid and stale events are
// counted and skipped; only cache failures return an error so the message is
// redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	defer func() { obs.ObserveUpstreamLatency("kafka_event", time.Since(start).Seconds()) }()

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncKafkaError("decode")
		obs.IncInvalidation("invalid")
		c.logger.WarnContext(ctx, "skipping undecodable event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncInvalidation("invalid")
		c.logger.WarnContext(ctx, "skipping invalid event",
			"id", ev.ID, "offset", msg.Offset, "err", err)
		return nil
	}
	dk := ev.DedupeKey()
	if c.versions.seen(dk, ev.Version) {
		obs.IncInvalidation("duplicate")
		c.logger.DebugContext(ctx, "skipping stale event", "key", dk, "version", ev.Version)
		return nil
	}

	cells, err := c.mapper.CellsNearPoint(ev.Lng, ev.Lat, c.index.Res())
	if err != nil {
		return fmt.Errorf("derive cells: %w", err)
	}
	delKeys, err := c.index.Keys(cells)
	if err != nil {
		obs.IncKafkaError("index")
		return fmt.Errorf("cell index lookup: %w", err)
	}
	if ev.Kind == invalidation.KindHouse {
		delKeys = append(delKeys, keys.Estimates(c.regions, ev.ID)...)
	}
	if err := c.cache.Del(delKeys...); err != nil {
		obs.IncKafkaError("cache_del")
		c.logger.ErrorContext(ctx, "cache delete failed",
			"partition", msg.Partition, "offset", msg.Offset, "keys", len(delKeys), "err", err)
		return fmt.Errorf("cache del: %w", err)
	}
	if err := c.index.Drop(cells); err != nil {
		c.logger.WarnContext(ctx, "cell index drop failed", "cells", len(cells), "err", err)
	}
	if c.hot != nil {
		c.hot.Reset(cells...)
	}
	if ev.Kind == invalidation.KindListing && c.listings != nil {
		c.applyListing(ctx, ev)
	}

	c.versions.record(dk, ev.Version)
	obs.IncInvalidation("applied")
	c.logger.InfoContext(ctx, "invalidated keys",
		"kind", ev.Kind, "op", ev.Op, "id", ev.ID, "version", ev.Version,
		"cells", len(cells), "keys", len(delKeys))
	return nil
}

func (c *Consumer) applyListing(ctx context.Context, ev invalidation.Event) {
	if ev.Op == invalidation.OpDelete {
		c.listings.Remove(ev.ID)
		return
	}
	l := comparables.Listing{
		ID:        ev.ID,
		Lng:       ev.Lng,
		Lat:       ev.Lat,
		Price:     ev.Listing.Price,
		AreaSqm:   ev.Listing.AreaSqm,
		Active:    ev.Listing.Active,
		ExpiresAt: ev.Listing.ExpiresAt,
	}
	if err := c.listings.Upsert(l); err != nil {
		c.logger.WarnContext(ctx, "listing upsert failed", "id", ev.ID, "err", err)
	}
}
