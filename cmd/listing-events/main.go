// Command listing-events publishes one listing/house change event to the
// invalidation topic.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/config"
	"github.com/mohammed-shakir/price-cluster-map/internal/invalidation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "listing-events:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = config.LoadDotEnv()
	cfg := config.FromEnv().Invalidation

	var (
		brokers = flag.String("brokers", cfg.Brokers, "comma separated kafka brokers")
		topic   = flag.String("topic", cfg.Topic, "kafka topic")
		kind    = flag.String("kind", invalidation.KindListing, "listing|house")
		op      = flag.String("op", invalidation.OpUpsert, "upsert|delete")
		id      = flag.String("id", "", "listing or house id")
		lng     = flag.Float64("lng", 0, "longitude")
		lat     = flag.Float64("lat", 0, "latitude")
		version = flag.Uint64("version", uint64(time.Now().UnixNano()), "event version, increasing per id")
		price   = flag.Float64("price", 0, "listing price")
		area    = flag.Float64("area", 0, "listing area in sqm")
		active  = flag.Bool("active", true, "listing is active")
		expires = flag.Duration("expires-in", 0, "listing expiry from now (0 = none)")
	)
	flag.Parse()

	ev := invalidation.Event{
		Version: *version,
		Kind:    *kind,
		Op:      *op,
		ID:      *id,
		Lng:     *lng,
		Lat:     *lat,
		TS:      time.Now().UTC(),
	}
	if ev.Kind == invalidation.KindListing && ev.Op == invalidation.OpUpsert {
		ev.Listing = &invalidation.Listing{Price: *price, AreaSqm: *area, Active: *active}
		if *expires > 0 {
			ev.Listing.ExpiresAt = ev.TS.Add(*expires)
		}
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	prod, err := sarama.NewSyncProducer(splitBrokers(*brokers), sc)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	// keyed by entity so versions of one id stay ordered within a partition
	part, off, err := prod.SendMessage(&sarama.ProducerMessage{
		Topic: *topic,
		Key:   sarama.StringEncoder(ev.DedupeKey()),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Printf("published %s %s v%d to %s[%d]@%d\n", ev.Op, ev.DedupeKey(), ev.Version, *topic, part, off)
	return nil
}

func splitBrokers(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
