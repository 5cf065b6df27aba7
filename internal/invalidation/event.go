// Package invalidation defines the listing/house change events that evict
// cached viewports and estimates.
package invalidation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	KindListing = "listing"
	KindHouse   = "house"

	OpUpsert = "upsert"
	OpDelete = "delete"
)

// Event announces that a listing or house changed at a location. Version
// increases per ID; stale or repeated versions are ignored by consumers.
type Event struct {
	Version uint64    `json:"version"`
	Kind    string    `json:"kind"`
	Op      string    `json:"op"`
	ID      string    `json:"id"`
	Lng     float64   `json:"lng"`
	Lat     float64   `json:"lat"`
	TS      time.Time `json:"ts"`
	Listing *Listing  `json:"listing,omitempty"`
}

// Listing carries the new state of an upserted listing.
type Listing struct {
	Price     float64   `json:"price"`
	AreaSqm   float64   `json:"area_sqm"`
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// DedupeKey identifies the entity an event versions.
func (e Event) DedupeKey() string { return e.Kind + ":" + e.ID }

func (e Event) Validate() error {
	if e.Version == 0 {
		return errors.New("version must be > 0")
	}
	switch e.Kind {
	case KindListing, KindHouse:
	default:
		return fmt.Errorf("kind must be %s|%s", KindListing, KindHouse)
	}
	switch e.Op {
	case OpUpsert, OpDelete:
	default:
		return fmt.Errorf("op must be %s|%s", OpUpsert, OpDelete)
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("id is required")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	if e.Lng < -180 || e.Lng > 180 || e.Lat < -90 || e.Lat > 90 {
		return errors.New("location out of range")
	}
	if e.Kind == KindListing && e.Op == OpUpsert {
		if e.Listing == nil {
			return errors.New("listing upsert requires listing data")
		}
		if e.Listing.Price < 0 || e.Listing.AreaSqm < 0 {
			return errors.New("listing price and area must be >= 0")
		}
	}
	return nil
}
