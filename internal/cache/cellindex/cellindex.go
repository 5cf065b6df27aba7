// Package cellindex remembers which cached viewport keys cover each H3 cell
// so a change at one location can evict exactly those entries.
package cellindex

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/mohammed-shakir/price-cluster-map/internal/cache"
	"github.com/mohammed-shakir/price-cluster-map/internal/cache/keys"
)

type Index struct {
	mu    sync.Mutex
	store cache.Interface
	res   int
}

// New keeps the index in store at H3 resolution res.
func New(store cache.Interface, res int) *Index {
	return &Index{store: store, res: res}
}

func (ix *Index) Res() int { return ix.res }

// Add records that key covers every cell in cells.
func (ix *Index) Add(cells []string, key string, ttl time.Duration) error {
	if len(cells) == 0 || key == "" {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	idxKeys := lo.Map(cells, func(c string, _ int) string { return keys.CellIndex(ix.res, c) })
	cur, err := ix.load(idxKeys)
	if err != nil {
		return err
	}
	for _, k := range idxKeys {
		list := cur[k]
		if slices.Contains(list, key) {
			continue
		}
		payload, err := json.Marshal(append(list, key))
		if err != nil {
			return fmt.Errorf("cellindex encode: %w", err)
		}
		if err := ix.store.Set(k, payload, ttl); err != nil {
			return fmt.Errorf("cellindex set %q: %w", k, err)
		}
	}
	return nil
}

// Keys returns the distinct viewport keys recorded for cells.
func (ix *Index) Keys(cells []string) ([]string, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cur, err := ix.load(lo.Map(cells, func(c string, _ int) string { return keys.CellIndex(ix.res, c) }))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, list := range cur {
		out = append(out, list...)
	}
	out = lo.Uniq(out)
	slices.Sort(out)
	return out, nil
}

// Drop forgets cells.
func (ix *Index) Drop(cells []string) error {
	if len(cells) == 0 {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.store.Del(lo.Map(cells, func(c string, _ int) string { return keys.CellIndex(ix.res, c) })...)
}

func (ix *Index) load(idxKeys []string) (map[string][]string, error) {
	raw, err := ix.store.MGet(idxKeys)
	if err != nil {
		return nil, fmt.Errorf("cellindex mget: %w", err)
	}
	out := make(map[string][]string, len(raw))
	for k, b := range raw {
		var list []string
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, fmt.Errorf("cellindex decode %q: %w", k, err)
		}
		out[k] = list
	}
	return out, nil
}
