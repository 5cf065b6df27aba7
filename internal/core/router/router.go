// Package router serves the price map HTTP API.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mohammed-shakir/price-cluster-map/internal/cluster"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
	mylog "github.com/mohammed-shakir/price-cluster-map/internal/logger"
	"github.com/mohammed-shakir/price-cluster-map/internal/pointsource"
	"github.com/mohammed-shakir/price-cluster-map/internal/pricing"
	"github.com/mohammed-shakir/price-cluster-map/internal/viewport"
)

const (
	defaultLeavesLimit = 100
	maxLeavesLimit     = 1000
	maxBodyBytes       = 1 << 20
)

// Viewports is the cached viewport service. *viewport.Cached implements it.
type Viewports interface {
	Resolve(ctx context.Context, req viewport.Request) (viewport.Result, bool, error)
	Leaves(ctx context.Context, req viewport.Request, clusterID, limit, offset int) ([]model.PointFeature, error)
	ExpansionZoom(ctx context.Context, req viewport.Request, clusterID int) (int, error)
	ClusterSegments(ctx context.Context, req viewport.Request, clusterID int) (viewport.ClusterSegments, error)
	VisibleHouseIDs(ctx context.Context, req viewport.Request) ([]string, error)
	House(ctx context.Context, id, region string) (pricing.PriceEstimate, bool, error)
	Bulk(ctx context.Context, bbox model.BBox, region string) (viewport.BulkResult, bool, error)
	Estimate(ctx context.Context, in pricing.Input) pricing.PriceEstimate
}

type API struct {
	log     *slog.Logger
	vp      Viewports
	regions *pricing.Registry
}

func New(logger *slog.Logger, vp Viewports, regions *pricing.Registry) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{log: logger, vp: vp, regions: regions}
}

// Mount registers the /api routes on r.
func (a *API) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/clusters", a.clusters)
		r.Get("/clusters/{id}/leaves", a.leaves)
		r.Get("/clusters/{id}/expansion-zoom", a.expansionZoom)
		r.Get("/clusters/{id}/segments", a.clusterSegments)
		r.Get("/segments", a.segments)
		r.Get("/regions", a.regionList)
		r.Get("/price", a.price)
		r.Post("/price/estimate", a.estimate)
		r.Get("/price/bulk", a.bulk)
		r.Get("/houses/visible", a.visible)
	})
}

func (a *API) clusters(w http.ResponseWriter, r *http.Request) {
	req, err := parseViewport(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, hit, err := a.vp.Resolve(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	setCacheHeader(w, hit)
	a.logCache(r, hit, "clusters resolved", "features", res.Meta.TotalFeatures, "zoom", req.Zoom)
	writeJSON(w, http.StatusOK, featureCollection(res.Features, &res.Meta))
}

func (a *API) leaves(w http.ResponseWriter, r *http.Request) {
	id, req, ok := a.clusterRequest(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", defaultLeavesLimit, maxLeavesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0, math.MaxInt32)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pts, err := a.vp.Leaves(r.Context(), req, id, limit, offset)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pointCollection(pts))
}

func (a *API) expansionZoom(w http.ResponseWriter, r *http.Request) {
	id, req, ok := a.clusterRequest(w, r)
	if !ok {
		return
	}
	z, err := a.vp.ExpansionZoom(r.Context(), req, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cluster_id": id, "expansion_zoom": z})
}

func (a *API) clusterSegments(w http.ResponseWriter, r *http.Request) {
	id, req, ok := a.clusterRequest(w, r)
	if !ok {
		return
	}
	cs, err := a.vp.ClusterSegments(r.Context(), req, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (a *API) clusterRequest(w http.ResponseWriter, r *http.Request) (int, viewport.Request, bool) {
	id, err := parseClusterID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, viewport.Request{}, false
	}
	req, err := parseViewport(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, viewport.Request{}, false
	}
	return id, req, true
}

// legendBand is a band with an open upper bound encoded as null.
type legendBand struct {
	ID         model.Segment `json:"id"`
	Min        float64       `json:"min"`
	Max        *float64      `json:"max"`
	Label      string        `json:"label"`
	LabelShort string        `json:"label_short"`
	Color      string        `json:"color"`
	ColorLight string        `json:"color_light"`
}

func (a *API) segments(w http.ResponseWriter, r *http.Request) {
	reg := a.regions.Resolve(r.URL.Query().Get("region"))
	bands := reg.Segments().Bands()
	out := make([]legendBand, 0, len(bands))
	for _, b := range bands {
		lb := legendBand{ID: b.Segment, Min: b.Min, Label: b.Label, LabelShort: b.LabelShort, Color: b.Color, ColorLight: b.ColorLight}
		if !math.IsInf(b.Max, 1) {
			lb.Max = &b.Max
		}
		out = append(out, lb)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"region":    reg.ID,
		"currency":  reg.Currency,
		"area_unit": reg.AreaUnit,
		"segments":  out,
	})
}

type regionInfo struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Country  string   `json:"country"`
	Currency string   `json:"currency"`
	AreaUnit string   `json:"area_unit"`
	Aliases  []string `json:"aliases,omitempty"`
	Default  bool     `json:"default"`
}

func (a *API) regionList(w http.ResponseWriter, _ *http.Request) {
	def := a.regions.Default()
	var out []regionInfo
	for _, rg := range a.regions.Regions() {
		out = append(out, regionInfo{
			ID: rg.ID, Label: rg.Label, Country: rg.Country, Currency: rg.Currency,
			AreaUnit: rg.AreaUnit, Aliases: rg.Aliases, Default: rg == def,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": out})
}

type priceResponse struct {
	pricing.PriceEstimate
	HouseID        string  `json:"house_id"`
	Cached         bool    `json:"cached"`
	ResponseTimeMs float64 `json:"response_time_ms"`
}

func (a *API) price(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	raw := strings.TrimSpace(r.URL.Query().Get("house_id"))
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "house_id must be a UUID")
		return
	}
	est, hit, err := a.vp.House(r.Context(), id.String(), r.URL.Query().Get("region"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	setCacheHeader(w, hit)
	a.logCache(r, hit, "house priced", "house_id", id.String())
	writeJSON(w, http.StatusOK, priceResponse{
		PriceEstimate:  est,
		HouseID:        id.String(),
		Cached:         hit,
		ResponseTimeMs: float64(time.Since(start).Microseconds()) / 1000,
	})
}

func (a *API) estimate(w http.ResponseWriter, r *http.Request) {
	var in pricing.Input
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if err := validateInput(in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.vp.Estimate(r.Context(), in))
}

func validateInput(in pricing.Input) error {
	if in.Lng < -180 || in.Lng > 180 || in.Lat < -90 || in.Lat > 90 {
		return errors.New("lng/lat out of range")
	}
	if in.AreaSqm != nil && *in.AreaSqm < 0 {
		return errors.New("area_sqm must be >= 0")
	}
	if in.Levels != nil && *in.Levels < 0 {
		return errors.New("levels must be >= 0")
	}
	return nil
}

type bulkResponse struct {
	viewport.BulkResult
	Count  int  `json:"count"`
	Cached bool `json:"cached"`
}

func (a *API) bulk(w http.ResponseWriter, r *http.Request) {
	bb, err := parseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, hit, err := a.vp.Bulk(r.Context(), bb, r.URL.Query().Get("region"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	setCacheHeader(w, hit)
	a.logCache(r, hit, "bulk priced", "count", len(res.Prices))
	writeJSON(w, http.StatusOK, bulkResponse{BulkResult: res, Count: len(res.Prices), Cached: hit})
}

func (a *API) visible(w http.ResponseWriter, r *http.Request) {
	req, err := parseViewport(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids, err := a.vp.VisibleHouseIDs(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"house_ids": ids, "count": len(ids)})
}

// fail maps service errors onto HTTP statuses.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, cluster.ErrClusterNotFound):
		writeError(w, http.StatusNotFound, "cluster not found")
	case errors.Is(err, pointsource.ErrNotFound):
		writeError(w, http.StatusNotFound, "house not found")
	case errors.Is(err, viewport.ErrPointSource):
		a.log.WarnContext(r.Context(), "point source failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadGateway, "point source unavailable")
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to send
	default:
		a.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) logCache(r *http.Request, hit bool, msg string, args ...any) {
	status := "miss"
	if hit {
		status = "hit"
	}
	a.log.DebugContext(mylog.WithCacheStatus(r.Context(), status), msg, args...)
}

func setCacheHeader(w http.ResponseWriter, hit bool) {
	if hit {
		w.Header().Set("X-Cache", "HIT")
		return
	}
	w.Header().Set("X-Cache", "MISS")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
