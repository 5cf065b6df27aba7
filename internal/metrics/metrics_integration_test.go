package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer(), true)
	observability.SetSource("postgis")

	observability.ObserveHTTP("GET", "/api/clusters", 200, 0.010)
	observability.AddCacheHits(3)
	observability.AddCacheMisses(1)
	observability.ObserveCacheOp("mget", nil, 0.002)
	observability.IncPriceEstimate("comparables", "ch-monthey")
	observability.SetHotCells(42)
	observability.IncKafkaError("decode")
	observability.IncInvalidation("applied")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`http_request_duration_seconds_bucket`,
		`cache_op_duration_seconds_count`,
		`hotness_tracked_cells 42`,
		`kafka_consumer_errors_total{stage="decode"} `,
		`invalidation_events_total{outcome="applied"} `,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "cache_results_total", `outcome="hit"`, `source="postgis"`)
	assertHasMetricLine(t, body, "cache_results_total", `outcome="miss"`, `source="postgis"`)
	assertHasMetricLine(t, body, "http_requests_total", `route="/api/clusters"`, `status="200"`)
	assertHasMetricLine(t, body, "price_estimates_total", `method="comparables"`, `region="ch-monthey"`)
	assertHasMetricLine(t, body, "app_build_info", `version="test"`)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("METRICS_ADDR", ":9191")
	t.Setenv("BUILD_VERSION", "")
	cfg := ConfigFromEnv()
	if !cfg.Enabled || cfg.Addr != ":9191" || cfg.Path != "/metrics" || cfg.Build.Version != "dev" {
		t.Fatalf("unexpected cfg %+v", cfg)
	}
}
