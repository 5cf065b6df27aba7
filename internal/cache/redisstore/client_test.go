package redisstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/price-cluster-map/internal/cache"
	"github.com/mohammed-shakir/price-cluster-map/internal/core/observability"
	"github.com/mohammed-shakir/price-cluster-map/internal/metrics"
)

var _ cache.Interface = (*Store)(nil)

func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestNew_RequiresAddrAndReachableServer(t *testing.T) {
	if _, err := New(t.Context(), ""); err == nil {
		t.Fatalf("expected error for empty addr")
	}
	ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
	defer cancel()
	if _, err := New(ctx, "127.0.0.1:1", WithDialTimeout(100*time.Millisecond)); err == nil {
		t.Fatalf("expected ping error for closed port")
	}
}

func TestSetMGetDel_MGetFiltersMissing(t *testing.T) {
	rc, _ := newMini(t)
	ctx := t.Context()

	if err := rc.Set(ctx, "k1", []byte("v1"), 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := rc.MSetWithTTL(ctx, map[string][]byte{"k2": []byte("v2"), "k3": []byte("v3")}, time.Minute); err != nil {
		t.Fatalf("MSetWithTTL: %v", err)
	}

	got, err := rc.MGet(ctx, []string{"k1", "k2", "k3", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 3 || string(got["k1"]) != "v1" || string(got["k3"]) != "v3" {
		t.Fatalf("unexpected values: %+v", got)
	}

	if err := rc.Del(ctx, "k1", "k2"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	got, err = rc.MGet(ctx, []string{"k1", "k2", "k3"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("after Del got=%v want only k3", got)
	}
}

func TestTTLExpiry(t *testing.T) {
	rc, mr := newMini(t)
	ctx := t.Context()

	if err := rc.Set(ctx, "ttl-key", []byte("v"), 2*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(3 * time.Second)

	got, err := rc.MGet(ctx, []string{"ttl-key"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if _, ok := got["ttl-key"]; ok {
		t.Fatalf("expected ttl-key to be absent after expiry; got=%v", got)
	}
}

func TestCanceledContext_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected error on Set with canceled context")
	}
	if _, err := rc.MGet(ctx, []string{"k"}); err == nil {
		t.Fatalf("expected error on MGet with canceled context")
	}
	if err := rc.Del(ctx, "k"); err == nil {
		t.Fatalf("expected error on Del with canceled context")
	}
}

func TestStore_AdaptsClient(t *testing.T) {
	rc, mr := newMini(t)
	s := NewStore(rc, 0)

	if err := s.Set("pricemap:est:a", []byte(`{"p":1}`), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := cache.Get(s, "pricemap:est:a")
	if err != nil || !ok || string(v) != `{"p":1}` {
		t.Fatalf("Get v=%q ok=%v err=%v", v, ok, err)
	}
	if err := s.Del("pricemap:est:a"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if mr.Exists("pricemap:est:a") {
		t.Fatalf("key still present after Del")
	}
	if err := s.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	mr.Close()
	if _, err := s.MGet([]string{"x"}); err == nil {
		t.Fatalf("expected error once redis is gone")
	}
}

func TestMetrics_Recorded(t *testing.T) {
	p := metrics.Init(metrics.Config{})
	observability.Init(p.Registerer(), true)

	rc, _ := newMini(t)
	ctx := t.Context()

	_ = rc.Set(ctx, "m1", []byte("x"), time.Minute)
	_, _ = rc.MGet(ctx, []string{"m1", "m2"})
	_ = rc.Del(ctx, "m1")

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`cache_op_duration_seconds_bucket{op="set",result="ok"`,
		`cache_op_duration_seconds_bucket{op="mget",result="ok"`,
		`cache_op_duration_seconds_bucket{op="del",result="ok"`,
		`cache_results_total{outcome="hit"`,
		`cache_results_total{outcome="miss"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q; got:\n%s", want, body)
		}
	}
}
