package router

import (
	"net/http/httptest"
	"testing"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/model"
)

func TestParseBBox(t *testing.T) {
	want := model.BBox{X1: 6.8, Y1: 46.1, X2: 7.2, Y2: 46.4}
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"6.8,46.1,7.2,46.4", false},
		{" 6.8, 46.1, 7.2, 46.4 ,epsg:4326", false},
		{"6.8,46.1,7.2,46.4,EPSG:3857", true},
		{"6.8,46.1,7.2", true},
		{"7.2,46.1,6.8,46.4", true},
		{"6.8,46.1,7.2,abc", true},
		{"6.8,46.1,7.2,95", true},
		{"", true},
	}
	for _, tc := range cases {
		got, err := parseBBox(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected err: %v", tc.in, err)
		}
		if got != want {
			t.Fatalf("%q: got=%+v want=%+v", tc.in, got, want)
		}
	}
}

func TestParseZoom(t *testing.T) {
	if z, err := parseZoom(""); err != nil || z != 14 {
		t.Fatalf("default zoom: got=%d err=%v", z, err)
	}
	if z, err := parseZoom("22"); err != nil || z != 22 {
		t.Fatalf("zoom 22: got=%d err=%v", z, err)
	}
	for _, bad := range []string{"-1", "23", "ten", "1.5"} {
		if _, err := parseZoom(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?limit=5000&offset=-2", nil)
	if n, err := queryInt(r, "limit", 100, 1000); err != nil || n != 1000 {
		t.Fatalf("limit capped: got=%d err=%v", n, err)
	}
	if _, err := queryInt(r, "offset", 0, 10); err == nil {
		t.Fatalf("expected error for negative offset")
	}
	if n, _ := queryInt(r, "missing", 7, 10); n != 7 {
		t.Fatalf("default: got=%d", n)
	}
}
