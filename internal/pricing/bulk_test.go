package pricing

import (
	"context"
	"fmt"
	"testing"
)

func TestEstimateMany_PreservesOrder(t *testing.T) {
	e := NewEngine(MustBuiltin(), WithWorkers(4), WithComparables(&fakeComparables{prices: twelve}))
	ins := make([]Input, 37)
	for i := range ins {
		ins[i] = Input{SubjectID: fmt.Sprintf("h%d", i), Region: "ch-monthey"}
	}
	out := e.EstimateMany(t.Context(), ins)
	if len(out) != len(ins) {
		t.Fatalf("len got=%d want=%d", len(out), len(ins))
	}
	for i, est := range out {
		if est.SubjectID != ins[i].SubjectID {
			t.Fatalf("out[%d] subject got=%s want=%s", i, est.SubjectID, ins[i].SubjectID)
		}
		if est.Method != MethodAggregated {
			t.Fatalf("out[%d] method got=%s", i, est.Method)
		}
	}
}

func TestEstimateMany_CanceledFallsBack(t *testing.T) {
	comps := &fakeComparables{prices: twelve}
	e := NewEngine(MustBuiltin(), WithComparables(comps))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	out := e.EstimateMany(ctx, []Input{{SubjectID: "a", Region: "sion"}, {SubjectID: "b", Region: "sion"}})
	for i, est := range out {
		if est.Method != MethodFallback || est.PricePerArea != 8500 {
			t.Fatalf("out[%d] got method=%s price=%v", i, est.Method, est.PricePerArea)
		}
	}
	if comps.calls != 0 {
		t.Fatalf("comparables must not be queried after cancel, calls=%d", comps.calls)
	}
}

func TestEstimateMany_Empty(t *testing.T) {
	if out := NewEngine(MustBuiltin()).EstimateMany(t.Context(), nil); len(out) != 0 {
		t.Fatalf("expected empty result, got %d", len(out))
	}
}
