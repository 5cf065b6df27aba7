package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
)

type readinessResp struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Readiness pings every check concurrently and answers 503 when any fails.
func Readiness(checks map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	slices.Sort(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		results := make([]string, len(names))
		var wg sync.WaitGroup
		for i, n := range names {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := checks[n].Ping(ctx); err != nil {
					results[i] = err.Error()
					return
				}
				results[i] = "ok"
			}()
		}
		wg.Wait()

		out := readinessResp{Status: "ready"}
		if len(names) > 0 {
			out.Checks = make(map[string]string, len(names))
		}
		for i, n := range names {
			out.Checks[n] = results[i]
			if results[i] != "ok" {
				out.Status = "not_ready"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
