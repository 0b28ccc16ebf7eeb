package runtime

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ReadyCheck is a named dependency check used by /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

const readyCheckTimeout = 2 * time.Second

// Healthz reports liveness only.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadyHandler runs every check in parallel and answers 503 listing the
// failures when any of them errors.
func ReadyHandler(checks ...ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		failures := RunChecks(r.Context(), checks...)
		if len(failures) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(strings.Join(failures, "; ")))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// RunChecks returns "name: error" for each failing check, in check order.
func RunChecks(ctx context.Context, checks ...ReadyCheck) []string {
	results := make([]string, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		if check.Check == nil {
			continue
		}
		wg.Add(1)
		go func(i int, check ReadyCheck) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, readyCheckTimeout)
			defer cancel()
			if err := check.Check(cctx); err != nil {
				name := check.Name
				if name == "" {
					name = "dependency"
				}
				results[i] = name + ": " + err.Error()
			}
		}(i, check)
	}
	wg.Wait()

	var failures []string
	for _, f := range results {
		if f != "" {
			failures = append(failures, f)
		}
	}
	return failures
}
