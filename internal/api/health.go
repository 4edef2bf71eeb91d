package api

import (
	"context"
	"time"
)

// HealthChecker probes one backing dependency for GET /health.
type HealthChecker interface {
	Check(ctx context.Context) error
	Name() string
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Providers []string               `json:"providers,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CheckFunc adapts a ping function to HealthChecker. Redis clients and
// database handles are wired this way by the serve command.
type CheckFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (c CheckFunc) Name() string { return c.Label }

func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// PingerCheck builds a checker from anything with a PingContext method, such
// as *sql.DB.
func PingerCheck(name string, p interface{ PingContext(context.Context) error }) HealthChecker {
	return CheckFunc{Label: name, Fn: p.PingContext}
}

// runHealthChecks runs every checker concurrently and reports whether all of
// them passed. A checker that outlives ctx is reported as failed.
func runHealthChecks(ctx context.Context, checkers []HealthChecker) (map[string]CheckResult, bool) {
	type named struct {
		name   string
		result CheckResult
	}

	ch := make(chan named, len(checkers))
	for _, c := range checkers {
		go func() {
			start := time.Now()
			res := CheckResult{Status: "ok"}
			if err := c.Check(ctx); err != nil {
				res = CheckResult{Status: "error", Error: err.Error()}
			}
			res.Duration = time.Since(start).String()
			ch <- named{c.Name(), res}
		}()
	}

	results := make(map[string]CheckResult, len(checkers))
	healthy := true
	for range checkers {
		n := <-ch
		results[n.name] = n.result
		healthy = healthy && n.result.Status == "ok"
	}
	return results, healthy
}
