// Package health aggregates component probes into one tagged report.
package health

import (
	"context"
	"sync"
	"time"

	"listing_watcher/internal/domain"
)

const defaultProbeTimeout = 3 * time.Second

type Result struct {
	Status domain.HealthStatus `json:"status"`
	Detail string              `json:"detail,omitempty"`
}

type ProbeFunc func(ctx context.Context) Result

type Report struct {
	Status    domain.HealthStatus `json:"status"`
	Checks    map[string]Result   `json:"checks"`
	CheckedAt time.Time           `json:"checked_at"`
}

type probe struct {
	name     string
	critical bool
	fn       ProbeFunc
}

type Checker struct {
	mu      sync.RWMutex
	probes  []probe
	timeout time.Duration
}

func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Checker{timeout: timeout}
}

// Register adds a probe. An unavailable critical probe makes the whole report unavailable;
// an unavailable non-critical probe only degrades it.
func (c *Checker) Register(name string, critical bool, fn ProbeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes = append(c.probes, probe{name: name, critical: critical, fn: fn})
}

func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	probes := append([]probe(nil), c.probes...)
	c.mu.RUnlock()

	report := Report{
		Status:    domain.HealthHealthy,
		Checks:    make(map[string]Result, len(probes)),
		CheckedAt: time.Now().UTC(),
	}

	for _, p := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
		res := p.fn(probeCtx)
		cancel()

		report.Checks[p.name] = res

		effective := res.Status
		if effective == domain.HealthUnavailable && !p.critical {
			effective = domain.HealthDegraded
		}
		if effective.Rank() > report.Status.Rank() {
			report.Status = effective
		}
	}

	return report
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// Database reports unavailable when the ping fails.
func Database(db pinger) ProbeFunc {
	return func(ctx context.Context) Result {
		if err := db.PingContext(ctx); err != nil {
			return Result{Status: domain.HealthUnavailable, Detail: err.Error()}
		}
		return Result{Status: domain.HealthHealthy}
	}
}

// Running reports degraded while the component is stopped.
func Running(running func() bool) ProbeFunc {
	return func(context.Context) Result {
		if !running() {
			return Result{Status: domain.HealthDegraded, Detail: "not running"}
		}
		return Result{Status: domain.HealthHealthy}
	}
}

type connection interface {
	Connected() bool
}

// Publisher reports degraded when the broker connection is absent or closed.
func Publisher(conn connection) ProbeFunc {
	return func(context.Context) Result {
		if conn == nil {
			return Result{Status: domain.HealthDegraded, Detail: "publisher disabled"}
		}
		if !conn.Connected() {
			return Result{Status: domain.HealthDegraded, Detail: "connection closed"}
		}
		return Result{Status: domain.HealthHealthy}
	}
}
