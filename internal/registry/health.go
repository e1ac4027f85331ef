package registry

import (
	"context"
	"log"
	"net/http"
	"time"
)

// Checker periodically probes every registered instance and feeds the results
// back into the registry: instance health flags and the per-service circuit
// breaker. Probe failures mark the instance unhealthy but never stop the loop.
type Checker struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
}

// NewChecker builds a health checker for the registry. The timeout bounds a
// single probe; the interval is the sleep between full sweeps.
func NewChecker(reg *Registry, interval, timeout time.Duration) *Checker {
	return &Checker{
		registry: reg,
		interval: interval,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

// Run loops until ctx is cancelled. One sweep runs immediately so the
// registry does not serve stale "healthy-until-proven-otherwise" flags for a
// full interval after startup. Cancellation interrupts the sleep between
// sweeps, not a probe in flight.
func (hc *Checker) Run(ctx context.Context) {
	hc.sweep(ctx)
	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (hc *Checker) sweep(ctx context.Context) {
	for _, name := range hc.registry.ServiceNames() {
		if ctx.Err() != nil {
			return
		}
		hc.ProbeService(ctx, name)
	}
}

// ProbeService probes every instance of one service and returns the number
// found healthy. Also used by the on-demand /services/:name/health endpoint.
func (hc *Checker) ProbeService(ctx context.Context, name string) int {
	instances, ok := hc.registry.Instances(name)
	if !ok {
		return 0
	}
	path := hc.registry.HealthPath(name)
	healthy := 0
	for i := range instances {
		inst := &instances[i]
		ok := hc.probe(ctx, inst.BaseURL()+path)
		hc.registry.SetHealth(name, inst.Host, inst.Port, ok)
		if ok {
			healthy++
			hc.registry.RecordSuccess(name)
		} else {
			hc.registry.RecordFailure(name)
		}
	}
	return healthy
}

func (hc *Checker) probe(ctx context.Context, url string) bool {
	pctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := hc.client.Do(req)
	if err != nil {
		log.Printf("health probe failed for %s: %v", url, err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
