package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrServiceNotFound means the requested service name is not registered.
	ErrServiceNotFound = errors.New("service not found")
	// ErrServiceUnavailable means the service is registered but cannot take
	// traffic right now: breaker open or no healthy instances.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ServiceInstance is one network-reachable backend of a logical service.
type ServiceInstance struct {
	Name        string    `json:"name"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Healthy     bool      `json:"healthy"`
	LastChecked time.Time `json:"last_checked"`
}

// BaseURL returns the http base URL of the instance.
func (si *ServiceInstance) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", si.Host, si.Port)
}

// ServiceSpec describes one service to register.
type ServiceSpec struct {
	Name       string
	Instances  []*ServiceInstance
	HealthPath string
	Timeout    time.Duration
	Threshold  int
	OpenFor    time.Duration
}

type serviceEntry struct {
	instances  []*ServiceInstance
	breaker    *CircuitBreaker
	healthPath string
	timeout    time.Duration
	rrCursor   int
}

// Registry is the in-memory directory of backend services: instances, health
// state, and one circuit breaker per service. All mutation goes through the
// exported methods; instances start healthy until a probe proves otherwise.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*serviceEntry

	onBreakerChange func(name string, open bool)
}

// Option configures a Registry.
type Option func(*Registry)

// WithBreakerListener installs a callback invoked on every breaker state
// change (used to export the state as a metric).
func WithBreakerListener(fn func(name string, open bool)) Option {
	return func(r *Registry) { r.onBreakerChange = fn }
}

// New builds an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{services: make(map[string]*serviceEntry)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a service and its instances. Instances begin healthy
// (healthy-until-proven-otherwise); the health checker corrects them.
func (r *Registry) Register(spec ServiceSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range spec.Instances {
		inst.Name = spec.Name
		inst.Healthy = true
	}
	r.services[spec.Name] = &serviceEntry{
		instances:  spec.Instances,
		breaker:    newCircuitBreaker(spec.Name, spec.Threshold, spec.OpenFor, r.onBreakerChange),
		healthPath: spec.HealthPath,
		timeout:    spec.Timeout,
	}
}

// Resolve picks a usable base URL for the named service. It enforces the
// circuit breaker (an elapsed open cooldown flips to half-open and lets the
// call through) and round-robins across the healthy instances.
func (r *Registry) Resolve(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.services[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if !entry.breaker.Allow() {
		return "", fmt.Errorf("%w: %s: circuit breaker open", ErrServiceUnavailable, name)
	}
	healthy := make([]*ServiceInstance, 0, len(entry.instances))
	for _, inst := range entry.instances {
		if inst.Healthy {
			healthy = append(healthy, inst)
		}
	}
	if len(healthy) == 0 {
		return "", fmt.Errorf("%w: %s: no healthy instances", ErrServiceUnavailable, name)
	}
	inst := healthy[entry.rrCursor%len(healthy)]
	entry.rrCursor++
	return inst.BaseURL(), nil
}

// RecordSuccess reports a successful call to the service's breaker.
func (r *Registry) RecordSuccess(name string) {
	if b := r.breaker(name); b != nil {
		b.ReportSuccess()
	}
}

// RecordFailure reports a failed call to the service's breaker.
func (r *Registry) RecordFailure(name string) {
	if b := r.breaker(name); b != nil {
		b.ReportFailure()
	}
}

// Breaker returns the breaker for a service, or nil if unknown. Exposed for
// status reporting; traffic paths should go through Resolve/Record*.
func (r *Registry) Breaker(name string) *CircuitBreaker {
	return r.breaker(name)
}

func (r *Registry) breaker(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.services[name]; ok {
		return entry.breaker
	}
	return nil
}

// SetHealth updates one instance's health flag and last-checked timestamp.
// Only the health checker calls this.
func (r *Registry) SetHealth(name, host string, port int, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.services[name]
	if !ok {
		return
	}
	for _, inst := range entry.instances {
		if inst.Host == host && inst.Port == port {
			inst.Healthy = healthy
			inst.LastChecked = time.Now()
		}
	}
}

// ServiceNames lists registered service names.
func (r *Registry) ServiceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

// Instances returns copies of the instances registered for a service.
func (r *Registry) Instances(name string) ([]ServiceInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.services[name]
	if !ok {
		return nil, false
	}
	out := make([]ServiceInstance, 0, len(entry.instances))
	for _, inst := range entry.instances {
		out = append(out, *inst)
	}
	return out, true
}

// HealthPath returns the configured probe path for a service.
func (r *Registry) HealthPath(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.services[name]; ok {
		return entry.healthPath
	}
	return "/health"
}

// Timeout returns the per-service upstream timeout, or zero when the global
// default should apply.
func (r *Registry) Timeout(name string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.services[name]; ok {
		return entry.timeout
	}
	return 0
}

// ServiceStatus is the per-service detail for the status endpoint.
type ServiceStatus struct {
	Name      string            `json:"name"`
	Total     int               `json:"total_instances"`
	Healthy   int               `json:"healthy_instances"`
	Breaker   BreakerSnapshot   `json:"circuit_breaker"`
	Instances []ServiceInstance `json:"instances"`
}

// Status reports a snapshot of every registered service.
func (r *Registry) Status() []ServiceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServiceStatus, 0, len(r.services))
	for name, entry := range r.services {
		st := ServiceStatus{Name: name, Total: len(entry.instances), Breaker: entry.breaker.snapshot()}
		for _, inst := range entry.instances {
			if inst.Healthy {
				st.Healthy++
			}
			st.Instances = append(st.Instances, *inst)
		}
		out = append(out, st)
	}
	return out
}

// HealthyCounts maps each service name to its healthy instance count.
func (r *Registry) HealthyCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.services))
	for name, entry := range r.services {
		n := 0
		for _, inst := range entry.instances {
			if inst.Healthy {
				n++
			}
		}
		out[name] = n
	}
	return out
}
