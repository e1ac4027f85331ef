package registry

import (
	"errors"
	"testing"
	"time"
)

func testSpec(name string, instances ...*ServiceInstance) ServiceSpec {
	return ServiceSpec{
		Name:       name,
		Instances:  instances,
		HealthPath: "/health",
		Timeout:    5 * time.Second,
		Threshold:  5,
		OpenFor:    5 * time.Minute,
	}
}

func TestResolveUnknownService(t *testing.T) {
	reg := New()
	_, err := reg.Resolve("nope")
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("err = %v, want ErrServiceNotFound", err)
	}
}

func TestResolveRoundRobin(t *testing.T) {
	reg := New()
	reg.Register(testSpec("policy",
		&ServiceInstance{Host: "10.0.0.1", Port: 8001},
		&ServiceInstance{Host: "10.0.0.2", Port: 8001},
	))
	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		base, err := reg.Resolve("policy")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		seen[base]++
	}
	if seen["http://10.0.0.1:8001"] != 2 || seen["http://10.0.0.2:8001"] != 2 {
		t.Fatalf("round robin distribution off: %v", seen)
	}
}

func TestResolveSkipsUnhealthyInstances(t *testing.T) {
	reg := New()
	reg.Register(testSpec("policy",
		&ServiceInstance{Host: "10.0.0.1", Port: 8001},
		&ServiceInstance{Host: "10.0.0.2", Port: 8001},
	))
	reg.SetHealth("policy", "10.0.0.1", 8001, false)
	for i := 0; i < 3; i++ {
		base, err := reg.Resolve("policy")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if base != "http://10.0.0.2:8001" {
			t.Fatalf("resolved %s, want the healthy instance", base)
		}
	}
}

func TestResolveAllUnhealthy(t *testing.T) {
	reg := New()
	reg.Register(testSpec("policy", &ServiceInstance{Host: "10.0.0.1", Port: 8001}))
	reg.SetHealth("policy", "10.0.0.1", 8001, false)
	_, err := reg.Resolve("policy")
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
}

func TestResolveBreakerOpenThenHalfOpen(t *testing.T) {
	reg := New()
	reg.Register(testSpec("policy", &ServiceInstance{Host: "10.0.0.1", Port: 8001}))
	clock := newFakeClock()
	reg.Breaker("policy").now = clock.now

	for i := 0; i < 5; i++ {
		reg.RecordFailure("policy")
	}
	if _, err := reg.Resolve("policy"); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable while open", err)
	}

	clock.advance(5*time.Minute + time.Second)
	base, err := reg.Resolve("policy")
	if err != nil {
		t.Fatalf("resolve after cooldown: %v", err)
	}
	if base != "http://10.0.0.1:8001" {
		t.Fatalf("resolved %s", base)
	}
	if got := reg.Breaker("policy").State().String(); got != "half-open" {
		t.Fatalf("state = %s, want half-open", got)
	}

	reg.RecordSuccess("policy")
	if got := reg.Breaker("policy").State().String(); got != "closed" {
		t.Fatalf("state = %s, want closed", got)
	}
}

func TestStatusSnapshot(t *testing.T) {
	reg := New()
	reg.Register(testSpec("risk",
		&ServiceInstance{Host: "10.0.0.1", Port: 8002},
		&ServiceInstance{Host: "10.0.0.2", Port: 8002},
	))
	reg.SetHealth("risk", "10.0.0.2", 8002, false)
	reg.RecordFailure("risk")

	statuses := reg.Status()
	if len(statuses) != 1 {
		t.Fatalf("len = %d", len(statuses))
	}
	st := statuses[0]
	if st.Name != "risk" || st.Total != 2 || st.Healthy != 1 {
		t.Fatalf("status = %+v", st)
	}
	if st.Breaker.State != "closed" || st.Breaker.Failures != 1 {
		t.Fatalf("breaker = %+v", st.Breaker)
	}
	if st.Breaker.LastFailure == nil {
		t.Fatal("last failure timestamp missing")
	}
}

func TestHealthyCounts(t *testing.T) {
	reg := New()
	reg.Register(testSpec("policy", &ServiceInstance{Host: "10.0.0.1", Port: 8001}))
	reg.Register(testSpec("risk", &ServiceInstance{Host: "10.0.0.1", Port: 8002}))
	reg.SetHealth("risk", "10.0.0.1", 8002, false)
	counts := reg.HealthyCounts()
	if counts["policy"] != 1 || counts["risk"] != 0 {
		t.Fatalf("counts = %v", counts)
	}
}
