package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Armour007/grc-gateway/internal/registry"
)

func TestHealthEndpoint(t *testing.T) {
	cfg := testConfig(nil)
	reg := registry.New()
	reg.Register(registry.ServiceSpec{
		Name:      "policy",
		Instances: []*registry.ServiceInstance{{Host: "10.0.0.1", Port: 8001}},
		Threshold: 5, OpenFor: cfg.CBOpenFor,
	})
	_, router := newTestRouter(cfg, reg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Status   string         `json:"status"`
		Service  string         `json:"service"`
		Services map[string]int `json:"services"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %s", w.Body.String())
	}
	if body.Status != "ok" || body.Service != "grc-gateway" {
		t.Fatalf("body = %+v", body)
	}
	if body.Services["policy"] != 1 {
		t.Fatalf("services = %v", body.Services)
	}
}

func TestServicesStatusEndpoint(t *testing.T) {
	cfg := testConfig(nil)
	reg := registry.New()
	reg.Register(registry.ServiceSpec{
		Name:      "risk",
		Instances: []*registry.ServiceInstance{{Host: "10.0.0.1", Port: 8002}},
		Threshold: 5, OpenFor: cfg.CBOpenFor,
	})
	reg.RecordFailure("risk")
	_, router := newTestRouter(cfg, reg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Services []registry.ServiceStatus `json:"services"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %s", w.Body.String())
	}
	if len(body.Services) != 1 {
		t.Fatalf("services = %+v", body.Services)
	}
	st := body.Services[0]
	if st.Name != "risk" || st.Total != 1 || st.Breaker.Failures != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestServiceHealthOnDemandProbe(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cfg := testConfig(nil)
	reg := registry.New()
	registerService(reg, cfg, "policy", instanceFromURL(t, upstream.URL), 0)
	_, router := newTestRouter(cfg, reg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services/policy/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var body struct {
		Service string `json:"service"`
		Total   int    `json:"total_instances"`
		Healthy int    `json:"healthy_instances"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %s", w.Body.String())
	}
	if body.Service != "policy" || body.Healthy != 1 {
		t.Fatalf("body = %+v", body)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services/nope/health", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown service", w.Code)
	}
}

func TestServicesEndpointListsInstances(t *testing.T) {
	cfg := testConfig(nil)
	reg := registry.New()
	reg.Register(registry.ServiceSpec{
		Name:      "compliance",
		Instances: []*registry.ServiceInstance{{Host: "10.0.0.1", Port: 8003}},
		Threshold: 5, OpenFor: cfg.CBOpenFor,
	})
	_, router := newTestRouter(cfg, reg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Services map[string][]registry.ServiceInstance `json:"services"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %s", w.Body.String())
	}
	instances := body.Services["compliance"]
	if len(instances) != 1 || instances[0].Host != "10.0.0.1" || instances[0].Port != 8003 {
		t.Fatalf("instances = %+v", instances)
	}
}
