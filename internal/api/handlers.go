package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleHealth is the gateway's own liveness endpoint. Always 200; the
// per-service counts let dashboards spot a degraded platform at a glance.
func (gw *Gateway) HandleHealth(c *gin.Context) {
	counts := gw.Registry.HealthyCounts()
	for name, n := range counts {
		SetHealthyInstances(name, n)
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"service":  "grc-gateway",
		"services": counts,
	})
}

// HandleServices lists the configured services and their registry entries.
func (gw *Gateway) HandleServices(c *gin.Context) {
	out := gin.H{}
	for _, name := range gw.Registry.ServiceNames() {
		instances, _ := gw.Registry.Instances(name)
		out[name] = instances
	}
	c.JSON(http.StatusOK, gin.H{"services": out})
}

// HandleServicesStatus reports instance counts, breaker state, and
// per-instance detail for every service.
func (gw *Gateway) HandleServicesStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": gw.Registry.Status()})
}

// HandleServiceHealth probes one named service on demand.
func (gw *Gateway) HandleServiceHealth(c *gin.Context) {
	name := c.Param("name")
	instances, ok := gw.Registry.Instances(name)
	if !ok {
		abortError(c, http.StatusNotFound, CodeNotFound, "unknown service: "+name, nil)
		return
	}
	healthy := gw.Checker.ProbeService(c.Request.Context(), name)
	c.JSON(http.StatusOK, gin.H{
		"service":           name,
		"total_instances":   len(instances),
		"healthy_instances": healthy,
	})
}
