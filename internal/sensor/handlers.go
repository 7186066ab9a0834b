package sensor

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/jsonsafe"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/metrics"
)

// Handlers serves the sensor registry.
type Handlers struct {
	registry *Registry
	metrics  *metrics.Metrics
	root     string
}

// NewHandlers creates the sensor handlers mounted under root.
func NewHandlers(registry *Registry, root string, m *metrics.Metrics) *Handlers {
	return &Handlers{
		registry: registry,
		metrics:  m,
		root:     "/" + strings.Trim(root, "/"),
	}
}

// RegisterRoutes sets up the sensor routes.
func (h *Handlers) RegisterRoutes(router gin.IRouter) {
	router.GET(h.root, h.listSensors)
	router.GET(h.root+"/:name", h.getSensor)
}

// listSensors reads every sensor. Failures are reported inline.
func (h *Handlers) listSensors(c *gin.Context) {
	values := make(map[string]any)
	for _, name := range h.registry.Names() {
		v, err := h.registry.Read(c.Request.Context(), name)
		h.metrics.ObserveSensor(name, err)
		if err != nil {
			values[name] = gin.H{"error": err.Error()}
			continue
		}
		values[name] = jsonsafe.Sanitize(v)
	}
	c.JSON(http.StatusOK, values)
}

func (h *Handlers) getSensor(c *gin.Context) {
	name := c.Param("name")
	v, err := h.registry.Read(c.Request.Context(), name)
	if errors.Is(err, ErrUnknownSensor) {
		c.JSON(http.StatusNotFound, gin.H{"error": "sensor not found: " + name})
		return
	}
	h.metrics.ObserveSensor(name, err)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, jsonsafe.Sanitize(v))
}
