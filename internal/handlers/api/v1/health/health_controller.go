package health

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"atbadges/internal/monitoring"
	"atbadges/internal/response"
)

// Status is the liveness payload
type Status struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// HealthController serves liveness and the detailed health report
type HealthController struct {
	dashboard       *monitoring.Dashboard
	responseBuilder *response.Builder
}

// NewHealthController creates a new health controller
func NewHealthController(dashboard *monitoring.Dashboard, responseBuilder *response.Builder) *HealthController {
	return &HealthController{dashboard: dashboard, responseBuilder: responseBuilder}
}

// RegisterRoutes mounts the health routes on the /api/v1 subrouter
func (c *HealthController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", c.Health).Methods(http.MethodGet)
	r.HandleFunc("/health/detailed", c.Detailed).Methods(http.MethodGet)

	// Registered last so a wrong method answers 405 instead of falling
	// through to the router's not-found handler
	r.HandleFunc("/health", c.methodNotAllowed)
	r.HandleFunc("/health/detailed", c.methodNotAllowed)
}

func (c *HealthController) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	c.responseBuilder.WriteMethodNotAllowed(w, r, http.MethodGet)
}

// Health answers as long as the process serves requests
// GET /api/v1/health
func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	c.responseBuilder.WriteSuccess(w, r, Status{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   c.dashboard.GetVersion(),
	})
}

// Detailed reports every component and answers 503 when unhealthy
// GET /api/v1/health/detailed
func (c *HealthController) Detailed(w http.ResponseWriter, r *http.Request) {
	report := c.dashboard.GetSystemHealth(r.Context())

	resp := c.responseBuilder.Success(r.Context(), report)
	status := http.StatusOK
	if report.Status == monitoring.StatusUnhealthy {
		resp.Success = false
		status = http.StatusServiceUnavailable
	}
	c.responseBuilder.WriteJSON(w, r, resp, status)
}
