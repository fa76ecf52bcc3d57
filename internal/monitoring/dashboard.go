// File: internal/monitoring/dashboard.go
package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"atbadges/internal/database"

	"go.uber.org/zap"
)

// Component status values
const (
	StatusHealthy     = "healthy"
	StatusDegraded    = "degraded"
	StatusUnhealthy   = "unhealthy"
	StatusUnavailable = "unavailable"
	StatusDisabled    = "disabled"
)

// DatabaseChecker is satisfied by *database.Manager
type DatabaseChecker interface {
	Health(ctx context.Context) *database.HealthStatus
}

// DependencyChecker is satisfied by the external badge service client
type DependencyChecker interface {
	IsAvailable(ctx context.Context) bool
	Source() string
}

// Dashboard assembles the detailed health report
type Dashboard struct {
	db          DatabaseChecker
	badges      DependencyChecker
	logger      *zap.Logger
	startTime   time.Time
	version     string
	environment string
}

// NewDashboard creates a health dashboard. badges may be nil when no
// external badge service is configured.
func NewDashboard(db DatabaseChecker, badges DependencyChecker, logger *zap.Logger, version, environment string) *Dashboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dashboard{
		db:          db,
		badges:      badges,
		logger:      logger,
		startTime:   time.Now(),
		version:     version,
		environment: environment,
	}
}

// SystemHealthResponse represents system health
type SystemHealthResponse struct {
	Status      string                     `json:"status"`
	Timestamp   time.Time                  `json:"timestamp"`
	Uptime      string                     `json:"uptime"`
	Version     string                     `json:"version"`
	Environment string                     `json:"environment"`
	Components  map[string]ComponentHealth `json:"components"`
	Resources   ResourceHealth             `json:"resources"`
	Summary     HealthSummary              `json:"summary"`
}

// ComponentHealth represents health of a system component
type ComponentHealth struct {
	Status       string                 `json:"status"`
	LastCheck    time.Time              `json:"last_check"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ResponseTime time.Duration          `json:"response_time,omitempty"`
}

// ResourceHealth represents process resource usage
type ResourceHealth struct {
	Memory     ResourceMetric `json:"memory"`
	Goroutines ResourceMetric `json:"goroutines"`
}

// ResourceMetric represents a resource metric with its status
type ResourceMetric struct {
	Value  interface{} `json:"value"`
	Unit   string      `json:"unit"`
	Status string      `json:"status"`
}

// HealthSummary provides a high-level summary
type HealthSummary struct {
	HealthyComponents int `json:"healthy_components"`
	TotalComponents   int `json:"total_components"`
}

// GetSystemHealth checks every component and derives the overall status.
// Only the database can make the service unhealthy; an unreachable badge
// service degrades it since every operation falls back to local data.
func (d *Dashboard) GetSystemHealth(ctx context.Context) *SystemHealthResponse {
	start := time.Now()

	response := &SystemHealthResponse{
		Timestamp:   start,
		Uptime:      time.Since(d.startTime).Round(time.Second).String(),
		Version:     d.version,
		Environment: d.environment,
		Components:  make(map[string]ComponentHealth),
	}

	response.Components["database"] = d.checkDatabase(ctx)
	response.Components["badge_service"] = d.checkBadgeService(ctx)
	response.Resources = resourceHealth()
	response.Status = determineOverallStatus(response.Components)

	for _, c := range response.Components {
		if c.Status != StatusDisabled {
			response.Summary.TotalComponents++
		}
		if c.Status == StatusHealthy {
			response.Summary.HealthyComponents++
		}
	}

	d.logger.Debug("System health check completed",
		zap.String("status", response.Status),
		zap.Duration("check_duration", time.Since(start)),
	)

	return response
}

// GetVersion returns the reported application version
func (d *Dashboard) GetVersion() string {
	return d.version
}

func (d *Dashboard) checkDatabase(ctx context.Context) ComponentHealth {
	if d.db == nil {
		return ComponentHealth{Status: StatusUnhealthy, LastCheck: time.Now(), Error: "database not configured"}
	}

	h := d.db.Health(ctx)
	component := ComponentHealth{
		Status:       h.Status,
		LastCheck:    h.Timestamp,
		ResponseTime: h.ResponseTime,
		Details:      h.Details,
	}
	if len(h.Errors) > 0 {
		component.Error = fmt.Sprintf("%d errors: %v", len(h.Errors), h.Errors[0])
	}
	if component.Details == nil {
		component.Details = make(map[string]interface{})
	}
	component.Details["connection_count"] = h.ConnectionCount
	return component
}

func (d *Dashboard) checkBadgeService(ctx context.Context) ComponentHealth {
	start := time.Now()
	if d.badges == nil {
		return ComponentHealth{Status: StatusDisabled, LastCheck: start}
	}

	component := ComponentHealth{
		Status:    StatusHealthy,
		LastCheck: start,
		Details:   map[string]interface{}{"source": d.badges.Source()},
	}
	if !d.badges.IsAvailable(ctx) {
		component.Status = StatusUnavailable
		component.Error = "health probe failed"
	}
	component.ResponseTime = time.Since(start)
	return component
}

func determineOverallStatus(components map[string]ComponentHealth) string {
	db := components["database"].Status
	switch {
	case db == StatusUnhealthy:
		return StatusUnhealthy
	case db == StatusDegraded:
		return StatusDegraded
	case components["badge_service"].Status == StatusUnavailable:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func resourceHealth() ResourceHealth {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()

	return ResourceHealth{
		Memory: ResourceMetric{
			Value:  formatBytes(mem.Alloc),
			Unit:   "bytes",
			Status: getResourceStatus(float64(mem.Alloc), 512<<20, 1<<30),
		},
		Goroutines: ResourceMetric{
			Value:  goroutines,
			Unit:   "count",
			Status: getResourceStatus(float64(goroutines), 1000, 2000),
		},
	}
}

func getResourceStatus(value, warningThreshold, criticalThreshold float64) string {
	switch {
	case value >= criticalThreshold:
		return "critical"
	case value >= warningThreshold:
		return "warning"
	default:
		return "healthy"
	}
}

// formatBytes formats bytes in human-readable format
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
