package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/devrev/pairdb/ringnode/internal/model"
	"go.uber.org/zap"
)

const (
	statusHealthy  = "healthy"
	statusWarning  = "warning"
	statusCritical = "critical"

	backlogWarningRatio = 0.8
)

// StatusSource provides the live figures of a running node
type StatusSource interface {
	HealthMetrics() model.HealthMetrics
}

// HealthChecker performs health checks for the ring node
type HealthChecker struct {
	nodeID         string
	joinConfigured bool
	interval       time.Duration
	source         StatusSource
	logger         *zap.Logger
	mu             sync.RWMutex
	lastCheck      time.Time
	status         model.NodeStatus
	metrics        model.HealthMetrics
	checks         map[string]CheckResult
	livenessOK     bool
	readinessOK    bool
	draining       bool
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	NodeID string
	// JoinConfigured is set when the node was started with an entry address,
	// so staying isolated means the join did not take
	JoinConfigured bool
	Interval       time.Duration
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(cfg *HealthCheckConfig, source StatusSource, logger *zap.Logger) *HealthChecker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &HealthChecker{
		nodeID:         cfg.NodeID,
		joinConfigured: cfg.JoinConfigured,
		interval:       interval,
		source:         source,
		logger:         logger,
		checks:         make(map[string]CheckResult),
		livenessOK:     true,
		status:         model.NodeStatusHealthy,
	}
}

// Start runs the checks periodically until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.runHealthChecks()

	for {
		select {
		case <-ticker.C:
			h.runHealthChecks()
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// runHealthChecks runs all health checks
func (h *HealthChecker) runHealthChecks() {
	m := h.source.HealthMetrics()

	results := []CheckResult{
		checkEventLoop(m),
		h.checkRingMembership(m),
		checkInboxBacklog(m),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastCheck = time.Now()
	h.metrics = m

	allHealthy := true
	allReady := true
	for _, result := range results {
		result.Timestamp = h.lastCheck
		h.checks[result.Name] = result

		if result.Status != statusHealthy {
			allHealthy = false
			if result.Status == statusCritical {
				allReady = false
			}
		}
	}

	switch {
	case !allReady:
		h.status = model.NodeStatusUnhealthy
	case !allHealthy:
		h.status = model.NodeStatusDegraded
	default:
		h.status = model.NodeStatusHealthy
	}

	h.livenessOK = true
	h.readinessOK = allReady && !h.draining

	h.logger.Debug("Health check completed",
		zap.String("status", string(h.status)),
		zap.Bool("liveness", h.livenessOK),
		zap.Bool("readiness", h.readinessOK))
}

func checkEventLoop(m model.HealthMetrics) CheckResult {
	if !m.LoopRunning {
		return CheckResult{
			Name:    "event_loop",
			Status:  statusCritical,
			Message: "Ring node loop is not running",
		}
	}
	return CheckResult{
		Name:    "event_loop",
		Status:  statusHealthy,
		Message: "Ring node loop is running",
	}
}

func (h *HealthChecker) checkRingMembership(m model.HealthMetrics) CheckResult {
	if m.RingState == model.RingStateIsolated && h.joinConfigured {
		return CheckResult{
			Name:    "ring_membership",
			Status:  statusWarning,
			Message: "Node is isolated although an entry address is configured",
		}
	}
	return CheckResult{
		Name:    "ring_membership",
		Status:  statusHealthy,
		Message: fmt.Sprintf("Ring state: %s", m.RingState),
	}
}

func checkInboxBacklog(m model.HealthMetrics) CheckResult {
	if m.InboxCapacity <= 0 {
		return CheckResult{
			Name:    "inbox_backlog",
			Status:  statusHealthy,
			Message: "Inbox is unbuffered",
		}
	}

	usage := float64(m.InboxDepth) / float64(m.InboxCapacity)
	switch {
	case m.InboxDepth >= m.InboxCapacity:
		return CheckResult{
			Name:    "inbox_backlog",
			Status:  statusCritical,
			Message: fmt.Sprintf("Inbox full (%d/%d)", m.InboxDepth, m.InboxCapacity),
		}
	case usage >= backlogWarningRatio:
		return CheckResult{
			Name:    "inbox_backlog",
			Status:  statusWarning,
			Message: fmt.Sprintf("Inbox backlog high: %.0f%% (%d/%d)", usage*100, m.InboxDepth, m.InboxCapacity),
		}
	}
	return CheckResult{
		Name:    "inbox_backlog",
		Status:  statusHealthy,
		Message: fmt.Sprintf("Inbox usage: %.0f%% (%d/%d)", usage*100, m.InboxDepth, m.InboxCapacity),
	}
}

// IsLive returns whether the node is live (liveness probe)
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the node is ready (readiness probe)
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the current health status
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statusLocked()
}

func (h *HealthChecker) statusLocked() model.HealthStatus {
	return model.HealthStatus{
		NodeID:    h.nodeID,
		Status:    h.status,
		Timestamp: h.lastCheck.Unix(),
		Metrics:   h.metrics,
	}
}

// GetChecks returns all check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// SetDraining marks the node as leaving; readiness stays false from then on
func (h *HealthChecker) SetDraining() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.draining = true
	h.readinessOK = false
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	live := h.livenessOK
	status := h.statusLocked()
	h.mu.RUnlock()

	writeProbe(w, live, map[string]interface{}{
		"healthy": live,
		"status":  status.Status,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.readinessOK
	status := h.statusLocked()
	checks := make([]CheckResult, 0, len(h.checks))
	for _, c := range h.checks {
		checks = append(checks, c)
	}
	h.mu.RUnlock()

	writeProbe(w, ready, map[string]interface{}{
		"ready":      ready,
		"status":     status.Status,
		"ring_state": status.Metrics.RingState,
		"checks":     checks,
	})
}

func writeProbe(w http.ResponseWriter, ok bool, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}
