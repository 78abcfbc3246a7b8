package model

// HealthStatus represents the health state of a ring node
type HealthStatus struct {
	NodeID    string
	Status    NodeStatus
	Timestamp int64
	Metrics   HealthMetrics
}

// NodeStatus defines the operational status of a node
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusDegraded  NodeStatus = "degraded"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
)

// HealthMetrics contains the figures the health checks are derived from
type HealthMetrics struct {
	RingState     RingState
	InboxDepth    int
	InboxCapacity int
	LoopRunning   bool
}
