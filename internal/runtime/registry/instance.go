package registry

import (
	"fmt"
	"time"
)

// InstanceStatus is the health state of a registered service instance.
type InstanceStatus string

const (
	// StatusHealthy marks an instance that is serving traffic normally.
	StatusHealthy InstanceStatus = "HEALTHY"
	// StatusDegraded marks an instance that failed a recent health probe but
	// is still eligible for discovery.
	StatusDegraded InstanceStatus = "DEGRADED"
	// StatusUnhealthy marks an instance that repeatedly failed health probes.
	// Unhealthy instances are excluded from discovery.
	StatusUnhealthy InstanceStatus = "UNHEALTHY"
	// StatusMaintenance marks an instance deliberately taken out of rotation.
	StatusMaintenance InstanceStatus = "MAINTENANCE"
)

// ServiceInstance is one registered copy of a service.
type ServiceInstance struct {
	ID             string            `json:"id"`
	Service        string            `json:"service"`
	Version        string            `json:"version,omitempty"`
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	HealthCheckURL string            `json:"health_check_url,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Status         InstanceStatus    `json:"status"`

	// FailureCount is maintained by the health checker: consecutive failed
	// probe cycles since the last successful one.
	FailureCount int `json:"failure_count"`

	// RequestCount and ResponseTimeAvg are maintained by RecordCall and feed
	// the least-connections strategy and discovery ordering.
	RequestCount    int64   `json:"request_count"`
	ResponseTimeAvg float64 `json:"response_time_avg_ms"`

	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Address returns the host:port endpoint of the instance.
func (i *ServiceInstance) Address() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// Eligible reports whether the instance may be returned by discovery.
// Unhealthy and maintenance instances are filtered out.
func (i *ServiceInstance) Eligible() bool {
	return i.Status == StatusHealthy || i.Status == StatusDegraded
}

func (i *ServiceInstance) clone() *ServiceInstance {
	cloned := *i
	if i.Metadata != nil {
		cloned.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			cloned.Metadata[k] = v
		}
	}
	return &cloned
}
