package application

import (
	"encoding/json"
	"maps"
	"sync"
	"time"
)

// ServiceStatus represents the lifecycle state of a service.
type ServiceStatus string

const (
	// ServiceStatusNotStarted indicates service has not started yet.
	ServiceStatusNotStarted ServiceStatus = "NOT_STARTED"
	// ServiceStatusStarted indicates service is currently running.
	ServiceStatusStarted ServiceStatus = "STARTED"
	// ServiceStatusError indicates service finished with an error.
	ServiceStatusError ServiceStatus = "ERROR"
)

// ServiceHealth contains health information for a single service.
type ServiceHealth struct {
	Status    ServiceStatus `json:"status"`
	StartedAt *time.Time    `json:"startedAt"`
	StoppedAt *time.Time    `json:"stoppedAt,omitempty"`
	Error     string        `json:"error,omitempty"`
	Data      any           `json:"data,omitempty"`
}

// Health contains overall application health, service states and the last
// known migration status of every registered database.
type Health struct {
	StartedAt time.Time                  `json:"startedAt"`
	Services  map[string]*ServiceHealth  `json:"services"`
	Databases map[string]*DatabaseStatus `json:"databases,omitempty"`

	mu sync.Mutex
}

// NewHealth creates a Health with initialized storage.
func NewHealth() *Health {
	return &Health{Services: make(map[string]*ServiceHealth)}
}

// AddService registers a service in the not started state.
func (h *Health) AddService(serviceName string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Services[serviceName] = &ServiceHealth{Status: ServiceStatusNotStarted}
}

// StartService marks the given service as started and stores start time.
func (h *Health) StartService(serviceName string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if service, ok := h.Services[serviceName]; ok {
		service.Status = ServiceStatusStarted

		st := time.Now()
		service.StartedAt = &st
	}
}

// FailService marks the given service as failed and stores the error.
func (h *Health) FailService(serviceName string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if service, ok := h.Services[serviceName]; ok {
		service.Status = ServiceStatusError

		st := time.Now()
		service.StoppedAt = &st

		service.Error = err.Error()
	}
}

// SetServiceData stores additional health payload for the given service.
func (h *Health) SetServiceData(serviceName string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if service, ok := h.Services[serviceName]; ok {
		service.Data = data
	}
}

// SetDatabases replaces the migration status of the databases.
func (h *Health) SetDatabases(statuses map[string]*DatabaseStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(statuses) == 0 {
		h.Databases = nil
		return
	}
	h.Databases = maps.Clone(statuses)
}

func (h *Health) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, _ := json.Marshal(h)
	return string(b)
}

// StartApplication marks application start time.
func (h *Health) StartApplication() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.StartedAt = time.Now()
}
