package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"music-stream/backend/pkg/logger"
	"music-stream/backend/pkg/resilience"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
	// StatusDegraded indicates a component is working but with reduced functionality
	StatusDegraded Status = "degraded"
)

const checkTimeout = 5 * time.Second

// Component represents a system component that can be health-checked
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Critical    bool      `json:"critical"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check represents a health check function
type Check func(ctx context.Context) (Status, string, error)

// Checker manages health checks for the system
type Checker struct {
	checks      map[string]Check
	components  map[string]*Component
	checkPeriod time.Duration
	mutex       sync.RWMutex
	log         *logger.Logger
}

// NewChecker creates a new health checker
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	if log == nil {
		log = logger.GetGlobal()
	}
	if checkPeriod <= 0 {
		checkPeriod = 30 * time.Second
	}

	checker := &Checker{
		checks:      make(map[string]Check),
		components:  make(map[string]*Component),
		checkPeriod: checkPeriod,
		log:         log,
	}

	checker.RegisterCheck("self", false, func(context.Context) (Status, string, error) {
		return StatusUp, "Health checker is running", nil
	})

	return checker
}

// RegisterCheck registers a new health check. The system is unhealthy while
// any critical component is down.
func (c *Checker) RegisterCheck(name string, critical bool, check Check) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.checks[name] = check
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Critical:    critical,
		Description: "Not checked yet",
	}
}

// RunChecks executes all registered health checks
func (c *Checker) RunChecks(ctx context.Context) {
	c.mutex.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mutex.RUnlock()

	// checks run without the lock so a slow dependency does not block readers
	for name, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		status, description, err := check(checkCtx)
		cancel()

		c.mutex.Lock()
		component := c.components[name]
		component.Status = status
		component.Description = description
		component.LastChecked = time.Now()
		if err != nil {
			component.Error = err.Error()
		} else {
			component.Error = ""
		}
		c.mutex.Unlock()

		if err != nil {
			c.log.Error("health check failed",
				"component", name,
				"status", string(status),
				"error", err.Error(),
			)
		}
	}
}

// Start runs the checks immediately and then periodically until ctx is done
func (c *Checker) Start(ctx context.Context) {
	go func() {
		c.RunChecks(ctx)

		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.RunChecks(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// GetStatus returns a copy of the current component states
func (c *Checker) GetStatus() map[string]*Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make(map[string]*Component, len(c.components))
	for k, v := range c.components {
		componentCopy := *v
		result[k] = &componentCopy
	}

	return result
}

// IsSystemHealthy returns true if all critical components are up
func (c *Checker) IsSystemHealthy() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, component := range c.components {
		if component.Critical && component.Status == StatusDown {
			return false
		}
	}

	return true
}

// HTTPHandler returns an HTTP handler for health checks
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthy := c.IsSystemHealthy()

		w.Header().Set("Content-Type", "application/json")
		status := "ok"
		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			status = "unavailable"
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		response := map[string]any{
			"status":     status,
			"timestamp":  time.Now(),
			"components": c.GetStatus(),
		}

		if err := json.NewEncoder(w).Encode(response); err != nil {
			c.log.Error("failed to encode health check response", "error", err.Error())
		}
	}
}

// RegisterDatabaseCheck registers the critical database check
func (c *Checker) RegisterDatabaseCheck(ping func(ctx context.Context) error) {
	c.RegisterCheck("database", true, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDown, "Database connection failed", err
		}
		return StatusUp, "Database connection is established", nil
	})
}

// RegisterRedisCheck registers the profile cache check. Redis is optional
// so a failure only degrades the service.
func (c *Checker) RegisterRedisCheck(ping func(ctx context.Context) error) {
	c.RegisterCheck("redis", false, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDegraded, "Redis unreachable, profile cache disabled", err
		}
		return StatusUp, "Redis is reachable", nil
	})
}

// RegisterBreakerCheck reports the state of a circuit breaker
func (c *Checker) RegisterBreakerCheck(breaker *resilience.CircuitBreaker) {
	c.RegisterCheck("breaker-"+breaker.Name(), false, func(context.Context) (Status, string, error) {
		m := breaker.GetMetrics()
		counts := fmt.Sprintf("%v requests, %v failures, %v rejected, opened %v times",
			m["total_requests"], m["total_failures"], m["total_rejected"], m["open_circuit_count"])
		switch breaker.GetState() {
		case resilience.StateOpen:
			return StatusDegraded, "Circuit open, calls are rejected (" + counts + ")", nil
		case resilience.StateHalfOpen:
			return StatusDegraded, "Circuit half-open, trial calls only (" + counts + ")", nil
		default:
			return StatusUp, "Circuit closed (" + counts + ")", nil
		}
	})
}

// RealtimeStats is what the realtime gateway exposes for health reporting
type RealtimeStats interface {
	Running() bool
	ActiveConnections() int64
	OnlineUsers() int
}

// RegisterRealtimeCheck reports the websocket gateway
func (c *Checker) RegisterRealtimeCheck(stats RealtimeStats) {
	c.RegisterCheck("realtime", false, func(context.Context) (Status, string, error) {
		if !stats.Running() {
			return StatusDown, "Realtime hub is not running", nil
		}
		return StatusUp, fmt.Sprintf("%d connections, %d users online", stats.ActiveConnections(), stats.OnlineUsers()), nil
	})
}
