package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Pinger is satisfied by the summary stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Component is one checked dependency.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"` // store or http
	CheckResult
}

// HealthStatus represents the overall health of the gateway.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// Config holds health checker configuration.
type Config struct {
	// Stores are critical: an unreachable store makes the gateway unhealthy.
	Stores map[string]Pinger
	// Endpoints are probed with GET; any HTTP response counts as reachable.
	Endpoints map[string]string

	StoreTimeout    time.Duration
	HTTPTimeout     time.Duration
	MaxStoreLatency time.Duration
	HTTPClient      *http.Client
}

// Checker performs health checks on the gateway's dependencies.
type Checker struct {
	cfg Config

	mu         sync.RWMutex
	components []Component
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.MaxStoreLatency == 0 {
		cfg.MaxStoreLatency = 100 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &Checker{cfg: cfg}
}

// Check runs every configured check concurrently and returns the overall status.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	var wg sync.WaitGroup
	results := make(chan Component, len(c.cfg.Stores)+len(c.cfg.Endpoints))

	for name, store := range c.cfg.Stores {
		if store == nil {
			continue
		}
		name, store := name, store
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkStore(ctx, name, store)
		}()
	}
	for name, url := range c.cfg.Endpoints {
		if url == "" {
			continue
		}
		name, url := name, url
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkHTTPEndpoint(ctx, name, url)
		}()
	}
	wg.Wait()
	close(results)

	components := make([]Component, 0, cap(results))
	for comp := range results {
		components = append(components, comp)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	c.mu.Lock()
	c.components = components
	c.mu.Unlock()

	return calculateOverallStatus(components)
}

func (c *Checker) checkStore(ctx context.Context, name string, store Pinger) Component {
	comp := Component{Name: name, Type: "store", CheckResult: CheckResult{Timestamp: time.Now()}}

	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := store.Ping(pingCtx)
	comp.Latency = time.Since(start)

	switch {
	case err != nil:
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Store unreachable"
	case comp.Latency > c.cfg.MaxStoreLatency:
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("High latency: %v", comp.Latency)
	default:
		comp.Status = StatusHealthy
		comp.Message = "Connected"
	}
	return comp
}

func (c *Checker) checkHTTPEndpoint(ctx context.Context, name, url string) Component {
	comp := Component{Name: name, Type: "http", CheckResult: CheckResult{Timestamp: time.Now()}}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Latency = time.Since(start)
		return comp
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	comp.Latency = time.Since(start)
	if err != nil {
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "Endpoint unreachable"
		return comp
	}
	defer resp.Body.Close()

	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("Reachable (HTTP %d)", resp.StatusCode)
	return comp
}

// An unhealthy store makes the whole gateway unhealthy; anything else only
// degrades it.
func calculateOverallStatus(components []Component) HealthStatus {
	overall := StatusHealthy
	critical := false
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Type == "store" {
				critical = true
			}
			overall = StatusDegraded
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	if critical {
		overall = StatusUnhealthy
	}
	return HealthStatus{Status: overall, Timestamp: time.Now(), Components: components}
}

// GetLastStatus returns the last health check result.
func (c *Checker) GetLastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.components) == 0 {
		return HealthStatus{Status: StatusHealthy, Timestamp: time.Now()}
	}
	return calculateOverallStatus(c.components)
}
