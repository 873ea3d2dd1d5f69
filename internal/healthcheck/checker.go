package healthcheck

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Probe checks one dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
	// Critical dependencies make the service unhealthy when down; the others
	// only degrade it.
	Critical bool
	// OnRecover runs when the dependency becomes healthy again.
	OnRecover func()
}

// Performs periodic health checks on the service's dependencies
type Checker struct {
	mu          sync.RWMutex
	probes      []Probe
	healthState map[string]*Status
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	stopChan    chan struct{}
	running     bool
}

// Holds health checker configuration
type Config struct {
	Probes      []Probe
	Interval    time.Duration // How often to check (default: 10s)
	Timeout     time.Duration // Per-probe timeout (default: 2s)
	MaxFailures int           // Failures before marking unhealthy (default: 1)
}

func NewChecker(cfg *Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 1
	}

	checker := &Checker{
		probes:      cfg.Probes,
		healthState: make(map[string]*Status),
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		stopChan:    make(chan struct{}),
	}

	// Initialize status for all probes
	for _, p := range cfg.Probes {
		checker.healthState[p.Name] = &Status{
			Name:      p.Name,
			IsHealthy: true, // Assume healthy initially
			Critical:  p.Critical,
			LastCheck: time.Now(),
		}
	}

	return checker
}

// Begins periodic health checks
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	log.Info().
		Int("probes", len(c.probes)).
		Dur("interval", c.interval).
		Msg("Starting dependency health checks")

	// Run initial check immediately
	c.CheckNow()

	// Start periodic checks
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.CheckNow()
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stops the health checker
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
		log.Info().Msg("Health checker stopped")
	}
}

// CheckNow runs every probe once and waits for the results.
func (c *Checker) CheckNow() {
	var wg sync.WaitGroup

	for _, p := range c.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			c.checkProbe(p)
		}(p)
	}

	wg.Wait()
}

func (c *Checker) checkProbe(p Probe) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := p.Check(ctx); err != nil {
		c.recordFailure(p, err)
		return
	}

	if c.recordSuccess(p) && p.OnRecover != nil {
		p.OnRecover()
	}
}

// Records a successful check and reports whether the dependency recovered
func (c *Checker) recordSuccess(p Probe) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.healthState[p.Name]
	status.LastCheck = time.Now()
	status.LastSuccess = status.LastCheck
	status.LastError = ""
	status.FailureCount = 0

	if !status.IsHealthy {
		log.Info().Str("dependency", p.Name).Msg("Dependency is healthy again")
		status.IsHealthy = true
		return true
	}

	return false
}

// Records a failed check
func (c *Checker) recordFailure(p Probe, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.healthState[p.Name]
	status.LastCheck = time.Now()
	status.LastFailure = status.LastCheck
	status.LastError = err.Error()
	status.FailureCount++

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		log.Warn().
			Err(err).
			Str("dependency", p.Name).
			Int("failures", status.FailureCount).
			Msg("Dependency is unhealthy")
		status.IsHealthy = false
	}
}

// Return the health status of a specific dependency
func (c *Checker) GetStatus(name string) *Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if status, exists := c.healthState[name]; exists {
		// Return copy
		statusCopy := *status
		return &statusCopy
	}

	return nil
}

// Returns health status of all dependencies
func (c *Checker) GetAllStatus() map[string]*Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statusMap := make(map[string]*Status)
	for name, status := range c.healthState {
		statusCopy := *status
		statusMap[name] = &statusCopy
	}

	return statusMap
}

// Returns the overall health status
func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	overall := Healthy
	for _, status := range c.healthState {
		if status.IsHealthy {
			continue
		}
		if status.Critical {
			return Unhealthy
		}
		overall = Degraded
	}

	return overall
}
