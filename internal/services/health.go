package services

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const healthCheckTimeout = 5 * time.Second

// BackendChecker reports a status string per backend; "healthy" means up.
type BackendChecker interface {
	Health(ctx context.Context) map[string]string
}

type HealthService struct {
	checker  BackendChecker
	breakers *GuardedProfileStore
	critical map[string]bool
	logger   *logrus.Logger

	healthCheckStatus *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Services    map[string]string      `json:"services"`
	Critical    []string               `json:"critical_failures,omitempty"`
	NonCritical []string               `json:"non_critical_failures,omitempty"`
	Latency     time.Duration          `json:"latency,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// NewHealthService checks the configured backends. Backends named in critical
// make the service unhealthy when down; any other failure only degrades it.
func NewHealthService(checker BackendChecker, breakers *GuardedProfileStore, logger *logrus.Logger, critical ...string) *HealthService {
	hs := &HealthService{
		checker:  checker,
		breakers: breakers,
		critical: make(map[string]bool, len(critical)),
		logger:   logger,
	}
	for _, name := range critical {
		hs.critical[name] = true
	}

	hs.healthCheckStatus = register(logger, "health_check_status", prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "affinity_health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"}))

	return hs
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	status := &HealthStatus{
		Timestamp: start,
		Services:  make(map[string]string),
		Details:   make(map[string]interface{}),
	}

	if s.checker != nil {
		for name, state := range s.checker.Health(ctx) {
			healthy := state == "healthy"
			status.Services[name] = state
			s.UpdateHealthMetrics(name, healthy)
			if healthy {
				continue
			}
			if s.critical[name] {
				status.Critical = append(status.Critical, name)
				s.logger.WithField("service", name).Errorf("Critical service is unhealthy: %s", state)
			} else {
				status.NonCritical = append(status.NonCritical, name)
				s.logger.WithField("service", name).Warnf("Non-critical service is unhealthy: %s", state)
			}
		}
	}
	sort.Strings(status.Critical)
	sort.Strings(status.NonCritical)

	if s.breakers != nil {
		status.Details["circuit_breakers"] = s.breakers.State()
	}
	status.Details["goroutines"] = runtime.NumGoroutine()

	switch {
	case len(status.Critical) > 0:
		status.Status = "unhealthy"
	case len(status.NonCritical) > 0:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}
	status.Latency = time.Since(start)
	return status
}

func (s *HealthService) UpdateHealthMetrics(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	s.healthCheckStatus.WithLabelValues(service).Set(value)
}
