package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"salesagent/internal/domain"
	"salesagent/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerPlanner wraps a Planner with circuit breaker protection.
// When the wrapped planner fails repeatedly, the circuit opens and calls
// fail fast without reaching the backend, preventing retry storms.
type CircuitBreakerPlanner struct {
	inner   domain.Planner
	breaker *gobreaker.CircuitBreaker[*domain.PlanResponse]
	logger  *slog.Logger
}

// NewCircuitBreakerPlanner wraps inner with a circuit breaker. Zero-valued
// config fields fall back to defaults.
func NewCircuitBreakerPlanner(inner domain.Planner, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerPlanner {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*domain.PlanResponse](gobreaker.Settings{
		Name:        "planner:" + inner.Name(),
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &CircuitBreakerPlanner{
		inner:   inner,
		breaker: cb,
		logger:  logger,
	}
}

// Plan implements domain.Planner. Calls route through the circuit breaker.
func (p *CircuitBreakerPlanner) Plan(ctx context.Context, req domain.PlanRequest) (*domain.PlanResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.PlanResponse, error) {
		return p.inner.Plan(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("planner %q circuit open: %w", p.inner.Name(), domain.ErrPlanner)
		}
		return nil, err
	}
	return resp, nil
}

// Name implements domain.Planner.
func (p *CircuitBreakerPlanner) Name() string { return p.inner.Name() }

// State returns the current circuit breaker state for monitoring.
func (p *CircuitBreakerPlanner) State() gobreaker.State {
	return p.breaker.State()
}

// Counts returns the current circuit breaker failure/success counts.
func (p *CircuitBreakerPlanner) Counts() gobreaker.Counts {
	return p.breaker.Counts()
}

var _ domain.Planner = (*CircuitBreakerPlanner)(nil)
