// Package selfheal implements the control plane's self-healing primitives:
// named circuit breakers reporting into the metrics registry, deadlock and
// network retry wrappers with jittered backoff, and the idempotency
// registry described in spec section 4.2.
package selfheal

import (
	"context"

	"github.com/nexus-retail/opsplane/infrastructure/resilience"
	"github.com/nexus-retail/opsplane/metrics"
)

// Breaker wraps a resilience.CircuitBreaker, naming it so every state
// transition is reflected as a circuit_breaker.<name>.state gauge
// (0=closed, 1=half-open, 2=open) and a failure counter, per spec 4.2.
type Breaker struct {
	name string
	cb   *resilience.CircuitBreaker
	reg  *metrics.Registry
}

// NewBreaker constructs a named circuit breaker with the default
// failureThreshold=5, resetTimeout=30s, halfOpenProbes=2 parameters.
func NewBreaker(reg *metrics.Registry, name string) *Breaker {
	return NewBreakerWithConfig(reg, name, resilience.DefaultConfig())
}

// NewBreakerWithConfig constructs a named circuit breaker with custom
// parameters.
func NewBreakerWithConfig(reg *metrics.Registry, name string, cfg resilience.Config) *Breaker {
	b := &Breaker{name: name, reg: reg}
	userOnStateChange := cfg.OnStateChange
	cfg.OnStateChange = func(from, to resilience.State) {
		if userOnStateChange != nil {
			userOnStateChange(from, to)
		}
		reg.Set("circuit_breaker."+name+".state", stateGaugeValue(to))
	}
	b.cb = resilience.New(cfg)
	return b
}

func stateGaugeValue(s resilience.State) float64 {
	switch s {
	case resilience.StateClosed:
		return 0
	case resilience.StateHalfOpen:
		return 1
	case resilience.StateOpen:
		return 2
	default:
		return -1
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() resilience.State {
	return b.cb.State()
}

// Execute runs fn with circuit-breaker protection, incrementing the
// breaker's failure counter on error.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	err := b.cb.Execute(ctx, fn)
	if err != nil {
		b.reg.Increment("circuit_breaker." + b.name + ".failures_total")
	}
	return err
}
