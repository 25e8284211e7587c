package dispatch

import (
	"context"

	"agent-triggers/internal/circuitbreaker"
	"agent-triggers/internal/common/logging"
)

// Guarded wraps a dispatcher with a circuit breaker
type Guarded struct {
	next    Dispatcher
	breaker *circuitbreaker.Breaker
}

// NewGuarded wraps next
func NewGuarded(next Dispatcher, config circuitbreaker.Config, logger logging.Logger) *Guarded {
	return &Guarded{
		next:    next,
		breaker: circuitbreaker.New("dispatch-"+next.Name(), config, logger),
	}
}

func (g *Guarded) Name() string { return g.next.Name() }

func (g *Guarded) Dispatch(ctx context.Context, req *Request) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.Dispatch(ctx, req)
	})
}

func (g *Guarded) Health(ctx context.Context) error {
	return g.next.Health(ctx)
}

func (g *Guarded) Close() error {
	return g.next.Close()
}

// Stats exposes the breaker counters
func (g *Guarded) Stats() circuitbreaker.Stats {
	return g.breaker.Stats()
}
