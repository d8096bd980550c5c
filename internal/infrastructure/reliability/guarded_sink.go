package reliability

import (
	"context"

	"go.uber.org/zap"

	"roadwatch/internal/core/domain"
	"roadwatch/internal/core/ports"
	"roadwatch/pkg/circuitbreaker"
)

// GuardedSink puts a circuit breaker in front of a sink backed by a remote
// service so an outage costs one fast rejection per frame instead of a
// timeout.
type GuardedSink struct {
	inner   ports.Sink
	breaker *circuitbreaker.CircuitBreaker
}

func NewGuardedSink(inner ports.Sink, cfg circuitbreaker.Config, logger *zap.SugaredLogger) *GuardedSink {
	breaker := circuitbreaker.New(inner.Name(), cfg)
	breaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
		logger.Infow("Sink circuit breaker state changed",
			"sink", name,
			"from", from.String(),
			"to", to.String(),
		)
	})
	return newGuardedSink(inner, breaker)
}

func newGuardedSink(inner ports.Sink, breaker *circuitbreaker.CircuitBreaker) *GuardedSink {
	return &GuardedSink{inner: inner, breaker: breaker}
}

func (g *GuardedSink) Name() string {
	return g.inner.Name()
}

func (g *GuardedSink) Handle(ctx context.Context, frame domain.Frame, result *domain.FrameResult) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.Handle(ctx, frame, result)
	})
}

func (g *GuardedSink) Stats() circuitbreaker.Stats {
	return g.breaker.GetStats()
}

// GuardAll wraps every sink whose name is in remote.
func GuardAll(sinks []ports.Sink, remote map[string]bool, cfg circuitbreaker.Config, logger *zap.SugaredLogger) []ports.Sink {
	out := make([]ports.Sink, 0, len(sinks))
	for _, s := range sinks {
		if remote[s.Name()] {
			s = NewGuardedSink(s, cfg, logger)
		}
		out = append(out, s)
	}
	return out
}
