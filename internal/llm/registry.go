package llm

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	orcherrors "github.com/carebridge/orchestrator/internal/errors"
)

// entry pairs a Provider with its own circuit breaker and rate limiter, so
// one noisy neighbor's throttling or tripped breaker never affects another
// provider in the same registry.
type entry struct {
	provider Provider
	breaker  *circuitBreaker
	limiter  *rate.Limiter
}

// Registry holds an ordered list of providers and tries them in order on
// Generate, failing over to the next provider when the current one returns
// a soft error (circuit open, rate limited, timeout, unavailable) and
// surfacing immediately on a hard error.
type Registry struct {
	entries []*entry
	logger  *slog.Logger
}

// RegistryOption configures a provider slot when it's added to a Registry.
type RegistryOption struct {
	Provider         Provider
	RateLimitRPM     int
	CircuitThreshold int
	CircuitCooldown  time.Duration
}

// NewRegistry builds an ordered provider failover chain. Order matters:
// opts[0] is tried first on every call.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	for _, opt := range opts {
		rpm := opt.RateLimitRPM
		if rpm <= 0 {
			rpm = 60
		}
		limit := rate.Limit(float64(rpm) / 60.0)
		burst := rpm / 6
		if burst < 1 {
			burst = 1
		}
		r.entries = append(r.entries, &entry{
			provider: opt.Provider,
			breaker:  newCircuitBreaker(opt.Provider.Name(), opt.CircuitThreshold, opt.CircuitCooldown),
			limiter:  rate.NewLimiter(limit, burst),
		})
	}
	return r
}

// Generate tries providers in registration order, failing over on soft
// errors (ErrCircuitOpen, rate-limited, timeout, unavailable) and stopping
// immediately on a hard error (bad input) since retrying with a different
// model won't fix a malformed request. If every provider is exhausted, the
// last soft error is returned classified as KindProviderFailure.
func (r *Registry) Generate(ctx context.Context, messages []Message) (*Result, error) {
	if len(r.entries) == 0 {
		return nil, orcherrors.New(orcherrors.KindProviderFailure, orcherrors.ErrProviderUnavailable)
	}

	var lastErr error
	for _, e := range r.entries {
		if !e.breaker.CanExecute() {
			lastErr = orcherrors.New(orcherrors.KindProviderFailure, orcherrors.ErrCircuitOpen).WithCorrelation(e.provider.Name())
			r.logger.Warn("llm provider circuit open, skipping", "provider", e.provider.Name())
			continue
		}
		if !e.limiter.Allow() {
			lastErr = orcherrors.New(orcherrors.KindProviderFailure, orcherrors.ErrProviderRateLimited)
			r.logger.Warn("llm provider rate limited locally, skipping", "provider", e.provider.Name())
			continue
		}

		result, err := e.provider.Generate(ctx, messages)
		if err == nil {
			e.breaker.RecordSuccess()
			return result, nil
		}

		if !orcherrors.IsSoft(err) {
			return nil, err
		}

		e.breaker.RecordFailure()
		r.logger.Warn("llm provider failed, trying next", "provider", e.provider.Name(), "error", err)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = orcherrors.ErrProviderUnavailable
	}
	return nil, orcherrors.New(orcherrors.KindProviderFailure, lastErr)
}

// Status reports each provider's circuit state, for health/metrics endpoints.
func (r *Registry) Status() map[string]string {
	out := make(map[string]string, len(r.entries))
	for _, e := range r.entries {
		out[e.provider.Name()] = e.breaker.State()
	}
	return out
}
