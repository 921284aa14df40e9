package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"mailblast/internal/models"
)

// Gateway routes sends through an ordered list of providers, trying each
// available one in priority order and returning on first success. Every
// provider is guarded by a circuit breaker; an open breaker skips that
// provider without a network call.
type Gateway struct {
	providers []Provider
	breakers  map[string]*gobreaker.CircuitBreaker
}

// NewGateway creates a gateway over the given providers, highest priority first
func NewGateway(providers ...Provider) *Gateway {
	g := &Gateway{
		providers: providers,
		breakers:  make(map[string]*gobreaker.CircuitBreaker, len(providers)),
	}

	for _, p := range providers {
		g.breakers[p.Name()] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    p.Name(),
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("provider %s circuit breaker: %s -> %s", name, from, to)
			},
		})
	}

	return g
}

// Providers returns the names of configured providers in priority order
func (g *Gateway) Providers() []string {
	names := make([]string, 0, len(g.providers))
	for _, p := range g.providers {
		names = append(names, p.Name())
	}
	return names
}

// SendWithFallback tries each available provider in order and returns the
// first success, or the last failure if every provider fails
func (g *Gateway) SendWithFallback(ctx context.Context, msg *models.PersonalizedMessage) *SendResult {
	var last *SendResult

	for _, p := range g.providers {
		if !p.Available() {
			continue
		}

		result := g.sendThrough(ctx, p, msg)
		if result.Success {
			return result
		}
		last = result

		// Fatal errors are provider-agnostic in practice for payload issues,
		// but auth failures are per-provider, so keep trying the next one.
		if IsRateLimited(result.Err) {
			// Shared quota: do not hammer the fallback providers either
			return result
		}
	}

	if last == nil {
		return &SendResult{
			Err: &SendError{Kind: KindFatalSession, Message: "no mail provider is configured"},
		}
	}
	return last
}

// sendThrough runs one provider send inside its circuit breaker
func (g *Gateway) sendThrough(ctx context.Context, p Provider, msg *models.PersonalizedMessage) *SendResult {
	cb := g.breakers[p.Name()]

	out, err := cb.Execute(func() (interface{}, error) {
		result := p.Send(ctx, msg)
		if !result.Success {
			return result, result.Err
		}
		return result, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &SendResult{
			Provider: p.Name(),
			Err:      &SendError{Kind: KindTransient, Message: fmt.Sprintf("provider %s temporarily disabled by circuit breaker", p.Name())},
		}
	}

	if result, ok := out.(*SendResult); ok {
		return result
	}
	return &SendResult{Provider: p.Name(), Err: ClassifyTransport(err)}
}
