package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orcherrors "github.com/carebridge/orchestrator/internal/errors"
)

// failingProvider always returns the given error.
type failingProvider struct {
	name string
	err  error
	fail int
}

func (p *failingProvider) Name() string { return p.name }
func (p *failingProvider) Generate(ctx context.Context, messages []Message) (*Result, error) {
	p.fail++
	return nil, p.err
}
func (p *failingProvider) Healthy(ctx context.Context) error { return nil }

func TestRegistry_FailsOverOnSoftError(t *testing.T) {
	primary := &failingProvider{name: "primary", err: orcherrors.New(orcherrors.KindProviderFailure, orcherrors.ErrProviderUnavailable)}
	fallback := NewMockProvider("fallback", 0)

	reg := NewRegistry(nil,
		RegistryOption{Provider: primary, CircuitThreshold: 5, CircuitCooldown: time.Minute},
		RegistryOption{Provider: fallback, CircuitThreshold: 5, CircuitCooldown: time.Minute},
	)

	result, err := reg.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Provider)
	assert.Equal(t, 1, primary.fail)
}

func TestRegistry_StopsOnHardError(t *testing.T) {
	primary := &failingProvider{name: "primary", err: orcherrors.New(orcherrors.KindProviderFailure, orcherrors.ErrProviderBadInput)}
	fallback := NewMockProvider("fallback", 0)

	reg := NewRegistry(nil,
		RegistryOption{Provider: primary},
		RegistryOption{Provider: fallback},
	)

	_, err := reg.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Equal(t, 1, primary.fail, "hard error must not trigger failover")
}

func TestRegistry_AllProvidersExhausted(t *testing.T) {
	primary := &failingProvider{name: "primary", err: orcherrors.New(orcherrors.KindProviderFailure, orcherrors.ErrProviderTimeout)}
	secondary := &failingProvider{name: "secondary", err: orcherrors.New(orcherrors.KindProviderFailure, orcherrors.ErrProviderTimeout)}

	reg := NewRegistry(nil,
		RegistryOption{Provider: primary, CircuitThreshold: 5, CircuitCooldown: time.Minute},
		RegistryOption{Provider: secondary, CircuitThreshold: 5, CircuitCooldown: time.Minute},
	)

	_, err := reg.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var classified *orcherrors.Classified
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, orcherrors.KindProviderFailure, classified.Kind)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := newCircuitBreaker("test", 3, time.Hour)
	for i := 0; i < 3; i++ {
		require.True(t, cb.CanExecute())
		cb.RecordFailure()
	}
	assert.False(t, cb.CanExecute())
	assert.Equal(t, "open", cb.State())
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb := newCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.CanExecute()
	cb.RecordFailure()
	assert.False(t, cb.CanExecute())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.CanExecute(), "breaker should allow a half-open probe after cooldown")
	cb.RecordSuccess()
	assert.Equal(t, "closed", cb.State())
}

func TestMockProvider_EchoesLastUserMessage(t *testing.T) {
	p := NewMockProvider("", 0)
	result, err := p.Generate(context.Background(), []Message{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "book an appointment"},
	})
	require.NoError(t, err)
	assert.Contains(t, result.Content, "book an appointment")
	assert.Equal(t, "mock", result.Provider)
}
