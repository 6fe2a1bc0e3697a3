package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerTripsAfterFailureThreshold(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, OpenTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}
	state, _, _ := b.State()
	require.Equal(t, StateClosed, state)

	require.NoError(t, b.Allow())
	b.RecordFailure()
	state, _, _ = b.State()
	require.Equal(t, StateOpen, state)
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Hour})
	require.NoError(t, b.Allow())
	b.RecordFailure()

	err := b.Allow()
	require.Error(t, err)
	var openErr *ErrCircuitOpen
	require.ErrorAs(t, err, &openErr)
}

func TestBreakerHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Millisecond})
	require.NoError(t, b.Allow())
	b.RecordFailure()

	time.Sleep(5 * time.Millisecond)

	require.NoError(t, b.Allow())
	state, _, _ := b.State()
	require.Equal(t, StateHalfOpen, state)

	b.RecordSuccess()
	state, _, _ = b.State()
	require.Equal(t, StateHalfOpen, state)

	b.RecordSuccess()
	state, _, _ = b.State()
	require.Equal(t, StateClosed, state)
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Millisecond})
	require.NoError(t, b.Allow())
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.RecordFailure()

	state, _, _ := b.State()
	require.Equal(t, StateOpen, state)
}

func TestRegistryReusesBreakerPerUpstream(t *testing.T) {
	r := NewRegistry(BreakerConfig{})
	a := r.For("anthropic")
	b := r.For("anthropic")
	require.Same(t, a, b)

	other := r.For("ollama")
	require.NotSame(t, a, other)
}
