package app

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicemesh/internal/app/voice"
	"github.com/dkeye/voicemesh/internal/domain"
	apperrors "github.com/dkeye/voicemesh/internal/errors"
)

func newTestRegistry(created *int) *Registry {
	return newCappedRegistry(created, 0)
}

func newCappedRegistry(created *int, maxUsers int) *Registry {
	var mu sync.Mutex
	return NewRegistry(func(domain.UserID) *voice.Coordinator {
		mu.Lock()
		*created++
		mu.Unlock()
		return voice.New(context.Background(), voice.Deps{}, voice.DefaultOptions())
	}, maxUsers)
}

func mustGet(t *testing.T, r *Registry, user domain.UserID) *voice.Coordinator {
	t.Helper()
	c, err := r.GetOrCreate(user)
	require.NoError(t, err)
	return c
}

func TestRegistry_GetOrCreateIsStable(t *testing.T) {
	var created int
	r := newTestRegistry(&created)

	var wg sync.WaitGroup
	results := make([]*voice.Coordinator, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = r.GetOrCreate("alice")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	for _, c := range results {
		assert.Same(t, results[0], c)
	}
}

func TestRegistry_GetAndUsers(t *testing.T) {
	var created int
	r := newTestRegistry(&created)

	_, ok := r.Get("bob")
	assert.False(t, ok)

	mustGet(t, r, "carol")
	mustGet(t, r, "bob")
	c, ok := r.Get("bob")
	assert.True(t, ok)
	assert.NotNil(t, c)
	assert.Equal(t, []domain.UserID{"bob", "carol"}, r.Users())
}

func TestRegistry_CapsLocalUsers(t *testing.T) {
	var created int
	r := newCappedRegistry(&created, 1)

	alice := mustGet(t, r, "alice")
	assert.Same(t, alice, mustGet(t, r, "alice"))

	c, err := r.GetOrCreate("bob")
	assert.Nil(t, c)
	assert.Equal(t, apperrors.ErrCodeCaptureInUse, apperrors.GetCode(err))
	assert.Equal(t, 1, created)
	assert.Equal(t, []domain.UserID{"alice"}, r.Users())
}

func TestRegistry_ShutdownLeavesDisconnectedCoordinators(t *testing.T) {
	var created int
	r := newTestRegistry(&created)
	mustGet(t, r, "alice")
	mustGet(t, r, "bob")

	r.Shutdown(context.Background())

	for _, u := range r.Users() {
		c, _ := r.Get(u)
		assert.Equal(t, voice.StateDisconnected, c.State())
	}
}
