package app

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/app/voice"
	"github.com/dkeye/voicemesh/internal/domain"
	apperrors "github.com/dkeye/voicemesh/internal/errors"
)

// CoordinatorFactory builds a fresh coordinator for a local user.
type CoordinatorFactory func(user domain.UserID) *voice.Coordinator

// Registry keeps one coordinator per local user. Coordinators share the
// daemon's capture source, so maxUsers caps how many users it will hold.
type Registry struct {
	factory  CoordinatorFactory
	maxUsers int

	mu    sync.RWMutex
	users map[domain.UserID]*voice.Coordinator
}

// NewRegistry builds an empty registry. maxUsers <= 0 means no cap.
func NewRegistry(factory CoordinatorFactory, maxUsers int) *Registry {
	return &Registry{
		factory:  factory,
		maxUsers: maxUsers,
		users:    make(map[domain.UserID]*voice.Coordinator),
	}
}

// GetOrCreate returns the user's coordinator, creating it while the registry
// has room. A new user beyond maxUsers gets CAPTURE_IN_USE.
func (r *Registry) GetOrCreate(user domain.UserID) (*voice.Coordinator, error) {
	r.mu.RLock()
	c, ok := r.users[user]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.users[user]; ok {
		return c, nil
	}
	if r.maxUsers > 0 && len(r.users) >= r.maxUsers {
		log.Warn().Str("module", "app.registry").Str("user", string(user)).Int("max_users", r.maxUsers).Msg("registry full")
		return nil, apperrors.CaptureInUse(r.maxUsers)
	}
	c = r.factory(user)
	r.users[user] = c
	log.Info().Str("module", "app.registry").Str("user", string(user)).Msg("created coordinator")
	return c, nil
}

func (r *Registry) Get(user domain.UserID) (*voice.Coordinator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.users[user]
	return c, ok
}

// Users lists registered users in sorted order.
func (r *Registry) Users() []domain.UserID {
	r.mu.RLock()
	out := make([]domain.UserID, 0, len(r.users))
	for u := range r.users {
		out = append(out, u)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Shutdown makes every coordinator leave its session.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	all := make(map[domain.UserID]*voice.Coordinator, len(r.users))
	for u, c := range r.users {
		all[u] = c
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for user, c := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Leave(ctx); err != nil {
				log.Error().Str("module", "app.registry").Str("user", string(user)).Err(err).Msg("leave on shutdown")
			}
		}()
	}
	wg.Wait()
	log.Info().Str("module", "app.registry").Int("coordinators", len(all)).Msg("registry shut down")
}
