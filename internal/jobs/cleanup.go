package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/domain"
)

type staleParticipants interface {
	MarkStale(ctx context.Context, cutoff, now time.Time) ([]domain.Participant, error)
}

type emptySessions interface {
	DeactivateEmpty(ctx context.Context, cutoff, now time.Time) ([]domain.Session, error)
}

type expiredSignals interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type CleanupConfig struct {
	Interval         time.Duration
	PresenceTimeout  time.Duration
	SessionGrace     time.Duration
	SignalsRetention time.Duration
}

// CleanupJob sweeps participants whose heartbeat stopped, closes sessions
// left empty and prunes old signaling rows.
type CleanupJob struct {
	participants staleParticipants
	sessions     emptySessions
	signals      expiredSignals
	cfg          CleanupConfig
	now          func() time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewCleanupJob(participants staleParticipants, sessions emptySessions, signals expiredSignals, cfg CleanupConfig) *CleanupJob {
	return &CleanupJob{
		participants: participants,
		sessions:     sessions,
		signals:      signals,
		cfg:          cfg,
		now:          time.Now,
		done:         make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Str("module", "jobs").Dur("interval", j.cfg.Interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Str("module", "jobs").Msg("cleanup job stopped")
	})
}

func (j *CleanupJob) run() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	j.Sweep(context.Background())

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.Sweep(context.Background())
		}
	}
}

// Sweep runs one pass. Participants go first so that sessions they kept
// alive can close in the same pass once the grace period has passed.
func (j *CleanupJob) Sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	now := j.now()

	j.runCleanup(ctx, "stale participants", func(ctx context.Context) (int64, error) {
		swept, err := j.participants.MarkStale(ctx, now.Add(-j.cfg.PresenceTimeout), now)
		return int64(len(swept)), err
	})
	j.runCleanup(ctx, "empty sessions", func(ctx context.Context) (int64, error) {
		closed, err := j.sessions.DeactivateEmpty(ctx, now.Add(-j.cfg.SessionGrace), now)
		return int64(len(closed)), err
	})
	j.runCleanup(ctx, "signaling rows", func(ctx context.Context) (int64, error) {
		return j.signals.DeleteOlderThan(ctx, now.Add(-j.cfg.SignalsRetention))
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Str("module", "jobs").Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Str("module", "jobs").Int64("count", count).Msgf("cleaned up %s", name)
	}
}
