package main

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/database"
	"github.com/dkeye/voicemesh/internal/jobs"
	"github.com/dkeye/voicemesh/internal/realtime"
	redisclient "github.com/dkeye/voicemesh/internal/redis"
	"github.com/dkeye/voicemesh/internal/repository"
)

// stores holds the postgres and redis backed collaborators shared by commands.
type stores struct {
	db    *database.DB
	redis *redisclient.Client

	broker       *realtime.Broker
	sessions     repository.SessionRepository
	participants *realtime.PublishingParticipants
	signals      repository.SignalRepository
	relay        *realtime.SignalRelay
}

func openStores(cfg *config.Config) (*stores, error) {
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	log.Info().Msg("connected to postgres")

	rdb, err := redisclient.NewClient(cfg.RedisURL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info().Msg("connected to redis")

	broker := realtime.NewBroker(rdb)
	signals := repository.NewSignalRepository(db.DB)
	return &stores{
		db:           db,
		redis:        rdb,
		broker:       broker,
		sessions:     repository.NewSessionRepository(db.DB),
		participants: realtime.NewPublishingParticipants(repository.NewParticipantRepository(db.DB), broker),
		signals:      signals,
		relay:        realtime.NewSignalRelay(signals, broker),
	}, nil
}

func (s *stores) cleanupJob(cfg *config.Config) *jobs.CleanupJob {
	return jobs.NewCleanupJob(s.participants, s.sessions, s.signals, jobs.CleanupConfig{
		Interval:         cfg.Cleanup.Interval,
		PresenceTimeout:  cfg.Presence.Timeout,
		SessionGrace:     cfg.Presence.SessionGrace,
		SignalsRetention: cfg.Signaling.Retention,
	})
}

func (s *stores) Close() {
	if err := s.redis.Close(); err != nil {
		log.Error().Err(err).Msg("close redis")
	}
	if err := s.db.Close(); err != nil {
		log.Error().Err(err).Msg("close postgres")
	}
}
