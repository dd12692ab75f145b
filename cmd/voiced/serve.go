package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/voicemesh/internal/adapters/capture"
	router "github.com/dkeye/voicemesh/internal/adapters/http"
	"github.com/dkeye/voicemesh/internal/adapters/playback"
	"github.com/dkeye/voicemesh/internal/adapters/rtc"
	wssignal "github.com/dkeye/voicemesh/internal/adapters/signal"
	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/app/voice"
	"github.com/dkeye/voicemesh/internal/domain"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	peers, err := rtc.NewFactory(cfg.ICEServers)
	if err != nil {
		return fmt.Errorf("webrtc api: %w", err)
	}
	player, err := playback.NewPlayer(cfg.Playback.ForwardAddr)
	if err != nil {
		return err
	}
	defer player.Close()

	source := capture.NewRTPSource(capture.Config{
		ListenAddr:      cfg.Capture.ListenAddr,
		MimeType:        cfg.Capture.MimeType,
		ClockRate:       cfg.Capture.ClockRate,
		Channels:        cfg.Capture.Channels,
		AudioLevelExtID: cfg.Capture.AudioLevelExtID,
	})

	opts := voice.Options{
		SpeakingThreshold: cfg.Speaking.Threshold,
		SampleInterval:    cfg.Speaking.SampleInterval,
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
	}
	// one capture socket per daemon, hence one local user
	registry := app.NewRegistry(func(user domain.UserID) *voice.Coordinator {
		return voice.New(ctx, voice.Deps{
			Sessions:     st.sessions,
			Participants: st.participants,
			Signals:      st.relay,
			SignalFeed:   st.broker,
			RosterFeed:   st.broker,
			Capture:      source,
			Peers:        peers,
			Sinks:        player,
		}, opts)
	}, 1)
	limiter := app.NewJoinRateLimiter(cfg.RateLimit.JoinLimit, cfg.RateLimit.JoinWindow)

	job := st.cleanupJob(cfg)
	job.Start()
	defer job.Stop()

	api := router.NewAPI(registry, limiter, st.signals, map[string]router.HealthCheck{
		"postgres": st.db.Ping,
		"redis":    func(ctx context.Context) error { return st.redis.Ping(ctx).Err() },
	})
	ws := wssignal.NewVoiceWSController(registry, limiter, wssignal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	})
	r := router.SetupRouter(ctx, cfg, api, ws)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Voice server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("server error")
		cancel()
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	registry.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
