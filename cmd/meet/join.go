package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	router "github.com/dkeye/meet/internal/adapters/http"
	"github.com/dkeye/meet/internal/adapters/rtc"
	"github.com/dkeye/meet/internal/adapters/signal"
	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/app/media"
	"github.com/dkeye/meet/internal/app/orch"
	"github.com/dkeye/meet/internal/config"
	"github.com/dkeye/meet/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and stay until interrupted",
	Long: `Join a room and stay until interrupted or until POST /api/leave.

Examples:
  meet join --room standup --name Ann
  meet join --signal-url wss://signal.example.com/ws --codec msgpack --video-file cam.ivf --audio-file mic.ogg
  meet join --turn-url turn:turn.example.com:3478 --turn-user u --turn-pass p --relay`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		setupLogger(cfg)
		return join(cfg)
	},
}

func init() {
	f := joinCmd.Flags()
	f.String("room", "main", "room to join")
	f.String("name", "guest", "display name")
	f.String("id", "", "participant id (generated when empty)")
	f.String("view-addr", "127.0.0.1:7070", "local view API address, empty to disable")
	f.Int("max-retries", 1, "restarts of a failed peer connection before giving up")
	f.Duration("retry-delay", time.Second, "initial delay before a restart")
	f.String("turn-url", "", "TURN server url")
	f.String("turn-user", "", "TURN username")
	f.String("turn-pass", "", "TURN credential")
	f.Bool("relay", false, "force relayed candidates when TURN is configured")
	f.String("video-file", "", "IVF (VP8) file used as camera")
	f.String("audio-file", "", "Ogg (Opus) file used as microphone")
	f.String("screen-file", "", "IVF (VP8) file used as screen share")
}

func join(cfg *config.Config) error {
	self, err := domain.NewParticipant(domain.ParticipantID(cfg.ParticipantID), cfg.DisplayName)
	if err != nil {
		return err
	}
	self.AudioEnabled, self.VideoEnabled = true, true

	codec, err := signal.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}
	client := signal.NewClient(signal.Options{
		URL:        cfg.SignalURL,
		Codec:      codec,
		PingPeriod: cfg.PingPeriod,
		ReadLimit:  cfg.ReadLimit,
		SendBuffer: cfg.SendBuffer,
	})
	factory, err := rtc.NewFactory(cfg.WebRTCConfiguration())
	if err != nil {
		return fmt.Errorf("webrtc: %w", err)
	}

	sess := orch.New(cfg.Room, *self, orch.Deps{
		Transport: client,
		Factory:   factory,
		Devices: media.FileDevices{
			VideoFile:  cfg.Media.VideoFile,
			AudioFile:  cfg.Media.AudioFile,
			ScreenFile: cfg.Media.ScreenFile,
		},
		Constraints: cfg.MediaConstraints,
		ChatLimiter: app.NewRateLimiter(cfg.Chat.RateLimit, cfg.Chat.RateInterval),
		MaxRetries:  cfg.Negotiation.MaxRetries,
		RetryDelay:  cfg.Negotiation.RetryDelay,
	})

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The loop and the transport outlive ctx so Leave can still run.
	runCtx, stopRun := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer stopRun()

	wg.Go(func() {
		if err := client.Run(runCtx); err != nil {
			log.Error().Err(err).Msg("signaling client stopped")
		}
	})
	wg.Go(func() { _ = sess.Run(runCtx) })

	if err := sess.Join(ctx); err != nil {
		return fmt.Errorf("join %s: %w", cfg.Room, err)
	}

	var srv *http.Server
	if cfg.ViewAddr != "" {
		srv = &http.Server{
			Addr:              cfg.ViewAddr,
			Handler:           router.SetupRouter(cfg, sess, client, stop),
			ReadHeaderTimeout: 5 * time.Second,
			// Open event streams end with ctx.
			BaseContext: func(net.Listener) context.Context { return ctx },
		}
		wg.Go(func() {
			log.Info().Str("addr", cfg.ViewAddr).Msg("view API started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("view API error")
			}
		})
	}

	log.Info().
		Str("room", cfg.Room).
		Str("id", string(self.ID)).
		Str("name", self.DisplayName).
		Msg("joined")
	<-ctx.Done()
	log.Info().Msg("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("view API forced to shutdown")
		}
	}
	if err := sess.Leave(); err != nil && !errors.Is(err, orch.ErrNotJoined) {
		log.Warn().Err(err).Msg("leave")
	}
	log.Info().Msg("left gracefully")
	return nil
}
