package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/safedrive/go-dispatch-client/internal/api"
	"github.com/safedrive/go-dispatch-client/internal/config"
	"github.com/safedrive/go-dispatch-client/internal/emergency"
	"github.com/safedrive/go-dispatch-client/internal/geo"
	"github.com/safedrive/go-dispatch-client/internal/logging"
	"github.com/safedrive/go-dispatch-client/internal/models"
	"github.com/safedrive/go-dispatch-client/internal/notify"
	"github.com/safedrive/go-dispatch-client/internal/realtime"
	"github.com/safedrive/go-dispatch-client/internal/session"
	"github.com/safedrive/go-dispatch-client/internal/tracking"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	creds, err := session.NewSQLiteCredentials(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to open credential store: %v", err)
	}
	defer creds.Close()

	channel := realtime.NewChannel(cfg.Realtime, &realtime.WebsocketDialer{
		HandshakeTimeout: cfg.Realtime.DialTimeout,
	})
	sessions := session.NewStore(creds, channel)
	client := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout, sessions)
	sessions.Attach(client)

	provider := &geo.SimulatedProvider{
		Start:    geo.RawPosition{Lat: -1.2864, Lng: 36.8172},
		Interval: cfg.Tracking.Interval,
	}
	sampler := geo.NewSampler(provider, cfg.Geo)

	alerts := notify.New(notify.StaticPermission(notify.PermissionDenied), notify.LogToaster{}, nil)

	coordinator := emergency.NewCoordinator(client, channel, sampler, alerts, cfg.Detection, func() string {
		if state := sessions.Snapshot(); state.User != nil {
			return state.User.ID
		}
		return ""
	})
	coordinator.Start()
	defer coordinator.Stop()

	tracker := tracking.NewTracker(sampler, channel, client, cfg.Tracking)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	user, err := establishSession(ctx, sessions)
	if err != nil {
		logging.Fatalf("Failed to establish session: %v", err)
	}
	slog.Info("driver session ready", "user", user.ID)

	if err := tracker.Start(ctx, user.ID); err != nil {
		logging.Fatalf("Failed to start tracking: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	tracker.Stop()
	sampler.Stop()
	sessions.Logout()

	slog.Info("shutdown complete")
}

// establishSession restores a persisted session when one exists and logs in
// with the configured credentials otherwise.
func establishSession(ctx context.Context, sessions *session.Store) (models.User, error) {
	if err := sessions.Restore(ctx); err == nil {
		if state := sessions.Snapshot(); state.User != nil {
			return *state.User, nil
		}
	} else {
		slog.Debug("no restorable session", "reason", err)
	}

	return sessions.Login(ctx, api.Credentials{
		Email:    os.Getenv("DRIVER_EMAIL"),
		Password: os.Getenv("DRIVER_PASSWORD"),
	})
}
