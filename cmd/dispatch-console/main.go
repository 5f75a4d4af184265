package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/safedrive/go-dispatch-client/internal/api"
	"github.com/safedrive/go-dispatch-client/internal/config"
	"github.com/safedrive/go-dispatch-client/internal/incidents"
	"github.com/safedrive/go-dispatch-client/internal/logging"
	"github.com/safedrive/go-dispatch-client/internal/realtime"
	"github.com/safedrive/go-dispatch-client/internal/session"
)

const terminalGrace = 5 * time.Minute

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

	view := incidents.NewView(client, channel, 100)
	view.Start()
	defer view.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	user, err := sessions.Login(ctx, api.Credentials{
		Email:    os.Getenv("HOSPITAL_EMAIL"),
		Password: os.Getenv("HOSPITAL_PASSWORD"),
	})
	if err != nil {
		logging.Fatalf("Failed to log in: %v", err)
	}
	slog.Info("dispatch console ready", "user", user.ID)

	if err := view.Refresh(ctx); err != nil {
		slog.Error("initial incident fetch failed", "error", err)
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	open := incidents.Filter{ExcludeTerminal: true}
	for {
		select {
		case <-ticker.C:
			view.Prune(terminalGrace)
			active := open.Apply(view.Snapshot())
			slog.Info("incident board", "open", len(active), "total", view.Len())
			for _, inc := range active {
				slog.Info("incident", "id", inc.ID, "status", inc.Status,
					"severity", inc.Severity, "responders", len(inc.Responders))
			}
		case <-quit:
			slog.Info("shutting down...")
			sessions.Logout()
			slog.Info("shutdown complete")
			return
		}
	}
}
