package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/safedrive/go-dispatch-client/internal/devserver"
	"github.com/safedrive/go-dispatch-client/internal/logging"
	"github.com/safedrive/go-dispatch-client/internal/models"
)

func main() {
	_ = godotenv.Load()

	logging.Setup(getEnv("LOG_LEVEL", "info"))

	server := devserver.New()
	server.Seed(models.User{
		ID:   "D1",
		Name: "Demo Driver",
		Role: models.RoleDriver,
	}, "driver@example.com", "driver-pass")
	server.Seed(models.User{
		ID:   "H1",
		Name: "Demo Hospital",
		Role: models.RoleHospital,
	}, "hospital@example.com", "hospital-pass")

	addr := getEnv("DEVSERVER_ADDR", ":8080")
	srv := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	go func() {
		slog.Info("devserver listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	server.Hub().Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
