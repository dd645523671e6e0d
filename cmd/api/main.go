package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WailSalutem-Health-Care/board-publisher/internal/config"
	apphttp "github.com/WailSalutem-Health-Care/board-publisher/internal/http"
	"github.com/WailSalutem-Health-Care/board-publisher/internal/messaging"
	"github.com/WailSalutem-Health-Care/board-publisher/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.InitProvider(ctx, telemetry.LoadConfig(cfg.ConnectionName))
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		provider.Shutdown(shutdownCtx)
	}()

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Printf("Warning: failed to initialize metrics: %v", err)
	}

	opts := cfg.PublisherOptions()
	opts.Metrics = metrics

	log.Printf("Connecting to RabbitMQ as %s, queue %s", cfg.ConnectionName, cfg.QueueName)
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	publisher, err := messaging.Connect(connectCtx, opts)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	router := apphttp.SetupRouter(publisher, metrics, cfg.PublishTimeout)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apphttp.CORSMiddleware(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("board-publisher starting on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down board-publisher...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
}
