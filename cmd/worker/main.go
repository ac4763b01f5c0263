package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/whatsapp-dispatch/internal/app"
	"github.com/ignite/whatsapp-dispatch/internal/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	log.Println("Starting WhatsApp dispatch worker...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage.Driver == app.DriverMemory {
		log.Println("WARNING: memory storage is private to this process; the API server cannot see its queue")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	if err := a.StartBackground(ctx); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	log.Printf("Worker running (%d workers, poll every %s)", cfg.Dispatch.Workers, cfg.Dispatch.PollInterval())

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := a.Queue.Stats(ctx)
				if err != nil {
					log.Printf("Worker heartbeat: queue stats: %v", err)
					continue
				}
				log.Printf("Worker heartbeat: waiting=%d active=%d failed=%d",
					stats.Waiting, stats.Active, stats.Failed)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()
	a.Close()
	log.Println("Worker stopped")
}
