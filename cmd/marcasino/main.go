// Package main runs the marcasino betting engine server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/marcasino/internal/app/runtime"
	"github.com/R3E-Network/marcasino/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	flag.Parse()

	if v := os.Getenv("MARCASINO_CONFIG"); v != "" && *configPath == "" {
		*configPath = v
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := runtime.NewApplication(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Printf("Server error: %v", err)
	}

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Stopped")
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetPrefix("[marcasino] ")
}
