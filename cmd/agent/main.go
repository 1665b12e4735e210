package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/asterics/FLipMouse-esp32-sub001/internal/agent"
	"github.com/asterics/FLipMouse-esp32-sub001/internal/config"
)

// These variables will be set by the build script
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// Print the version information on startup
	log.Printf("Starting FLipMouse Bridge version: %s, commit: %s, built: %s", version, commit, date)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	a, err := agent.NewAgent(cfg)
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}

	go a.Run()

	// Wait for termination signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down agent...")
	a.Shutdown()
	log.Println("Agent shut down gracefully.")
}
