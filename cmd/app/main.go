package main

import (
	"flag"
	"log"
	"os"

	"StockRisk/internal/di"
	"StockRisk/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s model_dir=%s model_version=%s sinks=%v",
		cfg.Environment, cfg.Model.Dir, cfg.Model.Version, cfg.Audit.Sinks)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
