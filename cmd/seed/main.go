// Command seed loads reference data (regions, countries, markets and
// symbols) from YAML into the configured store.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"ClarityPull/internal/di"
	"ClarityPull/internal/repository"
	"ClarityPull/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	refPath := flag.String("file", "config/reference.yaml", "reference data file")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	ref, err := repository.LoadReference(*refPath)
	if err != nil {
		log.Fatalf("reference load failed: %v", err)
	}

	l, closeLogger, err := di.ProvideLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer closeLogger()
	store, closeStore, err := di.ProvideStore(cfg, l)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := store.Seed(ctx, ref); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	log.Printf("seeded %d symbols into %s", len(ref.Symbols), cfg.Backend.Type)
}
