package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"keyhaven/internal/config"
	"keyhaven/internal/repository/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Running migrations (environment: %s, prefix: %q)", cfg.Environment, cfg.TablePrefix)
	if err := postgres.RunMigrations(context.Background(), cfg.DatabaseURL, cfg.TablePrefix); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migrations complete")
}
