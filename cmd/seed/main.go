package main

import (
	"log"

	"github.com/kindled-app/kindled/internal/config"
	"github.com/kindled-app/kindled/internal/db"
)

func main() {
	cfg := config.New()

	database, err := db.NewDB(cfg)
	if err != nil {
		log.Fatalf("failed to init db: %v", err)
	}

	if err := db.SeedTestData(database); err != nil {
		log.Fatalf("failed to seed: %v", err)
	}

	log.Println("Seeding completed.")
}
