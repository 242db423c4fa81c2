package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"settlement-service/internal/database"
	"settlement-service/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found in current directory, trying parent")
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found, using system environment variables")
		}
	}

	router, err := database.NewRouter(database.Config{
		PrimaryDSN: os.Getenv("DATABASE_URL"),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run Migrations
	log.Println("Running database migrations...")
	if err := database.Migrate(router.Primary()); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	// Bootstrap monthly partitions so the first insert has somewhere to land
	partitionService := services.NewPartitionService(router, 2, 12)
	if err := partitionService.EnsurePartitions(context.Background()); err != nil {
		log.Fatalf("Partition bootstrap failed: %v", err)
	}

	log.Println("Migrations completed successfully!")
}
