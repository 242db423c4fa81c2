package main

import (
	"log"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"settlement-service/internal/consumers"
	"settlement-service/internal/database"
	"settlement-service/internal/repository"
	"settlement-service/internal/services"
	"settlement-service/internal/worker"
)

func main() {
	// Load env
	if err := godotenv.Load("../../.env"); err != nil {
		log.Println("No .env file found in ../../.env, trying .env")
		if err := godotenv.Load(".env"); err != nil {
			log.Println("No .env file found, using system env")
		}
	}

	// Connect DB through the same router the API uses; the worker writes
	// through the primary only.
	router, err := database.NewRouter(database.Config{
		PrimaryDSN: os.Getenv("DATABASE_URL"),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	txRepo := repository.NewTransactionRepo(router)
	dlqService := services.NewDLQService(txRepo, router)
	processor := consumers.NewTransactionProcessor(txRepo, dlqService)

	// Claim sweep backstops callbacks whose enqueue never reached redis
	processor.StartScheduler(os.Getenv("CLAIM_SWEEP_INTERVAL"))

	// Redis
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	log.Println("Starting Asynq Worker...")
	worker.StartWorker(redisOpt, processor)
}
