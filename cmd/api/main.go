package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"aimian/internal/api"
	"aimian/internal/config"
	"aimian/internal/database"
	"aimian/internal/interview"
	"aimian/internal/llm"
	"aimian/internal/report"
	"aimian/internal/storage"
)

func main() {
	cfg := config.MustLoad()
	log.Printf("api bootstrapped with db host=%s port=%d db=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Printf("database connection ready")

	if err := database.Migrate(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	log.Printf("database migrated")

	seedDefaultUser(db)

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error("close asynq client failed", slog.Any("error", err))
		}
	}()

	llmService := llm.NewService(cfg.LLM, logger)
	if llmService.Configured() {
		log.Printf("llm provider ready: %s model=%s", llmService.Provider(), llmService.Model())
	} else {
		log.Printf("llm provider not configured, question generation will report upstream errors")
	}

	sessions := interview.NewService(db, logger)
	generator := interview.NewGenerator(db, llmService, logger)
	reports := report.NewService(db, llmService, cfg.ReportAI.Enabled, logger)

	router := api.NewRouter(cfg, logger)
	api.RegisterRoutes(router, db, asynqClient, sessions, generator, reports, storageClient, cfg.Clamd.Addr, logger)

	address := fmt.Sprintf(":%d", cfg.API.Port)
	log.Printf("api listening on %s", address)
	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}

func seedDefaultUser(db *gorm.DB) {
	var seedUser database.User
	switch err := db.First(&seedUser, interview.DefaultUserID).Error; {
	case err == nil:
		// seeded user already present
	case errors.Is(err, gorm.ErrRecordNotFound):
		seeded := database.User{Model: gorm.Model{ID: interview.DefaultUserID}, Username: "test_user"}
		if err := db.Create(&seeded).Error; err != nil {
			log.Fatalf("seed default user: %v", err)
		}
		log.Printf("seeded default user with ID %d", interview.DefaultUserID)
	default:
		log.Fatalf("query default user: %v", err)
	}
}
