package main

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/docsage/docsage/internal/api"
	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/service"
	"github.com/docsage/docsage/internal/store"
)

func main() {
	// config
	cfg := config.Load()
	logger := log.Default()

	// store
	dbStore, err := store.NewPgStore(cfg.PgConn)
	if err != nil {
		log.Fatal(err)
	}

	// services
	llm := service.NewLLMClient(cfg)
	filter := service.NewRelevanceFilter(llm, time.Duration(cfg.RelevanceTimeoutSec)*time.Second, logger)
	gate := service.NewQuotaGate(dbStore, cfg.DailyLimit)
	pipeline := service.NewPipeline(dbStore, filter, llm, gate, cfg.ChunkSize, cfg.ChunkOverlap, logger)

	// api
	app := fiber.New()
	api.RegisterRoutes(app, pipeline, llm, dbStore, logger)

	log.Printf("🚀 Server started at %s", cfg.ServerAddr)
	log.Fatal(app.Listen(cfg.ServerAddr))
}
