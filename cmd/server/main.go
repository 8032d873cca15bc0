package main

import (
	"context"
	"intake_flow_go/config"
	"intake_flow_go/handlers"
	"intake_flow_go/middleware"
	"intake_flow_go/services"
	"intake_flow_go/tabular"
	"log"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/robfig/cron/v3"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Open the ledger workbook
	wb, err := tabular.OpenWorkbook(cfg.WorkbookPath)
	if err != nil {
		log.Fatalf("Failed to open ledger workbook: %v", err)
	}
	defer wb.Close()

	// Initialize artifact storage (R2 with local fallback)
	storage := services.InitializeStorage(cfg)

	// Wire services
	notifier := services.NewNotifier(cfg)
	ledger := services.NewCaseLedger(wb, storage)
	contacts := services.NewContactRegistry(wb)
	registry := services.NewMapperRegistry()
	router := services.NewSubmissionRouter(cfg.IngestSecret, registry, ledger, contacts, wb, storage, notifier)
	merger := services.NewMultiPartMerger(storage)
	reconciler := services.NewStagingReconciler(storage, ledger, wb, cfg.StagingPrefix)
	gate := services.NewAuthGate(cfg.SigningSecret)

	webhookHandler := handlers.NewWebhookHandler(gate, ledger, contacts, reconciler, cfg)
	ingestHandler := handlers.NewIngestHandler(router, merger, notifier)

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins,
	}))

	// Public routes
	e.POST("/webhook", webhookHandler.Handle, middleware.WebhookRateLimiter.Middleware())
	e.POST("/ingest", ingestHandler.Ingest, middleware.IngestRateLimiter.Middleware())
	e.POST("/merge", ingestHandler.Merge, middleware.IngestRateLimiter.Middleware())
	e.GET("/debug/state", webhookHandler.DebugState)

	// Background staging sweep
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SweepSchedule, func() {
		res, err := reconciler.Sweep(context.Background(), services.SweepOptions{})
		if err != nil {
			log.Printf("[WARNING] staging sweep failed: %v", err)
			return
		}
		if res.Scanned > 0 {
			log.Printf("[INFO] staging sweep: scanned=%d adopted=%d skipped=%d", res.Scanned, res.Adopted, res.Skipped)
		}
	}); err != nil {
		log.Fatalf("Invalid SWEEP_SCHEDULE %q: %v", cfg.SweepSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Start server
	log.Printf("Server starting on port %s", cfg.ServerPort)
	if err := e.Start(":" + cfg.ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
