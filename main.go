package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"scan-comply/pkg/config"
	"scan-comply/pkg/handlers"
	"scan-comply/pkg/logging"
	"scan-comply/pkg/metrics"
	"scan-comply/pkg/services/compliance"
	"scan-comply/pkg/services/entity"
	"scan-comply/pkg/services/ocr"
	"scan-comply/pkg/services/pipeline"
	"scan-comply/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if cfg.DotEnvWasMissing {
		logger.Info("no .env file found, using the environment only")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	verifierOpts := []entity.Option{
		entity.WithTTL(cfg.RegistryCacheTTL),
		entity.WithBatching(cfg.VerifyBatchSize, cfg.VerifyBatchDelay),
		entity.WithLogger(logger.Named("entity")),
		entity.WithMetrics(m),
	}

	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := entity.NewRedisClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		verifierOpts = append(verifierOpts, entity.WithTier(entity.NewRedisTier(client, time.Now)))
		logger.Info("shared verification cache enabled")
	}

	var invoices *store.InvoiceStore
	if cfg.DatabaseURL != "" {
		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if err := store.Migrate(db); err != nil {
			return err
		}
		invoices = store.New(db)
		verifierOpts = append(verifierOpts, entity.WithHistory(invoices))
	} else {
		logger.Warn("DATABASE_URL is not set, invoice records are disabled")
	}

	verifier := entity.NewVerifier(verifierOpts...)

	var image ocr.Recognizer
	if cfg.AzureEnabled() {
		image = ocr.NewAzureRecognizer(cfg.AzureVisionEndpoint, cfg.AzureVisionKey,
			ocr.WithEnhancement(cfg.EnhanceImages),
			ocr.WithLogger(logger.Named("ocr")))
	} else {
		logger.Warn("Azure vision is not configured, only block dumps can be processed")
	}

	orchestrator := pipeline.NewOrchestrator(ocr.NewRouter(image),
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithMetrics(m))
	validator := compliance.NewValidator(verifier,
		compliance.WithLogger(logger.Named("compliance")),
		compliance.WithMetrics(m))

	deps := handlers.Deps{
		Processor: orchestrator,
		Verifier:  verifier,
		Validator: validator,
		Defaults: pipeline.Options{
			EnableTemplateMatching: cfg.TemplateMatching,
			MinConfidence:          cfg.MinConfidence,
		},
		Gatherer: reg,
		Logger:   logger.Named("http"),
	}
	// Assigned only when set so the interfaces stay nil without a database.
	if invoices != nil {
		deps.Invoices = invoices
		deps.Job = pipeline.NewJob(orchestrator, validator, invoices, logger.Named("job"))
	}

	gin.SetMode(gin.ReleaseMode)
	r := handlers.New(deps).Router()

	logger.Info("listening", zap.String("port", cfg.Port))
	return r.Run(":" + cfg.Port)
}
