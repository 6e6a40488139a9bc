package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/neurocast-ai/platform/pkg/common/config"
	"github.com/neurocast-ai/platform/pkg/common/database"
	"github.com/neurocast-ai/platform/pkg/common/kafka"
	"github.com/neurocast-ai/platform/pkg/common/logger"
	"github.com/neurocast-ai/platform/pkg/evaluation"
	"github.com/neurocast-ai/platform/pkg/features"
	"github.com/neurocast-ai/platform/pkg/forecast"
	"github.com/neurocast-ai/platform/pkg/observability/metrics"
	"github.com/neurocast-ai/platform/pkg/registry"
	"github.com/neurocast-ai/platform/pkg/sequence"
)

func main() {
	logger.Init("evaluation-service")
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to database")
	}
	redisClient := database.GetRedis()

	repo := evaluation.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate evaluation tables")
	}

	store := features.NewTieredStore(db, redisClient, cfg.FeatureCachePrefix)
	if err := store.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate feature store tables")
	}
	visits := registry.NewRepository(db)
	if err := visits.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate registry tables")
	}

	extractionEvents := kafka.NewProducer(kafka.TopicExtractionEvents)
	defer extractionEvents.Close()
	cache := features.NewCache(store, features.NewHTTPExtractor(cfg), extractionEvents)

	loader := forecast.NewLoader(cfg.ModelArtifactDir)
	model, err := loader.Load(forecast.DefaultModelName)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load forecasting model")
	}

	assembler := sequence.NewAssembler(visits, cache, model.Layout)
	service, err := evaluation.NewService(repo, assembler, loader, cfg.EvaluationArtifactDir, cfg.EvaluationMaxWorkers)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize evaluation service")
	}

	// Quality-signal ingestion runs alongside the HTTP API.
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumer := kafka.NewConsumer(kafka.TopicQualitySignals, "evaluation-service")
	qualityEvents := kafka.Dispatch(map[string]kafka.EventHandler{
		"forecast.quality": evaluation.QualityHandler(repo),
	})
	go func() {
		if err := consumer.Consume(consumerCtx, qualityEvents); err != nil && consumerCtx.Err() == nil {
			logger.Log.WithError(err).Error("quality consumer stopped")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	router.HandleFunc("/metrics", metrics.Handler).Methods(http.MethodGet)
	evaluation.NewHTTPHandler(service, repo).Register(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Evaluation Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Evaluation Service...")

	stopConsumer()
	consumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Evaluation Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
