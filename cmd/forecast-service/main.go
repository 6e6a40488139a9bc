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
	"github.com/neurocast-ai/platform/pkg/features"
	"github.com/neurocast-ai/platform/pkg/forecast"
	"github.com/neurocast-ai/platform/pkg/observability/metrics"
	"github.com/neurocast-ai/platform/pkg/registry"
	"github.com/neurocast-ai/platform/pkg/sequence"
)

func main() {
	logger.Init("forecast-service")
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to database")
	}
	redisClient := database.GetRedis()

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
	forecastEvents := kafka.NewProducer(kafka.TopicForecastEvents)
	defer forecastEvents.Close()
	qualityEvents := kafka.NewProducer(kafka.TopicQualitySignals)
	defer qualityEvents.Close()

	cache := features.NewCache(store, features.NewHTTPExtractor(cfg), extractionEvents)

	loader := forecast.NewLoader(cfg.ModelArtifactDir)
	model, err := loader.Load(forecast.DefaultModelName)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load forecasting model")
	}
	logger.Log.WithFields(map[string]interface{}{
		"model":   forecast.DefaultModelName,
		"version": model.Version,
	}).Info("Forecasting model loaded")

	constraintCfg, err := forecast.LoadConstraintConfig(cfg.ConstraintConfigPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load constraint config")
	}
	post, err := forecast.NewPostProcessor(constraintCfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Invalid constraint config")
	}

	assembler := sequence.NewAssembler(visits, cache, model.Layout)
	service := forecast.NewService(cfg, assembler, loader, post, &fanoutPublisher{
		lifecycle: forecastEvents,
		quality:   qualityEvents,
	})

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	router.HandleFunc("/metrics", metrics.Handler).Methods(http.MethodGet)
	forecast.NewHTTPHandler(service, loader, cache, cfg.MaxRequestBody).Register(router)

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
		}).Info("Forecast Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Forecast Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Forecast Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// fanoutPublisher routes quality signals to their own topic and everything
// else to the lifecycle topic.
type fanoutPublisher struct {
	lifecycle *kafka.Producer
	quality   *kafka.Producer
}

func (p *fanoutPublisher) PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error {
	if eventType == "forecast.quality" {
		return p.quality.PublishEvent(ctx, eventType, source, data)
	}
	return p.lifecycle.PublishEvent(ctx, eventType, source, data)
}
