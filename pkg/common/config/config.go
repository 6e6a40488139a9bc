package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// Extraction pipeline (external collaborator)
	ExtractionBaseURL      string
	ExtractionTokenURL     string
	ExtractionClientID     string
	ExtractionClientSecret string
	ExtractionTimeout      time.Duration

	// Feature cache
	FeatureCachePrefix string

	// Forecasting engine
	ModelArtifactDir     string
	ConstraintConfigPath string
	TrendMinVisits       int
	ConfidenceBase       float64
	ConfidenceDecay      float64

	// Evaluation jobs
	EvaluationArtifactDir string
	EvaluationMaxWorkers  int
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "neurocast"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "neurocast123"),
		PostgresDB:       getEnv("POSTGRES_DB", "neurocast"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "neurocast-platform"),

		ExtractionBaseURL:      getEnv("EXTRACTION_BASE_URL", "http://localhost:8091"),
		ExtractionTokenURL:     getEnv("EXTRACTION_TOKEN_URL", ""),
		ExtractionClientID:     getEnv("EXTRACTION_CLIENT_ID", ""),
		ExtractionClientSecret: getEnv("EXTRACTION_CLIENT_SECRET", ""),
		ExtractionTimeout:      getDuration("EXTRACTION_TIMEOUT", 20*time.Minute),

		FeatureCachePrefix: getEnv("FEATURE_CACHE_PREFIX", "features"),

		ModelArtifactDir:     getEnv("MODEL_ARTIFACT_DIR", "./artifacts/models"),
		ConstraintConfigPath: getEnv("CONSTRAINT_CONFIG_PATH", ""),
		TrendMinVisits:       getIntEnv("TREND_MIN_VISITS", 2),
		ConfidenceBase:       getFloatEnv("CONFIDENCE_BASE", 0.9),
		ConfidenceDecay:      getFloatEnv("CONFIDENCE_DECAY", 0.97),

		EvaluationArtifactDir: getEnv("EVALUATION_ARTIFACT_DIR", "./artifacts/evaluations"),
		EvaluationMaxWorkers:  getIntEnv("EVALUATION_MAX_WORKERS", 2),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
