package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	LogLevel string

	ModelPath         string
	MetadataPath      string
	ModelURL          string
	SharedLibraryPath string

	PoolSize              int
	InferenceQueueTimeout time.Duration
	MaxUploadBytes        int64

	RateLimitRPS   float64
	RateLimitBurst int

	DownloadTimeout    time.Duration
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:     mustEnv("PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		ModelPath:         mustEnv("MODEL_PATH", "models/model_certan.onnx"),
		MetadataPath:      mustEnv("MODEL_METADATA_PATH", "models/model_metadata.json"),
		ModelURL:          mustEnv("MODEL_URL", ""),
		SharedLibraryPath: mustEnv("ONNXRUNTIME_LIB", ""),

		PoolSize:              mustEnvInt("POOL_SIZE", 2),
		InferenceQueueTimeout: time.Duration(mustEnvInt("INFERENCE_QUEUE_TIMEOUT_MS", 2000)) * time.Millisecond,
		MaxUploadBytes:        int64(mustEnvInt("MAX_UPLOAD_MB", 10)) << 20,

		RateLimitRPS:   mustEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: mustEnvInt("RATE_LIMIT_BURST", 20),

		DownloadTimeout:    time.Duration(mustEnvInt("DOWNLOAD_TIMEOUT_SECONDS", 300)) * time.Second,
		BreakerFailures:    uint32(mustEnvInt("BREAKER_FAILURES", 3)),
		BreakerOpenTimeout: time.Duration(mustEnvInt("BREAKER_OPEN_SECONDS", 60)) * time.Second,
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return fallback
	}
	return f
}
