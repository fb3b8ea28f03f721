package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Origin    OriginConfig
	Pipeline  PipelineConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type OriginConfig struct {
	BaseURL string
	Timeout time.Duration
}

// PipelineConfig bounds the native image runtime's caches. Ignored on the
// pure-Go build.
type PipelineConfig struct {
	VipsCacheMB    int
	VipsCacheItems int
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	return Config{
		Server: ServerConfig{
			Addr:        env("PIXELSERVE_ADDR", ":8080"),
			ReadTimeout: envDuration("PIXELSERVE_READ_TIMEOUT", 15*time.Second),
			// Streaming responses can outlive a buffered request by a lot.
			WriteTimeout: envDuration("PIXELSERVE_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  envDuration("PIXELSERVE_IDLE_TIMEOUT", 60*time.Second),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("PIXELSERVE_BUCKET", ""),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Origin: OriginConfig{
			BaseURL: env("PIXELSERVE_ORIGIN_BASE_URL", ""),
			Timeout: envDuration("PIXELSERVE_ORIGIN_TIMEOUT", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			VipsCacheMB:    envInt("PIXELSERVE_VIPS_CACHE_MB", 256),
			VipsCacheItems: envInt("PIXELSERVE_VIPS_CACHE_ITEMS", 100),
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("PIXELSERVE_TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
	}
}

// Validate enforces the configuration required at process start. Missing
// values here are fatal, never per-request errors.
func (c Config) Validate() error {
	if c.Storage.Bucket == "" {
		return errors.New("PIXELSERVE_BUCKET is required")
	}
	if c.Origin.BaseURL == "" {
		return errors.New("PIXELSERVE_ORIGIN_BASE_URL is required")
	}
	return nil
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
