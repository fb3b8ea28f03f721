package config

import (
	"testing"
	"time"
)

func TestValidateRequiresBucketAndOrigin(t *testing.T) {
	var cfg Config
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error without required vars")
	}

	cfg.Storage.Bucket = "images"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error without origin base url")
	}

	cfg.Origin.BaseURL = "https://origin.example.com/assets"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PIXELSERVE_ADDR", ":9191")
	t.Setenv("PIXELSERVE_BUCKET", "demo-images")
	t.Setenv("PIXELSERVE_ORIGIN_BASE_URL", "https://origin.example.com")
	t.Setenv("PIXELSERVE_ORIGIN_TIMEOUT", "5s")
	t.Setenv("PIXELSERVE_VIPS_CACHE_MB", "512")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()
	if cfg.Server.Addr != ":9191" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Storage.Bucket != "demo-images" || !cfg.Storage.UseSSL {
		t.Fatalf("unexpected storage config %+v", cfg.Storage)
	}
	if cfg.Origin.Timeout != 5*time.Second {
		t.Fatalf("unexpected origin timeout %v", cfg.Origin.Timeout)
	}
	if cfg.Pipeline.VipsCacheMB != 512 || cfg.Pipeline.VipsCacheItems != 100 {
		t.Fatalf("unexpected pipeline config %+v", cfg.Pipeline)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestLoadFallsBackOnBadValues(t *testing.T) {
	t.Setenv("PIXELSERVE_ORIGIN_TIMEOUT", "soon")
	t.Setenv("PIXELSERVE_VIPS_CACHE_MB", "lots")
	t.Setenv("MINIO_USE_SSL", "sure")

	cfg := Load()
	if cfg.Origin.Timeout != 30*time.Second {
		t.Fatalf("expected fallback timeout, got %v", cfg.Origin.Timeout)
	}
	if cfg.Pipeline.VipsCacheMB != 256 {
		t.Fatalf("expected fallback cache size, got %d", cfg.Pipeline.VipsCacheMB)
	}
	if cfg.Storage.UseSSL {
		t.Fatal("expected fallback ssl setting")
	}
}
