package config

import (
	"os"
	"testing"
)

func clearRLMEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "REDIS_URL", "RLM_ROOTLM_BACKEND",
		"VLLM_BASE_URL", "VLLM_API_KEY", "VLLM_MODEL", "VLLM_MAX_TOKENS", "VLLM_TEMPERATURE", "VLLM_DEBUG",
		"ANTHROPIC_API_KEY", "ANTHROPIC_MODEL",
		"RLM_GLIMPSE_TTL_SEC", "RLM_TRACE_DIR", "APP_ENV",
		"RLM_DEBUG_OPTIONS_ENABLED", "RLM_DEBUG_TOKEN",
		"RLM_KAFKA_BROKERS", "RLM_KAFKA_TOPIC", "RLM_CLICKHOUSE_DSN",
		"RLM_S3_BUCKET", "RLM_S3_INLINE_THRESHOLD_BYTES",
		"LOG_LEVEL", "LOG_PATH", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearRLMEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GlimpseTTLSeconds != 86400 {
		t.Errorf("GlimpseTTLSeconds = %d, want 86400", cfg.GlimpseTTLSeconds)
	}
	if cfg.TraceDir != "var/rlm_traces" {
		t.Errorf("TraceDir = %q, want default", cfg.TraceDir)
	}
	if cfg.Kafka.Topic != "rlm.run.completed" {
		t.Errorf("Kafka.Topic = %q, want default", cfg.Kafka.Topic)
	}
	if cfg.S3.InlineThresholdByte != 8192 {
		t.Errorf("S3.InlineThresholdByte = %d, want 8192", cfg.S3.InlineThresholdByte)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearRLMEnv(t)
	os.Setenv("RLM_GLIMPSE_TTL_SEC", "0")
	os.Setenv("RLM_TRACE_DIR", "/tmp/traces")
	os.Setenv("RLM_ROOTLM_BACKEND", "vllm")
	os.Setenv("VLLM_BASE_URL", "http://localhost:8000/v1/")
	os.Setenv("VLLM_MODEL", "qwen")
	os.Setenv("RLM_KAFKA_BROKERS", "b1:9092, b2:9092")
	defer clearRLMEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GlimpseTTLSeconds != 0 {
		t.Errorf("GlimpseTTLSeconds = %d, want 0 (explicit no-expiry)", cfg.GlimpseTTLSeconds)
	}
	if cfg.TraceDir != "/tmp/traces" {
		t.Errorf("TraceDir = %q", cfg.TraceDir)
	}
	if cfg.RootLMBackend != "vllm" {
		t.Errorf("RootLMBackend = %q", cfg.RootLMBackend)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "b1:9092" || cfg.Kafka.Brokers[1] != "b2:9092" {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
}
