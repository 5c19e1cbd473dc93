package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting for the RLM run pipeline.
type Config struct {
	DatabaseURL string
	RedisURL    string

	RootLMBackend string // mock | vllm | anthropic

	Vllm      VllmConfig
	Anthropic AnthropicConfig

	GlimpseTTLSeconds int
	TraceDir          string
	PolicyPath        string // optional rlm.policy.yaml, empty disables it

	AppEnv                 string
	DebugOptionsEnabled    bool
	DebugToken             string

	Kafka      KafkaConfig
	ClickHouse ClickHouseConfig
	S3         S3Config

	LogLevel string
	LogPath  string

	OTelEndpoint  string
	OTelService   string
	OTelEnv       string

	version string
}

// ObsConfig is the subset of Config consumed by InitOTel.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Obs projects the observability-relevant fields into an ObsConfig.
func (c Config) Obs() ObsConfig {
	return ObsConfig{
		OTLP:           c.OTelEndpoint,
		ServiceName:    firstNonEmpty(c.OTelService, "rlmd"),
		ServiceVersion: firstNonEmpty(c.version, "dev"),
		Environment:    firstNonEmpty(c.AppEnv, "development"),
	}
}

// VllmConfig configures the OpenAI-compatible HTTP-Chat root-LM backend.
type VllmConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Debug       bool
}

// AnthropicConfig configures the Anthropic root-LM backend.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// KafkaConfig configures the run-completion notification publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ClickHouseConfig configures the optional trace mirror.
type ClickHouseConfig struct {
	DSN string
}

// S3Config configures the candidate-store large-content overflow.
type S3Config struct {
	Bucket                string
	Region                string
	Endpoint              string
	Prefix                string
	AccessKey             string
	SecretKey             string
	UsePathStyle          bool
	TLSInsecureSkipVerify bool
	SSE                   S3SSEConfig
	InlineThresholdByte   int
}

// S3SSEConfig configures server-side encryption for stored objects.
type S3SSEConfig struct {
	Mode     string // "", "sse-s3", "sse-kms"
	KMSKeyID string
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	// Use Overload so .env values override existing OS environment variables,
	// matching local-dev expectations: repo config wins unless the shell
	// environment is explicitly exported after the process starts.
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.RootLMBackend = strings.TrimSpace(os.Getenv("RLM_ROOTLM_BACKEND"))

	cfg.Vllm.BaseURL = strings.TrimSpace(os.Getenv("VLLM_BASE_URL"))
	cfg.Vllm.APIKey = strings.TrimSpace(os.Getenv("VLLM_API_KEY"))
	cfg.Vllm.Model = strings.TrimSpace(os.Getenv("VLLM_MODEL"))
	if v := strings.TrimSpace(os.Getenv("VLLM_MAX_TOKENS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Vllm.MaxTokens = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("VLLM_TEMPERATURE")); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Vllm.Temperature = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("VLLM_DEBUG")); v != "" {
		cfg.Vllm.Debug = strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}

	cfg.Anthropic.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	cfg.Anthropic.Model = strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL"))

	cfg.GlimpseTTLSeconds = 86400
	if v := strings.TrimSpace(os.Getenv("RLM_GLIMPSE_TTL_SEC")); v != "" {
		if n, err := parseInt(v); err == nil && n >= 0 {
			cfg.GlimpseTTLSeconds = n
		}
	}

	cfg.TraceDir = firstNonEmpty(strings.TrimSpace(os.Getenv("RLM_TRACE_DIR")), "var/rlm_traces")
	cfg.PolicyPath = strings.TrimSpace(os.Getenv("RLM_POLICY_PATH"))
	cfg.AppEnv = strings.TrimSpace(os.Getenv("APP_ENV"))
	if v := strings.TrimSpace(os.Getenv("RLM_DEBUG_OPTIONS_ENABLED")); v != "" {
		cfg.DebugOptionsEnabled = strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
	cfg.DebugToken = strings.TrimSpace(os.Getenv("RLM_DEBUG_TOKEN"))

	if v := strings.TrimSpace(os.Getenv("RLM_KAFKA_BROKERS")); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	cfg.Kafka.Topic = firstNonEmpty(strings.TrimSpace(os.Getenv("RLM_KAFKA_TOPIC")), "rlm.run.completed")

	cfg.ClickHouse.DSN = strings.TrimSpace(os.Getenv("RLM_CLICKHOUSE_DSN"))

	cfg.S3.Bucket = strings.TrimSpace(os.Getenv("RLM_S3_BUCKET"))
	cfg.S3.Region = firstNonEmpty(strings.TrimSpace(os.Getenv("RLM_S3_REGION")), "us-east-1")
	cfg.S3.Endpoint = strings.TrimSpace(os.Getenv("RLM_S3_ENDPOINT"))
	cfg.S3.Prefix = strings.TrimSpace(os.Getenv("RLM_S3_PREFIX"))
	cfg.S3.AccessKey = strings.TrimSpace(os.Getenv("RLM_S3_ACCESS_KEY"))
	cfg.S3.SecretKey = strings.TrimSpace(os.Getenv("RLM_S3_SECRET_KEY"))
	if v := strings.TrimSpace(os.Getenv("RLM_S3_USE_PATH_STYLE")); v != "" {
		cfg.S3.UsePathStyle = strings.EqualFold(v, "true") || v == "1"
	}
	cfg.S3.InlineThresholdByte = 8192
	if v := strings.TrimSpace(os.Getenv("RLM_S3_INLINE_THRESHOLD_BYTES")); v != "" {
		if n, err := parseInt(v); err == nil && n >= 0 {
			cfg.S3.InlineThresholdByte = n
		}
	}

	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	cfg.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))
	cfg.OTelEndpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg.OTelService = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")), "rlmd")
	cfg.OTelEnv = strings.TrimSpace(os.Getenv("APP_ENV"))

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
