// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration.
type Config struct {
	Service       ServiceConfig
	Orchestrator  OrchestratorConfig
	STT           STTConfig
	Storage       StorageConfig
	Inference     InferenceConfig
	Gateway       GatewayConfig
	Kafka         KafkaConfig
	Ledger        LedgerConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds identity and listener settings.
type ServiceConfig struct {
	Principal string
	GRPCPort  string
	HTTPPort  string
}

// OrchestratorConfig controls job polling, budget and concurrency.
type OrchestratorConfig struct {
	PollInterval      time.Duration
	JobTimeout        time.Duration
	MaxConcurrentJobs int
}

// STTConfig selects and tunes the speech-to-text provider.
type STTConfig struct {
	Provider            string // mock, google
	LanguageCode        string
	SampleRateHz        int
	AudioEncoding       string
	Model               string
	Punctuation         bool
	OutputPrefix        string
	MockPollsToComplete int
}

// StorageConfig selects the object store for transcripts and snapshots.
type StorageConfig struct {
	Backend     string // fs, gcs
	Bucket      string
	InputBucket string // where recordings land; object events from other buckets are ignored
	LocalRoot   string
	Scheme      string // locator scheme for object-created events
}

// InferenceConfig selects the language model provider.
type InferenceConfig struct {
	Provider      string // mock, gemini, openai
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
}

// GatewayConfig holds the tool endpoint and its client-credentials grant.
type GatewayConfig struct {
	Endpoint     string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// KafkaConfig holds lifecycle event and trigger topic settings.
type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicStatus   string
	TopicOutcome  string
	TriggerTopic  string
	ConsumerGroup string
	Principal     string
}

// LedgerConfig selects the job ledger database.
type LedgerConfig struct {
	Driver string // sqlite, postgres
	DSN    string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
}

// Load reads configuration from the environment. A .env file (or ENV_FILE) is
// loaded first when present; variables already set take precedence.
func Load() *Config {
	envFile := envOrDefault("ENV_FILE", ".env")
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-call-triage")

	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
		},
		Orchestrator: OrchestratorConfig{
			PollInterval:      envOrDefaultDuration("JOB_POLL_INTERVAL", 30*time.Second),
			JobTimeout:        envOrDefaultDuration("JOB_TIMEOUT", 30*time.Minute),
			MaxConcurrentJobs: envOrDefaultInt("JOB_MAX_CONCURRENT", 16),
		},
		STT: STTConfig{
			Provider:            envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:        envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:        envOrDefaultInt("STT_SAMPLE_RATE_HZ", 8000),
			AudioEncoding:       envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			Model:               envOrDefault("STT_MODEL", "phone_call"),
			Punctuation:         envOrDefaultBool("STT_PUNCTUATION", true),
			OutputPrefix:        envOrDefault("STT_OUTPUT_PREFIX", "transcripts/"),
			MockPollsToComplete: envOrDefaultInt("STT_MOCK_POLLS", 2),
		},
		Storage: StorageConfig{
			Backend:   envOrDefault("STORAGE_BACKEND", "fs"),
			Bucket:      os.Getenv("STORAGE_BUCKET"),
			InputBucket: os.Getenv("STORAGE_INPUT_BUCKET"),
			LocalRoot:   envOrDefault("STORAGE_LOCAL_ROOT", "./data"),
			Scheme:      envOrDefault("STORAGE_SCHEME", "gs"),
		},
		Inference: InferenceConfig{
			Provider:      envOrDefault("INFERENCE_PROVIDER", "mock"),
			GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
			GeminiModel:   envOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
			OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
			OpenAIModel:   envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		},
		Gateway: GatewayConfig{
			Endpoint:     os.Getenv("GATEWAY_ENDPOINT"),
			TokenURL:     os.Getenv("GATEWAY_TOKEN_URL"),
			ClientID:     os.Getenv("GATEWAY_CLIENT_ID"),
			ClientSecret: os.Getenv("GATEWAY_CLIENT_SECRET"),
			Scopes:       envOrDefaultList("GATEWAY_SCOPES", nil),
			Timeout:      envOrDefaultDuration("GATEWAY_TIMEOUT", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:       envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:       envOrDefaultList("KAFKA_BROKERS", nil),
			TopicStatus:   envOrDefault("KAFKA_TOPIC_STATUS", "calljob.status"),
			TopicOutcome:  envOrDefault("KAFKA_TOPIC_OUTCOME", "calljob.outcome"),
			TriggerTopic:  os.Getenv("KAFKA_TRIGGER_TOPIC"),
			ConsumerGroup: envOrDefault("KAFKA_CONSUMER_GROUP", "ai-call-triage"),
			Principal:     envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Ledger: LedgerConfig{
			Driver: envOrDefault("LEDGER_DRIVER", "sqlite"),
			DSN:    envOrDefault("LEDGER_DSN", "file:ledger.db?_busy_timeout=5000"),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}
}

// Validate checks the settings required by the selected providers.
func (c *Config) Validate() error {
	var errs []error
	require := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	require(c.Orchestrator.PollInterval > 0, "JOB_POLL_INTERVAL must be positive")
	require(c.Orchestrator.JobTimeout > c.Orchestrator.PollInterval, "JOB_TIMEOUT must exceed JOB_POLL_INTERVAL")
	require(c.Orchestrator.MaxConcurrentJobs > 0, "JOB_MAX_CONCURRENT must be positive")

	switch c.STT.Provider {
	case "mock":
	case "google":
		require(c.Storage.Backend == "gcs", "STT_PROVIDER=google requires STORAGE_BACKEND=gcs")
	default:
		errs = append(errs, fmt.Errorf("unknown STT_PROVIDER %q", c.STT.Provider))
	}

	switch c.Storage.Backend {
	case "fs":
		require(c.Storage.LocalRoot != "", "STORAGE_LOCAL_ROOT is required for the fs backend")
	case "gcs":
		require(c.Storage.Bucket != "", "STORAGE_BUCKET is required for the gcs backend")
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}

	switch c.Inference.Provider {
	case "mock":
	case "gemini":
		require(c.Inference.GeminiAPIKey != "", "GEMINI_API_KEY is required for the gemini provider")
	case "openai":
		require(c.Inference.OpenAIAPIKey != "", "OPENAI_API_KEY is required for the openai provider")
	default:
		errs = append(errs, fmt.Errorf("unknown INFERENCE_PROVIDER %q", c.Inference.Provider))
	}

	require(c.Gateway.Endpoint != "", "GATEWAY_ENDPOINT is required")
	require(c.Gateway.TokenURL != "", "GATEWAY_TOKEN_URL is required")
	require(c.Gateway.ClientID != "" && c.Gateway.ClientSecret != "", "GATEWAY_CLIENT_ID and GATEWAY_CLIENT_SECRET are required")

	switch c.Ledger.Driver {
	case "sqlite", "postgres":
		require(c.Ledger.DSN != "", "LEDGER_DSN is required")
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_DRIVER %q", c.Ledger.Driver))
	}

	if c.Kafka.Enabled {
		require(len(c.Kafka.Brokers) > 0, "KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}

	return errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping blanks.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
