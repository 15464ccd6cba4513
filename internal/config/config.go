package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the conversation analysis service
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"9090"` // gRPC health service

	// Public base URL for this service, used when logging the websocket endpoints.
	// Optional; if unset, logs ws://localhost:PORT/v1/stream.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Deepgram STT API configuration
	DeepgramAPIKey     string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel      string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage   string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Single configured language
	DeepgramHost       string `envconfig:"DEEPGRAM_HOST"`                   // Self-hosted endpoint, e.g. ws://deepgram:8080
	SampleRate         int    `envconfig:"SAMPLE_RATE" default:"16000"`     // Live capture sample rate
	Channels           int    `envconfig:"CHANNELS" default:"1"`
	FlushTimeoutMs     int    `envconfig:"FLUSH_TIMEOUT_MS" default:"5000"`     // Upper bound on stop flush
	FlushQuietPeriodMs int    `envconfig:"FLUSH_QUIET_PERIOD_MS" default:"1200"` // Silence after finalize that ends the flush
	FileChunkSize      int    `envconfig:"FILE_CHUNK_SIZE" default:"32768"`      // Bytes per replayed chunk
	FileChunkDelayMs   int    `envconfig:"FILE_CHUNK_DELAY_MS" default:"20"`     // Pause between replayed chunks

	// OpenAI-compatible language analysis configuration
	OpenAIAPIKey          string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIBaseURL         string `envconfig:"OPENAI_BASE_URL" default:""`
	OpenAIModel           string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAITimeout         int    `envconfig:"OPENAI_TIMEOUT" default:"60"` // seconds
	AnnotateTimeout       int    `envconfig:"ANNOTATE_TIMEOUT" default:"15"`
	AnnotateMaxTokens     int    `envconfig:"ANNOTATE_MAX_TOKENS" default:"200"`
	AnalysisMaxTokens     int    `envconfig:"ANALYSIS_MAX_TOKENS" default:"2000"`
	CorrectionMaxTokens   int    `envconfig:"CORRECTION_MAX_TOKENS" default:"3000"`
	AnnotationMinChars    int    `envconfig:"ANNOTATION_MIN_CHARS" default:"10"`
	MaxConcurrentAnnotate int    `envconfig:"MAX_CONCURRENT_ANNOTATE" default:"8"`

	// Pipeline heuristics
	MergeToleranceSeconds float64 `envconfig:"MERGE_TOLERANCE_SECONDS" default:"2.0"`
	EngagementWPMFloor    float64 `envconfig:"ENGAGEMENT_WPM_FLOOR" default:"80"`
	EngagementWPMCeiling  float64 `envconfig:"ENGAGEMENT_WPM_CEILING" default:"200"`
	StopGraceMs           int     `envconfig:"STOP_GRACE_MS" default:"2000"`
	FeedbackFeedSize      int     `envconfig:"FEEDBACK_FEED_SIZE" default:"5"`
	InitiatorRole         string  `envconfig:"INITIATOR_ROLE" default:"Salesperson"`
	ResponderRole         string  `envconfig:"RESPONDER_ROLE" default:"Customer"`
	ReviewBeforeAnalysis  bool    `envconfig:"REVIEW_BEFORE_ANALYSIS" default:"false"`

	// Audio processing configuration
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`      // Frames of silence to mark speech end
	MaxRecordingMB     int     `envconfig:"MAX_RECORDING_MB" default:"200"`       // Cap on the captured live audio artifact
	MaxUploadMB        int     `envconfig:"MAX_UPLOAD_MB" default:"100"`          // Cap on uploaded recordings

	// Storage configuration. Empty endpoints fall back to the in-memory store.
	MinIOEndpoint  string `envconfig:"MINIO_ENDPOINT" default:""`
	MinIOAccessKey string `envconfig:"MINIO_ACCESS_KEY" default:""`
	MinIOSecretKey string `envconfig:"MINIO_SECRET_KEY" default:""`
	MinIOBucket    string `envconfig:"MINIO_BUCKET" default:"conversation-audio"`
	MinIOUseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	MinIOPublicURL string `envconfig:"MINIO_PUBLIC_URL" default:""` // Prefix for stored audio references
	DatabaseURL    string `envconfig:"DATABASE_URL" default:""`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Attempts for heavy analysis calls
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"250"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required keys and heuristic bounds
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.MergeToleranceSeconds < 0 {
		return fmt.Errorf("MERGE_TOLERANCE_SECONDS must not be negative, got %v", c.MergeToleranceSeconds)
	}
	if c.EngagementWPMCeiling <= c.EngagementWPMFloor {
		return fmt.Errorf("ENGAGEMENT_WPM_CEILING (%v) must exceed ENGAGEMENT_WPM_FLOOR (%v)", c.EngagementWPMCeiling, c.EngagementWPMFloor)
	}
	if c.MaxRecordingMB <= 0 || c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_RECORDING_MB and MAX_UPLOAD_MB must be positive")
	}
	if c.StopGraceMs <= 0 {
		return fmt.Errorf("STOP_GRACE_MS must be positive, got %d", c.StopGraceMs)
	}
	if c.InitiatorRole == "" || c.ResponderRole == "" || c.InitiatorRole == c.ResponderRole {
		return fmt.Errorf("INITIATOR_ROLE and RESPONDER_ROLE must be distinct and non-empty")
	}
	return nil
}

// StopGrace is how long stop waits for trailing annotations
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.StopGraceMs) * time.Millisecond
}

// FlushTimeout bounds the provider flush on stop
func (c *Config) FlushTimeout() time.Duration {
	return time.Duration(c.FlushTimeoutMs) * time.Millisecond
}

// FlushQuietPeriod is the silence after finalize that ends a flush
func (c *Config) FlushQuietPeriod() time.Duration {
	return time.Duration(c.FlushQuietPeriodMs) * time.Millisecond
}

// FileChunkDelay is the pause between replayed file chunks
func (c *Config) FileChunkDelay() time.Duration {
	return time.Duration(c.FileChunkDelayMs) * time.Millisecond
}

// CircuitResetTimeout is the open-state cool down
func (c *Config) CircuitResetTimeout() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// RetryBackoff is the initial retry interval
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoff) * time.Millisecond
}

// MaxRecordingBytes is the live capture cap in bytes
func (c *Config) MaxRecordingBytes() int {
	return c.MaxRecordingMB << 20
}

// MaxUploadBytes is the upload cap in bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// UseMinIO reports whether audio artifacts go to MinIO
func (c *Config) UseMinIO() bool {
	return c.MinIOEndpoint != ""
}

// UsePostgres reports whether records go to Postgres
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
