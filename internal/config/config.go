package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Sample format identifiers accepted in SAMPLE_FORMAT.
const (
	FormatFloat32 = "float32"
	FormatInt16   = "int16"
)

// Endpointer strategy identifiers accepted in ENDPOINT_STRATEGY.
const (
	StrategyHeuristic = "heuristic"
	StrategyNeural    = "neural"
)

// Config holds all configuration for the audio gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Audio stream configuration. Rates are negotiated once per process and
	// echoed to the client in the ready message; the accumulator always stores
	// audio at the input rate and conversion happens at finalize time.
	InputSampleRate  int    `envconfig:"INPUT_SAMPLE_RATE" default:"48000"`
	OutputSampleRate int    `envconfig:"OUTPUT_SAMPLE_RATE" default:"16000"`
	SampleFormat     string `envconfig:"SAMPLE_FORMAT" default:"float32"` // float32 or int16

	// Session timing configuration
	SilenceTimeoutMs   int `envconfig:"SILENCE_TIMEOUT_MS" default:"1200"`  // Silence window before endpointing
	MaxAudioDurationS  int `envconfig:"MAX_AUDIO_DURATION_S" default:"30"`  // Forced flush bound
	MinAudioDurationMs int `envconfig:"MIN_AUDIO_DURATION_MS" default:"200"` // Discard utterances shorter than this
	WatchdogPollMs     int `envconfig:"WATCHDOG_POLL_MS" default:"300"`     // Silence watchdog tick
	KeepaliveIdleMs    int `envconfig:"KEEPALIVE_IDLE_MS" default:"2000"`   // Idle window before a keepalive ping

	// Endpointer configuration
	EndpointStrategy string  `envconfig:"ENDPOINT_STRATEGY" default:"heuristic"` // heuristic or neural
	VADModelPath     string  `envconfig:"VAD_MODEL_PATH" default:""`             // Silero onnx model (neural only)
	VADThreshold     float32 `envconfig:"VAD_THRESHOLD" default:"0.5"`           // Speech probability threshold

	// Frame validation and quality configuration
	ValidationWindow   int     `envconfig:"VALIDATION_WINDOW" default:"10"`        // Rolling validity window in chunks
	MinEnergyThreshold float64 `envconfig:"MIN_ENERGY_THRESHOLD" default:"0.001"`  // RMS below this is silence
	ClippingRatio      float64 `envconfig:"CLIPPING_RATIO" default:"0.10"`         // Fraction of full-scale samples flagged as clipping
	OutOfRangeRatio    float64 `envconfig:"OUT_OF_RANGE_RATIO" default:"0.01"`     // Fraction of floats outside [-1,1] flagged
	SilentTurnVolume   float64 `envconfig:"SILENT_TURN_VOLUME" default:"0.3"`      // Peak below this counts as a silent turn
	SilenceTurnLimit   int     `envconfig:"SILENCE_TURN_THRESHOLD" default:"3"`    // Consecutive silent turns before hang-up

	// Worker pool for CPU-bound work (resampling, VAD inference)
	WorkerPoolSize int `envconfig:"WORKER_POOL_SIZE" default:"4"`

	// Deepgram transcription configuration
	DeepgramAPIKey     string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel      string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage   string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)
	TranscribeTimeoutS int    `envconfig:"TRANSCRIBE_TIMEOUT_S" default:"15"`

	// Cartesia TTS configuration
	TTSAPIKey  string `envconfig:"TTS_API_KEY" required:"true"`
	TTSVoiceID string `envconfig:"TTS_VOICE_ID" default:"sonic-english"`
	TTSModelID string `envconfig:"TTS_MODEL_ID" default:"sonic"`

	// Conversation pipeline gRPC endpoint
	PipelineAddr     string `envconfig:"PIPELINE_ADDR" default:"localhost:50051"`
	PipelineTimeoutS int    `envconfig:"PIPELINE_TIMEOUT_S" default:"30"`

	// Spoken lines. GreetingText empty disables the greeting.
	GreetingText string `envconfig:"GREETING_TEXT" default:"Hello! I'm listening. How can I help you today?"`

	// Turn persistence (Redis). Empty address disables persistence.
	RedisAddr     string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	TurnTTLH      int    `envconfig:"TURN_TTL_H" default:"24"`
	TurnQueueSize int    `envconfig:"TURN_QUEUE_SIZE" default:"256"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

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

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
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

// Validate checks required fields and cross-field rules
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.TTSAPIKey == "" {
		return fmt.Errorf("TTS_API_KEY is required")
	}
	if c.InputSampleRate <= 0 || c.OutputSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive (input=%d output=%d)", c.InputSampleRate, c.OutputSampleRate)
	}
	if c.SampleFormat != FormatFloat32 && c.SampleFormat != FormatInt16 {
		return fmt.Errorf("SAMPLE_FORMAT must be %q or %q, got %q", FormatFloat32, FormatInt16, c.SampleFormat)
	}
	switch c.EndpointStrategy {
	case StrategyHeuristic:
	case StrategyNeural:
		if c.VADModelPath == "" {
			return fmt.Errorf("VAD_MODEL_PATH is required when ENDPOINT_STRATEGY is %q", StrategyNeural)
		}
		// The Silero model operates on 512-sample windows at 16 kHz.
		if c.InputSampleRate != 16000 {
			return fmt.Errorf("ENDPOINT_STRATEGY %q requires INPUT_SAMPLE_RATE 16000, got %d", StrategyNeural, c.InputSampleRate)
		}
	default:
		return fmt.Errorf("ENDPOINT_STRATEGY must be %q or %q, got %q", StrategyHeuristic, StrategyNeural, c.EndpointStrategy)
	}
	if c.ValidationWindow <= 0 {
		return fmt.Errorf("VALIDATION_WINDOW must be positive, got %d", c.ValidationWindow)
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("WORKER_POOL_SIZE must be positive, got %d", c.WorkerPoolSize)
	}
	return nil
}

// BytesPerSample returns the sample width implied by SampleFormat
func (c *Config) BytesPerSample() int {
	if c.SampleFormat == FormatInt16 {
		return 2
	}
	return 4
}

// SilenceTimeout returns SILENCE_TIMEOUT_MS as a duration
func (c *Config) SilenceTimeout() time.Duration {
	return time.Duration(c.SilenceTimeoutMs) * time.Millisecond
}

// MaxAudioDuration returns MAX_AUDIO_DURATION_S as a duration
func (c *Config) MaxAudioDuration() time.Duration {
	return time.Duration(c.MaxAudioDurationS) * time.Second
}

// MinAudioDuration returns MIN_AUDIO_DURATION_MS as a duration
func (c *Config) MinAudioDuration() time.Duration {
	return time.Duration(c.MinAudioDurationMs) * time.Millisecond
}

// WatchdogPoll returns WATCHDOG_POLL_MS as a duration
func (c *Config) WatchdogPoll() time.Duration {
	return time.Duration(c.WatchdogPollMs) * time.Millisecond
}

// KeepaliveIdle returns KEEPALIVE_IDLE_MS as a duration
func (c *Config) KeepaliveIdle() time.Duration {
	return time.Duration(c.KeepaliveIdleMs) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
