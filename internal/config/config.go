package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the call engine service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// PublicURL is this service's externally reachable base URL (e.g.
	// https://xxx.ngrok-free.dev when behind ngrok). The telephony
	// provider is told to fetch voice markup and deliver webhooks here,
	// and to open its media WebSocket against PublicURL+MediaPath.
	PublicURL  string `envconfig:"PUBLIC_URL" default:""`
	VoicePath  string `envconfig:"VOICE_PATH" default:"/voice"`
	StatusPath string `envconfig:"STATUS_PATH" default:"/call-status"`
	MediaPath  string `envconfig:"MEDIA_PATH" default:"/media"`

	// Telephony provider account configuration
	TelephonyAccountSID string `envconfig:"TELEPHONY_ACCOUNT_SID" required:"true"`
	TelephonyAuthToken  string `envconfig:"TELEPHONY_AUTH_TOKEN" required:"true"`
	TelephonyFromNumber string `envconfig:"TELEPHONY_FROM_NUMBER" required:"true"`

	// Deepgram STT API configuration
	DeepgramAPIKey     string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel      string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage   string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)
	STTConnectTimeoutMs int   `envconfig:"STT_CONNECT_TIMEOUT_MS" default:"10000"`

	// Cartesia TTS API configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" required:"true"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"` // Voice ID for Cartesia
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`         // Model ID (sonic, etc.)

	// OpenAI conversation manager configuration
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIModel  string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	// Audio processing configuration
	PreSTTQueueFrames  int     `envconfig:"PRE_STT_QUEUE_FRAMES" default:"500"`   // Bounded pre-STT PCM frame queue (oldest dropped)
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"0.015"` // Normalized [0,1] RMS threshold

	// Call-session timing (see component design for where each applies)
	GreetingDelayMs               int `envconfig:"GREETING_DELAY_MS" default:"250"`
	PreGreetingIdleMs             int `envconfig:"PRE_GREETING_IDLE_MS" default:"700"`
	MaxGreetingDeferralMs         int `envconfig:"MAX_GREETING_DEFERRAL_MS" default:"2000"`
	PostTTSSTTSuppressionMs       int `envconfig:"POST_TTS_STT_SUPPRESSION_MS" default:"300"`
	CallCompletionDelayMs         int `envconfig:"CALL_COMPLETION_DELAY_MS" default:"3000"`
	UnclearSpeechDebounceMs       int `envconfig:"UNCLEAR_SPEECH_DEBOUNCE_MS" default:"1500"`
	CallAnswerTimeoutMs           int `envconfig:"CALL_ANSWER_TIMEOUT_MS" default:"120000"`

	// Transcript debounce windows (adaptive, picked by transcript shape)
	DebounceShortAckMs             int `envconfig:"DEBOUNCE_SHORT_ACK_MS" default:"180"`
	DebounceSentenceEndMs          int `envconfig:"DEBOUNCE_SENTENCE_END_MS" default:"220"`
	DebounceLongSilenceMs          int `envconfig:"DEBOUNCE_LONG_SILENCE_MS" default:"800"`
	DebounceDefaultMs              int `envconfig:"DEBOUNCE_DEFAULT_MS" default:"500"`
	DebounceMinClampMs             int `envconfig:"DEBOUNCE_MIN_CLAMP_MS" default:"120"`
	DebounceLongSilenceThresholdMs int `envconfig:"DEBOUNCE_LONG_SILENCE_THRESHOLD_MS" default:"5000"`

	// Call server configuration
	PreflightWebhookTimeoutMs int `envconfig:"PREFLIGHT_WEBHOOK_TIMEOUT_MS" default:"6000"`
	StatusReconcileIntervalMs int `envconfig:"STATUS_RECONCILE_INTERVAL_MS" default:"10000"`
	MaxBodyBytes              int `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	MaxPhoneLen               int `envconfig:"MAX_PHONE_LEN" default:"20"`
	MaxGoalLen                int `envconfig:"MAX_GOAL_LEN" default:"1000"`
	MaxContextLen             int `envconfig:"MAX_CONTEXT_LEN" default:"5000"`

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

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if cfg.CartesiaAPIKey == "" {
		return fmt.Errorf("CARTESIA_API_KEY is required")
	}
	if cfg.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.TelephonyAccountSID == "" {
		return fmt.Errorf("TELEPHONY_ACCOUNT_SID is required")
	}
	if cfg.TelephonyAuthToken == "" {
		return fmt.Errorf("TELEPHONY_AUTH_TOKEN is required")
	}
	if cfg.TelephonyFromNumber == "" {
		return fmt.Errorf("TELEPHONY_FROM_NUMBER is required")
	}
	return nil
}
