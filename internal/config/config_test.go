package config

import (
	"os"
	"testing"
)

func setRequiredEnv() {
	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	os.Setenv("CARTESIA_API_KEY", "test-cartesia-key")
	os.Setenv("OPENAI_API_KEY", "test-openai-key")
	os.Setenv("TELEPHONY_ACCOUNT_SID", "AC-test")
	os.Setenv("TELEPHONY_AUTH_TOKEN", "test-token")
	os.Setenv("TELEPHONY_FROM_NUMBER", "+15551234567")
}

func unsetRequiredEnv() {
	os.Unsetenv("DEEPGRAM_API_KEY")
	os.Unsetenv("CARTESIA_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")
	os.Unsetenv("TELEPHONY_ACCOUNT_SID")
	os.Unsetenv("TELEPHONY_AUTH_TOKEN")
	os.Unsetenv("TELEPHONY_FROM_NUMBER")
}

func TestLoad(t *testing.T) {
	setRequiredEnv()
	defer unsetRequiredEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}

	if cfg.CartesiaAPIKey != "test-cartesia-key" {
		t.Errorf("Expected CartesiaAPIKey 'test-cartesia-key', got '%s'", cfg.CartesiaAPIKey)
	}

	if cfg.OpenAIAPIKey != "test-openai-key" {
		t.Errorf("Expected OpenAIAPIKey 'test-openai-key', got '%s'", cfg.OpenAIAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	unsetRequiredEnv()

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv()
	defer unsetRequiredEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}

	if cfg.DeepgramLanguage != "en" {
		t.Errorf("Expected default DeepgramLanguage 'en', got '%s'", cfg.DeepgramLanguage)
	}

	if cfg.CartesiaVoiceID != "sonic-english" {
		t.Errorf("Expected default CartesiaVoiceID 'sonic-english', got '%s'", cfg.CartesiaVoiceID)
	}

	if cfg.CartesiaModelID != "sonic" {
		t.Errorf("Expected default CartesiaModelID 'sonic', got '%s'", cfg.CartesiaModelID)
	}

	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("Expected default OpenAIModel 'gpt-4o-mini', got '%s'", cfg.OpenAIModel)
	}

	if cfg.PreSTTQueueFrames != 500 {
		t.Errorf("Expected default PreSTTQueueFrames 500, got %d", cfg.PreSTTQueueFrames)
	}

	if cfg.VADEnergyThreshold != 0.015 {
		t.Errorf("Expected default VADEnergyThreshold 0.015, got %f", cfg.VADEnergyThreshold)
	}
}

func TestLoad_CallTimingDefaults(t *testing.T) {
	setRequiredEnv()
	defer unsetRequiredEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	cases := []struct {
		name string
		got  int
		want int
	}{
		{"GreetingDelayMs", cfg.GreetingDelayMs, 250},
		{"PreGreetingIdleMs", cfg.PreGreetingIdleMs, 700},
		{"MaxGreetingDeferralMs", cfg.MaxGreetingDeferralMs, 2000},
		{"PostTTSSTTSuppressionMs", cfg.PostTTSSTTSuppressionMs, 300},
		{"CallCompletionDelayMs", cfg.CallCompletionDelayMs, 3000},
		{"UnclearSpeechDebounceMs", cfg.UnclearSpeechDebounceMs, 1500},
		{"STTConnectTimeoutMs", cfg.STTConnectTimeoutMs, 10000},
		{"DebounceShortAckMs", cfg.DebounceShortAckMs, 180},
		{"DebounceSentenceEndMs", cfg.DebounceSentenceEndMs, 220},
		{"DebounceLongSilenceMs", cfg.DebounceLongSilenceMs, 800},
		{"DebounceDefaultMs", cfg.DebounceDefaultMs, 500},
		{"DebounceMinClampMs", cfg.DebounceMinClampMs, 120},
		{"DebounceLongSilenceThresholdMs", cfg.DebounceLongSilenceThresholdMs, 5000},
		{"StatusReconcileIntervalMs", cfg.StatusReconcileIntervalMs, 10000},
		{"PreflightWebhookTimeoutMs", cfg.PreflightWebhookTimeoutMs, 6000},
		{"MaxBodyBytes", cfg.MaxBodyBytes, 1048576},
		{"MaxPhoneLen", cfg.MaxPhoneLen, 20},
		{"MaxGoalLen", cfg.MaxGoalLen, 1000},
		{"MaxContextLen", cfg.MaxContextLen, 5000},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s: expected default %d, got %d", tc.name, tc.want, tc.got)
		}
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	setRequiredEnv()
	defer unsetRequiredEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryInitialBackoff != 100 {
		t.Errorf("Expected default RetryInitialBackoff 100, got %d", cfg.RetryInitialBackoff)
	}

	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("Expected default ReconnectMaxAttempts 5, got %d", cfg.ReconnectMaxAttempts)
	}

	if cfg.ReconnectBackoff != 1000 {
		t.Errorf("Expected default ReconnectBackoff 1000, got %d", cfg.ReconnectBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	setRequiredEnv()
	os.Unsetenv("LOG_LEVEL")
	defer unsetRequiredEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
