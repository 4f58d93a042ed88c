package config

import (
	"os"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	os.Setenv("TTS_API_KEY", "test-tts-key")
	t.Cleanup(func() {
		os.Unsetenv("DEEPGRAM_API_KEY")
		os.Unsetenv("TTS_API_KEY")
	})
}

func TestLoad(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}

	if cfg.TTSAPIKey != "test-tts-key" {
		t.Errorf("Expected TTSAPIKey 'test-tts-key', got '%s'", cfg.TTSAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("DEEPGRAM_API_KEY")
	os.Unsetenv("TTS_API_KEY")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.InputSampleRate != 48000 {
		t.Errorf("Expected default InputSampleRate 48000, got %d", cfg.InputSampleRate)
	}

	if cfg.OutputSampleRate != 16000 {
		t.Errorf("Expected default OutputSampleRate 16000, got %d", cfg.OutputSampleRate)
	}

	if cfg.SampleFormat != FormatFloat32 {
		t.Errorf("Expected default SampleFormat 'float32', got '%s'", cfg.SampleFormat)
	}

	if cfg.SilenceTimeoutMs != 1200 {
		t.Errorf("Expected default SilenceTimeoutMs 1200, got %d", cfg.SilenceTimeoutMs)
	}

	if cfg.MaxAudioDurationS != 30 {
		t.Errorf("Expected default MaxAudioDurationS 30, got %d", cfg.MaxAudioDurationS)
	}

	if cfg.WatchdogPollMs != 300 {
		t.Errorf("Expected default WatchdogPollMs 300, got %d", cfg.WatchdogPollMs)
	}

	if cfg.EndpointStrategy != StrategyHeuristic {
		t.Errorf("Expected default EndpointStrategy 'heuristic', got '%s'", cfg.EndpointStrategy)
	}

	if cfg.ValidationWindow != 10 {
		t.Errorf("Expected default ValidationWindow 10, got %d", cfg.ValidationWindow)
	}

	if cfg.MinEnergyThreshold != 0.001 {
		t.Errorf("Expected default MinEnergyThreshold 0.001, got %f", cfg.MinEnergyThreshold)
	}

	if cfg.SilenceTurnLimit != 3 {
		t.Errorf("Expected default SilenceTurnLimit 3, got %d", cfg.SilenceTurnLimit)
	}

	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}

	if cfg.PipelineAddr != "localhost:50051" {
		t.Errorf("Expected default PipelineAddr 'localhost:50051', got '%s'", cfg.PipelineAddr)
	}
}

func TestLoad_InvalidFormat(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("SAMPLE_FORMAT", "pcm24")
	defer os.Unsetenv("SAMPLE_FORMAT")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for unknown SAMPLE_FORMAT")
	}
}

func TestLoad_NeuralRequiresModelPath(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("ENDPOINT_STRATEGY", "neural")
	os.Setenv("INPUT_SAMPLE_RATE", "16000")
	defer os.Unsetenv("ENDPOINT_STRATEGY")
	defer os.Unsetenv("INPUT_SAMPLE_RATE")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when neural strategy has no model path")
	}

	os.Setenv("VAD_MODEL_PATH", "/models/silero_vad.onnx")
	defer os.Unsetenv("VAD_MODEL_PATH")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed with model path set: %v", err)
	}
	if cfg.EndpointStrategy != StrategyNeural {
		t.Errorf("Expected EndpointStrategy 'neural', got '%s'", cfg.EndpointStrategy)
	}
}

func TestLoad_NeuralRequires16k(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("ENDPOINT_STRATEGY", "neural")
	os.Setenv("VAD_MODEL_PATH", "/models/silero_vad.onnx")
	os.Setenv("INPUT_SAMPLE_RATE", "48000")
	defer os.Unsetenv("ENDPOINT_STRATEGY")
	defer os.Unsetenv("VAD_MODEL_PATH")
	defer os.Unsetenv("INPUT_SAMPLE_RATE")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when neural strategy runs at a non-16k input rate")
	}
}

func TestBytesPerSample(t *testing.T) {
	cfg := &Config{SampleFormat: FormatFloat32}
	if cfg.BytesPerSample() != 4 {
		t.Errorf("Expected 4 bytes per float32 sample, got %d", cfg.BytesPerSample())
	}

	cfg.SampleFormat = FormatInt16
	if cfg.BytesPerSample() != 2 {
		t.Errorf("Expected 2 bytes per int16 sample, got %d", cfg.BytesPerSample())
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := &Config{
		SilenceTimeoutMs:   1200,
		MaxAudioDurationS:  30,
		MinAudioDurationMs: 200,
		WatchdogPollMs:     300,
		KeepaliveIdleMs:    2000,
	}

	if cfg.SilenceTimeout().Milliseconds() != 1200 {
		t.Errorf("Expected SilenceTimeout 1200ms, got %v", cfg.SilenceTimeout())
	}
	if cfg.MaxAudioDuration().Seconds() != 30 {
		t.Errorf("Expected MaxAudioDuration 30s, got %v", cfg.MaxAudioDuration())
	}
	if cfg.MinAudioDuration().Milliseconds() != 200 {
		t.Errorf("Expected MinAudioDuration 200ms, got %v", cfg.MinAudioDuration())
	}
	if cfg.WatchdogPoll().Milliseconds() != 300 {
		t.Errorf("Expected WatchdogPoll 300ms, got %v", cfg.WatchdogPoll())
	}
	if cfg.KeepaliveIdle().Milliseconds() != 2000 {
		t.Errorf("Expected KeepaliveIdle 2000ms, got %v", cfg.KeepaliveIdle())
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	setRequiredEnv(t)

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

	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("Expected default ReconnectMaxAttempts 5, got %d", cfg.ReconnectMaxAttempts)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	setRequiredEnv(t)
	os.Unsetenv("LOG_LEVEL")

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
