package config

import (
	"os"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	t.Setenv("OPENAI_API_KEY", "test-openai-key")
}

func TestLoad(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}
	if cfg.OpenAIAPIKey != "test-openai-key" {
		t.Errorf("Expected OpenAIAPIKey 'test-openai-key', got '%s'", cfg.OpenAIAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	os.Unsetenv("DEEPGRAM_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}
	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}
	if cfg.MergeToleranceSeconds != 2.0 {
		t.Errorf("Expected default tolerance 2.0, got %v", cfg.MergeToleranceSeconds)
	}
	if cfg.EngagementWPMFloor != 80 || cfg.EngagementWPMCeiling != 200 {
		t.Errorf("Expected WPM bounds 80/200, got %v/%v", cfg.EngagementWPMFloor, cfg.EngagementWPMCeiling)
	}
	if cfg.StopGrace() != 2*time.Second {
		t.Errorf("Expected stop grace 2s, got %v", cfg.StopGrace())
	}
	if cfg.FeedbackFeedSize != 5 {
		t.Errorf("Expected feed size 5, got %d", cfg.FeedbackFeedSize)
	}
	if cfg.AnnotationMinChars != 10 {
		t.Errorf("Expected min chars 10, got %d", cfg.AnnotationMinChars)
	}
	if cfg.InitiatorRole != "Salesperson" || cfg.ResponderRole != "Customer" {
		t.Errorf("Expected Salesperson/Customer roles, got %s/%s", cfg.InitiatorRole, cfg.ResponderRole)
	}
	if cfg.UseMinIO() || cfg.UsePostgres() {
		t.Error("Expected in-memory storage by default")
	}
	if cfg.MaxRecordingBytes() != 200<<20 {
		t.Errorf("Expected 200MB recording cap, got %d", cfg.MaxRecordingBytes())
	}
	if cfg.MaxUploadBytes() != 100<<20 {
		t.Errorf("Expected 100MB upload cap, got %d", cfg.MaxUploadBytes())
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MERGE_TOLERANCE_SECONDS", "1.5")
	t.Setenv("ENGAGEMENT_WPM_CEILING", "180")
	t.Setenv("DATABASE_URL", "postgres://localhost/convo")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}
	if cfg.MergeToleranceSeconds != 1.5 {
		t.Errorf("Expected tolerance 1.5, got %v", cfg.MergeToleranceSeconds)
	}
	if cfg.EngagementWPMCeiling != 180 {
		t.Errorf("Expected ceiling 180, got %v", cfg.EngagementWPMCeiling)
	}
	if !cfg.UsePostgres() {
		t.Error("Expected Postgres to be enabled when DATABASE_URL is set")
	}
}

func TestValidate_Bounds(t *testing.T) {
	setRequired(t)
	t.Setenv("ENGAGEMENT_WPM_FLOOR", "200")
	t.Setenv("ENGAGEMENT_WPM_CEILING", "80")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error when ceiling does not exceed floor")
	}
}

func TestValidate_Roles(t *testing.T) {
	setRequired(t)
	t.Setenv("INITIATOR_ROLE", "Agent")
	t.Setenv("RESPONDER_ROLE", "Agent")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for identical roles")
	}
}

func TestValidate_SizeCaps(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_UPLOAD_MB", "0")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for a zero upload cap")
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("CONVO_TEST_KEY", "value")
	if got := GetEnv("CONVO_TEST_KEY", "default"); got != "value" {
		t.Errorf("Expected 'value', got '%s'", got)
	}
	if got := GetEnv("CONVO_TEST_MISSING", "default"); got != "default" {
		t.Errorf("Expected 'default', got '%s'", got)
	}
}
