package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lexiqai/convo-coach/internal/config"
	"github.com/lexiqai/convo-coach/internal/resilience"
	"github.com/lexiqai/convo-coach/internal/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DEEPGRAM_API_KEY", "dg-test")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("STOP_GRACE_MS", "1500")
	t.Setenv("INITIATOR_ROLE", "Agent")
	t.Setenv("RESPONDER_ROLE", "Caller")
	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	return cfg
}

func TestSessionOptions(t *testing.T) {
	cfg := testConfig(t)
	review := true
	opts := SessionOptions(cfg, BuildOptions{Review: &review})

	if opts.StopGrace != 1500*time.Millisecond {
		t.Errorf("Expected stop grace 1.5s, got %v", opts.StopGrace)
	}
	if opts.Roles.Initiator != "Agent" || opts.Roles.Responder != "Caller" {
		t.Errorf("Expected configured roles, got %+v", opts.Roles)
	}
	if !opts.ReviewBeforeAnalysis {
		t.Error("Expected review override to apply")
	}
	if opts.VAD == nil || opts.VAD.FrameSize != 320 {
		t.Errorf("Expected 20ms VAD frames at 16kHz, got %+v", opts.VAD)
	}
	if opts.MaxRecordingBytes != cfg.MaxRecordingBytes() {
		t.Errorf("Expected recording cap %d, got %d", cfg.MaxRecordingBytes(), opts.MaxRecordingBytes)
	}
}

func TestBuild_MemoryStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabaseURL = "postgres://unused"
	cfg.MinIOEndpoint = "unused:9000"

	p, err := Build(context.Background(), cfg, BuildOptions{MemoryStore: true})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer p.Close()

	if p.Controller.State() != session.StateIdle {
		t.Errorf("Expected IDLE controller, got %s", p.Controller.State())
	}
	if _, ok := p.Checks["memory"]; !ok {
		t.Error("Expected memory store readiness check")
	}
	if _, ok := p.Checks["postgres"]; ok {
		t.Error("Expected Postgres to be skipped")
	}
	for name, check := range p.Checks {
		if err := check(context.Background()); err != nil {
			t.Errorf("Check %s: expected healthy, got %v", name, err)
		}
	}
}

func TestBreakerCheck(t *testing.T) {
	cb := resilience.NewCircuitBreaker("llm-test", 2, time.Minute)
	check := breakerCheck(cb)

	cb.RecordResult(true)
	if err := check(context.Background()); err != nil {
		t.Errorf("Expected closed breaker to be ready, got %v", err)
	}

	cb.RecordResult(false)
	cb.RecordResult(false)
	err := check(context.Background())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen, got %v", err)
	}
	if !strings.Contains(err.Error(), "2 of 3 calls failed") {
		t.Errorf("Expected failure stats in %q", err.Error())
	}
}
