// Package app wires configuration into a ready session controller. It is
// shared by the server and the offline analyze command.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/lexiqai/convo-coach/internal/annotate"
	"github.com/lexiqai/convo-coach/internal/audio"
	"github.com/lexiqai/convo-coach/internal/config"
	"github.com/lexiqai/convo-coach/internal/correction"
	"github.com/lexiqai/convo-coach/internal/observability"
	"github.com/lexiqai/convo-coach/internal/persist"
	"github.com/lexiqai/convo-coach/internal/resilience"
	"github.com/lexiqai/convo-coach/internal/session"
	"github.com/lexiqai/convo-coach/internal/stt"
)

// Pipeline is the assembled service
type Pipeline struct {
	Controller *session.Controller
	Handoff    *persist.Handoff
	Checks     map[string]observability.HealthCheckFunc

	closers []func()
}

// BuildOptions adjusts the wiring
type BuildOptions struct {
	MemoryStore bool // ignore MinIO and Postgres settings
	Review      *bool
}

// Build creates the providers, stores and controller from cfg
func Build(ctx context.Context, cfg *config.Config, bo BuildOptions) (*Pipeline, error) {
	p := &Pipeline{Checks: make(map[string]observability.HealthCheckFunc)}

	// Speech provider
	transcriber := stt.NewDeepgramTranscriber(stt.DeepgramOptions{
		APIKey:       cfg.DeepgramAPIKey,
		Model:        cfg.DeepgramModel,
		Language:     cfg.DeepgramLanguage,
		Host:         cfg.DeepgramHost,
		QuietPeriod:  cfg.FlushQuietPeriod(),
		FlushTimeout: cfg.FlushTimeout(),
	})
	adapter := stt.NewAdapter(transcriber, stt.Options{
		ChunkSize:    cfg.FileChunkSize,
		ChunkDelay:   cfg.FileChunkDelay(),
		FlushTimeout: cfg.FlushTimeout(),
	})

	// Language provider
	openaiOpts := []annotate.OpenAIOption{annotate.WithTimeout(time.Duration(cfg.OpenAITimeout) * time.Second)}
	if cfg.OpenAIBaseURL != "" {
		openaiOpts = append(openaiOpts, annotate.WithBaseURL(cfg.OpenAIBaseURL))
	}
	completer, err := annotate.NewOpenAICompleter(cfg.OpenAIAPIKey, cfg.OpenAIModel, openaiOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create language client: %w", err)
	}
	breaker := resilience.NewCircuitBreaker("llm", cfg.CircuitBreakerMaxFailures, cfg.CircuitResetTimeout())
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = cfg.RetryBackoff()
	analyzer := annotate.NewClient(completer, breaker, annotate.Options{
		MinChars:            cfg.AnnotationMinChars,
		AnnotateTimeout:     time.Duration(cfg.AnnotateTimeout) * time.Second,
		AnnotateMaxTokens:   cfg.AnnotateMaxTokens,
		AnalysisMaxTokens:   cfg.AnalysisMaxTokens,
		CorrectionMaxTokens: cfg.CorrectionMaxTokens,
		InitiatorRole:       cfg.InitiatorRole,
		ResponderRole:       cfg.ResponderRole,
		Retry:               retry,
	})
	p.Checks["llm"] = breakerCheck(breaker)

	// Storage
	blobs, records, err := p.openStores(ctx, cfg, bo.MemoryStore)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Handoff = persist.NewHandoff(blobs, records, nil)

	// Session controller
	p.Controller = session.NewController(adapter, analyzer, p.Handoff, SessionOptions(cfg, bo))
	p.closers = append(p.closers, p.Controller.Close)
	return p, nil
}

// breakerCheck reports the language provider unready while its breaker is open
func breakerCheck(cb *resilience.CircuitBreaker) observability.HealthCheckFunc {
	return func(ctx context.Context) error {
		state, requests, failures, rate := cb.GetStats()
		if state == resilience.StateOpen {
			return fmt.Errorf("%w: %d of %d calls failed (%.0f%%)", resilience.ErrCircuitOpen, failures, requests, rate)
		}
		return nil
	}
}

// SessionOptions maps configuration onto controller options
func SessionOptions(cfg *config.Config, bo BuildOptions) session.Options {
	opts := session.DefaultOptions()
	opts.SampleRate = cfg.SampleRate
	opts.Channels = cfg.Channels
	opts.MergeTolerance = cfg.MergeToleranceSeconds
	opts.StopGrace = cfg.StopGrace()
	opts.FeedSize = cfg.FeedbackFeedSize
	opts.MaxConcurrentAnnotate = cfg.MaxConcurrentAnnotate
	opts.Roles = correction.Roles{Initiator: cfg.InitiatorRole, Responder: cfg.ResponderRole}
	opts.Analytics.WPMFloor = cfg.EngagementWPMFloor
	opts.Analytics.WPMCeiling = cfg.EngagementWPMCeiling
	opts.ReviewBeforeAnalysis = cfg.ReviewBeforeAnalysis
	if bo.Review != nil {
		opts.ReviewBeforeAnalysis = *bo.Review
	}
	opts.MaxRecordingBytes = cfg.MaxRecordingBytes()
	opts.VAD = &audio.VADConfig{
		EnergyThreshold: cfg.VADEnergyThreshold,
		SilenceFrames:   cfg.VADSilenceFrames,
		FrameSize:       cfg.SampleRate / 50, // 20ms frames
	}
	return opts
}

// openStores picks MinIO and Postgres when configured, falling back to the
// in-memory store for whichever is not
func (p *Pipeline) openStores(ctx context.Context, cfg *config.Config, memoryOnly bool) (persist.BlobStore, persist.RecordStore, error) {
	logger := observability.GetLogger()
	memory := persist.NewMemoryStore()
	var (
		blobs   persist.BlobStore   = memory
		records persist.RecordStore = memory
		useMem  bool
	)

	if cfg.UseMinIO() && !memoryOnly {
		store, err := persist.NewMinIOStore(ctx, persist.MinIOOptions{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
			PublicURL: cfg.MinIOPublicURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MinIO: %w", err)
		}
		blobs = store
		p.Checks["minio"] = store.Ping
		logger.Info().Str("endpoint", cfg.MinIOEndpoint).Str("bucket", cfg.MinIOBucket).Msg("Audio artifacts stored in MinIO")
	} else {
		useMem = true
		logger.Warn().Msg("Audio artifacts kept in memory")
	}

	if cfg.UsePostgres() && !memoryOnly {
		store, err := persist.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		records = store
		p.closers = append(p.closers, store.Close)
		p.Checks["postgres"] = store.Ping
		logger.Info().Msg("Analysis records stored in Postgres")
	} else {
		useMem = true
		logger.Warn().Msg("Analysis records kept in memory")
	}

	if useMem {
		p.Checks["memory"] = memory.Ping
	}
	return blobs, records, nil
}

// Close releases the controller and store connections
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}
