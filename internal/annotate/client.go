package annotate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lexiqai/convo-coach/internal/failure"
	"github.com/lexiqai/convo-coach/internal/observability"
	"github.com/lexiqai/convo-coach/internal/resilience"
	"github.com/lexiqai/convo-coach/internal/transcript"
)

// Options tunes the annotation client
type Options struct {
	MinChars            int
	AnnotateTimeout     time.Duration
	AnnotateMaxTokens   int
	AnalysisMaxTokens   int
	CorrectionMaxTokens int
	InitiatorRole       string
	ResponderRole       string
	Retry               *resilience.RetryConfig
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		MinChars:            10,
		AnnotateTimeout:     15 * time.Second,
		AnnotateMaxTokens:   200,
		AnalysisMaxTokens:   2000,
		CorrectionMaxTokens: 3000,
		InitiatorRole:       "Salesperson",
		ResponderRole:       "Customer",
		Retry:               resilience.DefaultRetryConfig(),
	}
}

// Client is the language annotation client. Calls are independent and safe
// for concurrent use; no ordering between calls is promised.
type Client struct {
	completer Completer
	breaker   *resilience.CircuitBreaker
	opts      Options
	logger    zerolog.Logger
}

// NewClient wraps a completer with validation, a circuit breaker and retries
func NewClient(completer Completer, breaker *resilience.CircuitBreaker, opts Options) *Client {
	def := DefaultOptions()
	if opts.MinChars <= 0 {
		opts.MinChars = def.MinChars
	}
	if opts.AnnotateTimeout <= 0 {
		opts.AnnotateTimeout = def.AnnotateTimeout
	}
	if opts.AnnotateMaxTokens <= 0 {
		opts.AnnotateMaxTokens = def.AnnotateMaxTokens
	}
	if opts.AnalysisMaxTokens <= 0 {
		opts.AnalysisMaxTokens = def.AnalysisMaxTokens
	}
	if opts.CorrectionMaxTokens <= 0 {
		opts.CorrectionMaxTokens = def.CorrectionMaxTokens
	}
	if opts.InitiatorRole == "" || opts.ResponderRole == "" {
		opts.InitiatorRole, opts.ResponderRole = def.InitiatorRole, def.ResponderRole
	}
	if opts.Retry == nil {
		opts.Retry = def.Retry
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("llm", 5, 30*time.Second)
	}
	breaker.WithObserver(func(name string, state resilience.CircuitState, failed bool) {
		observability.UpdateCircuitBreakerState(name, int(state))
		if failed {
			observability.IncrementCircuitBreakerFailures(name)
		}
	})

	return &Client{
		completer: completer,
		breaker:   breaker,
		opts:      opts,
		logger:    observability.GetLogger().With().Str("component", "annotate").Logger(),
	}
}

// Annotate classifies one fragment. It returns nil without error when the
// fragment is too short or the reply cannot be parsed; callers append the
// segment unannotated. An error is returned only when the provider call
// itself failed.
func (c *Client) Annotate(ctx context.Context, fragment string, at float64) (*transcript.AnnotationResult, error) {
	fragment = strings.TrimSpace(fragment)
	if utf8.RuneCountInString(fragment) < c.opts.MinChars {
		observability.RecordAnnotation(observability.AnnotationSkipped)
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.AnnotateTimeout)
	defer cancel()

	raw, err := c.call(ctx, Prompt{
		Kind:        "annotate",
		System:      annotateSystemPrompt,
		User:        fragment,
		MaxTokens:   c.opts.AnnotateMaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		observability.RecordAnnotation(observability.AnnotationFailed)
		return nil, failure.New(failure.KindAnnotation, "annotate", err)
	}

	parsed := ParseAnnotation(raw, fragment, at)
	if !parsed.Valid {
		observability.RecordAnnotation(observability.AnnotationUnparseable)
		c.logger.Debug().Str("reason", parsed.Reason).Float64("at", at).Msg("Annotation reply unparseable")
		return nil, nil
	}
	observability.RecordAnnotation(observability.AnnotationAnnotated)
	return &parsed.Value, nil
}

// AnalyzeFull summarises the whole conversation once recording has stopped
func (c *Client) AnalyzeFull(ctx context.Context, segments []transcript.CombinedSegment) (transcript.FullAnalysis, error) {
	if len(segments) == 0 {
		return transcript.FullAnalysis{}, failure.New(failure.KindFullAnalysis, "analyze_full", errors.New("empty transcript"))
	}

	prompt := Prompt{
		Kind:        "analyze_full",
		System:      fmt.Sprintf(analyzeSystemPrompt, c.opts.InitiatorRole, c.opts.ResponderRole),
		User:        FormatTranscript(segments),
		MaxTokens:   c.opts.AnalysisMaxTokens,
		Temperature: 0.3,
	}

	var fa transcript.FullAnalysis
	err := c.retry(ctx, prompt, func(raw string) error {
		parsed := ParseFullAnalysis(raw)
		if !parsed.Valid {
			return fmt.Errorf("unparseable reply: %s", parsed.Reason)
		}
		fa = parsed.Value
		return nil
	})
	if err != nil {
		return transcript.FullAnalysis{}, failure.New(failure.KindFullAnalysis, "analyze_full", err)
	}
	return fa, nil
}

// CorrectSpeakers asks for speaker reassignments and turn splits over the
// whole transcript
func (c *Client) CorrectSpeakers(ctx context.Context, segments []transcript.CombinedSegment) (transcript.Corrections, error) {
	prompt := Prompt{
		Kind:        "correct_speakers",
		System:      fmt.Sprintf(correctionSystemPrompt, c.opts.InitiatorRole, c.opts.ResponderRole),
		User:        FormatTranscript(segments),
		MaxTokens:   c.opts.CorrectionMaxTokens,
		Temperature: 0,
	}

	var out transcript.Corrections
	err := c.retry(ctx, prompt, func(raw string) error {
		parsed := ParseCorrections(raw)
		if !parsed.Valid {
			return fmt.Errorf("unparseable reply: %s", parsed.Reason)
		}
		out = parsed.Value
		return nil
	})
	if err != nil {
		return transcript.Corrections{}, failure.New(failure.KindCorrection, "correct_speakers", err)
	}
	return out, nil
}

// retry runs a heavy call with backoff. Only transport errors are retried;
// an unparseable reply is final.
func (c *Client) retry(ctx context.Context, p Prompt, accept func(raw string) error) error {
	var parseErr error
	err := resilience.RetryNotify(ctx, func(ctx context.Context) error {
		raw, err := c.call(ctx, p)
		if err != nil {
			return err
		}
		parseErr = accept(raw)
		return nil
	}, c.opts.Retry, resilience.IsRetryableNetworkError, func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Str("call", p.Kind).Dur("wait", wait).Msg("Retrying language analysis call")
	})
	if err != nil {
		return err
	}
	return parseErr
}

func (c *Client) call(ctx context.Context, p Prompt) (string, error) {
	var raw string
	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		raw, err = c.completer.Complete(ctx, p)
		return err
	})
	observability.ObserveProviderLatency(p.Kind, time.Since(start))
	return raw, err
}

// FormatTranscript renders one "[index] speaker: text" line per segment
func FormatTranscript(segments []transcript.CombinedSegment) string {
	var b strings.Builder
	for i, s := range segments {
		fmt.Fprintf(&b, "[%d] %s: %s\n", i, s.Speaker, s.Text)
	}
	return b.String()
}

const annotateSystemPrompt = `You analyse one utterance from a sales conversation.
Reply with a single JSON object and nothing else:
{"emotion": one of neutral|happy|excited|interested|confident|confused|hesitant|frustrated|angry|sad|skeptical,
 "sentiment": one of positive|neutral|negative,
 "feedback": a coaching remark of at most 15 words for the salesperson, or "" when nothing is worth saying}`

const analyzeSystemPrompt = `You are a sales coach reviewing a full conversation transcript between a %s and a %s.
Each line is "[index] speaker: text".
Reply with a single JSON object and nothing else:
{"overallSummary": "3-5 sentence summary",
 "strengths": ["what the %[1]s did well"],
 "opportunities": ["what the %[1]s should improve"],
 "competitors": ["competitor products or companies mentioned"],
 "coachingTips": ["short actionable tips"]}`

const correctionSystemPrompt = `You review speaker attribution of a diarized transcript between a %s and a %s.
Each line is "[index] speaker: text". Diarization often merges a question and its answer into one line from one speaker.
Split such lines aggressively: when in doubt, split.
Reply with a single JSON object and nothing else:
{"corrections": [{"index": <line index>, "newSpeaker": "%[1]s" or "%[2]s"}],
 "splits": [{"index": <line index>, "parts": [{"speaker": "%[1]s" or "%[2]s", "text": "..."}]}]}
Indices refer to the lines as given. Return empty arrays when nothing needs to change.`
