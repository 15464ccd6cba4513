package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/convo-coach/internal/audio"
	"github.com/lexiqai/convo-coach/internal/failure"
	"github.com/lexiqai/convo-coach/internal/persist"
	"github.com/lexiqai/convo-coach/internal/resilience"
	"github.com/lexiqai/convo-coach/internal/stt"
	"github.com/lexiqai/convo-coach/internal/stt/stttest"
	"github.com/lexiqai/convo-coach/internal/transcript"
)

type fakeAnalyzer struct {
	annotate    func(ctx context.Context, fragment string, at float64) (*transcript.AnnotationResult, error)
	corrections transcript.Corrections
	correctErr  error
	full        transcript.FullAnalysis
	fullErr     error

	annotateCalls atomic.Int32
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		full: transcript.FullAnalysis{
			OverallSummary: "Solid discovery call.",
			Strengths:      []string{"Clear discovery questions"},
			Opportunities:  []string{"Discuss pricing earlier"},
			Competitors:    []string{"Acme"},
			CoachingTips:   []string{"Confirm budget"},
		},
	}
}

func (f *fakeAnalyzer) Annotate(ctx context.Context, fragment string, at float64) (*transcript.AnnotationResult, error) {
	f.annotateCalls.Add(1)
	if f.annotate != nil {
		return f.annotate(ctx, fragment, at)
	}
	return &transcript.AnnotationResult{
		Text:      fragment,
		Emotion:   transcript.EmotionInterested,
		Sentiment: transcript.SentimentPositive,
		Feedback:  "Nice: " + fragment,
		Timestamp: at,
	}, nil
}

func (f *fakeAnalyzer) CorrectSpeakers(ctx context.Context, segs []transcript.CombinedSegment) (transcript.Corrections, error) {
	return f.corrections, f.correctErr
}

func (f *fakeAnalyzer) AnalyzeFull(ctx context.Context, segs []transcript.CombinedSegment) (transcript.FullAnalysis, error) {
	return f.full, f.fullErr
}

type failingPersister struct{}

func (failingPersister) Persist(ctx context.Context, sub persist.Submission) (transcript.AnalysisRecord, error) {
	return sub.Record, failure.New(failure.KindPersistence, "persist", errors.New("database unavailable"))
}

type harness struct {
	t        *testing.T
	fake     *stttest.Transcriber
	analyzer *fakeAnalyzer
	store    *persist.MemoryStore
	c        *Controller
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		fake:     &stttest.Transcriber{},
		analyzer: newFakeAnalyzer(),
		store:    persist.NewMemoryStore(),
	}
	opts := DefaultOptions()
	opts.StopGrace = 200 * time.Millisecond
	opts.FinishTimeout = 5 * time.Second
	if mutate != nil {
		mutate(&opts)
	}
	adapter := stt.NewAdapter(h.fake, stt.Options{ChunkSize: 64, FlushTimeout: time.Second})
	handoff := persist.NewHandoff(h.store, h.store, &resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1})
	h.c = NewController(adapter, h.analyzer, handoff, opts)
	t.Cleanup(h.c.Close)
	return h
}

func (h *harness) waitFor(what string, cond func(Snapshot) bool) Snapshot {
	h.t.Helper()
	ch, cancel := h.c.Subscribe()
	defer cancel()
	deadline := time.After(5 * time.Second)
	for {
		if s := h.c.Snapshot(); cond(s) {
			return s
		}
		select {
		case <-ch:
		case <-deadline:
			h.t.Fatalf("Timed out waiting for %s, last snapshot %+v", what, h.c.Snapshot())
		}
	}
}

func (h *harness) wait() (Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.c.Wait(ctx)
}

func discoveryScript() []stt.Result {
	return []stt.Result{
		stttest.Words(
			stttest.Run{Speaker: "0", Text: "Thanks for joining. What are you looking for?", Start: 0, End: 4},
			stttest.Run{Speaker: "1", Text: "I need a laptop for my team.", Start: 4.5, End: 8},
		),
		stttest.Words(
			stttest.Run{Speaker: "0", Text: "Let me show you our product line.", Start: 8.5, End: 12},
			stttest.Run{Speaker: "1", Text: "How much does it cost?", Start: 12.5, End: 14},
		),
	}
}

func TestController_FileSessionCompletes(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.Script = discoveryScript()

	updates, cancel := h.c.Subscribe()
	defer cancel()
	var (
		mu       sync.Mutex
		progress []int
	)
	go func() {
		for s := range updates {
			mu.Lock()
			progress = append(progress, s.Progress)
			mu.Unlock()
		}
	}()

	snap, err := h.c.StartFile(context.Background(), make([]byte, 640), "call.wav", StartOptions{UserID: "user-1", Title: "Discovery"})
	if err != nil {
		t.Fatalf("StartFile failed: %v", err)
	}
	if snap.State != StateRecording || snap.Mode != ModeFile {
		t.Errorf("Expected RECORDING file session, got %s/%s", snap.State, snap.Mode)
	}

	final, err := h.wait()
	if err != nil {
		t.Fatalf("Expected session to complete, got %v", err)
	}
	if final.State != StateDone {
		t.Fatalf("Expected DONE, got %s", final.State)
	}
	if final.Progress != 100 {
		t.Errorf("Expected progress 100, got %d", final.Progress)
	}

	rec := final.Record
	if rec == nil {
		t.Fatal("Expected record in snapshot")
	}
	if len(rec.Segments) != 4 {
		t.Fatalf("Expected 4 segments, got %d", len(rec.Segments))
	}
	wantSpeakers := []string{"Salesperson", "Customer", "Salesperson", "Customer"}
	for i, seg := range rec.Segments {
		if seg.Speaker != wantSpeakers[i] {
			t.Errorf("Segment %d: expected %s, got %s", i, wantSpeakers[i], seg.Speaker)
		}
		if seg.Emotion != transcript.EmotionInterested {
			t.Errorf("Segment %d: expected annotation to be attached, got %+v", i, seg)
		}
	}
	if rec.Title != "Discovery" || rec.UserID != "user-1" {
		t.Errorf("Unexpected record identity %s/%s", rec.Title, rec.UserID)
	}
	if len(rec.Coaching) != 2 || rec.Coaching[0] != "STRENGTH: Clear discovery questions" || rec.Coaching[1] != "OPPORTUNITY: Discuss pricing earlier" {
		t.Errorf("Unexpected coaching lines %v", rec.Coaching)
	}
	if rec.Metrics.QuestionCount != 2 {
		t.Errorf("Expected 2 questions, got %d", rec.Metrics.QuestionCount)
	}
	if !strings.HasPrefix(rec.AudioRef, "memory://sessions/user-1/") || !strings.HasSuffix(rec.AudioRef, ".wav") {
		t.Errorf("Unexpected audio ref %s", rec.AudioRef)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("Expected creation time from the store")
	}
	if len(final.Feedback) == 0 {
		t.Error("Expected live feedback to be kept")
	}

	stored, err := h.store.Get(context.Background(), final.SessionID)
	if err != nil {
		t.Fatalf("Expected stored record, got %v", err)
	}
	if len(stored.Segments) != 4 {
		t.Errorf("Expected stored segments, got %d", len(stored.Segments))
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] && progress[i] != 0 {
			t.Errorf("Expected non-decreasing progress, got %v", progress)
			break
		}
	}
}

func TestController_StopWithinGraceWhenAnnotationsHang(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.StopGrace = 100 * time.Millisecond })
	var canceled atomic.Bool
	h.analyzer.annotate = func(ctx context.Context, fragment string, at float64) (*transcript.AnnotationResult, error) {
		<-ctx.Done()
		canceled.Store(true)
		return nil, ctx.Err()
	}

	if _, err := h.c.StartLive(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("StartLive failed: %v", err)
	}
	h.fake.Last().Emit(stttest.Words(stttest.Run{Speaker: "0", Text: "Hello, thanks for joining today.", Start: 0, End: 2}))
	h.waitFor("live line", func(s Snapshot) bool { return len(s.Lines) == 1 })

	start := time.Now()
	snap, err := h.c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected stop within the grace period, took %v", elapsed)
	}
	if snap.State != StateAnalyzing && snap.State != StateDone {
		t.Errorf("Expected ANALYZING after stop, got %s", snap.State)
	}

	final, err := h.wait()
	if err != nil || final.State != StateDone {
		t.Fatalf("Expected DONE, got %s (%v)", final.State, err)
	}
	if final.Record.Segments[0].Annotated() {
		t.Error("Expected segment to stay unannotated")
	}
	if !canceled.Load() {
		t.Error("Expected in-flight annotation to be canceled")
	}
}

func TestController_LateAnnotationIsDropped(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.StopGrace = 50 * time.Millisecond })
	release := make(chan struct{})
	h.analyzer.annotate = func(ctx context.Context, fragment string, at float64) (*transcript.AnnotationResult, error) {
		<-release // ignores cancellation
		return &transcript.AnnotationResult{Text: fragment, Emotion: transcript.EmotionAngry, Sentiment: transcript.SentimentNegative, Feedback: "late", Timestamp: at}, nil
	}

	h.c.StartLive(context.Background(), StartOptions{})
	h.fake.Last().Emit(stttest.Words(stttest.Run{Speaker: "0", Text: "We offer a free trial for teams.", Start: 1, End: 3}))
	h.waitFor("live line", func(s Snapshot) bool { return len(s.Lines) == 1 })

	if _, err := h.c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	close(release)

	final, err := h.wait()
	if err != nil {
		t.Fatalf("Expected DONE, got %v", err)
	}
	seg := final.Record.Segments[0]
	if seg.Annotated() {
		t.Errorf("Expected late annotation not to be applied, got %+v", seg)
	}
	for _, f := range final.Feedback {
		if f == "late" {
			t.Error("Expected late feedback not to reach the feed")
		}
	}
}

func TestController_MalformedAnnotationKeepsSegment(t *testing.T) {
	h := newHarness(t, nil)
	h.analyzer.annotate = func(ctx context.Context, fragment string, at float64) (*transcript.AnnotationResult, error) {
		return nil, nil // reply could not be parsed
	}

	h.c.StartLive(context.Background(), StartOptions{})
	h.fake.Last().Emit(stttest.Words(stttest.Run{Speaker: "0", Text: "Tell me about your current setup.", Start: 0, End: 2}))
	snap := h.waitFor("live line", func(s Snapshot) bool { return len(s.Lines) == 1 })

	if snap.Lines[0] != "[Speaker A] Tell me about your current setup." {
		t.Errorf("Expected bare live line, got %q", snap.Lines[0])
	}
	if len(snap.Feedback) != 0 {
		t.Errorf("Expected feedback unchanged, got %v", snap.Feedback)
	}
}

func TestController_LiveAudioArtifact(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.c.SendAudio([]byte{0, 0}); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession before start, got %v", err)
	}

	h.c.StartLive(context.Background(), StartOptions{UserID: "rep"})
	loud := make([]int16, 3200)
	for i := range loud {
		loud[i] = 8000
	}
	if err := h.c.SendAudio(audio.EncodePCM16(loud)); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	h.waitFor("speaking indicator", func(s Snapshot) bool { return s.Speaking })
	h.fake.Last().Emit(stttest.Words(stttest.Run{Speaker: "0", Text: "Would you like a demo of our platform?", Start: 0, End: 0.2}))
	h.waitFor("live line", func(s Snapshot) bool { return len(s.Lines) == 1 })

	h.c.Stop(context.Background())
	final, err := h.wait()
	if err != nil {
		t.Fatalf("Expected DONE, got %v", err)
	}
	if h.fake.Last().AudioBytes() != 6400 {
		t.Errorf("Expected 6400 bytes forwarded, got %d", h.fake.Last().AudioBytes())
	}

	key := strings.TrimPrefix(final.Record.AudioRef, "memory://")
	blob, ok := h.store.Blob(key)
	if !ok {
		t.Fatalf("Expected audio blob at %s", key)
	}
	if string(blob[:4]) != "RIFF" || len(blob) != 44+6400 {
		t.Errorf("Expected WAV artifact of %d bytes, got %d", 44+6400, len(blob))
	}
	if final.Record.Duration < 0.2 {
		t.Errorf("Expected duration from captured audio, got %v", final.Record.Duration)
	}
}

func TestController_TranscriptionFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.c.StartLive(context.Background(), StartOptions{})
	h.fake.Last().Emit(stttest.Words(stttest.Run{Speaker: "0", Text: "Partial words before the drop.", Start: 0, End: 1}))
	h.fake.Last().Fail("NET-0001: socket closed")

	snap := h.waitFor("failure", func(s Snapshot) bool { return s.State == StateIdle && s.Error != nil })
	if snap.Error.Kind != failure.KindTranscription {
		t.Errorf("Expected transcription failure, got %s", snap.Error.Kind)
	}
	if len(snap.Lines) != 0 || snap.Record != nil {
		t.Error("Expected nothing to be preserved")
	}
	if _, err := h.wait(); !failure.Is(err, failure.KindTranscription) {
		t.Errorf("Expected Wait to surface the failure, got %v", err)
	}
	if !h.fake.Last().Closed() {
		t.Error("Expected capture to be released")
	}
}

func TestController_AcquisitionFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.OpenErr = errors.New("microphone unavailable")

	snap, err := h.c.StartLive(context.Background(), StartOptions{})
	if !failure.Is(err, failure.KindAcquisition) {
		t.Fatalf("Expected acquisition failure, got %v", err)
	}
	if snap.State != StateIdle || snap.Error == nil || snap.Error.Kind != failure.KindAcquisition {
		t.Errorf("Expected IDLE with acquisition error, got %+v", snap)
	}

	// a later start is not blocked
	h.fake.OpenErr = nil
	if _, err := h.c.StartLive(context.Background(), StartOptions{}); err != nil {
		t.Errorf("Expected restart to succeed, got %v", err)
	}
	if h.c.Snapshot().Error != nil {
		t.Error("Expected error to be cleared by a new session")
	}
}

func TestController_StartWhileActive(t *testing.T) {
	h := newHarness(t, nil)
	h.c.StartLive(context.Background(), StartOptions{})

	if _, err := h.c.StartLive(context.Background(), StartOptions{}); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive, got %v", err)
	}
	if _, err := h.c.StartFile(context.Background(), []byte{1, 2}, "a.wav", StartOptions{}); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive, got %v", err)
	}
	if len(h.fake.Conns()) != 1 {
		t.Errorf("Expected a single provider connection, got %d", len(h.fake.Conns()))
	}
}

func TestController_FullAnalysisFailureUsesPlaceholder(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.Script = discoveryScript()
	h.analyzer.fullErr = failure.New(failure.KindFullAnalysis, "analyze_full", errors.New("503 service unavailable"))

	h.c.StartFile(context.Background(), make([]byte, 128), "call.mp3", StartOptions{})
	final, err := h.wait()
	if err != nil {
		t.Fatalf("Expected DONE despite analysis failure, got %v", err)
	}
	if final.Record.Summary != PlaceholderAnalysis().OverallSummary {
		t.Errorf("Expected placeholder summary, got %q", final.Record.Summary)
	}
	if len(final.Record.Coaching) != 0 {
		t.Errorf("Expected no coaching lines, got %v", final.Record.Coaching)
	}
	if !strings.HasSuffix(final.Record.AudioRef, ".mp3") {
		t.Errorf("Expected uploaded file to be the artifact, got %s", final.Record.AudioRef)
	}
}

func TestController_CorrectionFailureKeepsMerge(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.Script = discoveryScript()
	h.analyzer.correctErr = errors.New("timeout")

	h.c.StartFile(context.Background(), make([]byte, 128), "call.wav", StartOptions{})
	final, err := h.wait()
	if err != nil {
		t.Fatalf("Expected DONE, got %v", err)
	}
	if final.Record.Segments[0].Speaker != "Speaker A" || final.Record.Segments[1].Speaker != "Speaker B" {
		t.Errorf("Expected raw merged speakers, got %s/%s", final.Record.Segments[0].Speaker, final.Record.Segments[1].Speaker)
	}
}

func TestController_CorrectionSplitApplied(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.Script = []stt.Result{
		{Text: "Do you have a budget in mind?", Start: 0, End: 2, Speaker: "0"},
		{Text: "What product? It is a laptop.", Start: 2, End: 6, Speaker: "0"},
	}
	h.analyzer.corrections = transcript.Corrections{
		Reassignments: []transcript.Reassignment{{Index: 0, NewSpeaker: "Salesperson"}},
		Splits: []transcript.Split{{Index: 1, Parts: []transcript.SplitPart{
			{Speaker: "Customer", Text: "What product?"},
			{Speaker: "Salesperson", Text: "It is a laptop."},
		}}},
	}

	h.c.StartFile(context.Background(), make([]byte, 128), "call.wav", StartOptions{})
	final, err := h.wait()
	if err != nil {
		t.Fatalf("Expected DONE, got %v", err)
	}
	segs := final.Record.Segments
	if len(segs) != 3 {
		t.Fatalf("Expected 3 segments after split, got %d", len(segs))
	}
	if segs[1].Speaker != "Customer" || segs[2].Speaker != "Salesperson" || segs[2].End != 6 {
		t.Errorf("Unexpected split result %+v", segs)
	}
}

func TestController_PersistenceFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.c.persister = failingPersister{}
	h.fake.Script = discoveryScript()

	h.c.StartFile(context.Background(), make([]byte, 128), "call.wav", StartOptions{})
	snap, err := h.wait()
	if !failure.Is(err, failure.KindPersistence) {
		t.Fatalf("Expected persistence failure, got %v", err)
	}
	if snap.State != StateIdle {
		t.Errorf("Expected IDLE, got %s", snap.State)
	}
	if snap.Error == nil || snap.Error.Kind != failure.KindPersistence {
		t.Errorf("Expected persistence error in snapshot, got %+v", snap.Error)
	}
}

func TestController_Reset(t *testing.T) {
	h := newHarness(t, nil)
	first, _ := h.c.StartLive(context.Background(), StartOptions{})
	h.fake.Last().Emit(stttest.Words(stttest.Run{Speaker: "0", Text: "Thanks for taking the time today.", Start: 0, End: 2}))
	h.waitFor("live line", func(s Snapshot) bool { return len(s.Lines) == 1 })

	snap := h.c.Reset()
	if snap.State != StateIdle || len(snap.Lines) != 0 || snap.SessionID != "" {
		t.Errorf("Expected clean IDLE snapshot, got %+v", snap)
	}
	if !h.fake.Last().Closed() {
		t.Error("Expected capture to be released on reset")
	}
	if err := h.c.SendAudio([]byte{0, 0}); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession after reset, got %v", err)
	}
	if _, err := h.c.Stop(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession on stop after reset, got %v", err)
	}

	second, err := h.c.StartLive(context.Background(), StartOptions{})
	if err != nil {
		t.Fatalf("Expected new session after reset, got %v", err)
	}
	if second.SessionID == first.SessionID {
		t.Error("Expected a fresh session id")
	}
}

func TestController_ReviewBeforeAnalysis(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ReviewBeforeAnalysis = true })

	if _, err := h.c.Analyze(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession, got %v", err)
	}

	h.c.StartLive(context.Background(), StartOptions{})
	if _, err := h.c.Analyze(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition while recording, got %v", err)
	}
	h.fake.Last().Emit(stttest.Words(stttest.Run{Speaker: "0", Text: "Can I ask what tools you use now?", Start: 0, End: 2}))
	h.waitFor("live line", func(s Snapshot) bool { return len(s.Lines) == 1 })

	snap, err := h.c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if snap.State != StateTranscribing {
		t.Fatalf("Expected TRANSCRIBING for review, got %s", snap.State)
	}

	if _, err := h.c.Analyze(context.Background()); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	final, err := h.wait()
	if err != nil || final.State != StateDone {
		t.Fatalf("Expected DONE after review, got %s (%v)", final.State, err)
	}

	// starting again from DONE replaces the finished session
	if _, err := h.c.StartLive(context.Background(), StartOptions{}); err != nil {
		t.Errorf("Expected start from DONE to succeed, got %v", err)
	}
}

func TestController_StopWithoutSession(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.c.Stop(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession, got %v", err)
	}
}
