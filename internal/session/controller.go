// Package session runs one conversation at a time through capture,
// transcription, live annotation, correction, analysis and persistence.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/lexiqai/convo-coach/internal/analytics"
	"github.com/lexiqai/convo-coach/internal/audio"
	"github.com/lexiqai/convo-coach/internal/correction"
	"github.com/lexiqai/convo-coach/internal/failure"
	"github.com/lexiqai/convo-coach/internal/merge"
	"github.com/lexiqai/convo-coach/internal/observability"
	"github.com/lexiqai/convo-coach/internal/persist"
	"github.com/lexiqai/convo-coach/internal/stt"
	"github.com/lexiqai/convo-coach/internal/transcript"
)

// Capture modes
const (
	ModeLive = "live"
	ModeFile = "file"
)

// Analyzer is the language analysis boundary used by a session
type Analyzer interface {
	correction.Corrector
	Annotate(ctx context.Context, fragment string, at float64) (*transcript.AnnotationResult, error)
	AnalyzeFull(ctx context.Context, segments []transcript.CombinedSegment) (transcript.FullAnalysis, error)
}

// Persister stores a finished session
type Persister interface {
	Persist(ctx context.Context, sub persist.Submission) (transcript.AnalysisRecord, error)
}

// Options tunes the controller
type Options struct {
	SampleRate            int
	Channels              int
	MergeTolerance        float64
	StopGrace             time.Duration
	FeedSize              int
	MaxConcurrentAnnotate int
	Roles                 correction.Roles
	Analytics             analytics.Options
	ReviewBeforeAnalysis  bool
	MaxRecordingBytes     int
	VAD                   *audio.VADConfig
	FinishTimeout         time.Duration // bound on correction, analysis and persistence together
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		SampleRate:            16000,
		Channels:              1,
		MergeTolerance:        merge.DefaultTolerance,
		StopGrace:             2 * time.Second,
		FeedSize:              merge.DefaultFeedSize,
		MaxConcurrentAnnotate: 8,
		Roles:                 correction.DefaultRoles(),
		Analytics:             analytics.DefaultOptions(),
		FinishTimeout:         5 * time.Minute,
	}
}

// StartOptions describes a new session
type StartOptions struct {
	UserID string
	Title  string
}

// Controller owns at most one session at a time
type Controller struct {
	adapter   *stt.Adapter
	analyzer  Analyzer
	pass      *correction.Pass
	persister Persister
	opts      Options
	logger    zerolog.Logger

	machine *Machine
	hub     *hub

	mu      sync.Mutex
	cur     *sessionContext
	lastErr *ErrorInfo
	record  *transcript.AnalysisRecord

	pubMu sync.Mutex
	seq   uint64
}

// NewController creates a controller in IDLE
func NewController(adapter *stt.Adapter, analyzer Analyzer, persister Persister, opts Options) *Controller {
	def := DefaultOptions()
	if opts.SampleRate <= 0 {
		opts.SampleRate = def.SampleRate
	}
	if opts.Channels <= 0 {
		opts.Channels = def.Channels
	}
	if opts.MergeTolerance < 0 {
		opts.MergeTolerance = def.MergeTolerance
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = def.StopGrace
	}
	if opts.FeedSize <= 0 {
		opts.FeedSize = def.FeedSize
	}
	if opts.MaxConcurrentAnnotate <= 0 {
		opts.MaxConcurrentAnnotate = def.MaxConcurrentAnnotate
	}
	if opts.Roles.Initiator == "" || opts.Roles.Responder == "" {
		opts.Roles = def.Roles
	}
	if opts.Analytics.WPMCeiling <= opts.Analytics.WPMFloor {
		opts.Analytics = def.Analytics
	}
	if opts.FinishTimeout <= 0 {
		opts.FinishTimeout = def.FinishTimeout
	}

	c := &Controller{
		adapter:   adapter,
		analyzer:  analyzer,
		pass:      correction.NewPass(analyzer, opts.Roles),
		persister: persister,
		opts:      opts,
		logger:    observability.GetLogger().With().Str("component", "session").Logger(),
		machine:   NewMachine(),
		hub:       newHub(),
	}
	c.machine.Observe(func(from, to State) {
		c.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("Session state changed")
	})
	return c
}

// sessionContext is everything one session owns. It is created on start and
// discarded on reset.
type sessionContext struct {
	id        string
	mode      string
	userID    string
	title     string
	startedAt time.Time
	logger    zerolog.Logger
	metrics   *observability.Metrics

	ctx            context.Context
	cancel         context.CancelFunc
	annotateCtx    context.Context
	annotateCancel context.CancelFunc

	stream   atomic.Pointer[stt.Stream]
	recorder *audio.Recorder
	artifact audio.Artifact
	progress Progress

	audioMu  sync.Mutex
	vad      *audio.VADDetector
	speaking atomic.Bool
	fullWarn bool

	sem         *semaphore.Weighted
	pending     sync.WaitGroup
	results     chan annotationResult
	seal        chan chan frozenLogs
	streamEnded chan struct{}

	stopOnce sync.Once
	stopping atomic.Bool
	stopped  chan struct{}
	stopErr  error
	frozen   *frozenLogs

	view atomic.Pointer[liveView]

	// owned by the event loop
	gen         uint64
	registry    *transcript.SpeakerRegistry
	events      []transcript.TranscriptEvent
	annotations []transcript.AnnotationResult
	feed        *merge.Feed
}

type annotationResult struct {
	gen uint64
	res transcript.AnnotationResult
}

// frozenLogs is the state of both logs once recording has ended
type frozenLogs struct {
	events      []transcript.TranscriptEvent
	annotations []transcript.AnnotationResult
	registry    *transcript.SpeakerRegistry
	feedback    []string
}

func (c *Controller) newSession(mode string, opts StartOptions) *sessionContext {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	actx, acancel := context.WithCancel(ctx)
	sc := &sessionContext{
		id:             id,
		mode:           mode,
		userID:         opts.UserID,
		title:          opts.Title,
		startedAt:      time.Now().UTC(),
		logger:         observability.SessionLogger(id, mode),
		metrics:        observability.NewSessionMetrics(id, mode),
		ctx:            ctx,
		cancel:         cancel,
		annotateCtx:    actx,
		annotateCancel: acancel,
		recorder:       audio.NewRecorder(c.opts.SampleRate, c.opts.Channels, c.opts.MaxRecordingBytes),
		vad:            audio.NewVADDetector(c.opts.VAD),
		sem:            semaphore.NewWeighted(int64(c.opts.MaxConcurrentAnnotate)),
		results:        make(chan annotationResult, 64),
		seal:           make(chan chan frozenLogs),
		streamEnded:    make(chan struct{}),
		stopped:        make(chan struct{}),
		registry:       transcript.NewSpeakerRegistry(),
		feed:           merge.NewFeed(c.opts.FeedSize),
	}
	sc.view.Store(&liveView{})
	return sc
}

// begin claims the controller for a new session and moves to RECORDING
func (c *Controller) begin(mode string, opts StartOptions) (*sessionContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.machine.State()
	if state.Active() {
		return nil, ErrSessionActive
	}
	if state == StateDone {
		// a finished session is replaced implicitly
		if c.cur != nil {
			c.cur.close()
		}
		if err := c.machine.Transition(StateIdle); err != nil {
			return nil, err
		}
	}

	sc := c.newSession(mode, opts)
	if err := c.machine.TransitionFrom([]State{StateIdle}, StateRecording); err != nil {
		return nil, err
	}
	c.cur = sc
	c.lastErr = nil
	c.record = nil
	sc.metrics.RecordSessionStart()
	return sc, nil
}

// StartLive begins a live capture session. Audio is pushed with SendAudio.
func (c *Controller) StartLive(ctx context.Context, opts StartOptions) (Snapshot, error) {
	sc, err := c.begin(ModeLive, opts)
	if err != nil {
		return c.Snapshot(), err
	}
	c.publish()

	stream, err := c.adapter.StartLive(sc.ctx, stt.LiveConfig(c.opts.SampleRate, c.opts.Channels))
	if err != nil {
		c.fail(sc, err)
		return c.Snapshot(), err
	}
	if !c.attach(sc, stream) {
		return c.Snapshot(), ErrNoSession
	}
	sc.logger.Info().Int("sample_rate", c.opts.SampleRate).Msg("Live session started")
	return c.Snapshot(), nil
}

// StartFile begins a session that replays an uploaded recording through the
// provider. The session stops by itself at end of file.
func (c *Controller) StartFile(ctx context.Context, data []byte, filename string, opts StartOptions) (Snapshot, error) {
	if len(data) == 0 {
		return c.Snapshot(), failure.New(failure.KindAcquisition, "read_file", errors.New("empty audio file"))
	}
	sc, err := c.begin(ModeFile, opts)
	if err != nil {
		return c.Snapshot(), err
	}
	sc.artifact = audio.FileArtifact(data, filename)
	c.publish()

	stream, err := c.adapter.StartFile(sc.ctx, stt.FileConfig(), bytes.NewReader(data), int64(len(data)))
	if err != nil {
		c.fail(sc, err)
		return c.Snapshot(), err
	}
	if !c.attach(sc, stream) {
		return c.Snapshot(), ErrNoSession
	}
	sc.metrics.RecordAudioBytes(int64(len(data)))
	sc.logger.Info().Str("file", filename).Int("bytes", len(data)).Msg("File session started")
	return c.Snapshot(), nil
}

// attach hands the opened stream to the session, unless the session was
// reset while the provider was connecting
func (c *Controller) attach(sc *sessionContext, stream *stt.Stream) bool {
	c.mu.Lock()
	if c.cur != sc {
		c.mu.Unlock()
		stream.Close()
		return false
	}
	sc.stream.Store(stream)
	c.mu.Unlock()
	go c.loop(sc, stream)
	return true
}

// SendAudio forwards one PCM16 chunk of the live session
func (c *Controller) SendAudio(chunk []byte) error {
	c.mu.Lock()
	sc := c.cur
	var stream *stt.Stream
	if sc != nil {
		stream = sc.stream.Load()
	}
	c.mu.Unlock()

	if sc == nil || stream == nil {
		return ErrNoSession
	}
	if sc.mode != ModeLive {
		return fmt.Errorf("%w: audio can only be sent to a live session", ErrInvalidTransition)
	}
	if sc.stopping.Load() {
		return stt.ErrStreamClosed
	}
	if err := stream.SendAudio(chunk); err != nil {
		return err
	}
	sc.metrics.RecordAudioBytes(int64(len(chunk)))

	sc.audioMu.Lock()
	if _, err := sc.recorder.Write(chunk); err != nil && !sc.fullWarn {
		sc.fullWarn = true
		sc.logger.Warn().Err(err).Msg("Recording limit reached, artifact truncated")
	}
	speaking, changed := sc.vad.ProcessPCM(chunk)
	sc.audioMu.Unlock()

	if changed {
		sc.speaking.Store(speaking)
		c.publish()
	}
	return nil
}

// loop is the only goroutine that mutates the session logs
func (c *Controller) loop(sc *sessionContext, stream *stt.Stream) {
	updates := stream.Updates()
	failed := false

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				updates = nil
				close(sc.streamEnded)
				if !failed {
					go c.stop(sc)
				}
				continue
			}
			switch u.Kind {
			case stt.UpdateEvent:
				known := sc.registry.Len()
				if label := sc.registry.Label(u.Event.SpeakerID); sc.registry.Len() > known {
					sc.logger.Debug().Str("speaker_id", u.Event.SpeakerID).Str("label", label).Msg("New speaker")
				}
				sc.events = append(sc.events, u.Event)
				c.annotate(sc, u.Event)
				c.refresh(sc)
			case stt.UpdateProgress:
				if sc.progress.Report(PhaseTranscription, u.Progress) {
					c.publish()
				}
			case stt.UpdateError:
				if failure.IsFatal(u.Err) {
					failed = true
					c.fail(sc, u.Err)
				} else {
					sc.logger.Warn().Err(u.Err).Msg("Recoverable stream error")
				}
			}

		case r := <-sc.results:
			if r.gen != sc.gen {
				observability.RecordAnnotation(observability.AnnotationDroppedLate)
				continue
			}
			sc.annotations = append(sc.annotations, r.res)
			sc.feed.Push(r.res.Feedback)
			c.refresh(sc)

		case reply := <-sc.seal:
			c.drainResults(sc)
			// annotations still in flight now belong to an old generation
			sc.gen++
			reply <- frozenLogs{
				events:      append([]transcript.TranscriptEvent(nil), sc.events...),
				annotations: append([]transcript.AnnotationResult(nil), sc.annotations...),
				registry:    sc.registry.Clone(),
				feedback:    sc.feed.Items(),
			}

		case <-sc.ctx.Done():
			return
		}
	}
}

// drainResults applies annotation results already queued
func (c *Controller) drainResults(sc *sessionContext) {
	applied := false
	for {
		select {
		case r := <-sc.results:
			if r.gen != sc.gen {
				observability.RecordAnnotation(observability.AnnotationDroppedLate)
				continue
			}
			sc.annotations = append(sc.annotations, r.res)
			sc.feed.Push(r.res.Feedback)
			applied = true
		default:
			if applied {
				c.refresh(sc)
			}
			return
		}
	}
}

// refresh recomputes the live projection and publishes it
func (c *Controller) refresh(sc *sessionContext) {
	segs := merge.Merge(sc.events, sc.annotations, sc.registry, c.opts.MergeTolerance)
	sc.view.Store(&liveView{
		lines:    merge.Render(segs),
		segments: segs,
		feedback: sc.feed.Items(),
	})
	c.publish()
}

// annotate classifies an event without blocking the loop. The result is
// posted back tagged with the generation it was issued in.
func (c *Controller) annotate(sc *sessionContext, ev transcript.TranscriptEvent) {
	gen := sc.gen
	sc.pending.Add(1)
	go func() {
		defer sc.pending.Done()
		if err := sc.sem.Acquire(sc.annotateCtx, 1); err != nil {
			observability.RecordAnnotation(observability.AnnotationDroppedLate)
			return
		}
		defer sc.sem.Release(1)

		res, err := c.analyzer.Annotate(sc.annotateCtx, ev.Text, ev.Start)
		if err != nil {
			if sc.annotateCtx.Err() == nil {
				observability.RecordFailure(failure.KindAnnotation)
				sc.logger.Warn().Err(err).Float64("at", ev.Start).Msg("Annotation failed, segment kept unannotated")
			}
			return
		}
		if res == nil {
			return
		}
		select {
		case sc.results <- annotationResult{gen: gen, res: *res}:
		case <-sc.ctx.Done():
			observability.RecordAnnotation(observability.AnnotationDroppedLate)
		}
	}()
}

// Stop ends recording. It returns once the session has reached ANALYZING
// (or TRANSCRIBING when review is enabled); analysis continues in the
// background.
func (c *Controller) Stop(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	sc := c.cur
	starting := sc != nil && sc.stream.Load() == nil
	c.mu.Unlock()
	if sc == nil {
		return c.Snapshot(), ErrNoSession
	}
	if starting {
		return c.Snapshot(), fmt.Errorf("%w: session is still starting", ErrInvalidTransition)
	}
	if !sc.stopping.Load() && c.machine.State() != StateRecording {
		return c.Snapshot(), fmt.Errorf("%w: stop from %s", ErrInvalidTransition, c.machine.State())
	}

	go c.stop(sc)
	select {
	case <-sc.stopped:
		return c.Snapshot(), sc.stopErr
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// stop runs the stop sequence once per session: flush the provider, give
// trailing annotations a bounded grace period, seal the logs and move on
func (c *Controller) stop(sc *sessionContext) {
	sc.stopOnce.Do(func() {
		defer close(sc.stopped)
		sc.stopping.Store(true)

		if stream := sc.stream.Load(); stream != nil {
			if err := stream.Stop(sc.ctx); err != nil {
				sc.logger.Warn().Err(err).Msg("Provider flush incomplete")
			}
		}
		select {
		case <-sc.streamEnded:
		case <-sc.ctx.Done():
			sc.stopErr = c.endedErr(sc)
			return
		}

		if !waitTimeout(&sc.pending, c.opts.StopGrace) {
			sc.logger.Info().Dur("grace", c.opts.StopGrace).Msg("Grace period elapsed with annotations in flight")
		}
		sc.annotateCancel()

		reply := make(chan frozenLogs, 1)
		select {
		case sc.seal <- reply:
		case <-sc.ctx.Done():
			sc.stopErr = c.endedErr(sc)
			return
		}
		logs := <-reply

		next := StateAnalyzing
		if c.opts.ReviewBeforeAnalysis {
			next = StateTranscribing
		}

		c.mu.Lock()
		if c.cur != sc {
			c.mu.Unlock()
			sc.stopErr = c.endedErr(sc)
			return
		}
		sc.frozen = &logs
		err := c.machine.TransitionFrom([]State{StateRecording}, next)
		c.mu.Unlock()
		if err != nil {
			sc.stopErr = err
			return
		}

		sc.progress.Report(PhaseTranscription, 100)
		sc.logger.Info().
			Int("events", len(logs.events)).
			Int("annotations", len(logs.annotations)).
			Str("next", string(next)).
			Msg("Recording stopped")
		c.publish()

		if next == StateAnalyzing {
			go c.finish(sc, logs)
		}
	})
}

func (c *Controller) endedErr(sc *sessionContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr != nil && c.lastErr.SessionID == sc.id {
		return failure.New(c.lastErr.Kind, "session", errors.New(c.lastErr.Message))
	}
	return ErrNoSession
}

// Analyze commits a reviewed transcript to analysis
func (c *Controller) Analyze(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	sc := c.cur
	if sc == nil {
		c.mu.Unlock()
		return c.Snapshot(), ErrNoSession
	}
	if err := c.machine.TransitionFrom([]State{StateTranscribing}, StateAnalyzing); err != nil {
		c.mu.Unlock()
		return c.Snapshot(), err
	}
	logs := *sc.frozen
	c.mu.Unlock()

	c.publish()
	go c.finish(sc, logs)
	return c.Snapshot(), nil
}

// finish corrects, aggregates, summarises and persists the session
func (c *Controller) finish(sc *sessionContext, logs frozenLogs) {
	ctx, cancel := context.WithTimeout(sc.ctx, c.opts.FinishTimeout)
	defer cancel()
	logger := sc.logger

	segs := merge.Finalize(merge.Merge(logs.events, logs.annotations, logs.registry, c.opts.MergeTolerance))
	annotated := 0
	for _, s := range segs {
		if s.Annotated() {
			annotated++
		}
	}
	logger.Info().Int("segments", len(segs)).Int("annotated", annotated).Int("speakers", logs.registry.Len()).Msg("Transcript sealed")
	c.report(sc, PhaseCorrection, 0)

	corrected, err := c.pass.Run(ctx, segs)
	if err != nil {
		logger.Warn().Err(err).Msg("Continuing with uncorrected transcript")
	}
	sc.view.Store(&liveView{lines: merge.Render(corrected), segments: corrected, feedback: logs.feedback})
	c.report(sc, PhaseCorrection, 100)

	res := analytics.Compute(corrected, c.opts.Analytics)
	full, err := c.analyzer.AnalyzeFull(ctx, corrected)
	if err != nil {
		if sc.ctx.Err() != nil {
			return
		}
		observability.RecordFailure(failure.KindFullAnalysis)
		logger.Warn().Err(err).Msg("Full analysis failed, using placeholder summary")
		full = PlaceholderAnalysis()
	}
	c.report(sc, PhaseAnalysis, 100)

	rec := BuildRecord(RecordMeta{
		SessionID: sc.id,
		UserID:    sc.userID,
		Title:     sc.title,
		StartedAt: sc.startedAt,
		Duration:  sc.recorder.Duration(),
	}, corrected, res, full)

	artifact := sc.artifact
	if artifact.Empty() {
		artifact = sc.recorder.Artifact()
	}

	saved, err := c.persister.Persist(ctx, persist.Submission{Record: rec, Audio: artifact})
	if sc.ctx.Err() != nil {
		// reset while persisting
		return
	}
	if err != nil {
		if _, ok := failure.KindOf(err); !ok {
			err = failure.New(failure.KindPersistence, "persist", err)
		}
		c.fail(sc, err)
		return
	}

	sc.progress.Report(PhasePersistence, 100)

	c.mu.Lock()
	if c.cur != sc {
		c.mu.Unlock()
		return
	}
	c.record = &saved
	err = c.machine.TransitionFrom([]State{StateAnalyzing}, StateDone)
	c.mu.Unlock()
	if err != nil {
		logger.Error().Err(err).Msg("Could not complete session")
		return
	}

	sc.metrics.RecordSessionEnd("done")
	logger.Info().
		Int("segments", len(saved.Segments)).
		Str("talk_ratio", saved.Metrics.TalkRatio).
		Int("engagement", saved.Metrics.EngagementScore).
		Msg("Session completed")
	c.publish()

	// the finished session keeps its view but releases its goroutines
	sc.cancel()
}

func (c *Controller) report(sc *sessionContext, phase Phase, pct int) {
	if sc.progress.Report(phase, pct) {
		c.publish()
	}
}

// fail resolves a fatal failure: the session is discarded and the
// controller returns to IDLE with the error kept for the caller
func (c *Controller) fail(sc *sessionContext, err error) {
	kind, ok := failure.KindOf(err)
	if !ok {
		kind = failure.KindTranscription
	}

	c.mu.Lock()
	if c.cur != sc {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	c.record = nil
	c.lastErr = &ErrorInfo{SessionID: sc.id, Kind: kind, Message: err.Error()}
	_ = c.machine.Transition(StateIdle)
	c.mu.Unlock()

	sc.logger.Error().Err(err).Str("kind", string(kind)).Msg("Session failed")
	sc.metrics.RecordSessionEnd("failed")
	sc.close()
	c.publish()
}

// close releases the capture resource and discards buffered audio
func (sc *sessionContext) close() {
	sc.annotateCancel()
	sc.cancel()
	if stream := sc.stream.Load(); stream != nil {
		stream.Close()
	}
	sc.audioMu.Lock()
	sc.recorder.Reset()
	sc.vad.Reset()
	sc.audioMu.Unlock()
}

// Reset discards the current session from any state and returns to IDLE
func (c *Controller) Reset() Snapshot {
	c.mu.Lock()
	sc := c.cur
	c.cur = nil
	c.lastErr = nil
	c.record = nil
	_ = c.machine.Transition(StateIdle)
	c.mu.Unlock()

	if sc != nil {
		sc.close()
		sc.metrics.RecordSessionEnd("reset")
		sc.logger.Info().Msg("Session reset")
	}
	c.publish()
	return c.Snapshot()
}

// Snapshot returns the current view
func (c *Controller) Snapshot() Snapshot {
	c.pubMu.Lock()
	seq := c.seq
	c.pubMu.Unlock()
	s := c.compose()
	s.Seq = seq
	return s
}

// State returns the current state
func (c *Controller) State() State {
	return c.machine.State()
}

// Subscribe returns a channel of snapshots published after every change,
// starting with the current one, and a function to unsubscribe
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch, cancel := c.hub.subscribe()
	c.publish()
	return ch, cancel
}

// Wait blocks until the session in progress is DONE or has failed
func (c *Controller) Wait(ctx context.Context) (Snapshot, error) {
	ch, cancel := c.Subscribe()
	defer cancel()
	for {
		s := c.Snapshot()
		switch s.State {
		case StateDone:
			return s, nil
		case StateIdle:
			if s.Error != nil {
				return s, failure.New(s.Error.Kind, "session", errors.New(s.Error.Message))
			}
			return s, ErrNoSession
		case StateTranscribing:
			return s, nil
		}
		select {
		case _, ok := <-ch:
			if !ok {
				return c.Snapshot(), ErrNoSession
			}
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
	}
}

// Close resets any session and disconnects subscribers
func (c *Controller) Close() {
	c.Reset()
	c.hub.close()
}

func (c *Controller) compose() Snapshot {
	// transitions happen under c.mu, so state and record agree
	c.mu.Lock()
	sc := c.cur
	errInfo := c.lastErr
	rec := c.record
	state := c.machine.State()
	c.mu.Unlock()

	s := Snapshot{
		State:    state,
		Lines:    []string{},
		Segments: []transcript.CombinedSegment{},
		Feedback: []string{},
		Error:    errInfo,
		Record:   rec,
	}
	if sc == nil {
		return s
	}
	s.SessionID = sc.id
	s.Mode = sc.mode
	s.Title = sc.title
	s.Speaking = sc.speaking.Load()
	s.Progress, s.Phase = sc.progress.Value()
	if v := sc.view.Load(); v != nil {
		if v.lines != nil {
			s.Lines = v.lines
		}
		if v.segments != nil {
			s.Segments = v.segments
		}
		if v.feedback != nil {
			s.Feedback = v.feedback
		}
	}
	return s
}

func (c *Controller) publish() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	c.seq++
	s := c.compose()
	s.Seq = c.seq
	c.hub.broadcast(s)
}

// waitTimeout waits for wg up to d and reports whether it finished
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
