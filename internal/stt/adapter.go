package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/convo-coach/internal/failure"
	"github.com/lexiqai/convo-coach/internal/observability"
	"github.com/lexiqai/convo-coach/internal/transcript"
)

// ErrStreamClosed is returned when audio is sent after the stream ended
var ErrStreamClosed = errors.New("transcription stream closed")

// Options tunes the adapter
type Options struct {
	ChunkSize    int           // bytes per replayed file chunk
	ChunkDelay   time.Duration // pause between replayed chunks
	FlushTimeout time.Duration // upper bound on Stop
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{ChunkSize: 32 * 1024, ChunkDelay: 20 * time.Millisecond, FlushTimeout: 5 * time.Second}
}

// Adapter turns a provider connection into a stream of transcript events
type Adapter struct {
	transcriber Transcriber
	opts        Options
	logger      zerolog.Logger
}

// NewAdapter creates an adapter over a transcriber
func NewAdapter(t Transcriber, opts Options) *Adapter {
	def := DefaultOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.ChunkDelay < 0 {
		opts.ChunkDelay = 0
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = def.FlushTimeout
	}
	return &Adapter{
		transcriber: t,
		opts:        opts,
		logger:      observability.GetLogger().With().Str("component", "stt").Logger(),
	}
}

// Stream is one running transcription. Updates is closed at end of stream.
type Stream struct {
	conn    Connection
	updates chan Update
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger
	flush   time.Duration

	pumps      sync.WaitGroup
	finishOnce sync.Once
	closeOnce  sync.Once
	mu         sync.Mutex
	finished   bool
}

// StartLive opens a provider connection for live capture. Audio is pushed
// with SendAudio.
func (a *Adapter) StartLive(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	s, err := a.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	go s.run()
	return s, nil
}

// StartFile opens a provider connection and replays r through it. Progress
// updates run from 0 to 100 as bytes are sent; size <= 0 reports only 100.
func (a *Adapter) StartFile(ctx context.Context, cfg StreamConfig, r io.Reader, size int64) (*Stream, error) {
	s, err := a.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.pumps.Add(1)
	go s.run()
	go func() {
		defer s.pumps.Done()
		s.pump(r, size, a.opts.ChunkSize, a.opts.ChunkDelay)
	}()
	return s, nil
}

func (a *Adapter) open(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	conn, err := a.transcriber.Open(ctx, cfg)
	if err != nil {
		observability.RecordFailure(failure.KindAcquisition)
		return nil, failure.New(failure.KindAcquisition, "open_transcriber", err)
	}
	sctx, cancel := context.WithCancel(ctx)
	return &Stream{
		conn:    conn,
		updates: make(chan Update, 256),
		done:    make(chan struct{}),
		ctx:     sctx,
		cancel:  cancel,
		logger:  a.logger,
		flush:   a.opts.FlushTimeout,
	}, nil
}

// Updates returns the stream of events, progress and failures
func (s *Stream) Updates() <-chan Update {
	return s.updates
}

// SendAudio forwards one chunk to the provider
func (s *Stream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()
	if finished {
		return ErrStreamClosed
	}
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	return s.conn.SendAudio(chunk)
}

// Stop flushes buffered recognition and waits for the provider to end the
// stream, bounded by the flush timeout and ctx
func (s *Stream) Stop(ctx context.Context) error {
	s.finish()

	timer := time.NewTimer(s.flush)
	defer timer.Stop()

	var err error
	select {
	case <-s.done:
	case <-timer.C:
		err = fmt.Errorf("flush timed out after %s", s.flush)
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.Close()
	return err
}

// Close releases the provider connection without flushing
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Closing provider connection")
		}
	})
}

func (s *Stream) finish() {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.finished = true
		s.mu.Unlock()
		if err := s.conn.Finish(); err != nil {
			s.logger.Warn().Err(err).Msg("Provider finish failed")
		}
	})
}

func (s *Stream) emit(u Update) bool {
	select {
	case s.updates <- u:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// run converts provider results into deduplicated speaker-run events until
// the provider closes both channels
func (s *Stream) run() {
	defer func() {
		close(s.done)
		// a replay still pumping after the provider ended has nothing to feed
		s.cancel()
		s.pumps.Wait()
		close(s.updates)
	}()

	results := s.conn.Results()
	signals := s.conn.Signals()
	seen := make(map[string]bool)

	for results != nil || signals != nil {
		select {
		case r, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			for _, ev := range EventsFromResult(r) {
				key := ev.Key()
				if seen[key] {
					continue
				}
				seen[key] = true
				observability.RecordTranscriptEvent()
				if !s.emit(Update{Kind: UpdateEvent, Event: ev}) {
					return
				}
			}
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			s.logger.Debug().Str("signal", sig.Kind.String()).Str("reason", sig.Reason).Msg("Provider signal")
			if sig.Failed() {
				observability.RecordFailure(failure.KindTranscription)
				err := failure.New(failure.KindTranscription, "provider_stream", errors.New(sig.Reason))
				if !s.emit(Update{Kind: UpdateError, Err: err}) {
					return
				}
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// pump replays a file through the connection and finishes it at EOF
func (s *Stream) pump(r io.Reader, size int64, chunkSize int, delay time.Duration) {
	buf := make([]byte, chunkSize)
	var sent int64
	last := -1

	report := func(p int) {
		if p > 100 {
			p = 100
		}
		if p > last {
			last = p
			s.emit(Update{Kind: UpdateProgress, Progress: p})
		}
	}
	report(0)

	for {
		if s.ctx.Err() != nil {
			return
		}
		n, err := r.Read(buf)
		if n > 0 {
			if sendErr := s.conn.SendAudio(buf[:n]); sendErr != nil {
				s.emit(Update{Kind: UpdateError, Err: failure.New(failure.KindTranscription, "send_audio", sendErr)})
				s.Close()
				return
			}
			sent += int64(n)
			if size > 0 {
				// hold 100 back until EOF
				p := int(sent * 100 / size)
				if p >= 100 {
					p = 99
				}
				report(p)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.emit(Update{Kind: UpdateError, Err: failure.New(failure.KindAcquisition, "read_file", err)})
			s.Close()
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				return
			}
		}
	}

	report(100)
	s.finish()
}

// EventsFromResult splits one diarized result into contiguous speaker runs.
// Results without word timing become a single event.
func EventsFromResult(r Result) []transcript.TranscriptEvent {
	if len(r.Words) == 0 {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			return nil
		}
		return []transcript.TranscriptEvent{{SpeakerID: r.Speaker, Text: text, Start: r.Start, End: r.End}}
	}

	var (
		out   []transcript.TranscriptEvent
		words []string
		cur   transcript.TranscriptEvent
	)
	flush := func() {
		text := strings.TrimSpace(strings.Join(words, " "))
		if text != "" {
			cur.Text = text
			out = append(out, cur)
		}
		words = words[:0]
	}

	for i, w := range r.Words {
		if i == 0 || w.Speaker != cur.SpeakerID {
			if i > 0 {
				flush()
			}
			cur = transcript.TranscriptEvent{SpeakerID: w.Speaker, Start: w.Start, End: w.End}
		}
		if w.End > cur.End {
			cur.End = w.End
		}
		if t := strings.TrimSpace(w.Text); t != "" {
			words = append(words, t)
		}
	}
	flush()
	return out
}
