package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/convo-coach/internal/observability"
)

// messageCallbackHandler implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse)
}

// Message forwards transcription results to the connection
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

// Error reports provider-side failures to the connection
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	m.errorHandler(errorResponse)
	return nil
}

// DeepgramOptions configures the Deepgram transcriber
type DeepgramOptions struct {
	APIKey       string
	Model        string
	Language     string
	Host         string // overrides the Deepgram endpoint, e.g. a self-hosted ws:// URL
	QuietPeriod  time.Duration // no results for this long after finish ends the flush
	FlushTimeout time.Duration
}

// DeepgramTranscriber implements Transcriber using Deepgram's streaming API
// with diarization enabled
type DeepgramTranscriber struct {
	opts   DeepgramOptions
	logger zerolog.Logger
}

// NewDeepgramTranscriber creates a Deepgram transcriber
func NewDeepgramTranscriber(opts DeepgramOptions) *DeepgramTranscriber {
	if opts.Model == "" {
		opts.Model = "nova-2"
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = 1200 * time.Millisecond
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 5 * time.Second
	}
	return &DeepgramTranscriber{
		opts:   opts,
		logger: observability.GetLogger().With().Str("component", "deepgram").Logger(),
	}
}

// Open starts a new Deepgram streaming transcription session
func (d *DeepgramTranscriber) Open(ctx context.Context, cfg StreamConfig) (Connection, error) {
	if d.opts.APIKey == "" {
		return nil, errors.New("deepgram api key is not configured")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:     d.opts.Model,
		Language:  d.opts.Language,
		Punctuate: true,
		Diarize:   true,
	}
	if cfg.Encoding != "" {
		tOptions.Encoding = cfg.Encoding
		tOptions.SampleRate = cfg.SampleRate
		tOptions.Channels = cfg.Channels
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &deepgramConn{
		results:     make(chan Result, 128),
		signals:     make(chan Signal, 4),
		quietPeriod: d.opts.QuietPeriod,
		flushLimit:  d.opts.FlushTimeout,
		cancel:      cancel,
		logger:      d.logger,
		lastMessage: time.Now(),
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                c.handleMessage,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) {
			reason := "deepgram stream error"
			if raw, err := json.Marshal(errorResponse); err == nil {
				reason = errorReason(raw)
			}
			if c.isClosing() {
				c.logger.Debug().Str("reason", reason).Msg("Deepgram error during close")
				return
			}
			c.logger.Error().Str("reason", reason).Msg("Deepgram error")
			c.terminate(Signal{Kind: SignalCanceled, Reason: reason})
		},
	}

	// the SDK writes the key into the options, so they must not be nil
	cOptions := &interfaces.ClientOptions{APIKey: d.opts.APIKey, Host: d.opts.Host}
	client, err := listenClient.NewWSUsingCallback(cctx, d.opts.APIKey, cOptions, tOptions, callback)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		cancel()
		return nil, errors.New("failed to connect to Deepgram")
	}
	c.client = client
	c.signals <- Signal{Kind: SignalStarted}

	d.logger.Info().
		Str("model", d.opts.Model).
		Str("language", d.opts.Language).
		Str("encoding", cfg.Encoding).
		Msg("Deepgram streaming session started")
	return c, nil
}

type deepgramConn struct {
	client      *listenClient.WSCallback
	results     chan Result
	signals     chan Signal
	quietPeriod time.Duration
	flushLimit  time.Duration
	cancel      context.CancelFunc
	logger      zerolog.Logger

	mu          sync.Mutex
	lastMessage time.Time
	finishing   bool
	closing     bool // socket teardown started by us
	ended       bool
}

func (c *deepgramConn) Results() <-chan Result { return c.results }
func (c *deepgramConn) Signals() <-chan Signal { return c.signals }

// handleMessage processes messages from Deepgram
func (c *deepgramConn) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}
	c.mu.Lock()
	c.lastMessage = time.Now()
	ended := c.ended
	c.mu.Unlock()
	if ended {
		return
	}

	// Word-level speaker ids are read from the wire form of the message
	raw, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Re-encoding Deepgram message")
		return
	}
	r, ok := decodeResult(raw)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	select {
	case c.results <- r:
	default:
		c.logger.Warn().Msg("Result channel full, dropping final transcription")
	}
}

type wireMessage struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string     `json:"transcript"`
			Words      []wireWord `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type wireWord struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Speaker        *int    `json:"speaker"`
}

// decodeResult extracts a final diarized result from a Deepgram message.
// Interim results and non-result messages are ignored.
func decodeResult(raw []byte) (Result, bool) {
	var m wireMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Result{}, false
	}
	if m.Type != "" && m.Type != "Results" {
		return Result{}, false
	}
	if !m.IsFinal || len(m.Channel.Alternatives) == 0 {
		return Result{}, false
	}
	alt := m.Channel.Alternatives[0]
	if strings.TrimSpace(alt.Transcript) == "" {
		return Result{}, false
	}

	r := Result{
		Text:    alt.Transcript,
		Start:   m.Start,
		End:     m.Start + m.Duration,
		Speaker: "0",
	}
	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		speaker := "0"
		if w.Speaker != nil {
			speaker = strconv.Itoa(*w.Speaker)
		}
		r.Words = append(r.Words, Word{Text: text, Start: w.Start, End: w.End, Speaker: speaker})
	}
	if len(r.Words) > 0 {
		r.Speaker = r.Words[0].Speaker
	}
	return r, true
}

// errorReason builds a cancellation reason from the wire form of an error
func errorReason(raw []byte) string {
	var e struct {
		ErrCode     string `json:"err_code"`
		ErrMsg      string `json:"err_msg"`
		Description string `json:"description"`
	}
	_ = json.Unmarshal(raw, &e)
	parts := make([]string, 0, 3)
	for _, p := range []string{e.ErrCode, e.ErrMsg, e.Description} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "deepgram stream error"
	}
	return strings.Join(parts, ": ")
}

// SendAudio sends an audio chunk to Deepgram
func (c *deepgramConn) SendAudio(chunk []byte) error {
	c.mu.Lock()
	ended := c.ended
	c.mu.Unlock()
	if ended {
		return errors.New("deepgram stream has ended")
	}
	if _, err := c.client.Write(chunk); err != nil {
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	return nil
}

// Finish asks Deepgram to finalize pending audio and waits until it has gone
// quiet, bounded by the flush limit, then sends CloseStream, closes the
// socket and reports the stream stopped
func (c *deepgramConn) Finish() error {
	c.mu.Lock()
	if c.finishing || c.ended {
		c.mu.Unlock()
		return nil
	}
	c.finishing = true
	c.lastMessage = time.Now()
	c.mu.Unlock()

	if err := c.client.Finalize(); err != nil {
		c.logger.Warn().Err(err).Msg("Deepgram finalize failed")
	}

	go func() {
		deadline := time.Now().Add(c.flushLimit)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			c.mu.Lock()
			quiet := time.Since(c.lastMessage) >= c.quietPeriod
			ended := c.ended
			c.mu.Unlock()
			if ended {
				return
			}
			if quiet || time.Now().After(deadline) {
				break
			}
		}
		c.stopClient()
		c.terminate(Signal{Kind: SignalStopped})
	}()
	return nil
}

// stopClient sends CloseStream and closes the socket
func (c *deepgramConn) stopClient() {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	c.client.Stop()
}

func (c *deepgramConn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// terminate sends the single terminal signal and closes both channels
func (c *deepgramConn) terminate(sig Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.ended = true
	c.signals <- sig
	close(c.signals)
	close(c.results)
}

// Close tears the stream down without waiting for a flush
func (c *deepgramConn) Close() error {
	c.mu.Lock()
	ended := c.ended
	c.mu.Unlock()
	if !ended {
		c.terminate(Signal{Kind: SignalStopped})
	}
	c.stopClient()
	c.cancel()
	return nil
}
