package stt

import (
	"context"

	"github.com/lexiqai/convo-coach/internal/transcript"
)

// StreamConfig describes the audio sent to the provider. An empty Encoding
// lets the provider detect a containerised file format.
type StreamConfig struct {
	Encoding   string
	SampleRate int
	Channels   int
}

// LiveConfig is the raw PCM16 capture format used for microphone streams
func LiveConfig(sampleRate, channels int) StreamConfig {
	return StreamConfig{Encoding: "linear16", SampleRate: sampleRate, Channels: channels}
}

// FileConfig lets the provider detect the container of an uploaded file
func FileConfig() StreamConfig {
	return StreamConfig{}
}

// SignalKind is a provider lifecycle signal
type SignalKind int

const (
	SignalStarted SignalKind = iota
	SignalStopped
	SignalCanceled
)

func (k SignalKind) String() string {
	switch k {
	case SignalStarted:
		return "started"
	case SignalStopped:
		return "stopped"
	case SignalCanceled:
		return "canceled"
	}
	return "unknown"
}

// Signal is a lifecycle notification. A Canceled signal with an empty
// Reason means the provider ended the stream after completing it.
type Signal struct {
	Kind   SignalKind
	Reason string
}

// Terminal reports whether the signal ends the stream
func (s Signal) Terminal() bool {
	return s.Kind == SignalStopped || s.Kind == SignalCanceled
}

// Failed reports whether the stream ended with an error
func (s Signal) Failed() bool {
	return s.Kind == SignalCanceled && s.Reason != ""
}

// Word is one recognised word with its diarized speaker
type Word struct {
	Text    string
	Start   float64
	End     float64
	Speaker string
}

// Result is one final recognition result from the provider
type Result struct {
	Text    string
	Start   float64
	End     float64
	Speaker string
	Words   []Word
}

// Connection is one open provider stream. The provider sends exactly one
// terminal signal and then closes both channels.
type Connection interface {
	SendAudio(chunk []byte) error
	// Finish flushes buffered recognition and ends the stream
	Finish() error
	Results() <-chan Result
	Signals() <-chan Signal
	Close() error
}

// Transcriber is the streaming speech-to-text and diarization provider
type Transcriber interface {
	Open(ctx context.Context, cfg StreamConfig) (Connection, error)
}

// UpdateKind tags what an Update carries
type UpdateKind int

const (
	UpdateEvent UpdateKind = iota
	UpdateProgress
	UpdateError
)

// Update is one item of an adapter stream
type Update struct {
	Kind     UpdateKind
	Event    transcript.TranscriptEvent
	Progress int
	Err      error
}
