// Package stttest provides a scriptable in-memory speech provider for tests.
package stttest

import (
	"context"
	"errors"
	"sync"

	"github.com/lexiqai/convo-coach/internal/stt"
)

// Transcriber is a fake stt.Transcriber. Every opened connection replays
// Script when it is finished.
type Transcriber struct {
	mu sync.Mutex

	// OpenErr makes Open fail
	OpenErr error
	// Script is flushed as results on Finish
	Script []stt.Result
	// FailReason, when set, ends finished streams with a canceled signal
	FailReason string
	// HoldFinish makes Finish never end the stream
	HoldFinish bool

	conns []*Conn
}

// Open implements stt.Transcriber
func (t *Transcriber) Open(ctx context.Context, cfg stt.StreamConfig) (stt.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.OpenErr != nil {
		return nil, t.OpenErr
	}
	c := &Conn{
		Config:     cfg,
		results:    make(chan stt.Result, 1024),
		signals:    make(chan stt.Signal, 4),
		pending:    append([]stt.Result(nil), t.Script...),
		failReason: t.FailReason,
		hold:       t.HoldFinish,
	}
	c.signals <- stt.Signal{Kind: stt.SignalStarted}
	t.conns = append(t.conns, c)
	return c, nil
}

// Conns returns every connection opened so far
func (t *Transcriber) Conns() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Conn(nil), t.conns...)
}

// Last returns the most recent connection or nil
func (t *Transcriber) Last() *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// Conn is a fake stt.Connection
type Conn struct {
	Config stt.StreamConfig

	mu         sync.Mutex
	results    chan stt.Result
	signals    chan stt.Signal
	pending    []stt.Result
	failReason string
	hold       bool
	audio      int
	chunks     int
	finished   bool
	closed     bool
	ended      bool
}

// Results implements stt.Connection
func (c *Conn) Results() <-chan stt.Result { return c.results }

// Signals implements stt.Connection
func (c *Conn) Signals() <-chan stt.Signal { return c.signals }

// SendAudio implements stt.Connection
func (c *Conn) SendAudio(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return errors.New("stream ended")
	}
	c.audio += len(chunk)
	c.chunks++
	return nil
}

// Finish flushes the script and ends the stream
func (c *Conn) Finish() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = true
	if c.ended || c.hold {
		return nil
	}
	for _, r := range c.pending {
		c.results <- r
	}
	c.pending = nil
	if c.failReason != "" {
		c.end(stt.Signal{Kind: stt.SignalCanceled, Reason: c.failReason})
	} else {
		c.end(stt.Signal{Kind: stt.SignalStopped})
	}
	return nil
}

// Close implements stt.Connection
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.end(stt.Signal{Kind: stt.SignalStopped})
	return nil
}

// Emit delivers a result immediately
func (c *Conn) Emit(r stt.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ended {
		c.results <- r
	}
}

// Fail ends the stream with a provider error
func (c *Conn) Fail(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.end(stt.Signal{Kind: stt.SignalCanceled, Reason: reason})
}

func (c *Conn) end(sig stt.Signal) {
	if c.ended {
		return
	}
	c.ended = true
	c.signals <- sig
	close(c.signals)
	close(c.results)
}

// AudioBytes is the number of audio bytes received
func (c *Conn) AudioBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audio
}

// Finished reports whether Finish was called
func (c *Conn) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// Closed reports whether Close was called
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Words builds a diarized result from (speaker, text, start, end) runs
func Words(runs ...Run) stt.Result {
	var r stt.Result
	for i, run := range runs {
		if i == 0 {
			r.Start = run.Start
			r.Speaker = run.Speaker
		}
		r.End = run.End
		if r.Text != "" {
			r.Text += " "
		}
		r.Text += run.Text
		r.Words = append(r.Words, stt.Word{Text: run.Text, Start: run.Start, End: run.End, Speaker: run.Speaker})
	}
	return r
}

// Run is one speaker run used with Words
type Run struct {
	Speaker string
	Text    string
	Start   float64
	End     float64
}
