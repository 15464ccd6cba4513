// Package persist hands a finished analysis to storage: one audio blob and
// one structured record per session.
package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/convo-coach/internal/audio"
	"github.com/lexiqai/convo-coach/internal/failure"
	"github.com/lexiqai/convo-coach/internal/observability"
	"github.com/lexiqai/convo-coach/internal/resilience"
	"github.com/lexiqai/convo-coach/internal/transcript"
)

// ErrNotFound is returned when no record exists for a session
var ErrNotFound = errors.New("record not found")

// BlobStore stores audio artifacts
type BlobStore interface {
	// Put uploads an object and returns a retrievable reference
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Remove(ctx context.Context, key string) error
}

// RecordStore stores analysis records
type RecordStore interface {
	// Insert writes one record atomically and returns the server-assigned
	// creation time
	Insert(ctx context.Context, rec transcript.AnalysisRecord) (time.Time, error)
	Get(ctx context.Context, sessionID string) (transcript.AnalysisRecord, error)
	List(ctx context.Context, userID string, limit int) ([]transcript.AnalysisRecord, error)
}

// Submission is everything produced by one completed session
type Submission struct {
	Record transcript.AnalysisRecord
	Audio  audio.Artifact
}

// Handoff uploads the artifact and writes the record, retrying the whole
// operation once
type Handoff struct {
	blobs   BlobStore
	records RecordStore
	retry   *resilience.RetryConfig
	logger  zerolog.Logger
}

// NewHandoff creates a handoff over the given stores. A nil retry config
// means two attempts with a short pause.
func NewHandoff(blobs BlobStore, records RecordStore, retry *resilience.RetryConfig) *Handoff {
	if retry == nil {
		retry = &resilience.RetryConfig{
			MaxAttempts:       2,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
		}
	}
	return &Handoff{
		blobs:   blobs,
		records: records,
		retry:   retry,
		logger:  observability.GetLogger().With().Str("component", "persist").Logger(),
	}
}

// Records exposes the record store for read access
func (h *Handoff) Records() RecordStore {
	return h.records
}

// ObjectKey is the deterministic blob key for a session's audio, so a retried
// upload overwrites instead of duplicating
func ObjectKey(userID, sessionID, ext string) string {
	if userID == "" {
		userID = "anonymous"
	}
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("sessions/%s/%s.%s", sanitizeKeyPart(userID), sanitizeKeyPart(sessionID), ext)
}

func sanitizeKeyPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// Persist stores the submission and returns the record as written, with the
// audio reference and creation time filled in. Any failure is a
// persistence failure; an uploaded blob is removed so nothing is left
// half-written.
func (h *Handoff) Persist(ctx context.Context, sub Submission) (transcript.AnalysisRecord, error) {
	rec := sub.Record
	if rec.SessionID == "" {
		return rec, failure.New(failure.KindPersistence, "persist", errors.New("record has no session id"))
	}

	logger := h.logger.With().Str("session_id", rec.SessionID).Logger()
	key := ObjectKey(rec.UserID, rec.SessionID, sub.Audio.Extension)
	uploaded := false
	attempt := 0

	err := resilience.Retry(ctx, func(ctx context.Context) error {
		attempt++
		out := rec
		if !sub.Audio.Empty() {
			ref, err := h.blobs.Put(ctx, key, bytes.NewReader(sub.Audio.Data), int64(len(sub.Audio.Data)), sub.Audio.ContentType)
			if err != nil {
				observability.RecordPersistAttempt(false)
				logger.Warn().Err(err).Int("attempt", attempt).Msg("Audio upload failed")
				return fmt.Errorf("upload audio: %w", err)
			}
			uploaded = true
			out.AudioRef = ref
		}

		createdAt, err := h.records.Insert(ctx, out)
		if err != nil {
			observability.RecordPersistAttempt(false)
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Record insert failed")
			return fmt.Errorf("insert record: %w", err)
		}
		observability.RecordPersistAttempt(true)
		out.CreatedAt = createdAt
		rec = out
		return nil
	}, h.retry, func(err error) bool {
		return !errors.Is(err, context.Canceled)
	})

	if err != nil {
		if uploaded {
			// the caller's context may already be gone
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if rmErr := h.blobs.Remove(cleanupCtx, key); rmErr != nil {
				logger.Error().Err(rmErr).Str("key", key).Msg("Failed to remove orphaned audio")
			}
			cancel()
		}
		observability.RecordFailure(failure.KindPersistence)
		logger.Error().Err(err).Int("attempts", attempt).Msg("Persisting session failed")
		return sub.Record, failure.New(failure.KindPersistence, "persist", err)
	}

	logger.Info().
		Str("audio_ref", rec.AudioRef).
		Time("created_at", rec.CreatedAt).
		Int("segments", len(rec.Segments)).
		Msg("Session persisted")
	return rec, nil
}
