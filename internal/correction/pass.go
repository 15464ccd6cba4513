package correction

import (
	"context"
	"time"

	"github.com/lexiqai/convo-coach/internal/failure"
	"github.com/lexiqai/convo-coach/internal/observability"
	"github.com/lexiqai/convo-coach/internal/transcript"
	"github.com/rs/zerolog"
)

// Corrector reviews a full transcript and proposes speaker corrections
type Corrector interface {
	CorrectSpeakers(ctx context.Context, segments []transcript.CombinedSegment) (transcript.Corrections, error)
}

// Pass runs the post-recording speaker correction once per session
type Pass struct {
	corrector Corrector
	roles     Roles
	logger    zerolog.Logger
}

// NewPass creates a correction pass
func NewPass(corrector Corrector, roles Roles) *Pass {
	if roles.Initiator == "" || roles.Responder == "" {
		roles = DefaultRoles()
	}
	return &Pass{
		corrector: corrector,
		roles:     roles,
		logger:    observability.GetLogger().With().Str("component", "correction").Logger(),
	}
}

// Run asks the corrector for corrections and applies them. When the call
// fails the merged segments are returned unmodified together with the
// correction failure, which callers treat as recoverable.
func (p *Pass) Run(ctx context.Context, segments []transcript.CombinedSegment) ([]transcript.CombinedSegment, error) {
	unmodified := make([]transcript.CombinedSegment, len(segments))
	copy(unmodified, segments)
	if len(segments) == 0 {
		return unmodified, nil
	}

	start := time.Now()
	c, err := p.corrector.CorrectSpeakers(ctx, segments)
	if err != nil {
		if _, ok := failure.KindOf(err); !ok {
			err = failure.New(failure.KindCorrection, "correct_speakers", err)
		}
		p.logger.Warn().Err(err).Int("segments", len(segments)).Msg("Speaker correction failed, keeping merged transcript")
		observability.RecordFailure(failure.KindCorrection)
		return unmodified, err
	}

	// raw labels are still resolved to roles when nothing was proposed
	out := Apply(segments, c, p.roles)
	if c.Empty() {
		p.logger.Info().Int("segments", len(out)).Dur("latency", time.Since(start)).Msg("No speaker corrections proposed")
		return out, nil
	}
	p.logger.Info().
		Int("splits", len(c.Splits)).
		Int("reassignments", len(c.Reassignments)).
		Int("segments_before", len(segments)).
		Int("segments_after", len(out)).
		Dur("latency", time.Since(start)).
		Msg("Speaker correction applied")
	return out, nil
}
