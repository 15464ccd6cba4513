package session

import (
	"math"
	"strings"
	"time"

	"github.com/lexiqai/convo-coach/internal/analytics"
	"github.com/lexiqai/convo-coach/internal/transcript"
)

// Coaching line tags stored with the record
const (
	StrengthTag    = "STRENGTH: "
	OpportunityTag = "OPPORTUNITY: "
)

// PlaceholderAnalysis stands in for the summary when the full analysis call
// failed, so the recording is still saved
func PlaceholderAnalysis() transcript.FullAnalysis {
	return transcript.FullAnalysis{
		OverallSummary: "AI analysis is unavailable for this conversation. The transcript and metrics were saved and can be reviewed as is.",
	}
}

// RecordMeta identifies the session a record belongs to
type RecordMeta struct {
	SessionID string
	UserID    string
	Title     string
	StartedAt time.Time
	Duration  float64 // captured audio length, if known
}

// BuildRecord assembles the analysis record from the finalized transcript,
// its metrics and the full analysis
func BuildRecord(meta RecordMeta, segments []transcript.CombinedSegment, res analytics.Result, full transcript.FullAnalysis) transcript.AnalysisRecord {
	title := strings.TrimSpace(meta.Title)
	if title == "" {
		title = "Conversation " + meta.StartedAt.Format("2006-01-02 15:04")
	}

	coaching := make([]string, 0, len(full.Strengths)+len(full.Opportunities))
	for _, s := range full.Strengths {
		coaching = append(coaching, StrengthTag+s)
	}
	for _, o := range full.Opportunities {
		coaching = append(coaching, OpportunityTag+o)
	}

	duration := math.Max(analytics.Duration(segments), meta.Duration)

	return transcript.AnalysisRecord{
		SessionID:       meta.SessionID,
		UserID:          meta.UserID,
		Title:           title,
		Segments:        nonNil(segments),
		Metrics:         res.Metrics,
		SentimentSeries: res.Series,
		Summary:         full.OverallSummary,
		Coaching:        coaching,
		Keywords:        res.Keywords,
		Questions:       res.Questions,
		Competitors:     full.Competitors,
		Tips:            full.CoachingTips,
		Duration:        math.Round(duration*10) / 10,
	}
}

func nonNil(segs []transcript.CombinedSegment) []transcript.CombinedSegment {
	if segs == nil {
		return []transcript.CombinedSegment{}
	}
	return segs
}
