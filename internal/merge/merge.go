package merge

import (
	"math"
	"sort"
	"strings"

	"github.com/lexiqai/convo-coach/internal/transcript"
)

// DefaultTolerance is the maximum distance in seconds between an event start
// and an annotation timestamp for the two to be matched
const DefaultTolerance = 2.0

// Merge projects the event log and the annotation log into combined segments.
// Events keep their emission order. The annotation chosen for each event does
// not depend on the order annotations arrived in. Speakers are read from
// registry; ids it does not know yet are labelled on a private copy, so the
// registry passed in is never modified.
func Merge(events []transcript.TranscriptEvent, annotations []transcript.AnnotationResult, registry *transcript.SpeakerRegistry, tolerance float64) []transcript.CombinedSegment {
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}

	labels := &labeler{base: registry}
	segments := make([]transcript.CombinedSegment, 0, len(events))
	for _, ev := range events {
		seg := transcript.CombinedSegment{
			Speaker: labels.label(ev.SpeakerID),
			Text:    ev.Text,
			Start:   math.Max(ev.Start, 0),
			End:     ev.End,
		}
		if seg.End < seg.Start {
			seg.End = seg.Start
		}

		if a, ok := nearest(ev, annotations, tolerance); ok {
			seg.Emotion = a.Emotion
			seg.Sentiment = a.Sentiment
		}
		segments = append(segments, seg)
	}
	return segments
}

type labeler struct {
	base  *transcript.SpeakerRegistry
	local *transcript.SpeakerRegistry
}

func (l *labeler) label(rawID string) string {
	if l.local == nil {
		if l.base != nil {
			if label, ok := l.base.Lookup(rawID); ok {
				return label
			}
			l.local = l.base.Clone()
		} else {
			l.local = transcript.NewSpeakerRegistry()
		}
	}
	return l.local.Label(rawID)
}

// nearest picks the annotation closest to the event start within tolerance.
// Ties go to an exact text match, then the earlier timestamp, then the
// lexically smaller text.
func nearest(ev transcript.TranscriptEvent, annotations []transcript.AnnotationResult, tolerance float64) (transcript.AnnotationResult, bool) {
	var (
		best  transcript.AnnotationResult
		found bool
	)
	for _, a := range annotations {
		d := math.Abs(a.Timestamp - ev.Start)
		if d > tolerance {
			continue
		}
		if !found || better(ev, a, best) {
			best = a
			found = true
		}
	}
	return best, found
}

func better(ev transcript.TranscriptEvent, a, b transcript.AnnotationResult) bool {
	da := math.Abs(a.Timestamp - ev.Start)
	db := math.Abs(b.Timestamp - ev.Start)
	if da != db {
		return da < db
	}
	ma := a.Text == ev.Text
	mb := b.Text == ev.Text
	if ma != mb {
		return ma
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	if a.Text != b.Text {
		return a.Text < b.Text
	}
	if a.Emotion != b.Emotion {
		return a.Emotion < b.Emotion
	}
	return a.Sentiment < b.Sentiment
}

// Finalize returns the segments ordered by start. Equal starts keep their
// emission order.
func Finalize(segments []transcript.CombinedSegment) []transcript.CombinedSegment {
	out := make([]transcript.CombinedSegment, len(segments))
	copy(out, segments)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start < out[j].Start
	})
	return out
}

// Render builds the live transcript view, one line per segment
func Render(segments []transcript.CombinedSegment) []string {
	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		lines = append(lines, RenderLine(s))
	}
	return lines
}

// RenderLine formats one segment as "[speaker] text (emotion)"
func RenderLine(s transcript.CombinedSegment) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(s.Speaker)
	b.WriteString("] ")
	b.WriteString(s.Text)
	if s.Emotion != "" {
		b.WriteString(" (")
		b.WriteString(string(s.Emotion))
		b.WriteString(")")
	}
	return b.String()
}
