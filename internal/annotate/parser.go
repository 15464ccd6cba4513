package annotate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lexiqai/convo-coach/internal/transcript"
)

// Parsed is the outcome of decoding a provider reply: either a valid value
// or an unparseable reply with the reason it was rejected
type Parsed[T any] struct {
	Value  T
	Valid  bool
	Reason string
}

// Unparseable builds a rejected result
func Unparseable[T any](reason string) Parsed[T] {
	return Parsed[T]{Reason: reason}
}

// Valid builds an accepted result
func Valid[T any](v T) Parsed[T] {
	return Parsed[T]{Value: v, Valid: true}
}

// ExtractJSON drops any wrapping around the outermost JSON object, such as
// markdown fences or leading prose
func ExtractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", errors.New("no JSON object in reply")
	}
	return s[start : end+1], nil
}

func decode[T any](raw string) (T, error) {
	var v T
	body, err := ExtractJSON(raw)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return v, fmt.Errorf("invalid JSON: %w", err)
	}
	return v, nil
}

type annotationReply struct {
	Emotion   string `json:"emotion"`
	Sentiment string `json:"sentiment"`
	Feedback  string `json:"feedback"`
}

// ParseAnnotation validates an annotate reply. Emotion and sentiment are
// required; feedback is optional.
func ParseAnnotation(raw, fragment string, at float64) Parsed[transcript.AnnotationResult] {
	r, err := decode[annotationReply](raw)
	if err != nil {
		return Unparseable[transcript.AnnotationResult](err.Error())
	}
	sentiment, ok := transcript.ParseSentiment(r.Sentiment)
	if !ok {
		return Unparseable[transcript.AnnotationResult](fmt.Sprintf("invalid sentiment %q", r.Sentiment))
	}
	emotion, ok := transcript.ParseEmotion(r.Emotion)
	if !ok {
		return Unparseable[transcript.AnnotationResult]("missing emotion")
	}
	return Valid(transcript.AnnotationResult{
		Text:      fragment,
		Emotion:   emotion,
		Sentiment: sentiment,
		Feedback:  strings.TrimSpace(r.Feedback),
		Timestamp: at,
	})
}

// ParseFullAnalysis validates an analyzeFull reply. A summary is required.
func ParseFullAnalysis(raw string) Parsed[transcript.FullAnalysis] {
	fa, err := decode[transcript.FullAnalysis](raw)
	if err != nil {
		return Unparseable[transcript.FullAnalysis](err.Error())
	}
	fa.OverallSummary = strings.TrimSpace(fa.OverallSummary)
	if fa.OverallSummary == "" {
		return Unparseable[transcript.FullAnalysis]("missing overallSummary")
	}
	fa.Strengths = compact(fa.Strengths)
	fa.Opportunities = compact(fa.Opportunities)
	fa.Competitors = compact(fa.Competitors)
	fa.CoachingTips = compact(fa.CoachingTips)
	return Valid(fa)
}

type correctionReply struct {
	Corrections *[]transcript.Reassignment `json:"corrections"`
	Splits      *[]transcript.Split        `json:"splits"`
}

// ParseCorrections validates a correctSpeakers reply. At least one of the
// corrections or splits arrays must be present.
func ParseCorrections(raw string) Parsed[transcript.Corrections] {
	r, err := decode[correctionReply](raw)
	if err != nil {
		return Unparseable[transcript.Corrections](err.Error())
	}
	if r.Corrections == nil && r.Splits == nil {
		return Unparseable[transcript.Corrections]("missing corrections and splits")
	}
	var c transcript.Corrections
	if r.Corrections != nil {
		c.Reassignments = *r.Corrections
	}
	if r.Splits != nil {
		c.Splits = *r.Splits
	}
	return Valid(c)
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
