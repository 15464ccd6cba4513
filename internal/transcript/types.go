package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Sentiment is the polarity assigned to an utterance
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment normalizes a provider sentiment value
func ParseSentiment(s string) (Sentiment, bool) {
	switch Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentPositive:
		return SentimentPositive, true
	case SentimentNeutral:
		return SentimentNeutral, true
	case SentimentNegative:
		return SentimentNegative, true
	}
	return "", false
}

// Emotion is the closed set of emotions the annotator may assign
type Emotion string

const (
	EmotionNeutral    Emotion = "neutral"
	EmotionHappy      Emotion = "happy"
	EmotionExcited    Emotion = "excited"
	EmotionInterested Emotion = "interested"
	EmotionConfident  Emotion = "confident"
	EmotionConfused   Emotion = "confused"
	EmotionHesitant   Emotion = "hesitant"
	EmotionFrustrated Emotion = "frustrated"
	EmotionAngry      Emotion = "angry"
	EmotionSad        Emotion = "sad"
	EmotionSkeptical  Emotion = "skeptical"
)

var emotions = map[Emotion]bool{
	EmotionNeutral: true, EmotionHappy: true, EmotionExcited: true,
	EmotionInterested: true, EmotionConfident: true, EmotionConfused: true,
	EmotionHesitant: true, EmotionFrustrated: true, EmotionAngry: true,
	EmotionSad: true, EmotionSkeptical: true,
}

// ParseEmotion maps a provider value into the closed set. Unknown values
// become neutral; an empty value is rejected.
func ParseEmotion(s string) (Emotion, bool) {
	e := Emotion(strings.ToLower(strings.TrimSpace(s)))
	if e == "" {
		return "", false
	}
	if emotions[e] {
		return e, true
	}
	return EmotionNeutral, true
}

// TranscriptEvent is one recognized utterance from the speech provider
type TranscriptEvent struct {
	SpeakerID string  `json:"speaker_id"`
	Text      string  `json:"text"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

// Key identifies an event for duplicate suppression
func (e TranscriptEvent) Key() string {
	return fmt.Sprintf("%s|%.3f|%.3f|%s", e.SpeakerID, e.Start, e.End, e.Text)
}

// AnnotationResult is the language annotation for one fragment. Timestamp is
// the start of the source fragment, not the completion time.
type AnnotationResult struct {
	Text      string    `json:"text"`
	Emotion   Emotion   `json:"emotion"`
	Sentiment Sentiment `json:"sentiment"`
	Feedback  string    `json:"feedback,omitempty"`
	Timestamp float64   `json:"timestamp"`
}

// CombinedSegment is a transcript event optionally enriched by an annotation
type CombinedSegment struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Emotion   Emotion   `json:"emotion,omitempty"`
	Sentiment Sentiment `json:"sentiment,omitempty"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
}

// Span returns the spoken duration of the segment
func (s CombinedSegment) Span() float64 {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// Annotated reports whether an annotation was attached
func (s CombinedSegment) Annotated() bool {
	return s.Sentiment != "" || s.Emotion != ""
}

// Reassignment replaces the speaker of one segment
type Reassignment struct {
	Index      int    `json:"index"`
	NewSpeaker string `json:"newSpeaker"`
}

// SplitPart is one turn carved out of a merged segment
type SplitPart struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// UnmarshalJSON accepts a part either as an object or as a bare
// "Speaker: text" string, which is kept whole in Text
func (p *SplitPart) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &p.Text)
	}
	type plain SplitPart
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = SplitPart(v)
	return nil
}

// Split divides one segment into several turns
type Split struct {
	Index int         `json:"index"`
	Parts []SplitPart `json:"parts"`
}

// Corrections is the outcome of the speaker review call
type Corrections struct {
	Reassignments []Reassignment `json:"corrections"`
	Splits        []Split        `json:"splits"`
}

// Empty reports whether no correction was proposed
func (c Corrections) Empty() bool {
	return len(c.Reassignments) == 0 && len(c.Splits) == 0
}

// FullAnalysis is the post-recording summary of the whole conversation
type FullAnalysis struct {
	OverallSummary string   `json:"overallSummary"`
	Strengths      []string `json:"strengths"`
	Opportunities  []string `json:"opportunities"`
	Competitors    []string `json:"competitors"`
	CoachingTips   []string `json:"coachingTips"`
}

// SentimentPoint is one sample of the down-sampled sentiment series
type SentimentPoint struct {
	Time  string `json:"time"`
	Score int    `json:"score"`
}

// KeywordCount is a keyword and its frequency
type KeywordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// SessionMetrics is computed once from the finalized segments
type SessionMetrics struct {
	TalkRatio        string             `json:"talkRatio"`
	AverageSentiment int                `json:"averageSentiment"`
	EngagementScore  int                `json:"engagementScore"`
	WordsPerMinute   float64            `json:"wordsPerMinute"`
	QuestionCount    int                `json:"questionCount"`
	SpeakerDurations map[string]float64 `json:"speakerDurations"`
	Fillers          map[string]int     `json:"fillers"`
	Keywords         map[string]int     `json:"keywords"`
}

// AnalysisRecord is the persisted artifact of one completed session
type AnalysisRecord struct {
	SessionID       string            `json:"sessionId"`
	UserID          string            `json:"userId"`
	Title           string            `json:"title"`
	AudioRef        string            `json:"audioRef"`
	Segments        []CombinedSegment `json:"segments"`
	Metrics         SessionMetrics    `json:"metrics"`
	SentimentSeries []SentimentPoint  `json:"sentimentSeries"`
	Summary         string            `json:"summary"`
	Coaching        []string          `json:"coaching"`
	Keywords        []KeywordCount    `json:"keywords"`
	Questions       []string          `json:"questions"`
	Competitors     []string          `json:"competitors"`
	Tips            []string          `json:"tips"`
	Duration        float64           `json:"duration"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// FormatClock renders seconds as m:ss
func FormatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
