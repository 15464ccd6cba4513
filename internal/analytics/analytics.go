package analytics

import (
	"fmt"
	"math"
	"strings"

	"github.com/lexiqai/convo-coach/internal/transcript"
)

// Options carries the engagement normalisation bounds
type Options struct {
	WPMFloor   float64
	WPMCeiling float64
}

// DefaultOptions returns the 80/200 WPM bounds
func DefaultOptions() Options {
	return Options{WPMFloor: 80, WPMCeiling: 200}
}

const (
	engagementMin     = 20
	engagementMax     = 95
	engagementNeutral = 50
	sentimentNeutral  = 50
	seriesThreshold   = 10
	seriesEvery       = 2
)

var sentimentScores = map[transcript.Sentiment]float64{
	transcript.SentimentPositive: 80,
	transcript.SentimentNeutral:  60,
	transcript.SentimentNegative: 40,
}

// Result is everything derived from a finalized transcript
type Result struct {
	Metrics   transcript.SessionMetrics
	Series    []transcript.SentimentPoint
	Questions []string
	Keywords  []transcript.KeywordCount
}

// Compute derives all metrics from the finalized segments. It does not
// modify its input and returns the same result for the same input.
func Compute(segments []transcript.CombinedSegment, opts Options) Result {
	if opts.WPMCeiling <= opts.WPMFloor {
		opts = DefaultOptions()
	}

	durations, order := SpeakerDurations(segments)
	wpm := WordsPerMinute(segments)
	questions := Questions(segments)
	keywords := Keywords(segments)

	kwMap := make(map[string]int, len(keywords))
	for _, k := range keywords {
		kwMap[k.Word] = k.Count
	}

	return Result{
		Metrics: transcript.SessionMetrics{
			TalkRatio:        talkRatio(durations, order),
			AverageSentiment: AverageSentiment(segments),
			EngagementScore:  Engagement(wpm, opts),
			WordsPerMinute:   math.Round(wpm*10) / 10,
			QuestionCount:    len(questions),
			SpeakerDurations: durations,
			Fillers:          Fillers(segments),
			Keywords:         kwMap,
		},
		Series:    SentimentSeries(segments),
		Questions: questions,
		Keywords:  keywords,
	}
}

// SpeakerDurations sums spoken time per speaker and returns the speakers in
// order of first appearance
func SpeakerDurations(segments []transcript.CombinedSegment) (map[string]float64, []string) {
	durations := make(map[string]float64)
	var order []string
	for _, s := range segments {
		if _, ok := durations[s.Speaker]; !ok {
			order = append(order, s.Speaker)
		}
		durations[s.Speaker] += s.Span()
	}
	return durations, order
}

// TalkRatio formats the share of spoken time of exactly two speakers as "A:B"
func TalkRatio(segments []transcript.CombinedSegment) string {
	d, order := SpeakerDurations(segments)
	return talkRatio(d, order)
}

func talkRatio(durations map[string]float64, order []string) string {
	var total float64
	for _, d := range durations {
		total += d
	}
	if total <= 0 {
		return "50:50"
	}
	if len(order) != 2 {
		return "N/A"
	}
	a := int(math.Round(durations[order[0]] / total * 100))
	return fmt.Sprintf("%d:%d", a, 100-a)
}

// Duration is the session length, measured to the latest segment end
func Duration(segments []transcript.CombinedSegment) float64 {
	var end float64
	for _, s := range segments {
		if s.End > end {
			end = s.End
		}
	}
	return end
}

// WordsPerMinute is the word count over the session duration
func WordsPerMinute(segments []transcript.CombinedSegment) float64 {
	dur := Duration(segments)
	if dur <= 0 {
		return 0
	}
	words := 0
	for _, s := range segments {
		words += len(strings.Fields(s.Text))
	}
	return float64(words) / (dur / 60)
}

// Engagement maps words per minute linearly from the floor (20) to the
// ceiling (95), clamped to that range. Zero WPM scores a neutral 50.
func Engagement(wpm float64, opts Options) int {
	if wpm <= 0 || math.IsNaN(wpm) {
		return engagementNeutral
	}
	span := float64(engagementMax - engagementMin)
	score := engagementMin + (wpm-opts.WPMFloor)*span/(opts.WPMCeiling-opts.WPMFloor)
	score = math.Max(engagementMin, math.Min(engagementMax, score))
	return int(math.Round(score))
}

// AverageSentiment is the mean sentiment score over annotated segments
func AverageSentiment(segments []transcript.CombinedSegment) int {
	var sum float64
	n := 0
	for _, s := range segments {
		if v, ok := sentimentScores[s.Sentiment]; ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return sentimentNeutral
	}
	return int(math.Round(sum / float64(n)))
}

// SentimentSeries down-samples the running sentiment average. It always
// starts with a ("0:00", 50) anchor.
func SentimentSeries(segments []transcript.CombinedSegment) []transcript.SentimentPoint {
	series := []transcript.SentimentPoint{{Time: "0:00", Score: sentimentNeutral}}
	last := float64(sentimentNeutral)

	var sum float64
	n := 0
	for _, s := range segments {
		v, ok := sentimentScores[s.Sentiment]
		if !ok {
			continue
		}
		sum += v
		n++
		avg := sum / float64(n)
		// the cadence counts all sentiment-bearing segments, not those since the last point
		if math.Abs(avg-last) > seriesThreshold || n%seriesEvery == 0 {
			score := int(math.Round(avg))
			series = append(series, transcript.SentimentPoint{Time: transcript.FormatClock(s.Start), Score: score})
			last = float64(score)
		}
	}
	return series
}
