package merge

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/lexiqai/convo-coach/internal/transcript"
)

func sampleEvents() []transcript.TranscriptEvent {
	return []transcript.TranscriptEvent{
		{SpeakerID: "0", Text: "Hi, thanks for joining today.", Start: 0, End: 2.5},
		{SpeakerID: "1", Text: "Happy to be here.", Start: 3, End: 4.2},
		{SpeakerID: "0", Text: "What are you looking for?", Start: 6, End: 7.5},
		{SpeakerID: "1", Text: "A faster laptop for the team.", Start: 9, End: 11},
	}
}

func sampleAnnotations() []transcript.AnnotationResult {
	return []transcript.AnnotationResult{
		{Text: "Hi, thanks for joining today.", Emotion: transcript.EmotionHappy, Sentiment: transcript.SentimentPositive, Timestamp: 0},
		{Text: "Happy to be here.", Emotion: transcript.EmotionNeutral, Sentiment: transcript.SentimentNeutral, Timestamp: 3},
		{Text: "What are you looking for?", Emotion: transcript.EmotionInterested, Sentiment: transcript.SentimentPositive, Timestamp: 6},
		{Text: "A faster laptop for the team.", Emotion: transcript.EmotionConfident, Sentiment: transcript.SentimentNeutral, Timestamp: 9},
	}
}

func TestMerge_AttachesAnnotations(t *testing.T) {
	segs := Merge(sampleEvents(), sampleAnnotations(), transcript.NewSpeakerRegistry(), DefaultTolerance)

	if len(segs) != 4 {
		t.Fatalf("Expected 4 segments, got %d", len(segs))
	}
	if segs[0].Speaker != "Speaker A" || segs[1].Speaker != "Speaker B" {
		t.Errorf("Expected Speaker A/B labels, got %s/%s", segs[0].Speaker, segs[1].Speaker)
	}
	if segs[2].Emotion != transcript.EmotionInterested {
		t.Errorf("Expected interested emotion, got %s", segs[2].Emotion)
	}
	if segs[3].Sentiment != transcript.SentimentNeutral {
		t.Errorf("Expected neutral sentiment, got %s", segs[3].Sentiment)
	}
}

func TestMerge_LeavesRegistryUntouched(t *testing.T) {
	reg := transcript.NewSpeakerRegistry()
	reg.Label("1")

	segs := Merge(sampleEvents(), nil, reg, DefaultTolerance)
	if segs[0].Speaker != "Speaker B" || segs[1].Speaker != "Speaker A" {
		t.Errorf("Expected registry labels to win, got %s/%s", segs[0].Speaker, segs[1].Speaker)
	}
	if reg.Len() != 1 {
		t.Errorf("Expected registry to keep 1 speaker, got %d", reg.Len())
	}
	if _, ok := reg.Lookup("0"); ok {
		t.Error("Expected unknown speaker not to be assigned in the caller's registry")
	}

	segs = Merge(sampleEvents(), nil, nil, DefaultTolerance)
	if segs[0].Speaker != "Speaker A" || segs[1].Speaker != "Speaker B" {
		t.Errorf("Expected first-appearance labels without a registry, got %s/%s", segs[0].Speaker, segs[1].Speaker)
	}
}

func TestMerge_LateAnnotationAttachesRetroactively(t *testing.T) {
	events := sampleEvents()[:2]
	reg := transcript.NewSpeakerRegistry()

	first := Merge(events, nil, reg, DefaultTolerance)
	if first[0].Annotated() {
		t.Error("Expected segment to be unannotated before annotation arrives")
	}

	late := []transcript.AnnotationResult{sampleAnnotations()[0]}
	second := Merge(events, late, reg, DefaultTolerance)
	if second[0].Emotion != transcript.EmotionHappy {
		t.Errorf("Expected late annotation to attach, got %q", second[0].Emotion)
	}
	if second[0].Speaker != first[0].Speaker {
		t.Errorf("Expected speaker labels to stay stable, got %s then %s", first[0].Speaker, second[0].Speaker)
	}
}

func TestMerge_OutsideTolerance(t *testing.T) {
	events := []transcript.TranscriptEvent{{SpeakerID: "0", Text: "hello there friend", Start: 10, End: 12}}
	anns := []transcript.AnnotationResult{{Text: "x", Emotion: transcript.EmotionHappy, Sentiment: transcript.SentimentPositive, Timestamp: 12.5}}

	segs := Merge(events, anns, transcript.NewSpeakerRegistry(), DefaultTolerance)
	if segs[0].Annotated() {
		t.Error("Expected annotation 2.5s away to be ignored")
	}
}

func TestMerge_NearestWins(t *testing.T) {
	events := []transcript.TranscriptEvent{{SpeakerID: "0", Text: "pricing question", Start: 5, End: 6}}
	anns := []transcript.AnnotationResult{
		{Text: "a", Emotion: transcript.EmotionAngry, Sentiment: transcript.SentimentNegative, Timestamp: 6.5},
		{Text: "b", Emotion: transcript.EmotionHappy, Sentiment: transcript.SentimentPositive, Timestamp: 5.2},
	}

	segs := Merge(events, anns, transcript.NewSpeakerRegistry(), DefaultTolerance)
	if segs[0].Emotion != transcript.EmotionHappy {
		t.Errorf("Expected nearest annotation (happy), got %s", segs[0].Emotion)
	}
}

func TestMerge_EquidistantTieBreak(t *testing.T) {
	events := []transcript.TranscriptEvent{{SpeakerID: "0", Text: "match me", Start: 5, End: 6}}
	anns := []transcript.AnnotationResult{
		{Text: "other", Emotion: transcript.EmotionAngry, Timestamp: 4},
		{Text: "match me", Emotion: transcript.EmotionHappy, Timestamp: 6},
	}

	for _, order := range [][]int{{0, 1}, {1, 0}} {
		in := []transcript.AnnotationResult{anns[order[0]], anns[order[1]]}
		segs := Merge(events, in, transcript.NewSpeakerRegistry(), DefaultTolerance)
		if segs[0].Emotion != transcript.EmotionHappy {
			t.Errorf("Expected exact text match to win tie, got %s", segs[0].Emotion)
		}
	}
}

func TestMerge_OrderIndependent(t *testing.T) {
	events := sampleEvents()
	anns := sampleAnnotations()
	// a competing annotation inside tolerance of two events
	anns = append(anns, transcript.AnnotationResult{Text: "noise", Emotion: transcript.EmotionSad, Sentiment: transcript.SentimentNegative, Timestamp: 4.5})

	want := Render(Merge(events, anns, transcript.NewSpeakerRegistry(), DefaultTolerance))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := make([]transcript.AnnotationResult, len(anns))
		copy(shuffled, anns)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		// replay an incremental interleaving: merge after every arrival
		reg := transcript.NewSpeakerRegistry()
		var got []transcript.CombinedSegment
		for n := 0; n <= len(shuffled); n++ {
			got = Merge(events, shuffled[:n], reg, DefaultTolerance)
		}
		if !reflect.DeepEqual(Render(got), want) {
			t.Fatalf("Expected identical merge for permutation %d, got %v want %v", i, Render(got), want)
		}
	}
}

func TestMerge_MissingAnnotationLeavesSegmentBare(t *testing.T) {
	events := sampleEvents()
	anns := sampleAnnotations()
	// the second fragment came back unparseable, so nothing was logged for it
	anns = append(anns[:1], anns[2:]...)

	segs := Merge(events, anns, transcript.NewSpeakerRegistry(), 0.5)
	if segs[1].Emotion != "" || segs[1].Sentiment != "" {
		t.Errorf("Expected bare segment, got %s/%s", segs[1].Emotion, segs[1].Sentiment)
	}
	if len(segs) != 4 {
		t.Errorf("Expected bare segment to be kept, got %d segments", len(segs))
	}
}

func TestMerge_ClampsNegativeTimes(t *testing.T) {
	events := []transcript.TranscriptEvent{{SpeakerID: "0", Text: "x", Start: -1, End: -0.5}}
	segs := Merge(events, nil, transcript.NewSpeakerRegistry(), DefaultTolerance)
	if segs[0].Start != 0 || segs[0].End != 0 {
		t.Errorf("Expected clamped [0,0], got [%v,%v]", segs[0].Start, segs[0].End)
	}
}

func TestFinalize_StableSort(t *testing.T) {
	segs := []transcript.CombinedSegment{
		{Speaker: "B", Text: "second", Start: 4},
		{Speaker: "A", Text: "first", Start: 1},
		{Speaker: "C", Text: "tie-1", Start: 4},
	}
	out := Finalize(segs)
	if out[0].Text != "first" || out[1].Text != "second" || out[2].Text != "tie-1" {
		t.Errorf("Expected stable order by start, got %v", out)
	}
	if segs[0].Text != "second" {
		t.Error("Expected input slice to be left untouched")
	}
}

func TestRenderLine(t *testing.T) {
	with := transcript.CombinedSegment{Speaker: "Speaker A", Text: "Hello", Emotion: transcript.EmotionHappy}
	if got := RenderLine(with); got != "[Speaker A] Hello (happy)" {
		t.Errorf("Expected annotated line, got %q", got)
	}
	without := transcript.CombinedSegment{Speaker: "Speaker B", Text: "Hi"}
	if got := RenderLine(without); got != "[Speaker B] Hi" {
		t.Errorf("Expected bare line, got %q", got)
	}
}

func TestFeed_Bounded(t *testing.T) {
	f := NewFeed(3)
	for _, s := range []string{"a", "", "b", "c", "d"} {
		f.Push(s)
	}
	got := f.Items()
	want := []string{"b", "c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	got[0] = "changed"
	if f.Items()[0] != "b" {
		t.Error("Expected Items to return a copy")
	}
}
