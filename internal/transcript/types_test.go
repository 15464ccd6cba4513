package transcript

import (
	"encoding/json"
	"testing"
)

func TestSpeakerRegistry_FirstAppearanceOrder(t *testing.T) {
	r := NewSpeakerRegistry()

	if got := r.Label("1"); got != "Speaker A" {
		t.Errorf("Expected Speaker A, got %s", got)
	}
	if got := r.Label("0"); got != "Speaker B" {
		t.Errorf("Expected Speaker B, got %s", got)
	}
	if got := r.Label("1"); got != "Speaker A" {
		t.Errorf("Expected stable label Speaker A, got %s", got)
	}
	if r.Len() != 2 {
		t.Errorf("Expected 2 speakers, got %d", r.Len())
	}

	if l, ok := r.Lookup("0"); !ok || l != "Speaker B" {
		t.Errorf("Expected lookup of Speaker B, got %q %v", l, ok)
	}
	if _, ok := r.Lookup("7"); ok {
		t.Error("Expected unknown id not to be found")
	}
	if r.Len() != 2 {
		t.Errorf("Expected lookup not to assign, got %d speakers", r.Len())
	}
}

func TestSpeakerRegistry_ManySpeakers(t *testing.T) {
	if got := letters(25); got != "Z" {
		t.Errorf("Expected Z, got %s", got)
	}
	if got := letters(26); got != "AA" {
		t.Errorf("Expected AA, got %s", got)
	}
}

func TestSpeakerRegistry_CloneIsIndependent(t *testing.T) {
	r := NewSpeakerRegistry()
	r.Label("x")
	c := r.Clone()
	c.Label("y")

	if r.Len() != 1 {
		t.Errorf("Expected original to keep 1 speaker, got %d", r.Len())
	}
	if c.Len() != 2 {
		t.Errorf("Expected clone to have 2 speakers, got %d", c.Len())
	}
}

func TestIsRawLabel(t *testing.T) {
	cases := map[string]bool{
		"Speaker A":   true,
		"Speaker AB":  true,
		"Speaker":     false,
		"Speaker 1":   false,
		"Customer":    false,
		"Salesperson": false,
		"Speaker a":   false,
	}
	for label, want := range cases {
		if got := IsRawLabel(label); got != want {
			t.Errorf("IsRawLabel(%q): Expected %v, got %v", label, want, got)
		}
	}
}

func TestFormatClock(t *testing.T) {
	cases := map[float64]string{
		0:     "0:00",
		5.9:   "0:05",
		65:    "1:05",
		600.2: "10:00",
		-3:    "0:00",
	}
	for in, want := range cases {
		if got := FormatClock(in); got != want {
			t.Errorf("FormatClock(%v): Expected %s, got %s", in, want, got)
		}
	}
}

func TestParseEmotion(t *testing.T) {
	if e, ok := ParseEmotion(" Happy "); !ok || e != EmotionHappy {
		t.Errorf("Expected happy, got %s (%v)", e, ok)
	}
	if e, ok := ParseEmotion("bemused"); !ok || e != EmotionNeutral {
		t.Errorf("Expected unknown emotion to map to neutral, got %s", e)
	}
	if _, ok := ParseEmotion(""); ok {
		t.Error("Expected empty emotion to be rejected")
	}
}

func TestParseSentiment(t *testing.T) {
	if s, ok := ParseSentiment("NEGATIVE"); !ok || s != SentimentNegative {
		t.Errorf("Expected negative, got %s", s)
	}
	if _, ok := ParseSentiment("mixed"); ok {
		t.Error("Expected unknown sentiment to be rejected")
	}
}

func TestCombinedSegment_Span(t *testing.T) {
	s := CombinedSegment{Start: 2, End: 5.5}
	if s.Span() != 3.5 {
		t.Errorf("Expected span 3.5, got %v", s.Span())
	}
	bad := CombinedSegment{Start: 5, End: 2}
	if bad.Span() != 0 {
		t.Errorf("Expected inverted span to be 0, got %v", bad.Span())
	}
}

func TestSplitPart_UnmarshalStringOrObject(t *testing.T) {
	var s Split
	raw := `{"index":2,"parts":["Customer: What product?",{"speaker":"Salesperson","text":"It is a laptop."}]}`
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("Expected mixed parts to decode, got %v", err)
	}
	if len(s.Parts) != 2 {
		t.Fatalf("Expected 2 parts, got %d", len(s.Parts))
	}
	if s.Parts[0].Speaker != "" || s.Parts[0].Text != "Customer: What product?" {
		t.Errorf("Expected bare string kept in Text, got %+v", s.Parts[0])
	}
	if s.Parts[1].Speaker != "Salesperson" || s.Parts[1].Text != "It is a laptop." {
		t.Errorf("Expected object part, got %+v", s.Parts[1])
	}
	if err := json.Unmarshal([]byte(`{"parts":[42]}`), &s); err == nil {
		t.Error("Expected a number part to be rejected")
	}
}
