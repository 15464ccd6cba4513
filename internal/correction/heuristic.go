package correction

import (
	"strings"

	"github.com/lexiqai/convo-coach/internal/transcript"
)

var initiatorCues = []string{
	"how can i help", "how can we help", "let me show", "let me walk",
	"let me explain", "we offer", "i can offer", "our product", "our team",
	"our pricing", "our platform", "we provide", "would you like",
	"what are you looking for", "what brings you", "thanks for joining",
	"thanks for taking", "i recommend", "i'd recommend", "we have a",
	"special offer", "discount", "free trial", "can i ask", "tell me about",
	"does that make sense", "sign up", "package",
}

var responderCues = []string{
	"i'm looking for", "im looking for", "we're looking for", "i need",
	"we need", "how much", "what does it cost", "too expensive",
	"i'm interested", "we're interested", "i want", "we currently use",
	"we're using", "my budget", "our budget", "i'll think", "not sure",
	"let me check with", "can you send", "do you have",
}

// CueScore counts initiating cues minus responding cues in a text
func CueScore(text string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, c := range initiatorCues {
		score += strings.Count(lower, c)
	}
	for _, c := range responderCues {
		score -= strings.Count(lower, c)
	}
	return score
}

// ResolveRaw maps every label still in raw registry form to a role. The raw
// label with the strongest initiating cues becomes the initiator unless that
// role is already used; all other raw labels become the responder. A lone
// raw label with net responding cues becomes the responder.
func ResolveRaw(segments []transcript.CombinedSegment, roles Roles) []transcript.CombinedSegment {
	taken := make(map[string]bool)
	scores := make(map[string]int)
	var raw []string
	for _, s := range segments {
		if !transcript.IsRawLabel(s.Speaker) {
			taken[s.Speaker] = true
			continue
		}
		if _, ok := scores[s.Speaker]; !ok {
			raw = append(raw, s.Speaker)
		}
		scores[s.Speaker] += CueScore(s.Text)
	}
	if len(raw) == 0 {
		return segments
	}

	best := raw[0]
	for _, l := range raw[1:] {
		if scores[l] > scores[best] {
			best = l
		}
	}

	assign := make(map[string]string, len(raw))
	if !taken[roles.Initiator] && (scores[best] >= 0 || len(raw) > 1 || taken[roles.Responder]) {
		assign[best] = roles.Initiator
	}
	for _, l := range raw {
		if _, ok := assign[l]; !ok {
			assign[l] = roles.Responder
		}
	}

	out := make([]transcript.CombinedSegment, len(segments))
	for i, s := range segments {
		if role, ok := assign[s.Speaker]; ok {
			s.Speaker = role
		}
		out[i] = s
	}
	return out
}
