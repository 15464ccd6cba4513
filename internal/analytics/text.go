package analytics

import (
	"sort"
	"strings"
	"unicode"

	"github.com/lexiqai/convo-coach/internal/transcript"
)

const maxKeywords = 30

var questionLeads = []string{
	"what", "how", "why", "when", "where", "who", "which",
	"can", "could", "would", "should", "will", "is", "does",
	"do you", "are you", "have you", "did you", "do we", "are we",
}

var stopWords = map[string]bool{
	"the": true, "and": true, "a": true, "an": true, "to": true, "of": true,
	"in": true, "on": true, "for": true, "with": true, "at": true, "by": true,
	"from": true, "is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "it": true, "its": true, "this": true,
	"that": true, "these": true, "those": true, "i": true, "you": true,
	"he": true, "she": true, "we": true, "they": true, "me": true, "him": true,
	"her": true, "us": true, "them": true, "my": true, "your": true,
	"our": true, "their": true, "what": true, "which": true, "who": true,
	"whom": true, "when": true, "where": true, "why": true, "how": true,
	"do": true, "does": true, "did": true, "have": true, "has": true,
	"had": true, "will": true, "would": true, "can": true, "could": true,
	"should": true, "may": true, "might": true, "must": true, "shall": true,
	"not": true, "no": true, "yes": true, "so": true, "but": true, "or": true,
	"if": true, "then": true, "than": true, "too": true, "very": true,
	"just": true, "about": true, "up": true, "out": true, "as": true,
	"all": true, "any": true, "some": true, "there": true, "here": true,
	"um": true, "uh": true, "like": true, "okay": true, "ok": true,
	"yeah": true, "well": true, "really": true, "also": true, "im": true,
	"dont": true, "thats": true, "get": true, "got": true,
	"know": true, "think": true, "one": true, "go": true, "going": true,
}

var fillerWords = []string{
	"um", "uh", "er", "ah", "like", "basically", "actually", "literally",
	"honestly", "you know", "i mean", "sort of", "kind of",
}

// Tokenize lower-cases text and splits it into words with punctuation removed
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	var b strings.Builder
	for _, r := range lower {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'':
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// isStopWord reports whether the token is excluded from keywords
func isStopWord(token string) bool {
	return stopWords[token]
}

func numeric(token string) bool {
	for _, r := range token {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Keywords counts non-stop-word tokens occurring at least twice, ordered by
// frequency then alphabetically, truncated to the top 30
func Keywords(segments []transcript.CombinedSegment) []transcript.KeywordCount {
	counts := make(map[string]int)
	for _, s := range segments {
		for _, tok := range Tokenize(s.Text) {
			if len([]rune(tok)) < 2 || numeric(tok) || isStopWord(tok) {
				continue
			}
			counts[tok]++
		}
	}

	out := make([]transcript.KeywordCount, 0, len(counts))
	for w, c := range counts {
		if c >= 2 {
			out = append(out, transcript.KeywordCount{Word: w, Count: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	if len(out) > maxKeywords {
		out = out[:maxKeywords]
	}
	return out
}

// Questions extracts question sentences from segments that contain "?"
func Questions(segments []transcript.CombinedSegment) []string {
	var out []string
	for _, s := range segments {
		if !strings.Contains(s.Text, "?") {
			continue
		}
		for _, sentence := range Sentences(s.Text) {
			if IsQuestion(sentence) {
				out = append(out, sentence)
			}
		}
	}
	return out
}

// Sentences splits text after ., ! and ? keeping the terminator
func Sentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// IsQuestion reports whether a sentence ends with "?" or opens with an
// interrogative or modal lead word
func IsQuestion(sentence string) bool {
	s := strings.TrimSpace(sentence)
	if strings.HasSuffix(s, "?") {
		return true
	}
	words := Tokenize(s)
	if len(words) == 0 {
		return false
	}
	for _, lead := range questionLeads {
		parts := strings.Fields(lead)
		if len(parts) > len(words) {
			continue
		}
		match := true
		for i, p := range parts {
			if words[i] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Fillers counts filler words and phrases across the transcript
func Fillers(segments []transcript.CombinedSegment) map[string]int {
	counts := make(map[string]int)
	for _, s := range segments {
		words := Tokenize(s.Text)
		for _, f := range fillerWords {
			parts := strings.Fields(f)
			for i := 0; i+len(parts) <= len(words); i++ {
				hit := true
				for j, p := range parts {
					if words[i+j] != p {
						hit = false
						break
					}
				}
				if hit {
					counts[f]++
				}
			}
		}
	}
	return counts
}
