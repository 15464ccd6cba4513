package correction

import (
	"sort"
	"strings"

	"github.com/lexiqai/convo-coach/internal/transcript"
)

// Roles are the semantic speaker labels the pass maps raw labels onto
type Roles struct {
	Initiator string
	Responder string
}

// DefaultRoles returns the sales conversation roles
func DefaultRoles() Roles {
	return Roles{Initiator: "Salesperson", Responder: "Customer"}
}

// Apply rewrites a copy of segments: splits first in descending index order,
// then reassignments by original index, then the lexical fallback for any
// label still in raw registry form.
func Apply(segments []transcript.CombinedSegment, c transcript.Corrections, roles Roles) []transcript.CombinedSegment {
	out := make([]transcript.CombinedSegment, len(segments))
	copy(out, segments)

	splits := validSplits(c.Splits, len(segments))
	split := make(map[int]int, len(splits))
	for _, s := range splits {
		split[s.Index] = len(s.Parts)
	}

	// descending so earlier indices stay valid while inserting
	sort.Slice(splits, func(i, j int) bool { return splits[i].Index > splits[j].Index })
	for _, s := range splits {
		out = splitAt(out, s)
	}

	for _, r := range c.Reassignments {
		speaker := strings.TrimSpace(r.NewSpeaker)
		if speaker == "" || r.Index < 0 || r.Index >= len(segments) {
			continue
		}
		if _, ok := split[r.Index]; ok {
			continue
		}
		out[shifted(r.Index, split)].Speaker = speaker
	}

	return ResolveRaw(out, roles)
}

// validSplits drops out-of-range or empty splits and keeps the first split
// proposed for any index
func validSplits(in []transcript.Split, n int) []transcript.Split {
	seen := make(map[int]bool, len(in))
	var out []transcript.Split
	for _, s := range in {
		if s.Index < 0 || s.Index >= n || seen[s.Index] {
			continue
		}
		var parts []transcript.SplitPart
		for _, p := range s.Parts {
			p = normalizePart(p)
			if p.Text == "" {
				continue
			}
			parts = append(parts, p)
		}
		if len(parts) == 0 {
			continue
		}
		seen[s.Index] = true
		out = append(out, transcript.Split{Index: s.Index, Parts: parts})
	}
	return out
}

// normalizePart accepts parts given as "Speaker: text" with no speaker field
func normalizePart(p transcript.SplitPart) transcript.SplitPart {
	p.Speaker = strings.TrimSpace(p.Speaker)
	p.Text = strings.TrimSpace(p.Text)
	if p.Speaker == "" {
		if i := strings.Index(p.Text, ":"); i > 0 && i < 40 && !strings.ContainsAny(p.Text[:i], ".?!") {
			p.Speaker = strings.TrimSpace(p.Text[:i])
			p.Text = strings.TrimSpace(p.Text[i+1:])
		}
	}
	return p
}

// splitAt replaces segment s.Index by len(s.Parts) segments dividing its span
// into equal sub-intervals. The last part ends exactly at the original end.
func splitAt(segs []transcript.CombinedSegment, s transcript.Split) []transcript.CombinedSegment {
	parent := segs[s.Index]
	k := len(s.Parts)
	step := parent.Span() / float64(k)

	parts := make([]transcript.CombinedSegment, k)
	for i, p := range s.Parts {
		speaker := p.Speaker
		if speaker == "" {
			speaker = parent.Speaker
		}
		start := parent.Start + float64(i)*step
		end := parent.Start + float64(i+1)*step
		if i == k-1 {
			end = parent.End
		}
		parts[i] = transcript.CombinedSegment{
			Speaker:   speaker,
			Text:      p.Text,
			Emotion:   parent.Emotion,
			Sentiment: parent.Sentiment,
			Start:     start,
			End:       end,
		}
	}

	out := make([]transcript.CombinedSegment, 0, len(segs)+k-1)
	out = append(out, segs[:s.Index]...)
	out = append(out, parts...)
	out = append(out, segs[s.Index+1:]...)
	return out
}

// shifted maps an original index to its position after splits
func shifted(index int, split map[int]int) int {
	pos := index
	for i, k := range split {
		if i < index {
			pos += k - 1
		}
	}
	return pos
}
