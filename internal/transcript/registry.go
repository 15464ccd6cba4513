package transcript

import "strings"

const rawLabelPrefix = "Speaker "

// SpeakerRegistry maps raw provider speaker ids to stable display labels in
// order of first appearance. It is append-only.
type SpeakerRegistry struct {
	labels map[string]string
	order  []string
}

// NewSpeakerRegistry creates an empty registry
func NewSpeakerRegistry() *SpeakerRegistry {
	return &SpeakerRegistry{labels: make(map[string]string)}
}

// Label returns the display label for a raw id, assigning one if needed
func (r *SpeakerRegistry) Label(rawID string) string {
	if l, ok := r.labels[rawID]; ok {
		return l
	}
	l := rawLabelPrefix + letters(len(r.order))
	r.labels[rawID] = l
	r.order = append(r.order, rawID)
	return l
}

// Lookup returns the label without assigning one
func (r *SpeakerRegistry) Lookup(rawID string) (string, bool) {
	l, ok := r.labels[rawID]
	return l, ok
}

// Len returns the number of known speakers
func (r *SpeakerRegistry) Len() int {
	return len(r.order)
}

// Clone returns an independent copy
func (r *SpeakerRegistry) Clone() *SpeakerRegistry {
	c := NewSpeakerRegistry()
	for _, id := range r.order {
		c.labels[id] = r.labels[id]
		c.order = append(c.order, id)
	}
	return c
}

// letters converts 0,1,..,25,26 into A,B,..,Z,AA
func letters(n int) string {
	s := ""
	for {
		s = string(rune('A'+n%26)) + s
		n = n/26 - 1
		if n < 0 {
			return s
		}
	}
}

// IsRawLabel reports whether a label is still a registry placeholder
func IsRawLabel(label string) bool {
	if !strings.HasPrefix(label, rawLabelPrefix) {
		return false
	}
	rest := label[len(rawLabelPrefix):]
	if rest == "" {
		return false
	}
	for _, c := range rest {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
