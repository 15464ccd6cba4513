package merge

// DefaultFeedSize is the number of coaching remarks kept in the live feed
const DefaultFeedSize = 5

// Feed keeps the most recent feedback strings, oldest first
type Feed struct {
	size  int
	items []string
}

// NewFeed creates a feed bounded to size entries
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = DefaultFeedSize
	}
	return &Feed{size: size}
}

// Push appends a remark and evicts the oldest beyond the bound.
// Empty remarks are ignored.
func (f *Feed) Push(item string) {
	if item == "" {
		return
	}
	f.items = append(f.items, item)
	if len(f.items) > f.size {
		f.items = append([]string(nil), f.items[len(f.items)-f.size:]...)
	}
}

// Items returns a copy of the feed contents
func (f *Feed) Items() []string {
	out := make([]string, len(f.items))
	copy(out, f.items)
	return out
}
