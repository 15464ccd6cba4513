package session

import (
	"sync"

	"github.com/lexiqai/convo-coach/internal/failure"
	"github.com/lexiqai/convo-coach/internal/transcript"
)

// ErrorInfo is the surfaced form of a fatal failure
type ErrorInfo struct {
	SessionID string       `json:"sessionId,omitempty"`
	Kind      failure.Kind `json:"kind"`
	Message   string       `json:"message"`
}

// Snapshot is a read-only view of the controller, published on every change
type Snapshot struct {
	Seq       uint64                       `json:"seq"`
	State     State                        `json:"state"`
	SessionID string                       `json:"sessionId,omitempty"`
	Mode      string                       `json:"mode,omitempty"`
	Title     string                       `json:"title,omitempty"`
	Lines     []string                     `json:"lines"`
	Segments  []transcript.CombinedSegment `json:"segments"`
	Feedback  []string                     `json:"feedback"`
	Speaking  bool                         `json:"speaking"`
	Progress  int                          `json:"progress"`
	Phase     string                       `json:"phase,omitempty"`
	Error     *ErrorInfo                   `json:"error,omitempty"`
	Record    *transcript.AnalysisRecord   `json:"record,omitempty"`
}

// liveView is the part of a snapshot derived from the session logs
type liveView struct {
	lines    []string
	segments []transcript.CombinedSegment
	feedback []string
}

// hub fans snapshots out to subscribers. Slow subscribers lose older
// snapshots, never the latest.
type hub struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Snapshot
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Snapshot)}
}

func (h *hub) subscribe() (<-chan Snapshot, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Snapshot, 16)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *hub) broadcast(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		for {
			select {
			case ch <- s:
			default:
				// drop the oldest and try again
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
