package session

import "sync"

// Phase is a slice of the overall 0-100 progress range
type Phase struct {
	Name string
	From int
	To   int
}

var (
	PhaseTranscription = Phase{Name: "transcription", From: 0, To: 70}
	PhaseCorrection    = Phase{Name: "correction", From: 70, To: 80}
	PhaseAnalysis      = Phase{Name: "analysis", From: 80, To: 90}
	PhasePersistence   = Phase{Name: "persistence", From: 90, To: 100}
)

// Progress is a monotonically non-decreasing 0-100 value
type Progress struct {
	mu    sync.Mutex
	value int
	phase string
}

// Report maps pct (0-100 within phase) onto the overall range. Values lower
// than the current one are ignored. It returns whether the value moved.
func (p *Progress) Report(phase Phase, pct int) bool {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	v := phase.From + (phase.To-phase.From)*pct/100

	p.mu.Lock()
	defer p.mu.Unlock()
	if v < p.value {
		return false
	}
	moved := v > p.value || p.phase != phase.Name
	p.value = v
	p.phase = phase.Name
	return moved
}

// Value returns the current overall progress and phase name
func (p *Progress) Value() (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.phase
}
