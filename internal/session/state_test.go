package session

import (
	"errors"
	"testing"
)

func TestMachine_Transitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
		ok   bool
	}{
		{StateIdle, StateRecording, true},
		{StateIdle, StateAnalyzing, false},
		{StateRecording, StateAnalyzing, true},
		{StateRecording, StateTranscribing, true},
		{StateRecording, StateDone, false},
		{StateTranscribing, StateAnalyzing, true},
		{StateAnalyzing, StateDone, true},
		{StateAnalyzing, StateRecording, false},
		{StateDone, StateRecording, false},
		{StateDone, StateIdle, true},
		{StateAnalyzing, StateIdle, true},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("%s → %s: Expected %v, got %v", tt.from, tt.to, tt.ok, got)
		}
	}
}

func TestMachine_ObserverAndErrors(t *testing.T) {
	m := NewMachine()
	var seen []string
	m.Observe(func(from, to State) {
		seen = append(seen, string(from)+">"+string(to))
	})

	if err := m.Transition(StateRecording); err != nil {
		t.Fatalf("Expected transition to succeed, got %v", err)
	}
	if err := m.Transition(StateDone); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
	if m.State() != StateRecording {
		t.Errorf("Expected state unchanged after rejected transition, got %s", m.State())
	}
	if err := m.TransitionFrom([]State{StateTranscribing}, StateAnalyzing); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected guarded transition to fail, got %v", err)
	}
	if err := m.TransitionFrom([]State{StateRecording}, StateAnalyzing); err != nil {
		t.Errorf("Expected guarded transition to succeed, got %v", err)
	}

	if len(seen) != 2 || seen[0] != "IDLE>RECORDING" || seen[1] != "RECORDING>ANALYZING" {
		t.Errorf("Unexpected observed transitions %v", seen)
	}
}

func TestState_Active(t *testing.T) {
	for _, s := range []State{StateRecording, StateTranscribing, StateAnalyzing} {
		if !s.Active() {
			t.Errorf("Expected %s to be active", s)
		}
	}
	for _, s := range []State{StateIdle, StateDone} {
		if s.Active() {
			t.Errorf("Expected %s to be inactive", s)
		}
	}
}

func TestProgress_PhasesAndMonotonic(t *testing.T) {
	var p Progress

	if !p.Report(PhaseTranscription, 50) {
		t.Error("Expected progress to move")
	}
	if v, phase := p.Value(); v != 35 || phase != "transcription" {
		t.Errorf("Expected 35/transcription, got %d/%s", v, phase)
	}
	if p.Report(PhaseTranscription, 10) {
		t.Error("Expected lower value to be ignored")
	}
	p.Report(PhaseCorrection, 100)
	p.Report(PhaseAnalysis, 0)
	if v, phase := p.Value(); v != 80 || phase != "analysis" {
		t.Errorf("Expected 80/analysis, got %d/%s", v, phase)
	}
	p.Report(PhasePersistence, 250)
	if v, _ := p.Value(); v != 100 {
		t.Errorf("Expected clamp to 100, got %d", v)
	}
}

func TestHub_DropsOldest(t *testing.T) {
	h := newHub()
	ch, cancel := h.subscribe()
	defer cancel()

	for i := 0; i < 40; i++ {
		h.broadcast(Snapshot{Seq: uint64(i)})
	}

	var last Snapshot
	n := 0
	for len(ch) > 0 {
		last = <-ch
		n++
	}
	if n != 16 {
		t.Errorf("Expected 16 buffered snapshots, got %d", n)
	}
	if last.Seq != 39 {
		t.Errorf("Expected latest snapshot to survive, got seq %d", last.Seq)
	}

	h.close()
	if _, ok := <-ch; ok {
		t.Error("Expected channel closed after hub close")
	}
}
