package regime

import (
	"testing"
	"time"
)

func TestFirstClassificationHasNoDwellGuard(t *testing.T) {
	now := time.Now()
	s := Next(State{}, 30, now, DefaultThresholds())
	if s.LastMode != ModeTF {
		t.Fatalf("expected TF for ADX=30, got %v", s.LastMode)
	}
}

func TestDwellGuardSuppressesWhipsaw(t *testing.T) {
	// S4: ADX sequence 26 (->TF), 19 (would be MR but dwell not
	// elapsed -> stays TF), 19 after 0.6h (-> MR).
	th := DefaultThresholds()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Next(State{}, 26, t0, th)
	if s.LastMode != ModeTF {
		t.Fatalf("expected TF at t0, got %v", s.LastMode)
	}

	t1 := t0.Add(5 * time.Minute)
	s = Next(s, 19, t1, th)
	if s.LastMode != ModeTF {
		t.Fatalf("expected dwell guard to keep TF at t1, got %v", s.LastMode)
	}

	t2 := t0.Add(36 * time.Minute) // 0.6h after t0
	s = Next(s, 19, t2, th)
	if s.LastMode != ModeMR {
		t.Fatalf("expected MR once dwell elapsed, got %v", s.LastMode)
	}
}

func TestLeavingTransitionIsAlwaysImmediate(t *testing.T) {
	th := DefaultThresholds()
	t0 := time.Now()
	s := Next(State{}, 22, t0, th) // TRANSITION band
	if s.LastMode != ModeTransition {
		t.Fatalf("expected TRANSITION, got %v", s.LastMode)
	}
	s = Next(s, 30, t0.Add(time.Second), th)
	if s.LastMode != ModeTF {
		t.Fatalf("expected immediate exit from TRANSITION to TF, got %v", s.LastMode)
	}
}

func TestSameCandidateIsNoOp(t *testing.T) {
	th := DefaultThresholds()
	t0 := time.Now()
	s := Next(State{}, 30, t0, th)
	enteredAt := s.LastModeEnteredAt
	s = Next(s, 31, t0.Add(time.Minute), th)
	if s.LastModeEnteredAt != enteredAt {
		t.Fatalf("expected LastModeEnteredAt unchanged when candidate == last_mode")
	}
}
