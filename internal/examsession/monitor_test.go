package examsession

import "testing"

func TestMonitorForcesAtThreshold(t *testing.T) {
	for _, threshold := range []int{1, 3, 5} {
		m := NewIntegrityMonitor(threshold, 0)
		forced := 0
		for i := 1; i <= threshold+2; i++ {
			sig := SignalVisibilityHidden
			if i%2 == 0 {
				sig = SignalWindowBlur
			}
			v := m.Record(sig)
			if v.Count != i {
				t.Errorf("threshold %d: count = %d, want %d", threshold, v.Count, i)
			}
			if v.Forced {
				forced++
				if i != threshold {
					t.Errorf("threshold %d: forced at %d", threshold, i)
				}
			}
		}
		if forced != 1 {
			t.Errorf("threshold %d: forced %d times, want 1", threshold, forced)
		}
	}
}

func TestMonitorFullscreenIsAdvisory(t *testing.T) {
	m := NewIntegrityMonitor(3, 0)
	for _, sig := range []Signal{SignalFullscreenExit, SignalFullscreenEnter, SignalFullscreenExit} {
		if v := m.Record(sig); v.Counted || v.Forced || v.Count != 0 {
			t.Errorf("%s should not count: %+v", sig, v)
		}
	}
	if m.Count() != 0 {
		t.Errorf("count = %d, want 0", m.Count())
	}
}

func TestMonitorResumesCount(t *testing.T) {
	m := NewIntegrityMonitor(3, 2)
	if v := m.Record(SignalWindowBlur); !v.Forced || v.Count != 3 {
		t.Errorf("resumed monitor should force on the next violation, got %+v", v)
	}
}

func TestParseSignal(t *testing.T) {
	if _, err := ParseSignal("visibility_hidden"); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	if _, err := ParseSignal("devtools_open"); err != ErrUnknownSignal {
		t.Errorf("expected ErrUnknownSignal, got %v", err)
	}
}
