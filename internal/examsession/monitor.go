package examsession

import (
	"errors"
	"sync"
)

// Signal is a browser boundary event reported by the exam page.
//
// The monitor only counts what the page chooses to report. A learner can
// multitask at the OS level or simply not send signals, so violation counting
// is a deterrent and never proof that an attempt was unassisted.
type Signal string

const (
	SignalVisibilityHidden Signal = "visibility_hidden"
	SignalWindowBlur       Signal = "window_blur"
	SignalFullscreenExit   Signal = "fullscreen_exit"
	SignalFullscreenEnter  Signal = "fullscreen_enter"
)

var ErrUnknownSignal = errors.New("unknown integrity signal")

// ParseSignal validates a signal name.
func ParseSignal(s string) (Signal, error) {
	switch sig := Signal(s); sig {
	case SignalVisibilityHidden, SignalWindowBlur, SignalFullscreenExit, SignalFullscreenEnter:
		return sig, nil
	}
	return "", ErrUnknownSignal
}

// Counted reports whether the signal increments the violation counter.
// Fullscreen changes are advisory: the page nudges the learner back but they
// never count.
func (s Signal) Counted() bool {
	return s == SignalVisibilityHidden || s == SignalWindowBlur
}

// Violation is the monitor's verdict on one signal.
type Violation struct {
	Signal    Signal `json:"signal"`
	Count     int    `json:"count"`
	Threshold int    `json:"threshold"`
	Counted   bool   `json:"counted"`
	// Forced is true on the occurrence that brings Count to Threshold.
	Forced bool `json:"forced"`
}

// IntegrityMonitor counts violations for one session. The count only grows.
type IntegrityMonitor struct {
	mu        sync.Mutex
	count     int
	threshold int
}

// NewIntegrityMonitor starts counting from count (non-zero when resuming).
func NewIntegrityMonitor(threshold, count int) *IntegrityMonitor {
	if threshold < 1 {
		threshold = 1
	}
	return &IntegrityMonitor{threshold: threshold, count: count}
}

// Record registers one occurrence of sig. Each counted occurrence increments
// the counter exactly once, even when two signals coincide.
func (m *IntegrityMonitor) Record(sig Signal) Violation {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := Violation{Signal: sig, Threshold: m.threshold, Counted: sig.Counted()}
	if v.Counted {
		m.count++
		v.Forced = m.count == m.threshold
	}
	v.Count = m.count
	return v
}

func (m *IntegrityMonitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *IntegrityMonitor) Threshold() int { return m.threshold }
