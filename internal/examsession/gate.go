package examsession

// GateState is the Submission Gate's state.
type GateState string

const (
	GateIdle       GateState = "idle"
	GateSubmitting GateState = "submitting"
	GateDone       GateState = "done"
	// GateLocked is terminal: a timer or integrity submission failed and the
	// learner may not edit or retry.
	GateLocked GateState = "locked"
)

// Trigger names what invoked the gate.
type Trigger string

const (
	TriggerManual             Trigger = "manual"
	TriggerTimerExpiry        Trigger = "timer-expiry"
	TriggerIntegrityViolation Trigger = "integrity-violation"
)

// Gate is the exactly-once finalize guard. It carries no lock of its own:
// Session holds its mutex across Begin and the answer snapshot, so the check
// and the state write are never separated.
type Gate struct {
	state   GateState
	trigger Trigger
}

func NewGate() *Gate { return &Gate{state: GateIdle} }

func (g *Gate) State() GateState { return g.state }

// Trigger returns what started the current or last attempt.
func (g *Gate) Trigger() Trigger { return g.trigger }

// Begin moves idle to submitting. It returns false, changing nothing, in any
// other state.
func (g *Gate) Begin(t Trigger) bool {
	if g.state != GateIdle {
		return false
	}
	g.state = GateSubmitting
	g.trigger = t
	return true
}

// Finish ends an attempt started by Begin. Success moves to done. A failed
// manual attempt returns to idle so the learner can retry; a failed timer or
// integrity attempt locks the gate.
func (g *Gate) Finish(err error) GateState {
	if g.state != GateSubmitting {
		return g.state
	}
	switch {
	case err == nil:
		g.state = GateDone
	case g.trigger == TriggerManual:
		g.state = GateIdle
	default:
		g.state = GateLocked
	}
	return g.state
}

// Lock forces the terminal state, used when a resumed record is already locked.
func (g *Gate) Lock() { g.state = GateLocked }

// Close ends the gate without a submission, used when an attempt is abandoned.
func (g *Gate) Close() { g.state = GateDone }
