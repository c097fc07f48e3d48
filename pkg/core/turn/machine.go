// Package turn tracks the conversational turn lifecycle of one call:
// who is speaking, barge-in handling, and the dual end-of-turn barrier
// that gates an agent-initiated hangup.
package turn

import (
	"log/slog"
	"sync"
	"time"
)

// State is the turn machine's current phase.
type State int

const (
	// StateIdle means no model turn is in flight.
	StateIdle State = iota
	// StateModelSpeaking means assistant audio is being produced.
	StateModelSpeaking
	// StateInterrupted means the caller barged in and playback was cut.
	StateInterrupted
	// StateAwaitingDualEndTurn means a hangup is pending and the machine
	// is waiting for both the audio and text channels to finish the
	// farewell turn.
	StateAwaitingDualEndTurn
	// StateTerminating means the call is being torn down.
	StateTerminating
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateModelSpeaking:
		return "model_speaking"
	case StateInterrupted:
		return "interrupted"
	case StateAwaitingDualEndTurn:
		return "awaiting_dual_end_turn"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Interruptor cuts model playback on barge-in.
type Interruptor interface {
	InterruptNow(d time.Duration)
}

// Config holds the machine's timing parameters.
type Config struct {
	// GracePeriod is the pause between farewell completion and the
	// actual hangup, giving the last audio time to play out.
	GracePeriod time.Duration
	// SignalCeiling bounds how long the machine waits for the second
	// end-of-turn signal once the first has arrived. If only one
	// channel ever closes (a protocol anomaly), termination is forced
	// at the ceiling rather than leaving the call hanging.
	SignalCeiling time.Duration
	// Squelch is the silence window enforced after a barge-in.
	Squelch time.Duration
}

// DefaultConfig returns the standard telephony turn timings.
func DefaultConfig() Config {
	return Config{
		GracePeriod:   3 * time.Second,
		SignalCeiling: 15 * time.Second,
		Squelch:       200 * time.Millisecond,
	}
}

// Machine coordinates turn state for one call. All event methods are
// safe for concurrent use; callbacks run on their own goroutines and
// must not call back into the machine synchronously while holding
// external locks.
type Machine struct {
	logger *slog.Logger
	config Config

	mu            sync.Mutex
	state         State
	interruptor   Interruptor
	hangupPending bool
	audioEndTurn  bool
	textEndTurn   bool
	bargeIns      int
	graceTimer    *time.Timer
	ceilingTimer  *time.Timer
	terminated    bool

	onBargeIn   func(count int)
	onTerminate func()
}

// NewMachine creates a machine in the idle state.
func NewMachine(logger *slog.Logger, config Config, interruptor Interruptor) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = DefaultConfig().GracePeriod
	}
	if config.SignalCeiling <= 0 {
		config.SignalCeiling = DefaultConfig().SignalCeiling
	}
	if config.Squelch <= 0 {
		config.Squelch = DefaultConfig().Squelch
	}
	return &Machine{
		logger:      logger,
		config:      config,
		state:       StateIdle,
		interruptor: interruptor,
	}
}

// SetCallbacks registers the barge-in and terminate callbacks.
func (m *Machine) SetCallbacks(onBargeIn func(count int), onTerminate func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBargeIn = onBargeIn
	m.onTerminate = onTerminate
}

// State returns the current phase.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// BargeIns returns how many times the caller has interrupted.
func (m *Machine) BargeIns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bargeIns
}

// ModelSpeaking marks the start of assistant audio output.
func (m *Machine) ModelSpeaking() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateTerminating {
		return
	}
	if m.state == StateIdle || m.state == StateInterrupted {
		m.transition(StateModelSpeaking)
	}
}

// Interrupted handles a barge-in: playback is cut immediately and the
// turn's end-of-turn bookkeeping resets since the turn was abandoned.
func (m *Machine) Interrupted() {
	m.mu.Lock()
	if m.state == StateTerminating {
		m.mu.Unlock()
		return
	}
	m.bargeIns++
	count := m.bargeIns
	cb := m.onBargeIn
	m.audioEndTurn = false
	m.textEndTurn = false
	m.stopCeilingLocked()
	m.transition(StateInterrupted)
	m.mu.Unlock()

	if m.interruptor != nil {
		m.interruptor.InterruptNow(m.config.Squelch)
	}
	if cb != nil {
		go cb(count)
	}
}

// RequestHangup arms the dual end-of-turn barrier. Idempotent: repeated
// requests while already pending are ignored.
func (m *Machine) RequestHangup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hangupPending || m.state == StateTerminating {
		return
	}
	m.hangupPending = true
	m.audioEndTurn = false
	m.textEndTurn = false
	m.transition(StateAwaitingDualEndTurn)
	m.logger.Info("hangup requested, waiting for farewell turn to complete")
}

// HangupPending reports whether the barrier is armed.
func (m *Machine) HangupPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hangupPending
}

// EndTurn records a contentEnd(END_TURN) on one channel. contentType is
// the protocol channel type ("AUDIO" or "TEXT"); other channel types
// are ignored here. When the hangup barrier is armed and both channels
// have closed, the grace timer starts; its expiry terminates the call.
func (m *Machine) EndTurn(contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateTerminating {
		return
	}

	switch contentType {
	case "AUDIO":
		m.audioEndTurn = true
	case "TEXT":
		m.textEndTurn = true
	default:
		return
	}

	if !m.hangupPending {
		if m.audioEndTurn && m.textEndTurn {
			m.audioEndTurn = false
			m.textEndTurn = false
			m.transition(StateIdle)
		}
		return
	}

	if m.audioEndTurn && m.textEndTurn {
		m.stopCeilingLocked()
		m.startGraceLocked()
		return
	}

	// First of the two signals: bound the wait for its partner.
	if m.ceilingTimer == nil {
		m.ceilingTimer = time.AfterFunc(m.config.SignalCeiling, m.ceilingExpired)
	}
}

// startGraceLocked arms the pre-hangup grace timer. Caller holds mu.
func (m *Machine) startGraceLocked() {
	if m.graceTimer != nil {
		return
	}
	m.logger.Info("farewell turn complete on both channels, hanging up after grace period",
		"grace", m.config.GracePeriod)
	m.graceTimer = time.AfterFunc(m.config.GracePeriod, m.terminate)
}

func (m *Machine) ceilingExpired() {
	m.mu.Lock()
	if m.terminated || m.state == StateTerminating {
		m.mu.Unlock()
		return
	}
	m.logger.Warn("only one end-of-turn signal arrived before ceiling, forcing termination",
		"audio", m.audioEndTurn, "text", m.textEndTurn)
	m.mu.Unlock()
	m.terminate()
}

func (m *Machine) terminate() {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return
	}
	m.terminated = true
	m.stopCeilingLocked()
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
	cb := m.onTerminate
	m.transition(StateTerminating)
	m.mu.Unlock()

	if cb != nil {
		go cb()
	}
}

// ForceTerminate moves straight to termination, bypassing the barrier.
// Used on fatal stream errors and caller-initiated hangups.
func (m *Machine) ForceTerminate() {
	m.terminate()
}

// Shutdown stops all timers without firing callbacks.
func (m *Machine) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated = true
	m.stopCeilingLocked()
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
	m.state = StateTerminating
}

func (m *Machine) stopCeilingLocked() {
	if m.ceilingTimer != nil {
		m.ceilingTimer.Stop()
		m.ceilingTimer = nil
	}
}

// transition logs and applies a state change. Caller holds mu.
func (m *Machine) transition(to State) {
	if m.state == to {
		return
	}
	m.logger.Debug("turn state changed", "from", m.state.String(), "to", to.String())
	m.state = to
}
