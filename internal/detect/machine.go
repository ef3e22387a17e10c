// internal/detect/machine.go
package detect

import (
	"errors"
	"time"
)

var (
	// ErrInvalidConfirmations indicates required confirmations must be positive
	ErrInvalidConfirmations = errors.New("required confirmations must be positive")
	// ErrInvalidMaxMisses indicates max misses must be positive
	ErrInvalidMaxMisses = errors.New("max misses must be positive")
	// ErrInvalidCooldown indicates the cooldown duration must be positive
	ErrInvalidCooldown = errors.New("cooldown duration must be positive")
)

// EventSink receives machine events. Called synchronously from the tick
// path - must be fast and non-blocking.
type EventSink func(Event)

// MachineConfig holds configuration for the confirmation state machine.
// All values should come from the application config file.
type MachineConfig struct {
	// RequiredConfirmations is the hit count that confirms an alarm
	// (from config: required_confirmations)
	RequiredConfirmations int
	// MaxMisses is how many consecutive misses are tolerated while
	// detecting before the session falls back to Idle (from config: max_misses)
	MaxMisses int
	// CooldownDuration is the re-trigger suppression window (from config: cooldown_ms)
	CooldownDuration time.Duration
}

// Machine is the single source of truth for the detection session. It
// accumulates per-tick candidate verdicts with hysteresis and drives
// the Idle, Detecting, Confirmed, Cooldown cycle.
//
// Brief dropouts and interference would make confirmation nearly
// impossible if a single missed tick reset the hit count, so up to
// MaxMisses consecutive misses are tolerated without discarding
// accumulated hits.
//
// The machine is not safe for concurrent use; the Detector serializes
// all access to it.
type Machine struct {
	config  MachineConfig
	session Session
	sink    EventSink

	// now is swappable for tests
	now func() time.Time
}

// NewMachine creates a confirmation state machine with the given configuration.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.RequiredConfirmations <= 0 {
		return nil, ErrInvalidConfirmations
	}
	if cfg.MaxMisses <= 0 {
		return nil, ErrInvalidMaxMisses
	}
	if cfg.CooldownDuration <= 0 {
		return nil, ErrInvalidCooldown
	}
	return &Machine{
		config: cfg,
		now:    time.Now,
	}, nil
}

// SetSink sets the event sink. Events are emitted in tick order.
func (m *Machine) SetSink(sink EventSink) {
	m.sink = sink
}

// Tick processes one candidate verdict. Ticks are processed strictly
// one at a time; candidates arriving during cooldown or a terminal
// state are ignored.
func (m *Machine) Tick(candidate bool) {
	now := m.now()

	switch m.session.State {
	case StatePermissionDenied, StateError:
		return

	case StateCooldown:
		if m.session.Cooldown.Expired(now) {
			m.toIdle(now)
			return
		}
		m.emit(Event{
			Type:      EventCooldownTick,
			Timestamp: now,
			Remaining: m.session.Cooldown.Remaining(now),
		})
		return

	case StateIdle:
		if !candidate {
			return
		}
		m.session.State = StateDetecting
		m.session.ConsecutiveHits = 1
		m.session.ConsecutiveMisses = 0
		m.session.DetectionStartedAt = now
		m.emit(Event{Type: EventDetectionStarted, Timestamp: now})
		if m.session.ConsecutiveHits >= m.config.RequiredConfirmations {
			m.confirm(now)
			return
		}
		m.emit(Event{Type: EventProgressUpdated, Timestamp: now, Progress: m.progress()})

	case StateDetecting:
		if candidate {
			m.session.ConsecutiveHits++
			m.session.ConsecutiveMisses = 0
			if m.session.ConsecutiveHits >= m.config.RequiredConfirmations {
				m.confirm(now)
				return
			}
			m.emit(Event{Type: EventProgressUpdated, Timestamp: now, Progress: m.progress()})
			return
		}
		m.session.ConsecutiveMisses++
		if m.session.ConsecutiveMisses > m.config.MaxMisses {
			m.toIdle(now)
		}
	}
}

// confirm emits the single Confirmed event for this excursion and
// enters cooldown in the same step - Confirmed is never the resting
// state between ticks.
func (m *Machine) confirm(now time.Time) {
	m.session.State = StateConfirmed
	m.emit(Event{Type: EventProgressUpdated, Timestamp: now, Progress: 100})
	m.emit(Event{Type: EventConfirmed, Timestamp: now})

	m.session.State = StateCooldown
	m.session.Cooldown = CooldownTimer{Deadline: now.Add(m.config.CooldownDuration)}
	m.session.ConsecutiveHits = 0
	m.session.ConsecutiveMisses = 0
	m.session.DetectionStartedAt = time.Time{}
}

// Fail moves the machine into a terminal failure state and emits an
// Error event. Terminal states halt tick processing until Reset.
func (m *Machine) Fail(kind ErrorKind, message string) {
	if m.session.State.Terminal() {
		return
	}
	now := m.now()
	if kind == KindPermissionDenied {
		m.session.State = StatePermissionDenied
	} else {
		m.session.State = StateError
	}
	m.session.ConsecutiveHits = 0
	m.session.ConsecutiveMisses = 0
	m.session.DetectionStartedAt = time.Time{}
	m.session.Cooldown = CooldownTimer{}
	m.emit(Event{Type: EventError, Timestamp: now, Kind: kind, Message: message})
}

// Reset returns the machine to a fresh Idle session regardless of
// current state, including mid-cooldown and terminal states. Idempotent.
func (m *Machine) Reset() {
	m.toIdle(m.now())
}

func (m *Machine) toIdle(now time.Time) {
	m.session = Session{State: StateIdle}
	m.emit(Event{Type: EventIdle, Timestamp: now})
}

// Progress returns the confirmation progress as a percentage, capped at 100.
func (m *Machine) Progress() int {
	return m.progress()
}

func (m *Machine) progress() int {
	p := m.session.ConsecutiveHits * 100 / m.config.RequiredConfirmations
	if p > 100 {
		return 100
	}
	return p
}

// CooldownRemaining returns the time left in an active cooldown.
func (m *Machine) CooldownRemaining() time.Duration {
	return m.session.Cooldown.Remaining(m.now())
}

// State returns the current detection state. An expired cooldown reads
// as Idle even before the next tick formally transitions the session,
// so status queries stay correct under tick starvation.
func (m *Machine) State() State {
	if m.session.State == StateCooldown && m.session.Cooldown.Expired(m.now()) {
		return StateIdle
	}
	return m.session.State
}

// Session returns a copy of the current session for inspection.
func (m *Machine) Session() Session {
	return m.session
}

// Config returns the current configuration
func (m *Machine) Config() MachineConfig {
	return m.config
}

func (m *Machine) emit(e Event) {
	if m.sink != nil {
		m.sink(e)
	}
}
