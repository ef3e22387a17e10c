// internal/detect/events.go
package detect

import (
	"time"
)

// EventType identifies a detection event on the channel.
type EventType int

const (
	// EventDetectionStarted fires when the first candidate moves the session out of Idle
	EventDetectionStarted EventType = iota
	// EventProgressUpdated carries confirmation progress as a percentage
	EventProgressUpdated
	// EventConfirmed fires exactly once per Idle-to-Confirmed excursion
	EventConfirmed
	// EventCooldownTick carries the remaining cooldown on ticks during cooldown
	EventCooldownTick
	// EventIdle fires when the session returns to Idle
	EventIdle
	// EventError fires when the detector enters a terminal failure state
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventDetectionStarted:
		return "detection_started"
	case EventProgressUpdated:
		return "progress_updated"
	case EventConfirmed:
		return "confirmed"
	case EventCooldownTick:
		return "cooldown_tick"
	case EventIdle:
		return "idle"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorKind classifies terminal detector failures.
type ErrorKind string

const (
	// KindPermissionDenied means the audio source was refused by the user
	KindPermissionDenied ErrorKind = "permission_denied"
	// KindDeviceUnavailable means no usable capture device is present
	KindDeviceUnavailable ErrorKind = "device_unavailable"
	// KindInitialization means the backend failed to initialize
	KindInitialization ErrorKind = "initialization_failure"
)

// Event is one entry on the detection event channel. Events are emitted
// in tick order and are totally ordered.
type Event struct {
	Type      EventType
	Timestamp time.Time
	// Progress is set on EventProgressUpdated (0-100)
	Progress int
	// Remaining is set on EventCooldownTick
	Remaining time.Duration
	// Kind and Message are set on EventError
	Kind    ErrorKind
	Message string
}

// Channel is the consumer-visible event surface. Downstream alert
// dispatch and notification subsystems consume events from Events();
// they never call back into the detector except through Reset.
type Channel struct {
	events chan Event
	reset  func()
}

// NewChannel creates an event channel with the given buffer capacity
// (0 selects the default) and reset hook.
func NewChannel(buffer int, reset func()) *Channel {
	if buffer <= 0 {
		buffer = 128
	}
	return &Channel{
		events: make(chan Event, buffer),
		reset:  reset,
	}
}

// Events returns the ordered event stream. The channel is closed when
// the detector stops.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Reset returns the detector to Idle immediately, regardless of current
// state. Idempotent, callable at any time.
func (c *Channel) Reset() {
	if c.reset != nil {
		c.reset()
	}
}

// ResetCooldown is an alias for Reset kept for consumers that only care
// about cancelling an active cooldown.
func (c *Channel) ResetCooldown() {
	c.Reset()
}

// publish delivers an event to the consumer. State-change events block
// until delivered so that a Confirmed can never be lost; high-frequency
// progress and cooldown ticks are dropped when the consumer lags.
func (c *Channel) publish(e Event) {
	switch e.Type {
	case EventProgressUpdated, EventCooldownTick:
		select {
		case c.events <- e:
		default:
			// Consumer too slow, drop the periodic update
		}
	default:
		c.events <- e
	}
}

func (c *Channel) close() {
	close(c.events)
}
