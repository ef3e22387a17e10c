// internal/detect/session.go
// Package detect implements temporal confirmation of per-tick alarm
// candidates: hysteresis, single-fire confirmation and cooldown.
package detect

import "time"

// State is the detection state of a session.
type State int

const (
	// StateIdle means no candidate evidence is being accumulated
	StateIdle State = iota
	// StateDetecting means candidates are accumulating toward confirmation
	StateDetecting
	// StateConfirmed is transient: the machine moves to Cooldown in the
	// same step that emits the Confirmed event
	StateConfirmed
	// StateCooldown suppresses re-triggering until the deadline passes
	StateCooldown
	// StatePermissionDenied is terminal until an explicit retry
	StatePermissionDenied
	// StateError is terminal until an explicit retry
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetecting:
		return "detecting"
	case StateConfirmed:
		return "confirmed"
	case StateCooldown:
		return "cooldown"
	case StatePermissionDenied:
		return "permission_denied"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state halts tick processing until an
// explicit reset or retry.
func (s State) Terminal() bool {
	return s == StatePermissionDenied || s == StateError
}

// CooldownTimer tracks the post-confirmation suppression window as an
// absolute wall-clock deadline. Remaining time is always recomputed
// from the clock rather than decremented per tick, so the cooldown
// stays correct when the tick scheduler is throttled or delayed.
type CooldownTimer struct {
	Deadline time.Time
}

// Active reports whether a deadline is set.
func (t CooldownTimer) Active() bool {
	return !t.Deadline.IsZero()
}

// Remaining returns the time left until the deadline, never negative.
func (t CooldownTimer) Remaining(now time.Time) time.Duration {
	if !t.Active() {
		return 0
	}
	if d := t.Deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Expired reports whether an active deadline has passed.
func (t CooldownTimer) Expired(now time.Time) bool {
	return t.Active() && !now.Before(t.Deadline)
}

// Session is the mutable core state of one detector instance. There is
// exactly one Session per Machine; the Machine is its single writer and
// consumers only ever see copies.
type Session struct {
	State              State
	ConsecutiveHits    int
	ConsecutiveMisses  int
	DetectionStartedAt time.Time
	Cooldown           CooldownTimer
}
