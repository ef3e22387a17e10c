// internal/detect/events_test.go
package detect

import (
	"testing"
	"time"
)

func TestEventType_String(t *testing.T) {
	tests := []struct {
		typ  EventType
		want string
	}{
		{EventDetectionStarted, "detection_started"},
		{EventProgressUpdated, "progress_updated"},
		{EventConfirmed, "confirmed"},
		{EventCooldownTick, "cooldown_tick"},
		{EventIdle, "idle"},
		{EventError, "error"},
		{EventType(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("EventType(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestChannel_Reset(t *testing.T) {
	calls := 0
	c := NewChannel(4, func() { calls++ })

	c.Reset()
	c.ResetCooldown()

	if calls != 2 {
		t.Errorf("reset hook called %d times, want 2", calls)
	}
}

func TestChannel_NilResetHook(t *testing.T) {
	c := NewChannel(4, nil)
	// Must not panic
	c.Reset()
}

// TestChannel_DropsPeriodicEventsWhenFull verifies that only the
// high-frequency event types are dropped under consumer backpressure;
// state-change events are always delivered.
func TestChannel_DropsPeriodicEventsWhenFull(t *testing.T) {
	c := NewChannel(2, nil)

	now := time.Now()
	// Fill the buffer with periodic events
	c.publish(Event{Type: EventProgressUpdated, Timestamp: now, Progress: 10})
	c.publish(Event{Type: EventCooldownTick, Timestamp: now})

	// These must be dropped, not block
	done := make(chan struct{})
	go func() {
		c.publish(Event{Type: EventProgressUpdated, Timestamp: now, Progress: 20})
		c.publish(Event{Type: EventCooldownTick, Timestamp: now})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing periodic events blocked on a full channel")
	}

	got := []Event{<-c.Events(), <-c.Events()}
	if got[0].Progress != 10 {
		t.Errorf("first event progress = %d, want 10", got[0].Progress)
	}
	if got[1].Type != EventCooldownTick {
		t.Errorf("second event type = %v, want %v", got[1].Type, EventCooldownTick)
	}
}

func TestChannel_StateChangeEventsDelivered(t *testing.T) {
	c := NewChannel(8, nil)
	now := time.Now()

	c.publish(Event{Type: EventDetectionStarted, Timestamp: now})
	c.publish(Event{Type: EventConfirmed, Timestamp: now})
	c.publish(Event{Type: EventIdle, Timestamp: now})
	c.close()

	var types []EventType
	for e := range c.Events() {
		types = append(types, e.Type)
	}
	want := []EventType{EventDetectionStarted, EventConfirmed, EventIdle}
	if len(types) != len(want) {
		t.Fatalf("received %d events, want %d", len(types), len(want))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, types[i], want[i])
		}
	}
}
