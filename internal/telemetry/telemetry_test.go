package telemetry

import (
	"sync"
	"testing"
	"time"
)

// fakeClock advances a fixed amount on every read.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func TestRecorderLifecycle(t *testing.T) {
	r := NewRecorder("ses_1")

	// Events before Subscribe are dropped.
	r.RecordKeyPress()
	r.RecordPointerMove()
	s := r.Snapshot()
	if s.KeyPresses != 0 || s.PointerMoves != 0 {
		t.Errorf("pre-subscribe events recorded: %+v", s)
	}

	if err := r.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := r.Subscribe(); err != ErrAlreadySubscribed {
		t.Errorf("second subscribe err = %v, want ErrAlreadySubscribed", err)
	}

	r.RecordPointerMove()
	r.RecordPointerMove()
	r.RecordKeyPress()
	r.RecordScroll()
	r.RecordFocusChange()

	s = r.Snapshot()
	if s.PointerMoves != 2 {
		t.Errorf("pointerMoves = %d, want 2", s.PointerMoves)
	}
	if s.KeyPresses != 1 {
		t.Errorf("keyPresses = %d, want 1", s.KeyPresses)
	}
	if !s.Scrolled {
		t.Error("scrolled not set")
	}
	if s.FocusChanges != 1 {
		t.Errorf("focusChanges = %d, want 1", s.FocusChanges)
	}

	if err := r.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := r.Unsubscribe(); err != ErrNotSubscribed {
		t.Errorf("second unsubscribe err = %v, want ErrNotSubscribed", err)
	}

	// Events after Unsubscribe are dropped, counters survive.
	r.RecordKeyPress()
	s = r.Snapshot()
	if s.KeyPresses != 1 {
		t.Errorf("keyPresses after unsubscribe = %d, want 1", s.KeyPresses)
	}
}

func TestRecorderEventCap(t *testing.T) {
	r := NewRecorder("ses_1")
	if err := r.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := 0; i < MaxInputEvents+50; i++ {
		r.RecordInput(KindChange, i)
	}

	s := r.Snapshot()
	if len(s.Events) != MaxInputEvents {
		t.Errorf("events = %d, want cap %d", len(s.Events), MaxInputEvents)
	}
	// Oldest entries dropped: first surviving event is number 50.
	if s.Events[0].ValueLen != 50 {
		t.Errorf("first event valueLen = %d, want 50", s.Events[0].ValueLen)
	}
}

func TestRecorderElapsed(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0), step: 100 * time.Millisecond}
	r := NewRecorder("ses_1", WithClock(clock.Now))

	if err := r.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	s := r.Snapshot()
	if s.Elapsed != 100*time.Millisecond {
		t.Errorf("elapsed = %v, want 100ms", s.Elapsed)
	}
}

func TestRecorderSnapshotIsolation(t *testing.T) {
	r := NewRecorder("ses_1")
	if err := r.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	r.RecordInput(KindPaste, 12)

	s := r.Snapshot()
	s.Events[0].ValueLen = 999

	again := r.Snapshot()
	if again.Events[0].ValueLen != 12 {
		t.Error("snapshot mutation leaked into recorder state")
	}
}

type captureSink struct {
	mu    sync.Mutex
	kinds []string
}

func (c *captureSink) TelemetryEvent(_ string, kind string, _ time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds = append(c.kinds, kind)
}

func TestRecorderSink(t *testing.T) {
	sink := &captureSink{}
	r := NewRecorder("ses_1", WithSink(sink))
	if err := r.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	r.RecordPointerMove()
	r.RecordInput(KindPaste, 3)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.kinds) != 2 {
		t.Fatalf("sink events = %d, want 2", len(sink.kinds))
	}
	if sink.kinds[0] != "pointermove" || sink.kinds[1] != "paste" {
		t.Errorf("sink kinds = %v", sink.kinds)
	}
}
