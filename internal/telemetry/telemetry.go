// Package telemetry records user interaction activity during a
// verification window.
//
// A Recorder has an explicit lifecycle:
//  1. Subscribe() opens the observation window and zeroes all counters
//  2. Record* methods accumulate activity while subscribed
//  3. Snapshot() returns an immutable Sample at any point
//  4. Unsubscribe() closes the window; further events are dropped
//
// Recorders never install global listeners. The HTTP layer feeds them from
// client event batches, and optional sinks receive a copy of every event
// for live streaming.
package telemetry

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotSubscribed is returned when Subscribe was never called or
	// Unsubscribe already closed the window.
	ErrNotSubscribed = errors.New("recorder not subscribed")
	// ErrAlreadySubscribed is returned by a second Subscribe call.
	ErrAlreadySubscribed = errors.New("recorder already subscribed")
)

// MaxInputEvents caps the per-window input event log. Oldest entries are
// dropped first so a flooding client cannot grow memory without bound.
const MaxInputEvents = 1000

// Kind identifies an input event type.
type Kind string

const (
	KindKeyDown Kind = "keydown"
	KindPaste   Kind = "paste"
	KindChange  Kind = "change"
)

// InputEvent is one recorded input interaction.
type InputEvent struct {
	Kind     Kind      `json:"kind"`
	At       time.Time `json:"at"`
	ValueLen int       `json:"valueLen,omitempty"`
}

// Sample is an immutable snapshot of a recording window.
type Sample struct {
	PointerMoves int           `json:"pointerMoves"`
	KeyPresses   int           `json:"keyPresses"`
	Elapsed      time.Duration `json:"elapsed"`
	Events       []InputEvent  `json:"events,omitempty"`
	Scrolled     bool          `json:"scrolled"`
	FocusChanges int           `json:"focusChanges"`
}

// Sink receives a copy of every recorded event, e.g. for live streaming
// to an operations dashboard. Implementations must not block.
type Sink interface {
	TelemetryEvent(session string, kind string, at time.Time)
}

// Recorder accumulates interaction telemetry for one session. Safe for
// concurrent use.
type Recorder struct {
	mu sync.Mutex

	session    string
	subscribed bool
	startedAt  time.Time

	pointerMoves int
	keyPresses   int
	events       []InputEvent
	scrolled     bool
	focusChanges int

	now   func() time.Time
	sinks []Sink
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithSink attaches an event sink.
func WithSink(sink Sink) Option {
	return func(r *Recorder) { r.sinks = append(r.sinks, sink) }
}

// NewRecorder creates a recorder for the given session.
func NewRecorder(session string, opts ...Option) *Recorder {
	r := &Recorder{
		session: session,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe opens the observation window, resetting all counters.
func (r *Recorder) Subscribe() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subscribed {
		return ErrAlreadySubscribed
	}
	r.subscribed = true
	r.startedAt = r.now()
	r.pointerMoves = 0
	r.keyPresses = 0
	r.events = nil
	r.scrolled = false
	r.focusChanges = 0
	return nil
}

// Unsubscribe closes the window. Events recorded afterwards are dropped.
// The final counters remain readable via Snapshot.
func (r *Recorder) Unsubscribe() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.subscribed {
		return ErrNotSubscribed
	}
	r.subscribed = false
	return nil
}

// RecordPointerMove counts one pointer movement.
func (r *Recorder) RecordPointerMove() {
	r.record("pointermove", func() { r.pointerMoves++ })
}

// RecordKeyPress counts one key press and logs a keydown event.
func (r *Recorder) RecordKeyPress() {
	r.record(string(KindKeyDown), func() {
		r.keyPresses++
		r.appendEvent(InputEvent{Kind: KindKeyDown, At: r.now()})
	})
}

// RecordInput logs an input event (paste, change) with its payload length.
func (r *Recorder) RecordInput(kind Kind, valueLen int) {
	r.record(string(kind), func() {
		r.appendEvent(InputEvent{Kind: kind, At: r.now(), ValueLen: valueLen})
	})
}

// RecordScroll marks that the user scrolled during the window.
func (r *Recorder) RecordScroll() {
	r.record("scroll", func() { r.scrolled = true })
}

// RecordFocusChange counts one focus transition.
func (r *Recorder) RecordFocusChange() {
	r.record("focuschange", func() { r.focusChanges++ })
}

func (r *Recorder) record(kind string, apply func()) {
	r.mu.Lock()
	if !r.subscribed {
		r.mu.Unlock()
		return
	}
	apply()
	at := r.now()
	session := r.session
	sinks := r.sinks
	r.mu.Unlock()

	for _, sink := range sinks {
		sink.TelemetryEvent(session, kind, at)
	}
}

func (r *Recorder) appendEvent(ev InputEvent) {
	r.events = append(r.events, ev)
	if len(r.events) > MaxInputEvents {
		r.events = r.events[len(r.events)-MaxInputEvents:]
	}
}

// Snapshot returns a copy of the current counters. The event slice is
// cloned so callers cannot observe later mutations.
func (r *Recorder) Snapshot() Sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	var elapsed time.Duration
	if !r.startedAt.IsZero() {
		elapsed = r.now().Sub(r.startedAt)
	}

	events := make([]InputEvent, len(r.events))
	copy(events, r.events)

	return Sample{
		PointerMoves: r.pointerMoves,
		KeyPresses:   r.keyPresses,
		Elapsed:      elapsed,
		Events:       events,
		Scrolled:     r.scrolled,
		FocusChanges: r.focusChanges,
	}
}

// Subscribed reports whether the window is open.
func (r *Recorder) Subscribed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribed
}
