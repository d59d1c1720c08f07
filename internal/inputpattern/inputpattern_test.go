package inputpattern

import (
	"testing"
	"time"

	"github.com/mbd888/verigate/internal/telemetry"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func keydowns(spacings ...time.Duration) []telemetry.InputEvent {
	events := make([]telemetry.InputEvent, 0, len(spacings)+1)
	at := base
	events = append(events, telemetry.InputEvent{Kind: telemetry.KindKeyDown, At: at})
	for _, d := range spacings {
		at = at.Add(d)
		events = append(events, telemetry.InputEvent{Kind: telemetry.KindKeyDown, At: at})
	}
	return events
}

func TestAnalyzeEmpty(t *testing.T) {
	r := Analyze(nil)
	if r.Pattern != PatternNormal || r.Penalty != 0 {
		t.Errorf("empty input classified as %s/%d", r.Pattern, r.Penalty)
	}
}

func TestAnalyzeHumanTyping(t *testing.T) {
	// Jittery intervals well above the variance floor.
	events := keydowns(120*time.Millisecond, 260*time.Millisecond, 90*time.Millisecond, 310*time.Millisecond)
	r := Analyze(events)
	if r.Pattern != PatternNormal {
		t.Errorf("human cadence classified as %s: %v", r.Pattern, r.Reasons)
	}
}

func TestAnalyzePaste(t *testing.T) {
	events := []telemetry.InputEvent{
		{Kind: telemetry.KindPaste, At: base},
	}
	r := Analyze(events)
	if r.Pattern != PatternCopyPaste {
		t.Errorf("pattern = %s, want copy-paste", r.Pattern)
	}
	if r.Penalty != 30 {
		t.Errorf("penalty = %d, want 30", r.Penalty)
	}
}

func TestAnalyzeUniformCadence(t *testing.T) {
	// Four identical 100ms intervals: variance zero.
	events := keydowns(100*time.Millisecond, 100*time.Millisecond, 100*time.Millisecond, 100*time.Millisecond)
	r := Analyze(events)
	if r.Pattern != PatternProgrammatic {
		t.Fatalf("pattern = %s, want programmatic", r.Pattern)
	}
	if r.Penalty != 40 {
		t.Errorf("penalty = %d, want 40", r.Penalty)
	}
}

func TestAnalyzeUniformCadenceNeedsEnoughKeys(t *testing.T) {
	// Two identical intervals are not enough evidence.
	events := keydowns(100*time.Millisecond, 100*time.Millisecond)
	r := Analyze(events)
	if r.Pattern != PatternNormal {
		t.Errorf("pattern = %s, want normal with too few intervals", r.Pattern)
	}
}

func TestAnalyzeSimultaneousEvents(t *testing.T) {
	events := []telemetry.InputEvent{
		{Kind: telemetry.KindChange, At: base},
		{Kind: telemetry.KindChange, At: base.Add(2 * time.Millisecond)},
		{Kind: telemetry.KindChange, At: base.Add(4 * time.Millisecond)},
	}
	r := Analyze(events)
	if r.Pattern != PatternProgrammatic {
		t.Fatalf("pattern = %s, want programmatic", r.Pattern)
	}
	if r.Penalty != 25 {
		t.Errorf("penalty = %d, want 25", r.Penalty)
	}
}

func TestAnalyzeLastRuleWins(t *testing.T) {
	// Paste followed by machine-uniform typing: penalties stack and the
	// later rule decides the classification.
	events := []telemetry.InputEvent{
		{Kind: telemetry.KindPaste, At: base},
	}
	events = append(events, keydowns(100*time.Millisecond, 100*time.Millisecond, 100*time.Millisecond, 100*time.Millisecond)...)
	for i := 1; i < len(events); i++ {
		events[i].At = events[i].At.Add(time.Second)
	}

	r := Analyze(events)
	if r.Pattern != PatternProgrammatic {
		t.Errorf("pattern = %s, want programmatic", r.Pattern)
	}
	if r.Penalty != 70 {
		t.Errorf("penalty = %d, want 70", r.Penalty)
	}
}
