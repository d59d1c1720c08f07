// Package inputpattern classifies how challenge input was produced.
//
// Three rules run in a fixed order and the last matching rule wins the
// classification, while penalties accumulate across all matches:
//  1. any paste event            → copy-paste, +30
//  2. uniform keystroke cadence  → programmatic, +40
//  3. simultaneous input events  → programmatic, +25
package inputpattern

import (
	"time"

	"github.com/mbd888/verigate/internal/telemetry"
)

// Pattern is the classification of an input sequence.
type Pattern string

const (
	PatternNormal       Pattern = "normal"
	PatternCopyPaste    Pattern = "copy-paste"
	PatternProgrammatic Pattern = "programmatic"
)

const (
	pastePenalty        = 30
	uniformPenalty      = 40
	simultaneousPenalty = 25

	// varianceFloorMs2 is the population variance of keystroke intervals
	// (in ms²) below which typing cadence is considered machine-uniform.
	varianceFloorMs2 = 10.0
	// minIntervals is how many keystroke intervals the variance rule
	// needs before it can judge cadence at all.
	minIntervals = 3

	simultaneityWindow = 10 * time.Millisecond
)

// Result is the outcome of analyzing one input sequence.
type Result struct {
	Pattern Pattern  `json:"pattern"`
	Penalty int      `json:"penalty"`
	Reasons []string `json:"reasons,omitempty"`
}

// Analyze classifies the recorded input events.
func Analyze(events []telemetry.InputEvent) Result {
	r := Result{Pattern: PatternNormal}

	for _, ev := range events {
		if ev.Kind == telemetry.KindPaste {
			r.Pattern = PatternCopyPaste
			r.Penalty += pastePenalty
			r.Reasons = append(r.Reasons, "paste event detected")
			break
		}
	}

	if uniformCadence(events) {
		r.Pattern = PatternProgrammatic
		r.Penalty += uniformPenalty
		r.Reasons = append(r.Reasons, "uniform keystroke timing")
	}

	if simultaneousCount(events) > 2 {
		r.Pattern = PatternProgrammatic
		r.Penalty += simultaneousPenalty
		r.Reasons = append(r.Reasons, "simultaneous input events")
	}

	return r
}

// uniformCadence reports whether keydown intervals are implausibly even.
// Variance is population variance over millisecond intervals.
func uniformCadence(events []telemetry.InputEvent) bool {
	var times []time.Time
	for _, ev := range events {
		if ev.Kind == telemetry.KindKeyDown {
			times = append(times, ev.At)
		}
	}
	if len(times)-1 < minIntervals {
		return false
	}

	intervals := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals = append(intervals, float64(times[i].Sub(times[i-1]).Milliseconds()))
	}

	var sum float64
	for _, iv := range intervals {
		sum += iv
	}
	mean := sum / float64(len(intervals))

	var variance float64
	for _, iv := range intervals {
		d := iv - mean
		variance += d * d
	}
	variance /= float64(len(intervals))

	return variance < varianceFloorMs2
}

// simultaneousCount counts events with at least one other event inside
// the simultaneity window. Humans cannot produce more than a couple.
func simultaneousCount(events []telemetry.InputEvent) int {
	count := 0
	for i, ev := range events {
		for j, other := range events {
			if i == j {
				continue
			}
			d := ev.At.Sub(other.At)
			if d < 0 {
				d = -d
			}
			if d < simultaneityWindow {
				count++
				break
			}
		}
	}
	return count
}
