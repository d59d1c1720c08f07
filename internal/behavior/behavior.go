// Package behavior scores interaction telemetry for human-like activity.
//
// The scorer is deliberately lenient: light activity earns points, total
// absence of activity costs only a little. Positive scores indicate
// human-like behavior; deeply negative scores combined with other signals
// mark an attempt as suspicious.
package behavior

import (
	"time"

	"github.com/mbd888/verigate/internal/telemetry"
)

// Scoring bands, in points.
const (
	timingNormalPoints  = 30 // elapsed within [500ms, 30s]
	timingFastPenalty   = -5 // elapsed under 100ms
	pointerPoints       = 20
	pointerZeroPenalty  = -5
	keyPoints           = 20
	keyZeroPenalty      = -2
	combinedPoints      = 15 // both pointer and key activity
	timingBonusPoints   = 10 // elapsed within [1s, 15s]
	trustedBonusPoints  = 20
	suspicionScoreFloor = -100
	fastSubmitFloor     = 200 * time.Millisecond
	maxBenignAttempts   = 10
)

// Result holds the behavioral score and the observations behind it.
type Result struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// Suspicion lists indicators that an attempt is not human-driven.
type Suspicion struct {
	Suspicious bool     `json:"suspicious"`
	Indicators []string `json:"indicators,omitempty"`
}

// Score rates a telemetry sample. Trusted environments receive a fixed
// bonus so lab and staging traffic is not penalized for sparse activity.
func Score(sample telemetry.Sample, trusted bool) Result {
	var r Result

	switch {
	case sample.Elapsed >= 500*time.Millisecond && sample.Elapsed <= 30*time.Second:
		r.Score += timingNormalPoints
		r.Reasons = append(r.Reasons, "timing within normal range")
	case sample.Elapsed < 100*time.Millisecond:
		r.Score += timingFastPenalty
		r.Reasons = append(r.Reasons, "submitted too fast")
	}

	if sample.PointerMoves >= 1 {
		r.Score += pointerPoints
		r.Reasons = append(r.Reasons, "pointer activity present")
	} else {
		r.Score += pointerZeroPenalty
		r.Reasons = append(r.Reasons, "no pointer activity")
	}

	if sample.KeyPresses >= 1 {
		r.Score += keyPoints
		r.Reasons = append(r.Reasons, "keyboard activity present")
	} else {
		r.Score += keyZeroPenalty
		r.Reasons = append(r.Reasons, "no keyboard activity")
	}

	if sample.PointerMoves > 0 && sample.KeyPresses > 0 {
		r.Score += combinedPoints
		r.Reasons = append(r.Reasons, "combined pointer and keyboard activity")
	}

	if sample.Elapsed >= time.Second && sample.Elapsed <= 15*time.Second {
		r.Score += timingBonusPoints
		r.Reasons = append(r.Reasons, "reasonable response time")
	}

	if trusted {
		r.Score += trustedBonusPoints
		r.Reasons = append(r.Reasons, "trusted environment bonus")
	}

	return r
}

// CheckSuspicion flags attempts whose behavior falls outside even the
// lenient envelope. attempts is the session's total attempt count.
func CheckSuspicion(sample telemetry.Sample, score int, attempts int) Suspicion {
	var s Suspicion

	if score < suspicionScoreFloor {
		s.Indicators = append(s.Indicators, "extremely low behavioral score")
	}
	if sample.Elapsed < fastSubmitFloor {
		s.Indicators = append(s.Indicators, "unnaturally fast response")
	}
	if attempts > maxBenignAttempts {
		s.Indicators = append(s.Indicators, "excessive failed attempts")
	}

	s.Suspicious = len(s.Indicators) > 0
	return s
}
