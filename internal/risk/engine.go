package risk

import (
	"context"
	"time"

	"github.com/mbd888/verigate/internal/detect"
	"github.com/mbd888/verigate/internal/idgen"
	"github.com/mbd888/verigate/internal/inputpattern"
	"github.com/mbd888/verigate/internal/telemetry"
)

// Anomaly penalties, in confidence points.
const (
	fastResponsePenalty    = 30 // under 1s
	slowResponsePenalty    = 15 // over 30s
	noPointerPenalty       = 25
	excessPointerPenalty   = 10 // over 100 moves
	noKeyboardPenalty      = 20
	excessKeyboardPenalty  = 10 // over 50 presses
	copyPastePenalty       = 20
	programmaticPenalty    = 35
	noScrollPenalty        = 10
	noFocusPenalty         = 10
	excessPointerThreshold = 100
	excessKeyboardCeiling  = 50
)

// AnomalyResult is the behavioral component fed into an assessment.
type AnomalyResult struct {
	Anomalies []string `json:"anomalies,omitempty"`
	Score     int      `json:"score"`
	Level     Level    `json:"level"`
}

// HasAnomalies reports whether anything was flagged.
func (r AnomalyResult) HasAnomalies() bool {
	return len(r.Anomalies) > 0
}

// Anomalies runs the penalty-only behavioral checks over a telemetry
// sample and its input-pattern classification. Unlike the lenient
// behavior scorer, this only accumulates evidence against the client.
func Anomalies(sample telemetry.Sample, pattern inputpattern.Result) AnomalyResult {
	var r AnomalyResult

	if sample.Elapsed < time.Second {
		r.Anomalies = append(r.Anomalies, "unnaturally fast response")
		r.Score += fastResponsePenalty
	}
	if sample.Elapsed > 30*time.Second {
		r.Anomalies = append(r.Anomalies, "suspiciously slow response")
		r.Score += slowResponsePenalty
	}

	if sample.PointerMoves == 0 {
		r.Anomalies = append(r.Anomalies, "no pointer movement detected")
		r.Score += noPointerPenalty
	}
	if sample.PointerMoves > excessPointerThreshold {
		r.Anomalies = append(r.Anomalies, "excessive pointer movement")
		r.Score += excessPointerPenalty
	}

	if sample.KeyPresses == 0 {
		r.Anomalies = append(r.Anomalies, "no keyboard interaction")
		r.Score += noKeyboardPenalty
	}
	if sample.KeyPresses > excessKeyboardCeiling {
		r.Anomalies = append(r.Anomalies, "excessive keyboard input")
		r.Score += excessKeyboardPenalty
	}

	switch pattern.Pattern {
	case inputpattern.PatternCopyPaste:
		r.Anomalies = append(r.Anomalies, "copy-paste behavior detected")
		r.Score += copyPastePenalty
	case inputpattern.PatternProgrammatic:
		r.Anomalies = append(r.Anomalies, "programmatic input detected")
		r.Score += programmaticPenalty
	}

	if !sample.Scrolled {
		r.Anomalies = append(r.Anomalies, "no scroll interaction")
		r.Score += noScrollPenalty
	}
	if sample.FocusChanges == 0 {
		r.Anomalies = append(r.Anomalies, "no focus interaction")
		r.Score += noFocusPenalty
	}

	r.Level = LevelFor(r.Score)
	return r
}

// Findings bundles the component results for one attempt.
type Findings struct {
	Automation  detect.Finding
	Headless    detect.Finding
	Network     detect.Finding
	Fingerprint detect.Finding
	Behavioral  AnomalyResult
}

// Assessor combines findings into assessments and records them.
type Assessor struct {
	store Store
	now   func() time.Time
}

// NewAssessor creates an assessor backed by the given audit store.
// A nil store disables persistence.
func NewAssessor(store Store) *Assessor {
	return &Assessor{store: store, now: time.Now}
}

// WithClock overrides the time source (for tests).
func (a *Assessor) WithClock(now func() time.Time) *Assessor {
	a.now = now
	return a
}

// Assess sums the confidence of all positive findings, clamps the result
// to [0, 100], and grades it. The assessment is persisted asynchronously
// as a best-effort audit trail.
func (a *Assessor) Assess(ctx context.Context, session string, f Findings) *Assessment {
	assessment := &Assessment{
		ID:          idgen.WithPrefix("thr_"),
		Session:     session,
		EvaluatedAt: a.now(),
	}

	if f.Automation.Detected {
		assessment.Threats = append(assessment.Threats, Threat{
			Type:       ThreatAutomationTool,
			Confidence: f.Automation.Score,
			Details:    f.Automation.Reasons,
		})
		assessment.Confidence += f.Automation.Score
	}

	if f.Headless.Detected {
		assessment.Threats = append(assessment.Threats, Threat{
			Type:       ThreatHeadlessBrowser,
			Confidence: f.Headless.Score,
			Details:    f.Headless.Reasons,
		})
		assessment.Confidence += f.Headless.Score
	}

	if f.Behavioral.HasAnomalies() {
		assessment.Threats = append(assessment.Threats, Threat{
			Type:       ThreatBehavioralAnomaly,
			Confidence: f.Behavioral.Score,
			Details:    f.Behavioral.Anomalies,
		})
		assessment.Confidence += f.Behavioral.Score
	}

	if f.Network.Detected {
		assessment.Threats = append(assessment.Threats, Threat{
			Type:       ThreatNetworkAnomaly,
			Confidence: f.Network.Score,
			Details:    f.Network.Reasons,
		})
		assessment.Confidence += f.Network.Score
	}

	if f.Fingerprint.Detected {
		assessment.Threats = append(assessment.Threats, Threat{
			Type:       ThreatImplausibleFingerprint,
			Confidence: f.Fingerprint.Score,
			Details:    f.Fingerprint.Reasons,
		})
		assessment.Confidence += f.Fingerprint.Score
	}

	if assessment.Confidence > 100 {
		assessment.Confidence = 100
	}
	if assessment.Confidence < 0 {
		assessment.Confidence = 0
	}
	assessment.Level = LevelFor(assessment.Confidence)

	switch assessment.Level {
	case LevelCritical:
		assessment.Recommendations = append(assessment.Recommendations, "Immediate blocking recommended")
	case LevelHigh:
		assessment.Recommendations = append(assessment.Recommendations, "Enhanced verification required")
	case LevelMedium:
		assessment.Recommendations = append(assessment.Recommendations, "Additional monitoring recommended")
	}

	// Persist asynchronously (best-effort audit trail)
	if a.store != nil {
		go func() {
			_ = a.store.Record(context.Background(), assessment)
		}()
	}

	return assessment
}
