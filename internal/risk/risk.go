// Package risk combines detection findings into an overall threat
// assessment for a verification attempt.
//
// Each detection component contributes its confidence only when it
// actually found something; quiet components add nothing. The summed
// confidence is clamped to [0, 100] and mapped onto five levels, from
// minimal to critical, each with an operator recommendation.
package risk

import (
	"context"
	"time"
)

// Level grades the overall threat of an attempt.
type Level string

const (
	LevelMinimal  Level = "minimal"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Level cut points over the 0-100 confidence scale.
const (
	criticalFloor = 80
	highFloor     = 60
	mediumFloor   = 40
	lowFloor      = 20
)

// LevelFor maps a confidence score to its level.
func LevelFor(score int) Level {
	switch {
	case score >= criticalFloor:
		return LevelCritical
	case score >= highFloor:
		return LevelHigh
	case score >= mediumFloor:
		return LevelMedium
	case score >= lowFloor:
		return LevelLow
	default:
		return LevelMinimal
	}
}

// ThreatType identifies which detector raised a threat.
type ThreatType string

const (
	ThreatAutomationTool         ThreatType = "automation_tool"
	ThreatHeadlessBrowser        ThreatType = "headless_browser"
	ThreatBehavioralAnomaly      ThreatType = "behavioral_anomaly"
	ThreatNetworkAnomaly         ThreatType = "network_anomaly"
	ThreatImplausibleFingerprint ThreatType = "implausible_fingerprint"
)

// Threat is one positive finding inside an assessment.
type Threat struct {
	Type       ThreatType `json:"type"`
	Confidence int        `json:"confidence"`
	Details    []string   `json:"details,omitempty"`
}

// Assessment is the combined verdict over all detection components.
type Assessment struct {
	ID              string    `json:"id"`
	Session         string    `json:"session"`
	Confidence      int       `json:"confidence"`
	Level           Level     `json:"level"`
	Threats         []Threat  `json:"threats,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	EvaluatedAt     time.Time `json:"evaluatedAt"`
}

// Store persists assessments for audit trail.
type Store interface {
	Record(ctx context.Context, assessment *Assessment) error
	ListBySession(ctx context.Context, session string, limit int) ([]*Assessment, error)
}
