// Package verify orchestrates the human-verification flow.
//
// The flow for a session:
//  1. Begin issues a challenge and opens the attempt (status presented)
//  2. the client works the challenge while telemetry accumulates
//  3. Submit runs the decision pipeline: rate limit, attempt accounting,
//     threat assessment, answer validation, behavioral override
//  4. success persists a verified flag (24h) and an outcome record;
//     failure either retries with a fresh challenge, denies, or blocks
//
// All state lives in the injected kv.Store, so the gate itself is
// stateless apart from the table of outstanding challenges.
package verify

import (
	"errors"
	"time"

	"github.com/mbd888/verigate/internal/challenge"
	"github.com/mbd888/verigate/internal/risk"
)

var (
	// ErrNoChallenge is returned when Submit arrives for a session with
	// no outstanding challenge.
	ErrNoChallenge = errors.New("no active challenge for session")
	// ErrSessionRequired is returned for empty session identifiers.
	ErrSessionRequired = errors.New("session identifier required")
)

// Status is the verification state of a session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPresented  Status = "presented"
	StatusEvaluating Status = "evaluating"
	StatusVerified   Status = "verified"
	StatusRetry      Status = "retry"
	StatusDenied     Status = "denied"
	StatusBlocked    Status = "blocked"
)

const (
	// FlagTTL is the default lifetime of a verified flag. Deployments
	// override it through WithFlagTTL.
	FlagTTL = 24 * time.Hour
	// MaxRecords caps the per-session outcome log; oldest entries are
	// dropped first.
	MaxRecords = 50
	// ChallengeTTL is how long an unanswered challenge stays outstanding.
	// Session IDs are client-chosen, so abandoned sessions must not pin
	// their challenges in memory forever.
	ChallengeTTL = 30 * time.Minute
)

// Record is one persisted verification outcome.
type Record struct {
	At            time.Time      `json:"at"`
	Success       bool           `json:"success"`
	ChallengeKind challenge.Kind `json:"challengeKind,omitempty"`
	RiskLevel     risk.Level     `json:"riskLevel,omitempty"`
	BehaviorScore int            `json:"behaviorScore"`
	Attempt       int            `json:"attempt"`
	Reason        string         `json:"reason,omitempty"`
	Fingerprint   string         `json:"fingerprint,omitempty"`
}

// Result is the outcome of a gate operation.
type Result struct {
	Status        Status               `json:"status"`
	Challenge     *challenge.Challenge `json:"challenge,omitempty"`
	Assessment    *risk.Assessment     `json:"assessment,omitempty"`
	BehaviorScore int                  `json:"behaviorScore,omitempty"`
	Attempts      int                  `json:"attempts"`
	RetryAfter    time.Duration        `json:"retryAfter,omitempty"`
	Reason        string               `json:"reason,omitempty"`
}
