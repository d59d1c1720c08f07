package verify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/verigate/internal/behavior"
	"github.com/mbd888/verigate/internal/challenge"
	"github.com/mbd888/verigate/internal/detect"
	"github.com/mbd888/verigate/internal/fingerprint"
	"github.com/mbd888/verigate/internal/inputpattern"
	"github.com/mbd888/verigate/internal/kv"
	"github.com/mbd888/verigate/internal/ratelimit"
	"github.com/mbd888/verigate/internal/risk"
	"github.com/mbd888/verigate/internal/syncutil"
	"github.com/mbd888/verigate/internal/telemetry"
)

// severeScoreFloor: a correct answer still fails when the attempt is
// suspicious and the behavioral score sits below this floor.
const severeScoreFloor = -50

// Gate runs the verification flow over injected dependencies.
type Gate struct {
	store    kv.Store
	gen      *challenge.Generator
	limiter  *ratelimit.Gate
	assessor *risk.Assessor

	trusted  bool
	leniency int
	flagTTL  time.Duration

	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	active    map[string]challenge.Challenge // session → outstanding challenge
	lastSweep time.Time

	// locks serializes mutating operations per session. The store does
	// read-modify-write on attempt counters and the outcome log, so two
	// concurrent submits for one session must not interleave.
	locks *syncutil.ContextShardedMutex
}

// Option configures a Gate.
type Option func(*Gate)

// WithGenerator overrides the challenge generator.
func WithGenerator(gen *challenge.Generator) Option {
	return func(g *Gate) { g.gen = gen }
}

// WithLimiter overrides the backoff gate.
func WithLimiter(limiter *ratelimit.Gate) Option {
	return func(g *Gate) { g.limiter = limiter }
}

// WithAssessor overrides the threat assessor.
func WithAssessor(assessor *risk.Assessor) Option {
	return func(g *Gate) { g.assessor = assessor }
}

// WithTrustedEnvironment marks the deployment as trusted: critical
// assessments log instead of forcing a retry, the behavior scorer grants
// its bonus, and headless detection loosens by the leniency offset.
func WithTrustedEnvironment(trusted bool, leniency int) Option {
	return func(g *Gate) {
		g.trusted = trusted
		g.leniency = leniency
	}
}

// WithFlagTTL overrides how long a verified flag stays valid.
func WithFlagTTL(ttl time.Duration) Option {
	return func(g *Gate) { g.flagTTL = ttl }
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// NewGate creates a verification gate over the given store.
func NewGate(store kv.Store, opts ...Option) *Gate {
	g := &Gate{
		store:   store,
		logger:  slog.Default(),
		now:     time.Now,
		flagTTL: FlagTTL,
		active:  make(map[string]challenge.Challenge),
		locks:   syncutil.NewContextShardedMutex(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.gen == nil {
		g.gen = challenge.NewGenerator()
	}
	if g.limiter == nil {
		g.limiter = ratelimit.NewGate(store)
	}
	if g.assessor == nil {
		g.assessor = risk.NewAssessor(nil)
	}
	return g
}

// Begin issues a challenge for the session. An active block short-circuits
// without consuming an attempt.
func (g *Gate) Begin(ctx context.Context, session string) (Result, error) {
	if session == "" {
		return Result{}, ErrSessionRequired
	}

	unlock, err := g.locks.LockContext(ctx, session)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	now := g.now()
	if verified, err := g.IsVerified(ctx, session); err == nil && verified {
		return Result{Status: StatusVerified}, nil
	}

	st, err := g.limiter.IsBlocked(ctx, session, now)
	if err != nil {
		return Result{}, err
	}
	if st.Blocked {
		return Result{
			Status:     StatusBlocked,
			RetryAfter: st.RetryAfter,
			Attempts:   st.Attempts,
		}, nil
	}

	c := g.gen.Generate()
	g.mu.Lock()
	g.sweepActive(now)
	g.active[session] = c
	g.mu.Unlock()

	g.logger.Info("challenge presented",
		"session", session,
		"challenge_id", c.ID,
		"kind", string(c.Kind))

	return Result{Status: StatusPresented, Challenge: &c, Attempts: st.Attempts}, nil
}

// Submit runs the decision pipeline for an answer.
func (g *Gate) Submit(ctx context.Context, session, answer string, sample telemetry.Sample, signals fingerprint.Signals) (Result, error) {
	if session == "" {
		return Result{}, ErrSessionRequired
	}

	unlock, err := g.locks.LockContext(ctx, session)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	now := g.now()

	// 1. Rate limit. Check records the attempt and may install a block.
	st, err := g.limiter.Check(ctx, session, now)
	if err != nil {
		return Result{}, err
	}
	if st.Blocked {
		g.logger.Warn("attempt blocked by rate limiter",
			"session", session,
			"level", st.Level,
			"retry_after", st.RetryAfter)
		return Result{
			Status:     StatusBlocked,
			RetryAfter: st.RetryAfter,
			Attempts:   st.Attempts,
		}, nil
	}
	attempts := st.Attempts

	// 2. A submit without an outstanding challenge never reaches the
	// pipeline, so sessions that skip Begin create no state.
	g.mu.Lock()
	c, ok := g.active[session]
	g.mu.Unlock()
	if !ok {
		return Result{}, ErrNoChallenge
	}

	// 3. Threat assessment over all detection components.
	provider := detect.SignalsProvider{Signals: signals}
	pattern := inputpattern.Analyze(sample.Events)
	validity := fingerprint.Validate(signals)
	assessment := g.assessor.Assess(ctx, session, risk.Findings{
		Automation:  detect.Automation(provider),
		Headless:    detect.Headless(provider, detect.HeadlessOptions{Trusted: g.trusted, Leniency: g.leniency}),
		Network:     detect.Network(provider),
		Behavioral:  risk.Anomalies(sample, pattern),
		Fingerprint: fingerprintFinding(validity),
	})

	score := behavior.Score(sample, g.trusted)
	suspicion := behavior.CheckSuspicion(sample, score.Score, attempts)
	deviceID := fingerprint.Compute(signals)

	// Stubbed or contradictory device signals count toward suspicion.
	if !validity.Plausible() {
		suspicion.Indicators = append(suspicion.Indicators, "implausible fingerprint signals")
		suspicion.Suspicious = true
		g.logger.Warn("implausible fingerprint signals",
			"session", session,
			"validity_score", validity.Score,
			"reasons", validity.Reasons)
	}

	// 4. Critical assessments force a retry with a fresh challenge,
	// except in trusted environments where they are logged only.
	if assessment.Level == risk.LevelCritical {
		if g.trusted {
			g.logger.Warn("critical threat assessment in trusted environment",
				"session", session,
				"confidence", assessment.Confidence)
		} else {
			fresh := g.rotateChallenge(session)
			g.appendRecord(ctx, session, Record{
				At:            now,
				Success:       false,
				ChallengeKind: fresh.Kind,
				RiskLevel:     assessment.Level,
				BehaviorScore: score.Score,
				Attempt:       attempts,
				Reason:        "critical threat assessment",
				Fingerprint:   deviceID,
			})
			return Result{
				Status:        StatusRetry,
				Challenge:     &fresh,
				Assessment:    assessment,
				BehaviorScore: score.Score,
				Attempts:      attempts,
				Reason:        "critical threat assessment",
			}, nil
		}
	}

	correct := c.Validate(answer)

	// 5. A correct answer overrides secondary signals unless behavior
	// was both suspicious and severely scored.
	if correct && suspicion.Suspicious && score.Score < severeScoreFloor {
		fresh := g.rotateChallenge(session)
		g.appendRecord(ctx, session, Record{
			At:            now,
			Success:       false,
			ChallengeKind: c.Kind,
			RiskLevel:     assessment.Level,
			BehaviorScore: score.Score,
			Attempt:       attempts,
			Reason:        "severe bot suspicion",
			Fingerprint:   deviceID,
		})
		return Result{
			Status:        StatusDenied,
			Challenge:     &fresh,
			Assessment:    assessment,
			BehaviorScore: score.Score,
			Attempts:      attempts,
			Reason:        "severe bot suspicion",
		}, nil
	}

	if !correct {
		fresh := g.rotateChallenge(session)
		g.appendRecord(ctx, session, Record{
			At:            now,
			Success:       false,
			ChallengeKind: c.Kind,
			RiskLevel:     assessment.Level,
			BehaviorScore: score.Score,
			Attempt:       attempts,
			Reason:        "incorrect answer",
			Fingerprint:   deviceID,
		})
		return Result{
			Status:        StatusDenied,
			Challenge:     &fresh,
			Assessment:    assessment,
			BehaviorScore: score.Score,
			Attempts:      attempts,
			Reason:        "incorrect answer",
		}, nil
	}

	// 6. Success: persist the verified flag and reset attempt accounting.
	if err := g.store.Set(ctx, session, kv.KeyVerifiedFlag, "true"); err != nil {
		return Result{}, err
	}
	if err := kv.SetTime(ctx, g.store, session, kv.KeyVerifiedAt, now); err != nil {
		return Result{}, err
	}
	if err := g.limiter.Reset(ctx, session); err != nil {
		return Result{}, err
	}

	g.mu.Lock()
	delete(g.active, session)
	g.mu.Unlock()

	g.appendRecord(ctx, session, Record{
		At:            now,
		Success:       true,
		ChallengeKind: c.Kind,
		RiskLevel:     assessment.Level,
		BehaviorScore: score.Score,
		Attempt:       attempts,
		Fingerprint:   deviceID,
	})

	g.logger.Info("session verified",
		"session", session,
		"attempts", attempts,
		"risk_level", string(assessment.Level),
		"behavior_score", score.Score)

	return Result{
		Status:        StatusVerified,
		Assessment:    assessment,
		BehaviorScore: score.Score,
		Attempts:      attempts,
	}, nil
}

// IsVerified reports whether the session holds an unexpired verified
// flag. Expired flags are cleared on read.
func (g *Gate) IsVerified(ctx context.Context, session string) (bool, error) {
	flag, err := g.store.Get(ctx, session, kv.KeyVerifiedFlag)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if flag != "true" {
		return false, nil
	}

	verifiedAt := kv.GetTime(ctx, g.store, session, kv.KeyVerifiedAt)
	if verifiedAt.IsZero() || g.now().Sub(verifiedAt) > g.flagTTL {
		_ = g.store.Delete(ctx, session, kv.KeyVerifiedFlag)
		_ = g.store.Delete(ctx, session, kv.KeyVerifiedAt)
		return false, nil
	}
	return true, nil
}

// Status summarizes the session without mutating anything.
func (g *Gate) Status(ctx context.Context, session string) (Result, error) {
	if session == "" {
		return Result{}, ErrSessionRequired
	}

	verified, err := g.IsVerified(ctx, session)
	if err != nil {
		return Result{}, err
	}
	if verified {
		return Result{Status: StatusVerified}, nil
	}

	st, err := g.limiter.IsBlocked(ctx, session, g.now())
	if err != nil {
		return Result{}, err
	}
	if st.Blocked {
		return Result{Status: StatusBlocked, RetryAfter: st.RetryAfter, Attempts: st.Attempts}, nil
	}

	g.mu.Lock()
	_, outstanding := g.active[session]
	g.mu.Unlock()
	if outstanding {
		return Result{Status: StatusPresented, Attempts: st.Attempts}, nil
	}
	return Result{Status: StatusIdle, Attempts: st.Attempts}, nil
}

// Records returns the persisted outcome log, most recent last.
func (g *Gate) Records(ctx context.Context, session string) ([]Record, error) {
	raw, err := g.store.Get(ctx, session, kv.KeyVerificationLog)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Reset clears all persisted state and the outstanding challenge for the
// session. Admin operation.
func (g *Gate) Reset(ctx context.Context, session string) error {
	if session == "" {
		return ErrSessionRequired
	}

	unlock, err := g.locks.LockContext(ctx, session)
	if err != nil {
		return err
	}
	defer unlock()

	g.mu.Lock()
	delete(g.active, session)
	g.mu.Unlock()
	return g.store.DeleteAll(ctx, session)
}

// fingerprintFinding converts signal plausibility into a classifier
// finding. Half the plausibility deficit counts as confidence, so
// stubbed device signals raise risk without dominating the verdict.
func fingerprintFinding(v fingerprint.Validation) detect.Finding {
	if v.Plausible() {
		return detect.Finding{}
	}
	return detect.Finding{
		Detected: true,
		Score:    (100 - v.Score) / 2,
		Reasons:  v.Reasons,
	}
}

// sweepActive drops outstanding challenges that were never answered.
// Called with mu held; throttled so Begin stays O(1) in the common case.
func (g *Gate) sweepActive(now time.Time) {
	if now.Sub(g.lastSweep) < time.Minute {
		return
	}
	g.lastSweep = now
	for session, c := range g.active {
		if now.Sub(c.IssuedAt) > ChallengeTTL {
			delete(g.active, session)
		}
	}
}

// rotateChallenge replaces the outstanding challenge with a fresh one.
func (g *Gate) rotateChallenge(session string) challenge.Challenge {
	c := g.gen.Generate()
	g.mu.Lock()
	g.active[session] = c
	g.mu.Unlock()
	return c
}

// appendRecord appends to the capped outcome log. Log writes are best
// effort; a storage error never fails the verification decision.
func (g *Gate) appendRecord(ctx context.Context, session string, record Record) {
	records, err := g.Records(ctx, session)
	if err != nil {
		records = nil
	}
	records = append(records, record)
	if len(records) > MaxRecords {
		records = records[len(records)-MaxRecords:]
	}

	data, err := json.Marshal(records)
	if err != nil {
		return
	}
	if err := g.store.Set(ctx, session, kv.KeyVerificationLog, string(data)); err != nil {
		g.logger.Warn("failed to persist verification record",
			"session", session,
			"error", err)
	}
}
