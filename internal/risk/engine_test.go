package risk

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/verigate/internal/detect"
	"github.com/mbd888/verigate/internal/inputpattern"
	"github.com/mbd888/verigate/internal/telemetry"
)

func humanSample() telemetry.Sample {
	return telemetry.Sample{
		PointerMoves: 15,
		KeyPresses:   6,
		Elapsed:      5 * time.Second,
		Scrolled:     true,
		FocusChanges: 2,
	}
}

func TestLevelFor(t *testing.T) {
	cases := []struct {
		score int
		want  Level
	}{
		{0, LevelMinimal},
		{19, LevelMinimal},
		{20, LevelLow},
		{39, LevelLow},
		{40, LevelMedium},
		{59, LevelMedium},
		{60, LevelHigh},
		{79, LevelHigh},
		{80, LevelCritical},
		{100, LevelCritical},
	}
	for _, tc := range cases {
		if got := LevelFor(tc.score); got != tc.want {
			t.Errorf("LevelFor(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestAnomaliesHumanBaseline(t *testing.T) {
	r := Anomalies(humanSample(), inputpattern.Result{Pattern: inputpattern.PatternNormal})
	if r.HasAnomalies() {
		t.Errorf("human sample flagged: %v", r.Anomalies)
	}
	if r.Score != 0 {
		t.Errorf("score = %d, want 0", r.Score)
	}
	if r.Level != LevelMinimal {
		t.Errorf("level = %s, want minimal", r.Level)
	}
}

func TestAnomaliesBotSample(t *testing.T) {
	sample := telemetry.Sample{Elapsed: 200 * time.Millisecond}
	r := Anomalies(sample, inputpattern.Result{Pattern: inputpattern.PatternProgrammatic})
	// fast 30 + no pointer 25 + no keys 20 + programmatic 35 + no scroll 10 + no focus 10.
	if r.Score != 130 {
		t.Errorf("score = %d, want 130: %v", r.Score, r.Anomalies)
	}
}

func TestAnomaliesExcessActivity(t *testing.T) {
	sample := telemetry.Sample{
		PointerMoves: 150,
		KeyPresses:   80,
		Elapsed:      5 * time.Second,
		Scrolled:     true,
		FocusChanges: 1,
	}
	r := Anomalies(sample, inputpattern.Result{Pattern: inputpattern.PatternNormal})
	if r.Score != excessPointerPenalty+excessKeyboardPenalty {
		t.Errorf("score = %d, want %d: %v", r.Score, excessPointerPenalty+excessKeyboardPenalty, r.Anomalies)
	}
}

func TestAssessQuietComponentsAddNothing(t *testing.T) {
	assessor := NewAssessor(nil)
	a := assessor.Assess(context.Background(), "ses_1", Findings{
		// Scores present but Detected false must not count.
		Automation: detect.Finding{Detected: false, Score: 25},
		Headless:   detect.Finding{Detected: false, Score: 45},
	})
	if a.Confidence != 0 {
		t.Errorf("confidence = %d, want 0", a.Confidence)
	}
	if a.Level != LevelMinimal {
		t.Errorf("level = %s, want minimal", a.Level)
	}
	if len(a.Threats) != 0 {
		t.Errorf("threats = %v, want none", a.Threats)
	}
}

func TestAssessSumsPositiveFindings(t *testing.T) {
	assessor := NewAssessor(nil)
	a := assessor.Assess(context.Background(), "ses_1", Findings{
		Automation: detect.Finding{Detected: true, Score: 25, Reasons: []string{"selenium signature in user agent"}},
		Network:    detect.Finding{Detected: true, Score: 20, Reasons: []string{"missing vendor runtime"}},
	})
	if a.Confidence != 45 {
		t.Errorf("confidence = %d, want 45", a.Confidence)
	}
	if a.Level != LevelMedium {
		t.Errorf("level = %s, want medium", a.Level)
	}
	if len(a.Threats) != 2 {
		t.Fatalf("threats = %d, want 2", len(a.Threats))
	}
	if a.Threats[0].Type != ThreatAutomationTool {
		t.Errorf("first threat = %s, want automation_tool", a.Threats[0].Type)
	}
	if len(a.Recommendations) != 1 || a.Recommendations[0] != "Additional monitoring recommended" {
		t.Errorf("recommendations = %v", a.Recommendations)
	}
}

func TestAssessClampsConfidence(t *testing.T) {
	assessor := NewAssessor(nil)
	a := assessor.Assess(context.Background(), "ses_1", Findings{
		Automation: detect.Finding{Detected: true, Score: 150},
		Headless:   detect.Finding{Detected: true, Score: 100},
		Behavioral: AnomalyResult{Anomalies: []string{"programmatic input detected"}, Score: 130},
	})
	if a.Confidence != 100 {
		t.Errorf("confidence = %d, want clamped 100", a.Confidence)
	}
	if a.Level != LevelCritical {
		t.Errorf("level = %s, want critical", a.Level)
	}
	if len(a.Recommendations) != 1 || a.Recommendations[0] != "Immediate blocking recommended" {
		t.Errorf("recommendations = %v", a.Recommendations)
	}
}

func TestAssessRecommendationPerLevel(t *testing.T) {
	assessor := NewAssessor(nil)

	a := assessor.Assess(context.Background(), "ses_1", Findings{
		Headless: detect.Finding{Detected: true, Score: 60},
	})
	if a.Level != LevelHigh {
		t.Fatalf("level = %s, want high", a.Level)
	}
	if len(a.Recommendations) != 1 || a.Recommendations[0] != "Enhanced verification required" {
		t.Errorf("recommendations = %v", a.Recommendations)
	}

	a = assessor.Assess(context.Background(), "ses_1", Findings{
		Network: detect.Finding{Detected: true, Score: 15},
	})
	if len(a.Recommendations) != 0 {
		t.Errorf("low level should carry no recommendation: %v", a.Recommendations)
	}
}

func TestAssessIncludesFingerprintFinding(t *testing.T) {
	assessor := NewAssessor(nil)

	a := assessor.Assess(context.Background(), "ses_1", Findings{
		Fingerprint: detect.Finding{
			Detected: true,
			Score:    37,
			Reasons:  []string{"canvas data trivial or missing"},
		},
	})
	if a.Confidence != 37 {
		t.Errorf("confidence = %d, want 37", a.Confidence)
	}
	if len(a.Threats) != 1 || a.Threats[0].Type != ThreatImplausibleFingerprint {
		t.Errorf("threats = %+v, want one implausible_fingerprint", a.Threats)
	}
}

func TestAssessRecordsToStore(t *testing.T) {
	store := NewMemoryStore()
	assessor := NewAssessor(store)

	assessor.Assess(context.Background(), "ses_1", Findings{
		Automation: detect.Finding{Detected: true, Score: 50},
	})

	// Recording is async; poll briefly.
	deadline := time.Now().Add(time.Second)
	for {
		got, err := store.ListBySession(context.Background(), "ses_1", 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) == 1 {
			if got[0].Confidence != 50 {
				t.Errorf("stored confidence = %d, want 50", got[0].Confidence)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("assessment never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
