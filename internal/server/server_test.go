package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/verigate/internal/config"
	"github.com/mbd888/verigate/internal/risk"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		FlagTTLHours:     24,
		HeadlessLeniency: 30,
	}
}

// newTestServer creates a server with in-memory storage
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"POST:/v1/verification/begin",
		"POST:/v1/verification/submit",
		"GET:/v1/verification/status/:session",
		"GET:/v1/verification/records/:session",
		"POST:/v1/verification/reset/:session",
		"POST:/v1/telemetry/:session/events",
		"POST:/v1/fingerprint",
		"GET:/v1/assessments/:session",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Status page test
// ---------------------------------------------------------------------------

func TestStatusPage(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for status page, got %d", w.Code)
	}

	if w.Header().Get("Content-Type") == "" {
		t.Error("Expected Content-Type header")
	}
}

// ---------------------------------------------------------------------------
// Verification flow tests
// ---------------------------------------------------------------------------

func TestBeginIssuesChallenge(t *testing.T) {
	s := newTestServer(t)

	body := `{"session":"ses_test_1"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/verification/begin", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "presented" {
		t.Errorf("Expected status 'presented', got %v", resp["status"])
	}
	ch, ok := resp["challenge"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected challenge in response")
	}
	if ch["prompt"] == nil || ch["prompt"] == "" {
		t.Error("Expected non-empty challenge prompt")
	}
	if _, hasAnswer := ch["answer"]; hasAnswer {
		t.Error("Challenge answer must never be exposed")
	}
}

func TestBeginRejectsBadSession(t *testing.T) {
	s := newTestServer(t)

	body := `{"session":"not a valid session!"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/verification/begin", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestSubmitWithoutBegin(t *testing.T) {
	s := newTestServer(t)

	body := `{"session":"ses_nobody","answer":"42","signals":{"userAgent":"test"}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/verification/submit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for submit without begin, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitWrongAnswer(t *testing.T) {
	s := newTestServer(t)

	// Begin first
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/verification/begin", strings.NewReader(`{"session":"ses_wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("begin failed: %d", w.Code)
	}

	body := `{
		"session": "ses_wrong",
		"answer": "definitely not it",
		"sample": {"pointerMoves": 12, "keyPresses": 4, "elapsedMs": 5000, "scrolled": true, "focusChanges": 1},
		"signals": {"userAgent": "Mozilla/5.0 Chrome/120.0", "hasVendorRuntime": true, "connectionType": "4g"}
	}`
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/verification/submit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "denied" {
		t.Errorf("Expected status 'denied', got %v", resp["status"])
	}
	if resp["challenge"] == nil {
		t.Error("Expected fresh challenge after denial")
	}
}

func TestTelemetryIngest(t *testing.T) {
	s := newTestServer(t)

	// Without a window, ingest conflicts
	body := `{"events":[{"kind":"pointermove"}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/telemetry/ses_tel/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 without a window, got %d", w.Code)
	}

	// Begin opens a window
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/verification/begin", strings.NewReader(`{"session":"ses_tel"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("begin failed: %d", w.Code)
	}

	body = `{"events":[{"kind":"pointermove"},{"kind":"keydown"},{"kind":"scroll"},{"kind":"paste","valueLen":12}]}`
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/telemetry/ses_tel/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["recorded"].(float64) != 4 {
		t.Errorf("Expected 4 recorded events, got %v", resp["recorded"])
	}
}

func TestIdleRecordersEvicted(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/verification/begin", strings.NewReader(`{"session":"ses_idle"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("begin failed: %d", w.Code)
	}

	body := `{"events":[{"kind":"pointermove"}]}`
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/telemetry/ses_idle/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202 with an open window, got %d", w.Code)
	}

	// Evict everything idle past the cutoff, as the janitor does on its tick.
	s.evictIdleRecorders(time.Now().Add(time.Minute))

	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/telemetry/ses_idle/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 after eviction, got %d", w.Code)
	}
}

func TestFingerprintEndpoint(t *testing.T) {
	s := newTestServer(t)

	body := `{"userAgent":"Mozilla/5.0","language":"en-US","screenWidth":1920,"screenHeight":1080,"platform":"Win32"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/fingerprint", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	fp, _ := resp["fingerprint"].(string)
	if len(fp) != 32 {
		t.Errorf("Expected 32-char fingerprint, got %q", fp)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/verification/status/ses_status", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "idle" {
		t.Errorf("Expected status 'idle', got %v", resp["status"])
	}
}

func TestSessionParamValidation(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/verification/status/bad%20session", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed session param, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Admin tests
// ---------------------------------------------------------------------------

func TestResetRequiresAdminSecret(t *testing.T) {
	cfg := testConfig()
	cfg.AdminSecret = "s3cret"
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	// No secret header
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/verification/reset/ses_admin", nil)
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without secret, got %d", w.Code)
	}

	// With secret
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/verification/reset/ses_admin", nil)
	req.Header.Set("X-Admin-Secret", "s3cret")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with secret, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Assessment trail pagination tests
// ---------------------------------------------------------------------------

func TestAssessmentsPagination(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.riskStore.Record(ctx, &risk.Assessment{
			ID:          fmt.Sprintf("asm_%02d", i),
			Session:     "ses_page",
			Confidence:  10,
			Level:       risk.LevelLow,
			EvaluatedAt: time.Date(2026, 9, 1, 10, i, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("Failed to record assessment: %v", err)
		}
	}

	fetch := func(query string) map[string]interface{} {
		t.Helper()
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/v1/assessments/ses_page"+query, nil)
		s.router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		return resp
	}

	// First page: newest two of five
	resp := fetch("?limit=2")
	if resp["count"].(float64) != 2 {
		t.Errorf("Expected count 2, got %v", resp["count"])
	}
	if resp["hasMore"] != true {
		t.Error("Expected hasMore on first page")
	}
	cursor, ok := resp["nextCursor"].(string)
	if !ok || cursor == "" {
		t.Fatal("Expected a nextCursor on first page")
	}
	items := resp["assessments"].([]interface{})
	first := items[0].(map[string]interface{})
	if first["id"] != "asm_04" {
		t.Errorf("Expected newest assessment first, got %v", first["id"])
	}

	// Second page resumes after the cursor
	resp = fetch("?limit=2&cursor=" + cursor)
	items = resp["assessments"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("Expected 2 items on second page, got %d", len(items))
	}
	if items[0].(map[string]interface{})["id"] != "asm_02" {
		t.Errorf("Expected asm_02 first on second page, got %v", items[0].(map[string]interface{})["id"])
	}

	// Final page has the remainder and no cursor
	cursor = resp["nextCursor"].(string)
	resp = fetch("?limit=2&cursor=" + cursor)
	if resp["count"].(float64) != 1 {
		t.Errorf("Expected 1 item on final page, got %v", resp["count"])
	}
	if resp["hasMore"] != false {
		t.Error("Expected hasMore false on final page")
	}
	if _, ok := resp["nextCursor"]; ok {
		t.Error("Expected no nextCursor on final page")
	}
}

func TestAssessmentsRejectsBadLimit(t *testing.T) {
	s := newTestServer(t)

	for _, q := range []string{"?limit=0", "?limit=51", "?limit=abc"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/v1/assessments/ses_1"+q, nil)
		s.router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for %q, got %d", q, w.Code)
		}
	}
}

func TestAssessmentsRejectsBadCursor(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/assessments/ses_1?cursor=%21%21%21", nil)
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed cursor, got %d", w.Code)
	}
}
