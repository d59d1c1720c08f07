package detect

import (
	"testing"

	"github.com/mbd888/verigate/internal/fingerprint"
)

// fixtureProvider is a hand-built Provider for tests.
type fixtureProvider struct {
	ua       string
	probes   map[string]bool
	connType string
	vendor   bool
}

func (p fixtureProvider) UserAgent() string      { return p.ua }
func (p fixtureProvider) Probe(name string) bool { return p.probes[name] }
func (p fixtureProvider) ConnectionType() string { return p.connType }
func (p fixtureProvider) VendorRuntime() bool    { return p.vendor }

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestAutomationClean(t *testing.T) {
	f := Automation(fixtureProvider{ua: chromeUA, vendor: true})
	if f.Detected {
		t.Errorf("clean user agent detected as automation: %+v", f)
	}
	if f.Score != 0 {
		t.Errorf("score = %d, want 0", f.Score)
	}
}

func TestAutomationSingleTool(t *testing.T) {
	f := Automation(fixtureProvider{ua: "Mozilla/5.0 selenium/4.0"})
	if !f.Detected {
		t.Fatal("selenium user agent not detected")
	}
	if f.Score != 25 {
		t.Errorf("score = %d, want 25", f.Score)
	}
}

func TestAutomationOneHitPerFamily(t *testing.T) {
	// Multiple selenium patterns still score once for the family.
	f := Automation(fixtureProvider{ua: "selenium webdriver __selenium_"})
	if f.Score != 25 {
		t.Errorf("score = %d, want 25 for one family", f.Score)
	}
}

func TestAutomationUncappedAcrossFamilies(t *testing.T) {
	// "headless-chrome" alone trips puppeteer (headless), playwright
	// (headless-chrome) and more; stack families explicitly.
	f := Automation(fixtureProvider{ua: "selenium puppeteer playwright phantomjs cypress bot"})
	if f.Score != 6*25 {
		t.Errorf("score = %d, want %d for six families", f.Score, 6*25)
	}
}

func TestAutomationCaseInsensitive(t *testing.T) {
	f := Automation(fixtureProvider{ua: "Mozilla/5.0 HeadlessChrome/120.0"})
	if !f.Detected {
		t.Error("mixed-case headless user agent not detected")
	}
}

func TestHeadlessBelowThreshold(t *testing.T) {
	// Three positive probes: 45 points, under the strict threshold of 50.
	f := Headless(fixtureProvider{probes: map[string]bool{
		"plugins": true, "battery": true, "connection": true,
	}}, HeadlessOptions{})
	if f.Detected {
		t.Errorf("45 points flagged as headless: %+v", f)
	}
	if f.Score != 45 {
		t.Errorf("score = %d, want 45", f.Score)
	}
}

func TestHeadlessAboveThreshold(t *testing.T) {
	f := Headless(fixtureProvider{probes: map[string]bool{
		"plugins": true, "languages": true, "webdriver": true, "battery": true,
	}}, HeadlessOptions{})
	if !f.Detected {
		t.Errorf("60 points not flagged: %+v", f)
	}
}

func TestHeadlessScoreCap(t *testing.T) {
	probes := make(map[string]bool, len(HeadlessProbes))
	for _, name := range HeadlessProbes {
		probes[name] = true
	}
	f := Headless(fixtureProvider{probes: probes}, HeadlessOptions{})
	if f.Score != 100 {
		t.Errorf("score = %d, want capped 100", f.Score)
	}
}

func TestHeadlessTrustedLeniency(t *testing.T) {
	probes := map[string]bool{
		"plugins": true, "languages": true, "webdriver": true,
		"battery": true, "connection": true,
	}
	// 75 points: flagged strictly, tolerated when trusted (threshold 80).
	strict := Headless(fixtureProvider{probes: probes}, HeadlessOptions{})
	if !strict.Detected {
		t.Error("75 points should trip the strict threshold")
	}
	trusted := Headless(fixtureProvider{probes: probes}, HeadlessOptions{Trusted: true})
	if trusted.Detected {
		t.Error("75 points should pass the trusted threshold of 80")
	}
	// Six probes score 90, over the trusted base on their own.
	probes["mediaDevices"] = true
	over := Headless(fixtureProvider{probes: probes}, HeadlessOptions{Trusted: true})
	if !over.Detected {
		t.Error("90 points should trip the trusted threshold of 80")
	}
	// A leniency offset discounts the score; 90-15=75 stays under 80.
	lenient := Headless(fixtureProvider{probes: probes}, HeadlessOptions{Trusted: true, Leniency: 15})
	if lenient.Detected {
		t.Error("90 points with leniency 15 should pass the trusted threshold")
	}
}

func TestHeadlessTrustedNeverStricterThanBase(t *testing.T) {
	// The shipped default leniency must not collapse the trusted bar back
	// to the strict threshold: four probes score 60, which trips strict
	// mode but never a trusted environment, whatever the leniency.
	probes := map[string]bool{
		"plugins": true, "languages": true, "webdriver": true, "battery": true,
	}
	strict := Headless(fixtureProvider{probes: probes}, HeadlessOptions{})
	if !strict.Detected {
		t.Error("60 points should trip the strict threshold")
	}
	for _, leniency := range []int{0, 30} {
		f := Headless(fixtureProvider{probes: probes}, HeadlessOptions{Trusted: true, Leniency: leniency})
		if f.Detected {
			t.Errorf("60 points flagged in trusted mode with leniency %d", leniency)
		}
	}
}

func TestNetworkAnomalies(t *testing.T) {
	f := Network(fixtureProvider{ua: chromeUA, connType: "4g", vendor: true})
	if f.Detected {
		t.Errorf("clean network flagged: %+v", f)
	}

	f = Network(fixtureProvider{ua: "phantom", connType: "2g", vendor: false})
	if f.Score != 15+40+20 {
		t.Errorf("score = %d, want 75", f.Score)
	}
	if len(f.Reasons) != 3 {
		t.Errorf("reasons = %v, want 3 entries", f.Reasons)
	}
}

func TestSignalsProvider(t *testing.T) {
	p := SignalsProvider{Signals: fingerprint.Signals{
		UserAgent:        chromeUA,
		ConnectionType:   "4g",
		HasVendorRuntime: true,
		WebDriver:        true,
		HeadlessIndicators: map[string]bool{
			"plugins": true,
		},
	}}

	if !p.Probe("webdriver") {
		t.Error("webdriver flag not surfaced as probe")
	}
	if !p.Probe("plugins") {
		t.Error("reported indicator not surfaced")
	}
	if p.Probe("battery") {
		t.Error("unreported probe should be false")
	}
}
