// Package detect identifies automation tooling, headless browsers, and
// network anomalies from client environment signals.
//
// Detectors read probes through the Provider interface rather than any
// global state, so the same checks run identically against live submitted
// signals and against fixtures in tests. Each check returns a Finding with
// a score and the reasons that produced it; the risk package combines
// findings into an overall assessment.
package detect

import (
	"strings"

	"github.com/mbd888/verigate/internal/fingerprint"
)

// Provider supplies the environment probes the detectors read.
type Provider interface {
	// UserAgent returns the raw user agent string.
	UserAgent() string
	// Probe reports the result of a named headless probe, e.g. "plugins"
	// true when the plugin list was empty. Unknown probes return false.
	Probe(name string) bool
	// ConnectionType returns the effective connection type when the
	// network information API was available ("slow-2g", "2g", ...).
	ConnectionType() string
	// VendorRuntime reports whether the browser vendor runtime object
	// was present.
	VendorRuntime() bool
}

// Finding is the outcome of one detection check.
type Finding struct {
	Detected bool     `json:"detected"`
	Score    int      `json:"score"`
	Reasons  []string `json:"reasons,omitempty"`
}

// HeadlessProbes lists the probe names a client is expected to report.
// Each positive probe contributes headlessPointsPerProbe to the score.
var HeadlessProbes = []string{
	"plugins",
	"languages",
	"permissions",
	"webdriver",
	"connection",
	"battery",
	"mediaDevices",
	"geolocation",
	"notifications",
	"serviceWorker",
	"webgl",
	"canvasFingerprint",
	"fonts",
	"audioContext",
}

// SignalsProvider adapts submitted fingerprint signals to the Provider
// interface. Probes the client did not report default to false.
type SignalsProvider struct {
	Signals fingerprint.Signals
}

func (p SignalsProvider) UserAgent() string { return p.Signals.UserAgent }

func (p SignalsProvider) Probe(name string) bool {
	if name == "webdriver" && p.Signals.WebDriver {
		return true
	}
	return p.Signals.HeadlessIndicators[name]
}

func (p SignalsProvider) ConnectionType() string { return p.Signals.ConnectionType }

func (p SignalsProvider) VendorRuntime() bool { return p.Signals.HasVendorRuntime }

// automationSignatures maps tool families to the user agent substrings
// that betray them. Matching is case-insensitive; one hit per family.
var automationSignatures = map[string][]string{
	"selenium": {
		"selenium",
		"webdriver",
		"__webdriver_",
		"__selenium_",
		"webdriver-evaluate",
		"webdriver-evaluate-result",
	},
	"puppeteer": {
		"puppeteer",
		"headless",
		"chrome-linux",
		"chrome-headless",
	},
	"playwright": {
		"playwright",
		"playwright-browser",
		"headless-chrome",
	},
	"phantomjs": {
		"phantomjs",
		"phantom",
		"phantomjs-bridge",
	},
	"cypress": {
		"cypress",
		"cypress-browser",
		"__cypress",
	},
	"automation": {
		"automation",
		"bot",
		"crawler",
		"spider",
		"scraper",
	},
}

const (
	automationPointsPerTool = 25
	headlessPointsPerProbe  = 15
	headlessScoreCap        = 100

	// StrictHeadlessThreshold flags headless environments in normal
	// operation. Trusted environments compare against the higher
	// TrustedHeadlessBase after discounting the score by the configured
	// leniency offset, so hardened legitimate browsers pass.
	StrictHeadlessThreshold = 50
	TrustedHeadlessBase     = 80
)

// Automation scans the user agent for known automation tool signatures.
// Each matched family contributes a fixed score; the sum is uncapped.
func Automation(p Provider) Finding {
	ua := strings.ToLower(p.UserAgent())

	var f Finding
	for _, family := range []string{"selenium", "puppeteer", "playwright", "phantomjs", "cypress", "automation"} {
		for _, pattern := range automationSignatures[family] {
			if strings.Contains(ua, pattern) {
				f.Score += automationPointsPerTool
				f.Reasons = append(f.Reasons, family+" signature in user agent")
				break
			}
		}
	}
	f.Detected = f.Score > 0
	return f
}

// HeadlessOptions tunes the headless decision threshold.
type HeadlessOptions struct {
	// Trusted raises the decision threshold for trusted environments.
	Trusted bool
	// Leniency is subtracted from the score before the trusted
	// comparison. Larger values make detection less likely.
	Leniency int
}

// Headless counts positive probes. Each contributes a fixed score, capped
// at 100; the environment is flagged when the score passes the threshold.
func Headless(p Provider, opts HeadlessOptions) Finding {
	var f Finding
	for _, probe := range HeadlessProbes {
		if p.Probe(probe) {
			f.Score += headlessPointsPerProbe
			f.Reasons = append(f.Reasons, "probe "+probe+" positive")
		}
	}
	if f.Score > headlessScoreCap {
		f.Score = headlessScoreCap
	}

	effective := f.Score
	threshold := StrictHeadlessThreshold
	if opts.Trusted {
		effective -= opts.Leniency
		threshold = TrustedHeadlessBase
	}
	f.Detected = effective > threshold
	return f
}

// Network checks for connection and user agent anomalies.
func Network(p Provider) Finding {
	var f Finding

	switch p.ConnectionType() {
	case "slow-2g", "2g":
		f.Score += 15
		f.Reasons = append(f.Reasons, "suspicious connection type")
	}

	ua := strings.ToLower(p.UserAgent())
	if strings.Contains(ua, "headless") || strings.Contains(ua, "phantom") {
		f.Score += 40
		f.Reasons = append(f.Reasons, "headless browser in user agent")
	}

	if !p.VendorRuntime() {
		f.Score += 20
		f.Reasons = append(f.Reasons, "missing vendor runtime")
	}

	f.Detected = f.Score > 0
	return f
}
