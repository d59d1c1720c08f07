// Package fingerprint derives a stable device identifier from client
// environment signals.
//
// The identifier is intentionally coarse: it distinguishes devices well
// enough to key attempt history and spot implausible environments, without
// being a tracking-grade fingerprint. Collection never fails; any signal
// the client could not read degrades to a placeholder and the identifier
// is computed from whatever survived.
package fingerprint

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// unavailable stands in for any component the client could not collect.
const unavailable = "unavailable"

// IDLength is the fixed length of a computed fingerprint identifier.
const IDLength = 32

// Signals holds the raw environment readings submitted by a client.
// Numeric zero values and empty strings are treated as missing.
type Signals struct {
	UserAgent           string  `json:"userAgent"`
	Language            string  `json:"language"`
	ScreenWidth         int     `json:"screenWidth"`
	ScreenHeight        int     `json:"screenHeight"`
	TimezoneOffset      *int    `json:"timezoneOffset,omitempty"`
	HardwareConcurrency int     `json:"hardwareConcurrency"`
	DeviceMemory        float64 `json:"deviceMemory"`
	CanvasData          string  `json:"canvasData"`
	Platform            string  `json:"platform"`
	CookieEnabled       *bool   `json:"cookieEnabled,omitempty"`
	DoNotTrack          string  `json:"doNotTrack"`
	DevicePixelRatio    float64 `json:"devicePixelRatio"`
	MaxTouchPoints      int     `json:"maxTouchPoints"`

	// ConnectionType comes from the network information API when present
	// ("slow-2g", "2g", "3g", "4g"). Used by the detector, not the ID.
	ConnectionType string `json:"connectionType,omitempty"`
	// HasVendorRuntime reports whether the browser vendor runtime object
	// was present. Headless builds commonly omit it.
	HasVendorRuntime bool `json:"hasVendorRuntime"`
	// WebDriver mirrors the navigator webdriver flag.
	WebDriver bool `json:"webDriver"`
	// HeadlessIndicators carries the client-side headless probe results,
	// keyed by probe name.
	HeadlessIndicators map[string]bool `json:"headlessIndicators,omitempty"`
}

// Compute derives the device identifier from the signals: the components
// are joined in a fixed order with "|" and the base64 encoding of that
// string is truncated to IDLength characters.
func Compute(s Signals) string {
	components := []string{
		str(s.UserAgent),
		str(s.Language),
		dims(s.ScreenWidth, s.ScreenHeight),
		intp(s.TimezoneOffset),
		num(s.HardwareConcurrency),
		flt(s.DeviceMemory),
		str(s.CanvasData),
		str(s.Platform),
		boolp(s.CookieEnabled),
		str(s.DoNotTrack),
		flt(s.DevicePixelRatio),
		num(s.MaxTouchPoints),
	}

	joined := strings.Join(components, "|")
	encoded := base64.StdEncoding.EncodeToString([]byte(joined))
	if len(encoded) > IDLength {
		return encoded[:IDLength]
	}
	return encoded
}

func str(v string) string {
	if v == "" {
		return unavailable
	}
	return v
}

func dims(w, h int) string {
	if w <= 0 || h <= 0 {
		return unavailable
	}
	return strconv.Itoa(w) + "x" + strconv.Itoa(h)
}

func num(v int) string {
	if v == 0 {
		return unavailable
	}
	return strconv.Itoa(v)
}

func flt(v float64) string {
	if v == 0 {
		return unavailable
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func intp(v *int) string {
	if v == nil {
		return unavailable
	}
	return strconv.Itoa(*v)
}

func boolp(v *bool) string {
	if v == nil {
		return unavailable
	}
	return strconv.FormatBool(*v)
}
