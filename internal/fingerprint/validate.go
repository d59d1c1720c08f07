package fingerprint

// Validation is the result of a plausibility check over submitted signals.
type Validation struct {
	Score   int      `json:"score"` // 0..100, higher is more plausible
	Reasons []string `json:"reasons,omitempty"`
}

// Plausible reports whether the signals look like a real browser
// environment. Scores below 40 are treated as implausible.
func (v Validation) Plausible() bool {
	return v.Score >= 40
}

// Validate scores how plausible the submitted signals are. Each check that
// passes contributes points; failed checks add a reason. The score never
// dips below zero for missing optional signals, only for contradictions.
func Validate(s Signals) Validation {
	var v Validation

	ua := s.UserAgent
	switch {
	case ua == "":
		v.Reasons = append(v.Reasons, "user agent missing")
	case len(ua) < 20 || len(ua) > 512:
		v.Reasons = append(v.Reasons, "user agent length implausible")
	default:
		v.Score += 25
	}

	if s.ScreenWidth >= 240 && s.ScreenWidth <= 7680 &&
		s.ScreenHeight >= 240 && s.ScreenHeight <= 4320 {
		v.Score += 20
	} else {
		v.Reasons = append(v.Reasons, "screen dimensions implausible")
	}

	// Timezone offsets run from UTC-12 to UTC+14, in minutes.
	if s.TimezoneOffset != nil && *s.TimezoneOffset >= -840 && *s.TimezoneOffset <= 720 {
		v.Score += 15
	} else {
		v.Reasons = append(v.Reasons, "timezone offset missing or out of range")
	}

	if s.HardwareConcurrency >= 1 && s.HardwareConcurrency <= 128 {
		v.Score += 15
	} else {
		v.Reasons = append(v.Reasons, "hardware concurrency implausible")
	}

	// A real canvas render produces a long data URL; trivially short
	// output means the canvas was blocked or stubbed.
	if len(s.CanvasData) >= 32 {
		v.Score += 15
	} else {
		v.Reasons = append(v.Reasons, "canvas data trivial or missing")
	}

	if s.Language != "" {
		v.Score += 10
	} else {
		v.Reasons = append(v.Reasons, "language missing")
	}

	return v
}
