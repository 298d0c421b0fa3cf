// Package risk provides per-category risk factor evaluation
package risk

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// Fixed per-category weights used by the weighted-average aggregation scheme.
// Weights of omitted categories do not participate in the denominator.
const (
	WeightDevice    = 0.25
	WeightLocation  = 0.20
	WeightTemporal  = 0.15
	WeightNetwork   = 0.25
	WeightBehavior  = 0.10
	WeightBiometric = 0.05
)

// suspiciousUAPattern matches automated-tool user agents
var suspiciousUAPattern = regexp.MustCompile(`(?i)(bot|crawler|spider|automated|headless|curl|wget|python-requests)`)

// DeviceContext is the device signal enriched with registry knowledge
type DeviceContext struct {
	Signal       DeviceSignal
	Known        bool // fingerprint seen before for this user
	Consistent   bool // fingerprint attributes match the stored record
	HistoryCount int  // number of devices on record for the user
}

// NetworkContext is the network signal enriched by the reputation oracle
type NetworkContext struct {
	IPAddress       string
	IsVPN           bool
	IsTor           bool
	OnThreatList    bool
	Reputation      float64 // 0 (bad) to 1 (good)
	ReputationKnown bool    // false when the oracle was unavailable
}

// LocationContext is the location signal enriched with user history and
// country risk membership
type LocationContext struct {
	Signal          LocationSignal
	IsTor           bool
	HighRiskCountry bool
	NearestKnownKm  float64 // distance to the closest known location
	HasHistory      bool    // user has at least one known location
}

// TemporalContext is the timing signal enriched with the user's typical
// login hours and weekdays from the behavior baseline
type TemporalContext struct {
	Timestamp    time.Time
	TypicalHours map[int]bool
	TypicalDays  map[time.Weekday]bool
}

// BehaviorContext carries deviation scores per behavioral pattern, as
// computed by the anomaly detector against the user's baseline
type BehaviorContext struct {
	DeviationScores map[string]float64 // 0-1 per pattern
}

// BiometricContext carries the externally produced biometric verification result
type BiometricContext struct {
	Matched    bool
	Confidence float64
}

// FactorEvaluator converts enriched signal categories into RiskFactors.
// Each category accumulates points independently and is clamped to [0,1];
// a missing category yields no factor (omitted, not scored as zero risk).
type FactorEvaluator struct{}

// NewFactorEvaluator creates a factor evaluator
func NewFactorEvaluator() *FactorEvaluator {
	return &FactorEvaluator{}
}

// clamp01 clamps v to [0,1]
func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Device scores the device category: unknown device, inconsistent
// fingerprint, suspicious user agent, cookies disabled.
func (e *FactorEvaluator) Device(dc *DeviceContext) (RiskFactor, bool) {
	if dc == nil {
		return RiskFactor{}, false
	}

	value := 0.0
	var reasons []string

	if !dc.Known {
		value += 0.4
		reasons = append(reasons, "unknown device")
	}
	if dc.Known && !dc.Consistent {
		value += 0.3
		reasons = append(reasons, "inconsistent fingerprint")
	}
	if suspiciousUAPattern.MatchString(dc.Signal.UserAgent) {
		value += 0.2
		reasons = append(reasons, "suspicious user agent")
	}
	if !dc.Signal.CookiesEnabled {
		value += 0.1
		reasons = append(reasons, "cookies disabled")
	}

	// Thin device history means we are less sure what "unknown" implies
	confidence := 0.5 + 0.05*math.Min(float64(dc.HistoryCount), 10)

	return RiskFactor{
		Type:        FactorDevice,
		Name:        "device",
		Value:       clamp01(value),
		Weight:      WeightDevice,
		Confidence:  confidence,
		Description: describeFactor("device", reasons),
	}, true
}

// Location scores the location category: distance from known locations,
// VPN/Tor egress, high-risk country membership.
func (e *FactorEvaluator) Location(lc *LocationContext) (RiskFactor, bool) {
	if lc == nil {
		return RiskFactor{}, false
	}

	value := 0.0
	var reasons []string

	if lc.HasHistory && lc.NearestKnownKm > 1000 {
		value += 0.3
		reasons = append(reasons, fmt.Sprintf("%.0fkm from nearest known location", lc.NearestKnownKm))
		if lc.NearestKnownKm > 5000 {
			value += 0.2
		}
	}
	if lc.Signal.IsVPN {
		value += 0.2
		reasons = append(reasons, "VPN detected")
	}
	if lc.IsTor {
		value += 0.4
		reasons = append(reasons, "Tor exit node")
	}
	if lc.HighRiskCountry {
		value += 0.3
		reasons = append(reasons, "high-risk country")
	}

	confidence := 0.9
	if !lc.HasHistory {
		confidence = 0.6 // no baseline to compare distances against
	}

	return RiskFactor{
		Type:        FactorLocation,
		Name:        "location",
		Value:       clamp01(value),
		Weight:      WeightLocation,
		Confidence:  confidence,
		Description: describeFactor("location", reasons),
	}, true
}

// Temporal scores the timing category: hour and weekday outside the
// typical set, plus a flat late-night penalty.
func (e *FactorEvaluator) Temporal(tc *TemporalContext) (RiskFactor, bool) {
	if tc == nil || tc.Timestamp.IsZero() {
		return RiskFactor{}, false
	}

	value := 0.0
	var reasons []string

	hour := tc.Timestamp.UTC().Hour()
	day := tc.Timestamp.UTC().Weekday()

	if len(tc.TypicalHours) > 0 && !tc.TypicalHours[hour] {
		value += 0.2
		reasons = append(reasons, fmt.Sprintf("hour %d outside typical set", hour))
	}
	if len(tc.TypicalDays) > 0 && !tc.TypicalDays[day] {
		value += 0.1
		reasons = append(reasons, fmt.Sprintf("%s outside typical weekdays", day))
	}
	if hour >= 23 || hour < 5 {
		value += 0.3
		reasons = append(reasons, "late-night login")
	}

	confidence := 0.9
	if len(tc.TypicalHours) == 0 {
		confidence = 0.5 // only the flat late-night rule applies
	}

	return RiskFactor{
		Type:        FactorTemporal,
		Name:        "temporal",
		Value:       clamp01(value),
		Weight:      WeightTemporal,
		Confidence:  confidence,
		Description: describeFactor("temporal", reasons),
	}, true
}

// Network scores the network category: threat-listed IP, VPN, Tor, and
// reputation shortfall.
func (e *FactorEvaluator) Network(nc *NetworkContext) (RiskFactor, bool) {
	if nc == nil || nc.IPAddress == "" {
		return RiskFactor{}, false
	}

	value := 0.0
	var reasons []string

	if nc.OnThreatList {
		value += 0.8
		reasons = append(reasons, "IP on threat list")
	}
	if nc.IsVPN {
		value += 0.3
		reasons = append(reasons, "VPN detected")
	}
	if nc.IsTor {
		value += 0.5
		reasons = append(reasons, "Tor exit node")
	}

	reputation := nc.Reputation
	if !nc.ReputationKnown {
		reputation = 0.5 // neutral default when the oracle failed
	}
	value += (1 - clamp01(reputation)) * 0.4

	confidence := 0.9
	if !nc.ReputationKnown {
		confidence = 0.5
	}

	return RiskFactor{
		Type:        FactorNetwork,
		Name:        "network",
		Value:       clamp01(value),
		Weight:      WeightNetwork,
		Confidence:  confidence,
		Description: describeFactor("network", reasons),
	}, true
}

// Behavior scores the behavioral category as the mean deviation score
// across the patterns available for this assessment.
func (e *FactorEvaluator) Behavior(bc *BehaviorContext) (RiskFactor, bool) {
	if bc == nil || len(bc.DeviationScores) == 0 {
		return RiskFactor{}, false
	}

	sum := 0.0
	for _, v := range bc.DeviationScores {
		sum += clamp01(v)
	}
	mean := sum / float64(len(bc.DeviationScores))

	// More patterns observed means a more trustworthy mean
	confidence := 0.4 + 0.15*math.Min(float64(len(bc.DeviationScores)), 4)

	return RiskFactor{
		Type:        FactorBehavior,
		Name:        "behavior",
		Value:       clamp01(mean),
		Weight:      WeightBehavior,
		Confidence:  confidence,
		Description: fmt.Sprintf("behavioral deviation across %d patterns", len(bc.DeviationScores)),
	}, true
}

// Biometric scores the biometric category as the complement of the match
// confidence produced by the external verifier.
func (e *FactorEvaluator) Biometric(bc *BiometricContext) (RiskFactor, bool) {
	if bc == nil {
		return RiskFactor{}, false
	}

	// External verification failures arrive as matched=false, confidence=0
	// (fail-closed upstream), which scores as maximum biometric risk.
	value := 1 - clamp01(bc.Confidence)

	return RiskFactor{
		Type:        FactorBiometric,
		Name:        "biometric",
		Value:       value,
		Weight:      WeightBiometric,
		Confidence:  0.9,
		Description: fmt.Sprintf("biometric match confidence %.2f", bc.Confidence),
	}, true
}

func describeFactor(category string, reasons []string) string {
	if len(reasons) == 0 {
		return fmt.Sprintf("no %s risk indicators", category)
	}
	return strings.Join(reasons, "; ")
}
