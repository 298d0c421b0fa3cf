// Package risk provides the two risk aggregation policies
package risk

import (
	"math"
)

// Base severity weights for the additive-severity policy. Threat matches
// and anomalies are calibrated separately.
var (
	threatSeverityBase = map[Severity]float64{
		SeverityLow:      10,
		SeverityMedium:   25,
		SeverityHigh:     50,
		SeverityCritical: 80,
	}
	anomalySeverityBase = map[Severity]float64{
		SeverityLow:      5,
		SeverityMedium:   15,
		SeverityHigh:     35,
		SeverityCritical: 60,
	}
)

// Aggregator combines factors, threat matches, and anomalies into risk
// scores. Two aggregation policies serve two consumer contexts and are
// deliberately kept distinct: the weighted average feeds the per-login
// RiskProfile, the additive scheme feeds the ThreatAnalysisResult.
type Aggregator struct{}

// NewAggregator creates an aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// WeightedAverage computes sum(value*weight)/sum(weight) over the factors
// present, returning a bounded overall risk in [0,1]. With zero usable
// factors it returns 0.5 (medium): absence of signal must not imply trust.
func (a *Aggregator) WeightedAverage(factors []RiskFactor) (float64, RiskLevel) {
	weightedSum := 0.0
	totalWeight := 0.0
	for _, f := range factors {
		if f.Weight <= 0 {
			continue
		}
		weightedSum += clamp01(f.Value) * f.Weight
		totalWeight += f.Weight
	}

	if totalWeight == 0 {
		return 0.5, RiskLevelMedium
	}

	overall := weightedSum / totalWeight
	return overall, bandOverall(overall)
}

// bandOverall maps a [0,1] weighted average into a risk level
func bandOverall(overall float64) RiskLevel {
	switch {
	case overall >= 0.95:
		return RiskLevelCritical
	case overall >= 0.80:
		return RiskLevelHigh
	case overall >= 0.60:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// AdditiveSeverity sums severity-weighted contributions from threat
// matches and anomalies, capped at 100. Bands are inclusive on the upper
// bound: a score of exactly 80 is critical.
func (a *Aggregator) AdditiveSeverity(matches []ThreatMatch, anomalies []BehavioralAnomaly) (int, RiskLevel) {
	score := 0.0
	for _, m := range matches {
		score += threatSeverityBase[m.SeverityAdjusted] * clamp01(m.MatchConfidence)
	}
	for _, an := range anomalies {
		score += anomalySeverityBase[an.Severity] * clamp01(an.Confidence)
	}

	capped := int(math.Min(100, math.Round(score)))
	return capped, bandAdditive(score)
}

// bandAdditive maps the raw (uncapped) additive score into a risk level.
// Banding on the raw float keeps 79.999 high and 80.0 critical.
func bandAdditive(score float64) RiskLevel {
	switch {
	case score >= 80:
		return RiskLevelCritical
	case score >= 50:
		return RiskLevelHigh
	case score >= 25:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// RequiresImmediateAction reports whether the assessment demands
// out-of-band response: overall critical, or any individually critical
// threat match or anomaly.
func (a *Aggregator) RequiresImmediateAction(overall RiskLevel, matches []ThreatMatch, anomalies []BehavioralAnomaly) bool {
	if overall == RiskLevelCritical {
		return true
	}
	for _, m := range matches {
		if m.SeverityAdjusted == SeverityCritical {
			return true
		}
	}
	for _, an := range anomalies {
		if an.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
