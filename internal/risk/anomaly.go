// Package risk provides behavioral anomaly detection against user baselines
package risk

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// AnomalyType identifies the kind of behavioral deviation detected
type AnomalyType string

const (
	AnomalyImpossibleTravel AnomalyType = "impossible_travel"
	AnomalyTiming           AnomalyType = "timing"
	AnomalyNewDevice        AnomalyType = "new_device"
	AnomalyNavigation       AnomalyType = "navigation"
)

// BehavioralAnomaly is an ephemeral detected deviation between current
// behavior and the user's historical baseline
type BehavioralAnomaly struct {
	Type           AnomalyType        `json:"anomaly_type"`
	Severity       Severity           `json:"severity"`
	Confidence     float64            `json:"confidence"` // 0-1
	Baseline       map[string]float64 `json:"baseline_data,omitempty"`
	Current        map[string]float64 `json:"current_data,omitempty"`
	DeviationScore float64            `json:"deviation_score"` // 0-1
	Description    string             `json:"description"`
}

// DetectorConfig holds thresholds for anomaly detection
type DetectorConfig struct {
	// Impossible travel: plausible speed ceiling and lookback window
	MaxTravelSpeedKmh float64
	TravelWindowHours float64

	// Timing: circular hour distance thresholds
	TimingAnomalyHours float64
	TimingHighHours    float64

	// Navigation features: z-score floor for raising an anomaly
	NavigationZScoreMin float64
}

// DefaultDetectorConfig returns the default detection thresholds
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MaxTravelSpeedKmh:   1000,
		TravelWindowHours:   24,
		TimingAnomalyHours:  6,
		TimingHighHours:     12,
		NavigationZScoreMin: 1.25,
	}
}

// Detector scores deviations of current signals from a user's baseline.
// When the baseline is in cold start, detected anomalies are capped at
// severity low: there is not enough history to be confident.
type Detector struct {
	config DetectorConfig
	logger *zap.Logger
}

// NewDetector creates an anomaly detector
func NewDetector(config DetectorConfig, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxTravelSpeedKmh == 0 {
		config = DefaultDetectorConfig()
	}
	return &Detector{
		config: config,
		logger: logger.With(zap.String("component", "anomaly_detector")),
	}
}

// Detect runs every applicable check for the request against the profile
// and returns the anomalies found. A nil profile behaves as cold start.
func (d *Detector) Detect(profile *BehaviorProfile, req *AssessRequest, fingerprint string) []BehavioralAnomaly {
	var anomalies []BehavioralAnomaly

	at := time.Now()
	if req.Temporal != nil && !req.Temporal.Timestamp.IsZero() {
		at = req.Temporal.Timestamp
	}

	if req.Location != nil && profile != nil {
		if a, ok := d.checkImpossibleTravel(profile, req.Location, at); ok {
			anomalies = append(anomalies, a)
		}
	}

	if req.Temporal != nil && profile != nil {
		if a, ok := d.checkTiming(profile, req.Temporal.Timestamp); ok {
			anomalies = append(anomalies, a)
		}
	}

	if fingerprint != "" && profile != nil && profile.SampleCount > 0 && !profile.KnowsDevice(fingerprint) {
		anomalies = append(anomalies, BehavioralAnomaly{
			Type:           AnomalyNewDevice,
			Severity:       SeverityMedium,
			Confidence:     profile.Confidence(),
			DeviationScore: 0.5,
			Description:    "device fingerprint never seen for this user",
		})
	}

	if req.Behavior != nil && profile != nil {
		anomalies = append(anomalies, d.checkNavigation(profile, req.Behavior)...)
	}

	// Cold start never raises anomalies of severity above low
	if profile.State() == StateColdStart {
		for i := range anomalies {
			anomalies[i].Severity = SeverityLow
			anomalies[i].Confidence = math.Min(anomalies[i].Confidence, 0.3)
		}
	}

	return anomalies
}

// checkImpossibleTravel flags a location change that exceeds plausible
// travel speed. Triggers iff distance > speed*dt with dt inside the
// lookback window; critical only when distance strictly exceeds twice the
// plausible distance, otherwise high.
func (d *Detector) checkImpossibleTravel(profile *BehaviorProfile, loc *LocationSignal, at time.Time) (BehavioralAnomaly, bool) {
	if profile.LastLocation == nil || profile.LastLoginAt.IsZero() {
		return BehavioralAnomaly{}, false
	}
	if loc.Latitude == 0 && loc.Longitude == 0 {
		return BehavioralAnomaly{}, false
	}

	deltaHours := at.Sub(profile.LastLoginAt).Hours()
	if deltaHours <= 0 || deltaHours >= d.config.TravelWindowHours {
		return BehavioralAnomaly{}, false
	}

	distance := haversineKm(profile.LastLocation.Latitude, profile.LastLocation.Longitude, loc.Latitude, loc.Longitude)
	plausible := d.config.MaxTravelSpeedKmh * deltaHours
	if distance <= plausible {
		return BehavioralAnomaly{}, false
	}

	severity := SeverityHigh
	if distance > 2*plausible {
		severity = SeverityCritical
	}

	d.logger.Warn("Impossible travel detected",
		zap.String("user_id", profile.UserID),
		zap.Float64("distance_km", distance),
		zap.Float64("delta_hours", deltaHours),
		zap.Float64("required_speed_kmh", distance/deltaHours),
	)

	return BehavioralAnomaly{
		Type:       AnomalyImpossibleTravel,
		Severity:   severity,
		Confidence: 0.95,
		Baseline: map[string]float64{
			"last_lat": profile.LastLocation.Latitude,
			"last_lng": profile.LastLocation.Longitude,
		},
		Current: map[string]float64{
			"lat": loc.Latitude,
			"lng": loc.Longitude,
		},
		DeviationScore: math.Min(1, distance/(2*plausible)),
		Description:    fmt.Sprintf("%.0fkm in %.1fh requires %.0f km/h", distance, deltaHours, distance/deltaHours),
	}, true
}

// checkTiming flags logins whose hour is far from the user's circular mean
// login hour. Distances account for the 24h wraparound.
func (d *Detector) checkTiming(profile *BehaviorProfile, at time.Time) (BehavioralAnomaly, bool) {
	mean, ok := profile.MeanHour()
	if !ok {
		return BehavioralAnomaly{}, false
	}

	hour := float64(at.UTC().Hour())
	distance := circularHourDistance(hour, mean)
	if distance <= d.config.TimingAnomalyHours {
		return BehavioralAnomaly{}, false
	}

	severity := SeverityMedium
	if distance > d.config.TimingHighHours {
		severity = SeverityHigh
	}

	return BehavioralAnomaly{
		Type:           AnomalyTiming,
		Severity:       severity,
		Confidence:     profile.Confidence(),
		Baseline:       map[string]float64{"mean_hour": mean},
		Current:        map[string]float64{"hour": hour},
		DeviationScore: math.Min(1, distance/12),
		Description:    fmt.Sprintf("login hour %.0f is %.1fh from typical hour %.1f", hour, distance, mean),
	}, true
}

// checkNavigation compares current session features against the stored
// aggregates, normalized by historical variance. Severity follows the
// additive-severity bands applied to min(100, 20*z).
func (d *Detector) checkNavigation(profile *BehaviorProfile, sig *BehaviorSignal) []BehavioralAnomaly {
	features := []struct {
		name    string
		stats   *FeatureStats
		current float64
	}{
		{"navigation_velocity", &profile.NavigationVelocity, sig.NavigationVelocity},
		{"click_depth", &profile.ClickDepth, sig.ClickDepth},
		{"session_duration", &profile.SessionDuration, sig.SessionDuration},
	}

	var anomalies []BehavioralAnomaly
	for _, f := range features {
		std := f.stats.StdDev()
		if f.stats.Count < coldStartSamples || std == 0 {
			continue
		}
		z := math.Abs(f.current-f.stats.Mean) / std
		if z < d.config.NavigationZScoreMin {
			continue
		}

		banded := math.Min(100, 20*z)
		anomalies = append(anomalies, BehavioralAnomaly{
			Type:           AnomalyNavigation,
			Severity:       bandSeverity(banded),
			Confidence:     profile.Confidence(),
			Baseline:       map[string]float64{"mean": f.stats.Mean, "stddev": std},
			Current:        map[string]float64{f.name: f.current},
			DeviationScore: math.Min(1, z/5),
			Description:    fmt.Sprintf("%s deviates %.1f standard deviations from baseline", f.name, z),
		})
	}
	return anomalies
}

// circularHourDistance returns the distance between two hours on a 24h
// clock: min(|a-b|, 24-|a-b|)
func circularHourDistance(a, b float64) float64 {
	diff := math.Abs(a - b)
	return math.Min(diff, 24-diff)
}

// bandSeverity maps a 0-100 score into the shared severity bands
func bandSeverity(score float64) Severity {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 50:
		return SeverityHigh
	case score >= 25:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
