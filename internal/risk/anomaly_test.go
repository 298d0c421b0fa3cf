// Package risk provides unit tests for behavioral anomaly detection
package risk

import (
	"math"
	"testing"
	"time"
)

var (
	newYork = GeoPoint{Latitude: 40.7128, Longitude: -74.0060}
	london  = LocationSignal{Latitude: 51.5074, Longitude: -0.1278}
)

// travelProfile returns a warm baseline with a last login at the given
// time and place
func travelProfile(last GeoPoint, at time.Time) *BehaviorProfile {
	p := NewBehaviorProfile("user-1")
	p.SampleCount = 10
	p.LastLocation = &last
	p.LastLoginAt = at
	return p
}

func TestImpossibleTravel(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig(), nil)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// New York to London is roughly 5570km by great circle
	tests := []struct {
		name         string
		deltaHours   float64
		loc          LocationSignal
		wantDetected bool
		wantSeverity Severity
	}{
		{
			name:         "plenty of time to travel",
			deltaHours:   8,
			loc:          london,
			wantDetected: false,
		},
		{
			name:         "twice the plausible distance is critical",
			deltaHours:   2, // plausible 2000km, twice 4000km
			loc:          london,
			wantDetected: true,
			wantSeverity: SeverityCritical,
		},
		{
			name:         "beyond plausible but within twice stays high",
			deltaHours:   3.5, // plausible 3500km, twice 7000km
			loc:          london,
			wantDetected: true,
			wantSeverity: SeverityHigh,
		},
		{
			name:         "outside the lookback window",
			deltaHours:   25,
			loc:          london,
			wantDetected: false,
		},
		{
			name:         "same place",
			deltaHours:   1,
			loc:          LocationSignal{Latitude: newYork.Latitude, Longitude: newYork.Longitude},
			wantDetected: false,
		},
		{
			name:         "null island coordinates are ignored",
			deltaHours:   1,
			loc:          LocationSignal{Latitude: 0, Longitude: 0},
			wantDetected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := travelProfile(newYork, base)
			at := base.Add(time.Duration(tt.deltaHours * float64(time.Hour)))

			a, ok := d.checkImpossibleTravel(profile, &tt.loc, at)
			if ok != tt.wantDetected {
				t.Fatalf("checkImpossibleTravel() detected = %v, want %v", ok, tt.wantDetected)
			}
			if !ok {
				return
			}
			if a.Severity != tt.wantSeverity {
				t.Errorf("severity = %v, want %v", a.Severity, tt.wantSeverity)
			}
			if a.Type != AnomalyImpossibleTravel {
				t.Errorf("type = %v, want %v", a.Type, AnomalyImpossibleTravel)
			}
			if a.Confidence < 0.9 {
				t.Errorf("confidence = %v, want >= 0.9", a.Confidence)
			}
		})
	}
}

func TestImpossibleTravelSeverityBoundary(t *testing.T) {
	// Pick a speed so the travelled distance lands exactly on twice
	// the plausible distance. Equality stays high; only strictly
	// beyond twice is critical.
	d := haversineKm(newYork.Latitude, newYork.Longitude, london.Latitude, london.Longitude)
	deltaHours := 2.0

	cfg := DefaultDetectorConfig()
	cfg.MaxTravelSpeedKmh = d / (2 * deltaHours)
	det := NewDetector(cfg, nil)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	profile := travelProfile(newYork, base)
	at := base.Add(time.Duration(deltaHours * float64(time.Hour)))

	a, ok := det.checkImpossibleTravel(profile, &london, at)
	if !ok {
		t.Fatal("distance beyond the plausible radius should be detected")
	}
	if a.Severity != SeverityHigh {
		t.Errorf("severity = %v, want %v at exactly twice the plausible distance", a.Severity, SeverityHigh)
	}
	if got := a.DeviationScore; math.Abs(got-1) > 1e-9 {
		t.Errorf("deviation score = %v, want 1", got)
	}
}

func TestImpossibleTravelNoHistory(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig(), nil)
	p := NewBehaviorProfile("user-1")

	if _, ok := d.checkImpossibleTravel(p, &london, time.Now()); ok {
		t.Error("no last location should never flag travel")
	}
}

// timingProfile builds a baseline whose every login happened at the
// given hour
func timingProfile(hour, samples int) *BehaviorProfile {
	p := NewBehaviorProfile("user-1")
	for i := 0; i < samples; i++ {
		p.Observe(&AssessRequest{
			UserID:   "user-1",
			Temporal: &TemporalSignal{Timestamp: time.Date(2025, 3, 1, hour, 0, 0, 0, time.UTC).AddDate(0, 0, i)},
		}, "", time.Now())
	}
	return p
}

func TestTimingAnomaly(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig(), nil)

	tests := []struct {
		name         string
		baselineHour int
		loginHour    int
		wantDetected bool
	}{
		{
			name:         "usual hour",
			baselineHour: 9,
			loginHour:    10,
			wantDetected: false,
		},
		{
			name:         "far from usual hour",
			baselineHour: 9,
			loginHour:    17, // 8h away
			wantDetected: true,
		},
		{
			name: "wraparound keeps 23h close to 1h",
			// linear distance would be 22h; circular distance is 2h
			baselineHour: 1,
			loginHour:    23,
			wantDetected: false,
		},
		{
			name:         "wraparound still detects the far side",
			baselineHour: 2,
			loginHour:    13, // circular distance 11h
			wantDetected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := timingProfile(tt.baselineHour, 20)
			at := time.Date(2025, 6, 1, tt.loginHour, 0, 0, 0, time.UTC)

			a, ok := d.checkTiming(profile, at)
			if ok != tt.wantDetected {
				t.Fatalf("checkTiming() detected = %v, want %v", ok, tt.wantDetected)
			}
			if ok && a.Type != AnomalyTiming {
				t.Errorf("type = %v, want %v", a.Type, AnomalyTiming)
			}
		})
	}
}

func TestTimingHighSeverityWithTightConfig(t *testing.T) {
	cfg := DefaultDetectorConfig()
	cfg.TimingAnomalyHours = 4
	cfg.TimingHighHours = 8
	d := NewDetector(cfg, nil)

	profile := timingProfile(9, 20)
	a, ok := d.checkTiming(profile, time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)) // 11h away
	if !ok {
		t.Fatal("expected a timing anomaly")
	}
	if a.Severity != SeverityHigh {
		t.Errorf("severity = %v, want %v", a.Severity, SeverityHigh)
	}
}

func TestCircularHourDistance(t *testing.T) {
	tests := []struct {
		a, b, want float64
	}{
		{0, 0, 0},
		{1, 23, 2},
		{23, 1, 2},
		{0, 12, 12},
		{6, 18, 12},
		{9, 17, 8},
	}
	for _, tt := range tests {
		if got := circularHourDistance(tt.a, tt.b); !almostEqual(got, tt.want) {
			t.Errorf("circularHourDistance(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNavigationAnomaly(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig(), nil)

	p := NewBehaviorProfile("user-1")
	for i := 0; i < 10; i++ {
		p.Observe(&AssessRequest{
			UserID:   "user-1",
			Behavior: &BehaviorSignal{NavigationVelocity: 10 + float64(i%3), ClickDepth: 3, SessionDuration: 30},
		}, "", time.Now())
	}

	// Velocity far outside the historical spread
	anomalies := d.checkNavigation(p, &BehaviorSignal{NavigationVelocity: 60, ClickDepth: 3, SessionDuration: 30})

	found := false
	for _, a := range anomalies {
		if a.Type == AnomalyNavigation {
			found = true
			if a.Severity == SeverityLow {
				t.Errorf("extreme deviation should not be low severity, got %v", a.Severity)
			}
		}
	}
	if !found {
		t.Fatal("expected a navigation anomaly for extreme velocity")
	}

	// In-range behavior raises nothing
	if extra := d.checkNavigation(p, &BehaviorSignal{NavigationVelocity: 11, ClickDepth: 3, SessionDuration: 30}); len(extra) != 0 {
		t.Errorf("in-range behavior raised %d anomalies", len(extra))
	}
}

func TestColdStartCapsSeverity(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig(), nil)

	// Two samples: still cold start, but the device map is populated
	p := NewBehaviorProfile("user-1")
	p.Observe(&AssessRequest{UserID: "user-1"}, "fp-known", time.Now())
	p.Observe(&AssessRequest{UserID: "user-1"}, "fp-known", time.Now())

	anomalies := d.Detect(p, &AssessRequest{UserID: "user-1"}, "fp-never-seen")
	if len(anomalies) == 0 {
		t.Fatal("expected a new-device anomaly")
	}
	for _, a := range anomalies {
		if a.Severity != SeverityLow {
			t.Errorf("cold start anomaly severity = %v, want low", a.Severity)
		}
		if a.Confidence > 0.3 {
			t.Errorf("cold start anomaly confidence = %v, want <= 0.3", a.Confidence)
		}
	}
}

func TestNewDeviceAnomalyOnWarmBaseline(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig(), nil)

	p := NewBehaviorProfile("user-1")
	for i := 0; i < 10; i++ {
		p.Observe(&AssessRequest{UserID: "user-1"}, "fp-known", time.Now())
	}

	anomalies := d.Detect(p, &AssessRequest{UserID: "user-1"}, "fp-new")
	if len(anomalies) != 1 {
		t.Fatalf("expected exactly one anomaly, got %d", len(anomalies))
	}
	a := anomalies[0]
	if a.Type != AnomalyNewDevice {
		t.Errorf("type = %v, want %v", a.Type, AnomalyNewDevice)
	}
	if a.Severity != SeverityMedium {
		t.Errorf("severity = %v, want medium", a.Severity)
	}

	// The known fingerprint raises nothing
	if got := d.Detect(p, &AssessRequest{UserID: "user-1"}, "fp-known"); len(got) != 0 {
		t.Errorf("known fingerprint raised %d anomalies", len(got))
	}
}

func TestHaversineKm(t *testing.T) {
	// New York to London
	d := haversineKm(40.7128, -74.0060, 51.5074, -0.1278)
	if math.Abs(d-5570) > 20 {
		t.Errorf("haversineKm(NYC, London) = %v, want ~5570", d)
	}

	if got := haversineKm(10, 20, 10, 20); !almostEqual(got, 0) {
		t.Errorf("distance to self = %v, want 0", got)
	}
}
