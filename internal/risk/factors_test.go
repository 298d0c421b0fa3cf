// Package risk provides unit tests for per-category factor evaluation
package risk

import (
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDeviceFactor(t *testing.T) {
	e := NewFactorEvaluator()

	tests := []struct {
		name      string
		dc        *DeviceContext
		wantValue float64
		wantOk    bool
	}{
		{
			name:   "nil context yields no factor",
			dc:     nil,
			wantOk: false,
		},
		{
			name: "known consistent device is clean",
			dc: &DeviceContext{
				Signal:     DeviceSignal{UserAgent: "Mozilla/5.0 (Windows NT 10.0)", CookiesEnabled: true},
				Known:      true,
				Consistent: true,
			},
			wantValue: 0.0,
			wantOk:    true,
		},
		{
			name: "unknown device",
			dc: &DeviceContext{
				Signal: DeviceSignal{UserAgent: "Mozilla/5.0 (Windows NT 10.0)", CookiesEnabled: true},
				Known:  false,
			},
			wantValue: 0.4,
			wantOk:    true,
		},
		{
			name: "known but inconsistent fingerprint",
			dc: &DeviceContext{
				Signal:     DeviceSignal{UserAgent: "Mozilla/5.0 (Windows NT 10.0)", CookiesEnabled: true},
				Known:      true,
				Consistent: false,
			},
			wantValue: 0.3,
			wantOk:    true,
		},
		{
			name: "unknown device with automated UA and no cookies",
			dc: &DeviceContext{
				Signal: DeviceSignal{UserAgent: "curl/8.0.1", CookiesEnabled: false},
				Known:  false,
			},
			wantValue: 0.7,
			wantOk:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := e.Device(tt.dc)
			if ok != tt.wantOk {
				t.Fatalf("Device() ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if !almostEqual(f.Value, tt.wantValue) {
				t.Errorf("Device() value = %v, want %v", f.Value, tt.wantValue)
			}
			if f.Weight != WeightDevice {
				t.Errorf("Device() weight = %v, want %v", f.Weight, WeightDevice)
			}
		})
	}
}

func TestDeviceFactorConfidenceGrowsWithHistory(t *testing.T) {
	e := NewFactorEvaluator()

	thin, _ := e.Device(&DeviceContext{Signal: DeviceSignal{CookiesEnabled: true}, HistoryCount: 0})
	rich, _ := e.Device(&DeviceContext{Signal: DeviceSignal{CookiesEnabled: true}, HistoryCount: 10})

	if thin.Confidence >= rich.Confidence {
		t.Errorf("confidence with no history (%v) should be below confidence with history (%v)", thin.Confidence, rich.Confidence)
	}
	if rich.Confidence > 1 {
		t.Errorf("confidence exceeds 1: %v", rich.Confidence)
	}
}

func TestLocationFactor(t *testing.T) {
	e := NewFactorEvaluator()

	tests := []struct {
		name      string
		lc        *LocationContext
		wantValue float64
	}{
		{
			name:      "home location with history",
			lc:        &LocationContext{Signal: LocationSignal{}, HasHistory: true, NearestKnownKm: 5},
			wantValue: 0.0,
		},
		{
			name:      "far from any known location",
			lc:        &LocationContext{Signal: LocationSignal{}, HasHistory: true, NearestKnownKm: 1500},
			wantValue: 0.3,
		},
		{
			name:      "very far from any known location",
			lc:        &LocationContext{Signal: LocationSignal{}, HasHistory: true, NearestKnownKm: 8000},
			wantValue: 0.5,
		},
		{
			name:      "tor plus high risk country",
			lc:        &LocationContext{Signal: LocationSignal{}, IsTor: true, HighRiskCountry: true},
			wantValue: 0.7,
		},
		{
			name:      "vpn only",
			lc:        &LocationContext{Signal: LocationSignal{IsVPN: true}},
			wantValue: 0.2,
		},
		{
			name: "everything at once clamps to 1",
			lc: &LocationContext{
				Signal:          LocationSignal{IsVPN: true},
				IsTor:           true,
				HighRiskCountry: true,
				HasHistory:      true,
				NearestKnownKm:  9000,
			},
			wantValue: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := e.Location(tt.lc)
			if !ok {
				t.Fatal("Location() returned no factor")
			}
			if !almostEqual(f.Value, tt.wantValue) {
				t.Errorf("Location() value = %v, want %v", f.Value, tt.wantValue)
			}
		})
	}
}

func TestLocationFactorConfidenceWithoutHistory(t *testing.T) {
	e := NewFactorEvaluator()
	f, _ := e.Location(&LocationContext{Signal: LocationSignal{}})
	if f.Confidence >= 0.9 {
		t.Errorf("confidence without history should be reduced, got %v", f.Confidence)
	}
}

func TestTemporalFactor(t *testing.T) {
	e := NewFactorEvaluator()

	monday9am := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	monday3am := time.Date(2025, 1, 6, 3, 0, 0, 0, time.UTC)
	sunday9am := time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC)

	typicalHours := map[int]bool{9: true, 10: true}
	typicalDays := map[time.Weekday]bool{time.Monday: true}

	tests := []struct {
		name      string
		tc        *TemporalContext
		wantValue float64
		wantOk    bool
	}{
		{
			name:   "zero time yields no factor",
			tc:     &TemporalContext{},
			wantOk: false,
		},
		{
			name:      "typical time is clean",
			tc:        &TemporalContext{Timestamp: monday9am, TypicalHours: typicalHours, TypicalDays: typicalDays},
			wantValue: 0.0,
			wantOk:    true,
		},
		{
			name:      "late night outside typical hours",
			tc:        &TemporalContext{Timestamp: monday3am, TypicalHours: typicalHours, TypicalDays: typicalDays},
			wantValue: 0.5,
			wantOk:    true,
		},
		{
			name:      "atypical weekday",
			tc:        &TemporalContext{Timestamp: sunday9am, TypicalHours: typicalHours, TypicalDays: typicalDays},
			wantValue: 0.1,
			wantOk:    true,
		},
		{
			name:      "no baseline only flat late night rule",
			tc:        &TemporalContext{Timestamp: monday3am},
			wantValue: 0.3,
			wantOk:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := e.Temporal(tt.tc)
			if ok != tt.wantOk {
				t.Fatalf("Temporal() ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if !almostEqual(f.Value, tt.wantValue) {
				t.Errorf("Temporal() value = %v, want %v", f.Value, tt.wantValue)
			}
		})
	}
}

func TestNetworkFactor(t *testing.T) {
	e := NewFactorEvaluator()

	tests := []struct {
		name      string
		nc        *NetworkContext
		wantValue float64
		wantConf  float64
		wantOk    bool
	}{
		{
			name:   "missing address yields no factor",
			nc:     &NetworkContext{},
			wantOk: false,
		},
		{
			name:      "clean IP with good reputation",
			nc:        &NetworkContext{IPAddress: "198.51.100.7", Reputation: 1.0, ReputationKnown: true},
			wantValue: 0.0,
			wantConf:  0.9,
			wantOk:    true,
		},
		{
			name:      "threat listed IP",
			nc:        &NetworkContext{IPAddress: "203.0.113.5", OnThreatList: true, Reputation: 1.0, ReputationKnown: true},
			wantValue: 0.8,
			wantConf:  0.9,
			wantOk:    true,
		},
		{
			name:      "oracle unavailable degrades to neutral reputation",
			nc:        &NetworkContext{IPAddress: "198.51.100.7"},
			wantValue: 0.2,
			wantConf:  0.5,
			wantOk:    true,
		},
		{
			name:      "stacked signals clamp to 1",
			nc:        &NetworkContext{IPAddress: "203.0.113.5", OnThreatList: true, IsTor: true, ReputationKnown: true, Reputation: 0},
			wantValue: 1.0,
			wantConf:  0.9,
			wantOk:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := e.Network(tt.nc)
			if ok != tt.wantOk {
				t.Fatalf("Network() ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if !almostEqual(f.Value, tt.wantValue) {
				t.Errorf("Network() value = %v, want %v", f.Value, tt.wantValue)
			}
			if !almostEqual(f.Confidence, tt.wantConf) {
				t.Errorf("Network() confidence = %v, want %v", f.Confidence, tt.wantConf)
			}
		})
	}
}

func TestBehaviorFactor(t *testing.T) {
	e := NewFactorEvaluator()

	if _, ok := e.Behavior(&BehaviorContext{}); ok {
		t.Error("Behavior() with no deviation scores should yield no factor")
	}

	f, ok := e.Behavior(&BehaviorContext{DeviationScores: map[string]float64{
		"timing":     0.4,
		"navigation": 0.8,
	}})
	if !ok {
		t.Fatal("Behavior() returned no factor")
	}
	if !almostEqual(f.Value, 0.6) {
		t.Errorf("Behavior() value = %v, want 0.6", f.Value)
	}
	if !almostEqual(f.Confidence, 0.7) {
		t.Errorf("Behavior() confidence = %v, want 0.7", f.Confidence)
	}
}

func TestBiometricFactor(t *testing.T) {
	e := NewFactorEvaluator()

	strong, _ := e.Biometric(&BiometricContext{Matched: true, Confidence: 0.95})
	if math.Abs(strong.Value-0.05) > 1e-9 {
		t.Errorf("strong match value = %v, want 0.05", strong.Value)
	}

	// Upstream verification failure arrives as confidence 0
	failed, _ := e.Biometric(&BiometricContext{Matched: false, Confidence: 0})
	if failed.Value != 1.0 {
		t.Errorf("failed verification value = %v, want 1.0", failed.Value)
	}
}
