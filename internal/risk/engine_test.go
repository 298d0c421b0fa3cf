// Package risk provides end-to-end tests of the assessment engine
package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/riskgate/riskgate/internal/common/errors"
)

type engineFixture struct {
	engine     *Engine
	indicators *MemoryIndicatorRepository
	profiles   *MemoryProfileRepository
	devices    *MemoryDeviceRepository
	logins     *MemoryLoginHistoryRepository
	alerts     *MemoryAlertRepository
}

func newEngineFixture(geo GeoIPOracle, rep ReputationOracle) *engineFixture {
	f := &engineFixture{
		indicators: NewMemoryIndicatorRepository(),
		profiles:   NewMemoryProfileRepository(),
		devices:    NewMemoryDeviceRepository(),
		logins:     NewMemoryLoginHistoryRepository(),
		alerts:     NewMemoryAlertRepository(),
	}
	f.engine = NewEngine(DefaultEngineConfig(), EngineDeps{
		Indicators: f.indicators,
		Profiles:   f.profiles,
		Devices:    f.devices,
		Logins:     f.logins,
		Alerts:     f.alerts,
		GeoIP:      geo,
		Reputation: rep,
	}, DefaultDetectorConfig(), nil)
	return f
}

func cleanRequest(userID string) *AssessRequest {
	return &AssessRequest{
		UserID: userID,
		Device: &DeviceSignal{
			UserAgent:           "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15",
			ScreenResolution:    "2560x1600",
			Timezone:            "America/New_York",
			Language:            "en-US",
			Platform:            "MacIntel",
			HardwareConcurrency: 8,
			CookiesEnabled:      true,
		},
		Network:  &NetworkSignal{IPAddress: "198.51.100.7"},
		Temporal: &TemporalSignal{Timestamp: time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)},
	}
}

func goodOracles() (GeoIPOracle, ReputationOracle) {
	geo := &StaticGeoIP{Results: map[string]*GeoIPResult{
		"198.51.100.7": {
			IPAddress:   "198.51.100.7",
			Country:     "United States",
			CountryCode: "US",
			City:        "New York",
			Latitude:    40.7128,
			Longitude:   -74.0060,
		},
	}}
	rep := &StaticReputation{Scores: map[string]float64{"198.51.100.7": 1.0}}
	return geo, rep
}

func TestAssessRequiresUserID(t *testing.T) {
	f := newEngineFixture(nil, nil)

	_, err := f.engine.Assess(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrValidation))

	_, err = f.engine.Assess(context.Background(), &AssessRequest{})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrValidation))
}

func TestAssessFirstContact(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(goodOracles())

	a, err := f.engine.Assess(ctx, cleanRequest("user-1"))
	require.NoError(t, err)
	require.NotNil(t, a.Profile)
	require.NotNil(t, a.Analysis)

	// An unseen device on a clean network lands in the low band
	assert.Equal(t, RiskLevelLow, a.Profile.RiskLevel)
	assert.NotEmpty(t, a.Actions)
	assert.Equal(t, ActionMonitor, a.Actions[0].Type)
	assert.False(t, a.Analysis.RequiresImmediateAction)
	assert.NotEmpty(t, a.RequestID)
	assert.True(t, a.Profile.ExpiresAt.After(a.Profile.Timestamp))

	// Side effects: baseline observed, device registered
	profile, err := f.profiles.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.SampleCount)

	count, err := f.devices.CountForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCurrentProfileTTL(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(goodOracles())

	base := time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time { return base }

	_, err := f.engine.CurrentProfile("user-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrNotFound))

	a, err := f.engine.Assess(ctx, cleanRequest("user-1"))
	require.NoError(t, err)

	got, err := f.engine.CurrentProfile("user-1")
	require.NoError(t, err)
	assert.Equal(t, a.Profile.Score, got.Score)
	assert.Equal(t, a.Profile.RiskLevel, got.RiskLevel)

	// Just before expiry the profile is still served
	f.engine.now = func() time.Time { return a.Profile.ExpiresAt.Add(-time.Nanosecond) }
	_, err = f.engine.CurrentProfile("user-1")
	assert.NoError(t, err)

	// At ExpiresAt the profile may no longer be reused
	f.engine.now = func() time.Time { return a.Profile.ExpiresAt }
	_, err = f.engine.CurrentProfile("user-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrProfileExpired))
}

func TestAssessKnownDeviceLowersRisk(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(goodOracles())

	first, err := f.engine.Assess(ctx, cleanRequest("user-1"))
	require.NoError(t, err)

	// Same device again: the unknown-device points are gone
	second, err := f.engine.Assess(ctx, cleanRequest("user-1"))
	require.NoError(t, err)
	assert.Less(t, second.Profile.OverallRisk, first.Profile.OverallRisk)

	count, err := f.devices.CountForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "the same fingerprint must not register twice")
}

func TestAssessThreatListedIP(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(goodOracles())

	ti := &ThreatIndicator{
		ThreatType: ThreatBotnet,
		Type:       IndicatorIP,
		Value:      "198.51.100.7",
		Level:      SeverityHigh,
		Confidence: 0.9,
		Source:     SourceManual,
	}
	require.NoError(t, f.engine.Indicators().Ingest(ctx, ti))
	ingestedAt := ti.LastSeen

	time.Sleep(time.Millisecond)
	a, err := f.engine.Assess(ctx, cleanRequest("user-1"))
	require.NoError(t, err)

	require.NotEmpty(t, a.Analysis.Matches)
	assert.Equal(t, 50, a.Analysis.Score)
	assert.Equal(t, RiskLevelHigh, a.Analysis.RiskLevel)

	// The match bumps indicator recurrence
	seen, err := f.indicators.GetByID(ctx, ti.ID)
	require.NoError(t, err)
	assert.True(t, seen.LastSeen.After(ingestedAt))
}

func TestAssessOracleOutageDegrades(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(
		&StaticGeoIP{Err: errors.New("upstream down")},
		&StaticReputation{Err: errors.New("upstream down")},
	)

	a, err := f.engine.Assess(ctx, cleanRequest("user-1"))
	require.NoError(t, err, "oracle outages must not fail the assessment")

	var network *RiskFactor
	for i := range a.Profile.Factors {
		if a.Profile.Factors[i].Type == FactorNetwork {
			network = &a.Profile.Factors[i]
		}
	}
	require.NotNil(t, network, "network factor must still be present")
	assert.InDelta(t, 0.5, network.Confidence, 1e-9, "degraded oracles lower confidence")
	assert.InDelta(t, 0.2, network.Value, 1e-9, "neutral reputation scores as moderate risk")
}

func TestAssessCancelledContextWritesNothing(t *testing.T) {
	f := newEngineFixture(goodOracles())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Assess(ctx, cleanRequest("user-1"))
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrAssessmentAborted))

	// No indicator, profile, or device writes may have happened
	active, lerr := f.indicators.ListActive(context.Background())
	require.NoError(t, lerr)
	assert.Empty(t, active)

	_, perr := f.profiles.Get(context.Background(), "user-1")
	assert.True(t, apperrors.IsErrorCode(perr, apperrors.ErrNotFound))

	count, derr := f.devices.CountForUser(context.Background(), "user-1")
	require.NoError(t, derr)
	assert.Zero(t, count)

	logins, herr := f.logins.ListForUser(context.Background(), "user-1", 10)
	require.NoError(t, herr)
	assert.Empty(t, logins)
}

func TestAssessImpossibleTravelEscalates(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(goodOracles())

	base := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time { return base }

	// Warm up a baseline in New York
	ny := cleanRequest("user-1")
	ny.Location = &LocationSignal{Country: "US", City: "New York", Latitude: 40.7128, Longitude: -74.0060}
	ny.Temporal = &TemporalSignal{Timestamp: base}
	for i := 0; i < 5; i++ {
		_, err := f.engine.Assess(ctx, ny)
		require.NoError(t, err)
	}

	// One hour later the same user appears in Tokyo
	f.engine.now = func() time.Time { return base.Add(time.Hour) }
	tokyo := cleanRequest("user-1")
	tokyo.Location = &LocationSignal{Country: "JP", City: "Tokyo", Latitude: 35.6762, Longitude: 139.6503}
	tokyo.Temporal = &TemporalSignal{Timestamp: base.Add(time.Hour)}

	a, err := f.engine.Assess(ctx, tokyo)
	require.NoError(t, err)

	var travel *BehavioralAnomaly
	for i := range a.Analysis.Anomalies {
		if a.Analysis.Anomalies[i].Type == AnomalyImpossibleTravel {
			travel = &a.Analysis.Anomalies[i]
		}
	}
	require.NotNil(t, travel, "expected an impossible travel anomaly")
	assert.Equal(t, SeverityCritical, travel.Severity)
	assert.True(t, a.Analysis.RequiresImmediateAction)

	// Severe anomalies feed back into the indicator store
	active, err := f.indicators.ListActive(ctx)
	require.NoError(t, err)
	found := false
	for _, ind := range active {
		if ind.Source == SourceDetection && ind.Type == IndicatorIP && ind.Value == "198.51.100.7" {
			found = true
		}
	}
	assert.True(t, found, "a critical travel anomaly should mint a detection-sourced IP indicator")

	// An assessment requiring immediate action raises an open alert
	alerts, err := f.engine.OpenAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "user-1", alerts[0].UserID)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.Contains(t, alerts[0].Description, string(AnomalyImpossibleTravel))

	require.NoError(t, f.engine.ResolveAlert(ctx, alerts[0].ID))
	alerts, err = f.engine.OpenAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAssessRecordsLoginHistory(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(goodOracles())

	_, err := f.engine.Assess(ctx, cleanRequest("user-1"))
	require.NoError(t, err)
	_, err = f.engine.Assess(ctx, cleanRequest("user-1"))
	require.NoError(t, err)

	records, err := f.engine.LoginHistory(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "198.51.100.7", records[0].IPAddress)
	assert.Equal(t, RiskLevelLow, records[0].RiskLevel)
	assert.NotEmpty(t, records[0].Fingerprint)

	stats, err := f.engine.Stats(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByLevel[RiskLevelLow])
}

// conflictOnceRepo rejects the first Save with a version conflict and
// delegates afterwards, simulating a concurrent baseline writer
type conflictOnceRepo struct {
	*MemoryProfileRepository
	tripped bool
}

func (r *conflictOnceRepo) Save(ctx context.Context, profile *BehaviorProfile) error {
	if !r.tripped {
		r.tripped = true
		return apperrors.New(apperrors.ErrConflict, "stale profile version")
	}
	return r.MemoryProfileRepository.Save(ctx, profile)
}

func TestAssessProfileVersionRetry(t *testing.T) {
	ctx := context.Background()

	inner := NewMemoryProfileRepository()
	require.NoError(t, inner.Save(ctx, NewBehaviorProfile("user-1")))
	repo := &conflictOnceRepo{MemoryProfileRepository: inner}

	f := &engineFixture{
		indicators: NewMemoryIndicatorRepository(),
		profiles:   inner,
		devices:    NewMemoryDeviceRepository(),
	}
	geo, rep := goodOracles()
	f.engine = NewEngine(DefaultEngineConfig(), EngineDeps{
		Indicators: f.indicators,
		Profiles:   repo,
		Devices:    f.devices,
		GeoIP:      geo,
		Reputation: rep,
	}, DefaultDetectorConfig(), nil)

	_, err := f.engine.Assess(ctx, cleanRequest("user-1"))
	require.NoError(t, err, "a version conflict must be retried, not surfaced")
	assert.True(t, repo.tripped)

	final, err := inner.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, final.SampleCount, "the observation must survive the conflict retry")
}

func TestAssessBackfillsLocationFromGeoIP(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(goodOracles())

	req := cleanRequest("user-1")
	req.Location = nil

	_, err := f.engine.Assess(ctx, req)
	require.NoError(t, err)

	p, err := f.profiles.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, p.KnownLocations, 1, "the GeoIP position should reach the baseline")
	assert.Equal(t, "New York", p.KnownLocations[0].City)
}

func TestAssessWithoutAnySignals(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(nil, nil)

	a, err := f.engine.Assess(ctx, &AssessRequest{UserID: "user-1"})
	require.NoError(t, err)

	// No scoreable category: the engine must not treat silence as trust
	assert.InDelta(t, 0.5, a.Profile.OverallRisk, 1e-9)
	assert.Equal(t, RiskLevelMedium, a.Profile.RiskLevel)
	assert.Equal(t, ActionMFA, a.Actions[0].Type)
}
