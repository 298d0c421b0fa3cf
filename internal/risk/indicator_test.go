// Package risk provides unit tests for threat indicator lifecycle and matching
package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/riskgate/riskgate/internal/common/errors"
)

func TestIndicatorValidate(t *testing.T) {
	tests := []struct {
		name    string
		ti      ThreatIndicator
		wantErr bool
	}{
		{
			name:    "valid IP indicator",
			ti:      ThreatIndicator{Type: IndicatorIP, Value: "203.0.113.5", Level: SeverityHigh},
			wantErr: false,
		},
		{
			name:    "valid CIDR indicator",
			ti:      ThreatIndicator{Type: IndicatorIPRange, Value: "203.0.113.0/24", Level: SeverityMedium},
			wantErr: false,
		},
		{
			name:    "missing type",
			ti:      ThreatIndicator{Value: "203.0.113.5", Level: SeverityHigh},
			wantErr: true,
		},
		{
			name:    "missing level",
			ti:      ThreatIndicator{Type: IndicatorIP, Value: "203.0.113.5"},
			wantErr: true,
		},
		{
			name:    "malformed IP",
			ti:      ThreatIndicator{Type: IndicatorIP, Value: "not-an-ip", Level: SeverityHigh},
			wantErr: true,
		},
		{
			name:    "malformed CIDR",
			ti:      ThreatIndicator{Type: IndicatorIPRange, Value: "203.0.113.5", Level: SeverityHigh},
			wantErr: true,
		},
		{
			name:    "empty value rejected for fingerprints",
			ti:      ThreatIndicator{Type: IndicatorDeviceFingerprint, Level: SeverityHigh},
			wantErr: true,
		},
		{
			name:    "empty user agent value is a valid signature",
			ti:      ThreatIndicator{Type: IndicatorUserAgent, Level: SeverityLow},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ti.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrIndicatorInvalid))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIndicatorLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryIndicatorRepository()
	store := NewIndicatorStore(repo, nil)

	ti := &ThreatIndicator{
		ThreatType: ThreatBruteForce,
		Type:       IndicatorIP,
		Value:      "203.0.113.5",
		Level:      SeverityHigh,
		Confidence: 0.8,
		Source:     SourceManual,
	}

	require.NoError(t, store.Ingest(ctx, ti))
	assert.NotEmpty(t, ti.ID)
	assert.True(t, ti.Active)
	assert.False(t, ti.FirstSeen.IsZero())

	// Malformed indicators are rejected at the boundary
	err := store.Ingest(ctx, &ThreatIndicator{Type: IndicatorIP, Value: "bogus", Level: SeverityLow})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrIndicatorInvalid))

	// Touch bumps LastSeen
	before := ti.LastSeen
	time.Sleep(time.Millisecond)
	require.NoError(t, store.Touch(ctx, ti.ID))
	touched, err := repo.GetByID(ctx, ti.ID)
	require.NoError(t, err)
	assert.True(t, touched.LastSeen.After(before))

	// Enrich merges metadata without clobbering
	require.NoError(t, store.Enrich(ctx, ti.ID, map[string]string{"campaign": "cred-stuffing-q1"}))
	require.NoError(t, store.Enrich(ctx, ti.ID, map[string]string{"asn": "AS64496"}))
	enriched, err := repo.GetByID(ctx, ti.ID)
	require.NoError(t, err)
	assert.Equal(t, "cred-stuffing-q1", enriched.Metadata["campaign"])
	assert.Equal(t, "AS64496", enriched.Metadata["asn"])

	// Deactivation removes it from the active set
	require.NoError(t, store.Deactivate(ctx, ti.ID))
	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestApplyAssessmentBatch(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryIndicatorRepository()
	store := NewIndicatorStore(repo, nil)

	existing := &ThreatIndicator{Type: IndicatorIP, Value: "203.0.113.5", Level: SeverityHigh, Source: SourceManual}
	require.NoError(t, store.Ingest(ctx, existing))
	before, err := repo.GetByID(ctx, existing.ID)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	detection := &ThreatIndicator{
		ThreatType: ThreatAnomalousBehavior,
		Type:       IndicatorIP,
		Value:      "198.51.100.7",
		Level:      SeverityHigh,
		Confidence: 0.9,
		Source:     SourceDetection,
	}
	require.NoError(t, store.ApplyAssessment(ctx, []string{existing.ID}, []*ThreatIndicator{detection}))

	touched, err := repo.GetByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.True(t, touched.LastSeen.After(before.LastSeen))

	created, err := repo.GetByID(ctx, detection.ID)
	require.NoError(t, err)
	assert.True(t, created.Active)
}

func TestApplyAssessmentAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryIndicatorRepository()
	store := NewIndicatorStore(repo, nil)

	detection := &ThreatIndicator{
		Type:       IndicatorIP,
		Value:      "198.51.100.7",
		Level:      SeverityHigh,
		ThreatType: ThreatAnomalousBehavior,
		Source:     SourceDetection,
	}

	// A touch against an unknown indicator fails the whole batch; the
	// detection in the same batch must not land either.
	err := store.ApplyAssessment(ctx, []string{"missing-id"}, []*ThreatIndicator{detection})
	require.Error(t, err)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// A cancelled context leaves the store untouched as well
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err = store.ApplyAssessment(cancelled, nil, []*ThreatIndicator{detection})
	require.Error(t, err)

	active, err = repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestIndicatorClampConfidence(t *testing.T) {
	ctx := context.Background()
	store := NewIndicatorStore(NewMemoryIndicatorRepository(), nil)

	ti := &ThreatIndicator{Type: IndicatorIP, Value: "203.0.113.5", Level: SeverityLow, Confidence: 4.2}
	require.NoError(t, store.Ingest(ctx, ti))
	assert.Equal(t, 1.0, ti.Confidence)
}

func seedIndicators(t *testing.T, repo ThreatIndicatorRepository, indicators ...*ThreatIndicator) {
	t.Helper()
	store := NewIndicatorStore(repo, nil)
	for _, ti := range indicators {
		require.NoError(t, store.Ingest(context.Background(), ti))
	}
}

func TestMatchIP(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryIndicatorRepository()
	seedIndicators(t, repo,
		&ThreatIndicator{ThreatType: ThreatBotnet, Type: IndicatorIP, Value: "203.0.113.5", Level: SeverityHigh},
		&ThreatIndicator{ThreatType: ThreatBruteForce, Type: IndicatorIPRange, Value: "198.51.100.0/24", Level: SeverityMedium},
	)
	m := NewMatcher(repo, nil)

	t.Run("exact hit", func(t *testing.T) {
		matches := m.MatchIP(ctx, "203.0.113.5")
		require.Len(t, matches, 1)
		assert.Equal(t, 1.0, matches[0].MatchConfidence)
		assert.Equal(t, SeverityHigh, matches[0].SeverityAdjusted)
	})

	t.Run("range hit is less certain", func(t *testing.T) {
		matches := m.MatchIP(ctx, "198.51.100.200")
		require.Len(t, matches, 1)
		assert.Equal(t, 0.9, matches[0].MatchConfidence)
		assert.Equal(t, "198.51.100.0/24", matches[0].Context["range"])
	})

	t.Run("clean IP", func(t *testing.T) {
		assert.Empty(t, m.MatchIP(ctx, "192.0.2.77"))
	})

	t.Run("unparseable IP", func(t *testing.T) {
		assert.Empty(t, m.MatchIP(ctx, "nonsense"))
	})
}

func TestMatchUserAgent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryIndicatorRepository()
	seedIndicators(t, repo,
		&ThreatIndicator{ThreatType: ThreatCredentialStuffing, Type: IndicatorUserAgent, Value: "sentry-mba", Level: SeverityCritical},
	)
	m := NewMatcher(repo, nil)

	t.Run("builtin curl pattern", func(t *testing.T) {
		matches := m.MatchUserAgent(ctx, "curl/8.0.1")
		require.NotEmpty(t, matches)
		assert.Equal(t, ThreatAutomatedTool, matches[0].Indicator.ThreatType)
	})

	t.Run("empty user agent is itself a signature", func(t *testing.T) {
		matches := m.MatchUserAgent(ctx, "")
		require.NotEmpty(t, matches)
		assert.Equal(t, SeverityLow, matches[0].SeverityAdjusted)
	})

	t.Run("stored pattern matches case-insensitively", func(t *testing.T) {
		matches := m.MatchUserAgent(ctx, "Sentry-MBA/1.5")
		require.NotEmpty(t, matches)
		found := false
		for _, match := range matches {
			if match.Indicator.ThreatType == ThreatCredentialStuffing {
				found = true
			}
		}
		assert.True(t, found, "stored user-agent indicator should match")
	})

	t.Run("ordinary browser", func(t *testing.T) {
		assert.Empty(t, m.MatchUserAgent(ctx, "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15"))
	})
}

func TestMatchExact(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryIndicatorRepository()
	seedIndicators(t, repo,
		&ThreatIndicator{ThreatType: ThreatMalware, Type: IndicatorDeviceFingerprint, Value: "fp-bad", Level: SeverityCritical},
	)
	m := NewMatcher(repo, nil)

	matches := m.MatchExact(ctx, IndicatorDeviceFingerprint, "fp-bad")
	require.Len(t, matches, 1)
	assert.Equal(t, 1.0, matches[0].MatchConfidence)

	assert.Empty(t, m.MatchExact(ctx, IndicatorDeviceFingerprint, "fp-clean"))
	assert.Empty(t, m.MatchExact(ctx, IndicatorDeviceFingerprint, ""))
}

func TestCorroborate(t *testing.T) {
	base := func() []ThreatMatch {
		return []ThreatMatch{
			{
				Indicator:        &ThreatIndicator{Level: SeverityMedium},
				MatchConfidence:  0.95,
				SeverityAdjusted: SeverityMedium,
			},
			{
				Indicator:        &ThreatIndicator{Level: SeverityMedium},
				MatchConfidence:  0.5,
				SeverityAdjusted: SeverityMedium,
			},
		}
	}

	t.Run("no anomalies leaves matches untouched", func(t *testing.T) {
		matches := Corroborate(base(), nil)
		assert.Equal(t, SeverityMedium, matches[0].SeverityAdjusted)
		assert.Equal(t, SeverityMedium, matches[1].SeverityAdjusted)
	})

	t.Run("anomalies elevate only confident matches", func(t *testing.T) {
		anomalies := []BehavioralAnomaly{{Type: AnomalyImpossibleTravel, Severity: SeverityHigh}}
		matches := Corroborate(base(), anomalies)
		assert.Equal(t, SeverityHigh, matches[0].SeverityAdjusted)
		assert.Equal(t, string(AnomalyImpossibleTravel), matches[0].Context["corroborated_by"])
		assert.Equal(t, SeverityMedium, matches[1].SeverityAdjusted)
	})

	t.Run("critical stays critical", func(t *testing.T) {
		matches := []ThreatMatch{{
			Indicator:        &ThreatIndicator{Level: SeverityCritical},
			MatchConfidence:  1.0,
			SeverityAdjusted: SeverityCritical,
		}}
		out := Corroborate(matches, []BehavioralAnomaly{{Type: AnomalyTiming}})
		assert.Equal(t, SeverityCritical, out[0].SeverityAdjusted)
	})
}
