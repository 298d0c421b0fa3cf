// Package risk provides threat indicator lifecycle and live-signal matching
package risk

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/riskgate/riskgate/internal/common/errors"
)

// ThreatType categorizes what an indicator points at
type ThreatType string

const (
	ThreatBruteForce         ThreatType = "brute_force"
	ThreatCredentialStuffing ThreatType = "credential_stuffing"
	ThreatBotnet             ThreatType = "botnet"
	ThreatAutomatedTool      ThreatType = "automated_tool"
	ThreatTorExit            ThreatType = "tor_exit"
	ThreatAnomalousBehavior  ThreatType = "anomalous_behavior"
	ThreatMalware            ThreatType = "malware"
)

// IndicatorType identifies what kind of signal value an indicator matches
type IndicatorType string

const (
	IndicatorIP                IndicatorType = "ip"
	IndicatorIPRange           IndicatorType = "ip_range"
	IndicatorUserAgent         IndicatorType = "user_agent"
	IndicatorDeviceFingerprint IndicatorType = "device_fingerprint"
	IndicatorBehaviorPattern   IndicatorType = "behavior_pattern"
)

// IndicatorSource identifies where an indicator came from
type IndicatorSource string

const (
	SourceDetection IndicatorSource = "detection"
	SourceManual    IndicatorSource = "manual"
	SourceFeed      IndicatorSource = "feed"
)

// ThreatIndicator is a stored signature associated with a known threat
// category and severity. LastSeen is bumped on recurrence; deactivation is
// driven by an external aging/enrichment policy.
type ThreatIndicator struct {
	ID         string            `json:"id"`
	ThreatType ThreatType        `json:"threat_type"`
	Type       IndicatorType     `json:"indicator_type"`
	Value      string            `json:"indicator_value"`
	Level      Severity          `json:"threat_level"`
	Confidence float64           `json:"confidence_score"` // 0-1
	Source     IndicatorSource   `json:"source"`
	FirstSeen  time.Time         `json:"first_seen"`
	LastSeen   time.Time         `json:"last_seen"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Active     bool              `json:"is_active"`
}

// Validate checks the required indicator fields at the ingestion boundary
func (ti *ThreatIndicator) Validate() error {
	if ti.Type == "" {
		return apperrors.New(apperrors.ErrIndicatorInvalid, "indicator_type is required")
	}
	if ti.Value == "" && ti.Type != IndicatorUserAgent {
		// An empty user agent is itself a known automated-tool signature
		return apperrors.New(apperrors.ErrIndicatorInvalid, "indicator_value is required")
	}
	if ti.Level == "" {
		return apperrors.New(apperrors.ErrIndicatorInvalid, "threat_level is required")
	}
	if ti.Type == IndicatorIPRange {
		if _, _, err := net.ParseCIDR(ti.Value); err != nil {
			return apperrors.New(apperrors.ErrIndicatorInvalid, fmt.Sprintf("invalid CIDR %q", ti.Value))
		}
	}
	if ti.Type == IndicatorIP && net.ParseIP(ti.Value) == nil {
		return apperrors.New(apperrors.ErrIndicatorInvalid, fmt.Sprintf("invalid IP %q", ti.Value))
	}
	return nil
}

// ThreatMatch is the ephemeral result of comparing a live signal value
// against the active indicator set
type ThreatMatch struct {
	Indicator        *ThreatIndicator  `json:"indicator"`
	MatchConfidence  float64           `json:"match_confidence"` // 0-1
	Context          map[string]string `json:"context,omitempty"`
	SeverityAdjusted Severity          `json:"severity_adjusted"`
}

// builtinUAPatterns are the always-on automated-tool user-agent signatures.
// They match even with an empty indicator store.
var builtinUAPatterns = []struct {
	re         *regexp.Regexp
	matchEmpty bool
	threat     ThreatType
	level      Severity
	name       string
}{
	{regexp.MustCompile(`(?i)curl/`), false, ThreatAutomatedTool, SeverityMedium, "curl"},
	{regexp.MustCompile(`(?i)wget/`), false, ThreatAutomatedTool, SeverityMedium, "wget"},
	{regexp.MustCompile(`(?i)python-requests`), false, ThreatAutomatedTool, SeverityMedium, "python-requests"},
	{regexp.MustCompile(`(?i)(bot|crawler|spider)`), false, ThreatAutomatedTool, SeverityMedium, "bot"},
	{nil, true, ThreatAutomatedTool, SeverityLow, "empty-user-agent"},
}

// IndicatorStore manages threat indicator lifecycle: ingest, enrich,
// touch on recurrence, deactivate.
type IndicatorStore struct {
	repo   ThreatIndicatorRepository
	logger *zap.Logger
}

// NewIndicatorStore creates an indicator store backed by the given repository
func NewIndicatorStore(repo ThreatIndicatorRepository, logger *zap.Logger) *IndicatorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndicatorStore{
		repo:   repo,
		logger: logger.With(zap.String("component", "indicator_store")),
	}
}

// Ingest validates and stores a new indicator. Malformed indicators are
// rejected at the boundary.
func (s *IndicatorStore) Ingest(ctx context.Context, ti *ThreatIndicator) error {
	if err := ti.Validate(); err != nil {
		return err
	}

	now := time.Now()
	if ti.ID == "" {
		ti.ID = uuid.New().String()
	}
	if ti.FirstSeen.IsZero() {
		ti.FirstSeen = now
	}
	ti.LastSeen = now
	ti.Confidence = clamp01(ti.Confidence)
	ti.Active = true

	if err := s.repo.Create(ctx, ti); err != nil {
		return fmt.Errorf("failed to store indicator: %w", err)
	}

	s.logger.Info("Threat indicator ingested",
		zap.String("id", ti.ID),
		zap.String("type", string(ti.Type)),
		zap.String("threat_type", string(ti.ThreatType)),
		zap.String("level", string(ti.Level)),
	)
	return nil
}

// Touch bumps LastSeen on recurrence of an indicator
func (s *IndicatorStore) Touch(ctx context.Context, id string) error {
	return s.repo.Touch(ctx, id, time.Now())
}

// ApplyAssessment commits every indicator write of one assessment as a
// single all-or-nothing batch: LastSeen bumps for the given matched IDs
// plus any freshly detected indicators. Either everything lands or the
// store is left untouched.
func (s *IndicatorStore) ApplyAssessment(ctx context.Context, touches []string, detections []*ThreatIndicator) error {
	batch := &IndicatorBatch{Seen: time.Now(), Touches: touches}

	for _, ti := range detections {
		if err := ti.Validate(); err != nil {
			return err
		}
		if ti.ID == "" {
			ti.ID = uuid.New().String()
		}
		if ti.FirstSeen.IsZero() {
			ti.FirstSeen = batch.Seen
		}
		ti.LastSeen = batch.Seen
		ti.Confidence = clamp01(ti.Confidence)
		ti.Active = true
		batch.Creates = append(batch.Creates, ti)
	}

	if batch.Empty() {
		return nil
	}
	if err := s.repo.Apply(ctx, batch); err != nil {
		return fmt.Errorf("failed to apply indicator batch: %w", err)
	}

	for _, ti := range batch.Creates {
		s.logger.Info("Threat indicator ingested",
			zap.String("id", ti.ID),
			zap.String("type", string(ti.Type)),
			zap.String("threat_type", string(ti.ThreatType)),
			zap.String("level", string(ti.Level)),
		)
	}
	return nil
}

// Enrich merges metadata into an existing indicator. Enrichment failures
// are non-fatal for the caller; the indicator stays unenriched for retry.
func (s *IndicatorStore) Enrich(ctx context.Context, id string, metadata map[string]string) error {
	ti, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("enrichment lookup failed: %w", err)
	}
	if ti.Metadata == nil {
		ti.Metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		ti.Metadata[k] = v
	}
	if err := s.repo.Update(ctx, ti); err != nil {
		return fmt.Errorf("enrichment update failed: %w", err)
	}
	return nil
}

// Deactivate marks an indicator inactive so the matcher stops using it
func (s *IndicatorStore) Deactivate(ctx context.Context, id string) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("failed to deactivate indicator: %w", err)
	}
	s.logger.Info("Threat indicator deactivated", zap.String("id", id))
	return nil
}

// Matcher compares live signal values against the active indicator set.
// Absence of a match produces no output for that signal.
type Matcher struct {
	repo   ThreatIndicatorRepository
	logger *zap.Logger
}

// NewMatcher creates a matcher over the given indicator repository
func NewMatcher(repo ThreatIndicatorRepository, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{
		repo:   repo,
		logger: logger.With(zap.String("component", "threat_matcher")),
	}
}

// MatchIP matches an IP against exact-IP and CIDR-range indicators
func (m *Matcher) MatchIP(ctx context.Context, ip string) []ThreatMatch {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil
	}

	active, err := m.activeIndicators(ctx)
	if err != nil {
		return nil
	}

	var matches []ThreatMatch
	for _, ti := range active {
		switch ti.Type {
		case IndicatorIP:
			if ti.Value == ip {
				matches = append(matches, m.newMatch(ti, 1.0, map[string]string{"ip": ip}))
			}
		case IndicatorIPRange:
			if _, ipNet, err := net.ParseCIDR(ti.Value); err == nil && ipNet.Contains(parsed) {
				// Range matches are slightly less certain than exact hits
				matches = append(matches, m.newMatch(ti, 0.9, map[string]string{"ip": ip, "range": ti.Value}))
			}
		}
	}
	return matches
}

// MatchUserAgent matches a UA string against built-in automated-tool
// patterns and stored user-agent indicators
func (m *Matcher) MatchUserAgent(ctx context.Context, ua string) []ThreatMatch {
	var matches []ThreatMatch

	for _, p := range builtinUAPatterns {
		hit := false
		if p.matchEmpty {
			hit = ua == ""
		} else if p.re != nil {
			hit = p.re.MatchString(ua)
		}
		if hit {
			ti := &ThreatIndicator{
				ID:         "builtin:" + p.name,
				ThreatType: p.threat,
				Type:       IndicatorUserAgent,
				Value:      p.name,
				Level:      p.level,
				Confidence: 0.9,
				Source:     SourceFeed,
				Active:     true,
			}
			matches = append(matches, m.newMatch(ti, 0.9, map[string]string{"user_agent": ua}))
		}
	}

	active, err := m.activeIndicators(ctx)
	if err != nil {
		return matches
	}
	for _, ti := range active {
		if ti.Type != IndicatorUserAgent || ti.Value == "" {
			continue
		}
		if re, err := regexp.Compile("(?i)" + ti.Value); err == nil && re.MatchString(ua) {
			matches = append(matches, m.newMatch(ti, 0.85, map[string]string{"user_agent": ua}))
		}
	}
	return matches
}

// MatchExact matches a fingerprint or behavioral pattern id exactly
func (m *Matcher) MatchExact(ctx context.Context, indicatorType IndicatorType, value string) []ThreatMatch {
	if value == "" {
		return nil
	}
	active, err := m.activeIndicators(ctx)
	if err != nil {
		return nil
	}

	var matches []ThreatMatch
	for _, ti := range active {
		if ti.Type == indicatorType && ti.Value == value {
			matches = append(matches, m.newMatch(ti, 1.0, map[string]string{"value": value}))
		}
	}
	return matches
}

func (m *Matcher) activeIndicators(ctx context.Context) ([]*ThreatIndicator, error) {
	active, err := m.repo.ListActive(ctx)
	if err != nil {
		m.logger.Warn("Failed to load active indicators", zap.Error(err))
		return nil, err
	}
	return active, nil
}

func (m *Matcher) newMatch(ti *ThreatIndicator, confidence float64, matchCtx map[string]string) ThreatMatch {
	return ThreatMatch{
		Indicator:        ti,
		MatchConfidence:  confidence,
		Context:          matchCtx,
		SeverityAdjusted: ti.Level,
	}
}

// elevate raises a severity by one step, capped at critical
func elevate(s Severity) Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// Corroborate elevates match severities when match confidence is high and
// the assessment found corroborating behavioral anomalies.
func Corroborate(matches []ThreatMatch, anomalies []BehavioralAnomaly) []ThreatMatch {
	if len(anomalies) == 0 {
		return matches
	}
	for i := range matches {
		if matches[i].MatchConfidence >= 0.9 {
			matches[i].SeverityAdjusted = elevate(matches[i].Indicator.Level)
			if matches[i].Context == nil {
				matches[i].Context = make(map[string]string)
			}
			matches[i].Context["corroborated_by"] = string(anomalies[0].Type)
		}
	}
	return matches
}
