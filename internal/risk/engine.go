// Package risk provides the assessment engine that orchestrates signal
// enrichment, factor scoring, threat matching, anomaly detection, and
// decisioning into a single evaluation.
package risk

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/riskgate/riskgate/internal/common/errors"
	applogger "github.com/riskgate/riskgate/internal/common/logger"
	"github.com/riskgate/riskgate/internal/metrics"
)

// EngineConfig holds tunables for the assessment engine
type EngineConfig struct {
	// ProfileTTL bounds how long a computed RiskProfile may be reused
	ProfileTTL time.Duration

	// OracleTimeout bounds each external enrichment lookup. A lookup that
	// misses the deadline degrades to neutral defaults instead of failing
	// the assessment.
	OracleTimeout time.Duration

	// ProfileSaveRetries bounds optimistic-concurrency retries when
	// persisting baseline updates
	ProfileSaveRetries int

	// HighRiskCountries is a list of ISO country codes treated as elevated
	// location risk
	HighRiskCountries []string
}

// DefaultEngineConfig returns the default engine tunables
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ProfileTTL:         15 * time.Minute,
		OracleTimeout:      2 * time.Second,
		ProfileSaveRetries: 3,
		HighRiskCountries:  []string{"KP", "IR", "SY", "CU"},
	}
}

// Engine evaluates login and session signals into a risk profile, a threat
// analysis, and the authentication actions the caller must apply. Assess is
// safe for concurrent use; all mutable state lives in the repositories.
type Engine struct {
	config     EngineConfig
	evaluator  *FactorEvaluator
	matcher    *Matcher
	detector   *Detector
	aggregator *Aggregator
	policy     *DecisionPolicy
	indicators *IndicatorStore

	profiles BehaviorProfileRepository
	devices  DeviceRepository
	logins   LoginHistoryRepository
	alerts   AlertRepository

	geo        GeoIPOracle
	reputation ReputationOracle

	highRisk map[string]struct{}
	logger   *zap.Logger
	perf     *applogger.PerformanceLogger
	now      func() time.Time

	recentMu sync.RWMutex
	recent   map[string]*RiskProfile
}

// EngineDeps bundles the storage and oracle dependencies of the engine.
// The oracles may be nil; the affected factors then run on neutral defaults.
// Logins and Alerts may be nil; the corresponding side effects and lookup
// endpoints are then disabled.
type EngineDeps struct {
	Indicators ThreatIndicatorRepository
	Profiles   BehaviorProfileRepository
	Devices    DeviceRepository
	Logins     LoginHistoryRepository
	Alerts     AlertRepository
	GeoIP      GeoIPOracle
	Reputation ReputationOracle
}

// NewEngine creates an assessment engine
func NewEngine(config EngineConfig, deps EngineDeps, detectorConfig DetectorConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ProfileTTL == 0 {
		config.ProfileTTL = DefaultEngineConfig().ProfileTTL
	}
	if config.OracleTimeout == 0 {
		config.OracleTimeout = DefaultEngineConfig().OracleTimeout
	}
	if config.ProfileSaveRetries == 0 {
		config.ProfileSaveRetries = DefaultEngineConfig().ProfileSaveRetries
	}

	highRisk := make(map[string]struct{}, len(config.HighRiskCountries))
	for _, cc := range config.HighRiskCountries {
		highRisk[strings.ToUpper(cc)] = struct{}{}
	}

	return &Engine{
		config:     config,
		evaluator:  NewFactorEvaluator(),
		matcher:    NewMatcher(deps.Indicators, logger),
		detector:   NewDetector(detectorConfig, logger),
		aggregator: NewAggregator(),
		policy:     NewDecisionPolicy(),
		indicators: NewIndicatorStore(deps.Indicators, logger),
		profiles:   deps.Profiles,
		devices:    deps.Devices,
		logins:     deps.Logins,
		alerts:     deps.Alerts,
		geo:        deps.GeoIP,
		reputation: deps.Reputation,
		highRisk:   highRisk,
		logger:     logger.With(zap.String("component", "risk_engine")),
		perf:       applogger.NewPerformanceLogger(logger.With(zap.String("component", "risk_engine"))),
		now:        time.Now,
		recent:     make(map[string]*RiskProfile),
	}
}

// Indicators exposes the indicator lifecycle store for ingestion APIs
func (e *Engine) Indicators() *IndicatorStore {
	return e.indicators
}

// Assess evaluates one snapshot of signals for a user. It always returns a
// decision unless the caller's context is cancelled; degraded inputs lower
// factor confidence rather than failing the assessment.
func (e *Engine) Assess(ctx context.Context, req *AssessRequest) (*Assessment, error) {
	if req == nil || req.UserID == "" {
		return nil, apperrors.ValidationError("user_id is required")
	}

	start := e.now()
	requestID := uuid.New().String()
	fingerprint := ComputeFingerprint(req.Device)

	profile := e.loadProfile(ctx, req.UserID)

	// External enrichment, bounded per lookup
	netCtx, geo := e.enrichNetwork(ctx, req.Network)
	e.enrichLocation(req, geo)

	// Threat indicator matching across the live signal values
	matches := e.matchThreats(ctx, req, fingerprint)

	// Behavioral anomaly detection against the baseline
	anomalies := e.detector.Detect(profile, req, fingerprint)
	matches = Corroborate(matches, anomalies)

	if netCtx != nil {
		netCtx.OnThreatList = hasIPMatch(matches)
	}

	factors := e.evaluateFactors(ctx, req, profile, fingerprint, netCtx, geo, anomalies)

	overall, level := e.aggregator.WeightedAverage(factors)
	additiveScore, additiveLevel := e.aggregator.AdditiveSeverity(matches, anomalies)

	actions := e.policy.Decide(level, factors)
	recommendations := e.policy.Recommend(level, matches, anomalies)

	// The caller walked away; nothing may be persisted for this assessment
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrAssessmentAborted, "assessment cancelled")
	}

	e.persistOutcome(ctx, req, profile, fingerprint, anomalies, matches)

	now := e.now()
	assessment := &Assessment{
		RequestID: requestID,
		Profile: &RiskProfile{
			UserID:          req.UserID,
			OverallRisk:     overall,
			Score:           int(overall*100 + 0.5),
			RiskLevel:       level,
			Factors:         factors,
			Timestamp:       now,
			ExpiresAt:       now.Add(e.config.ProfileTTL),
			Recommendations: recommendations,
			RequiredActions: actions,
		},
		Analysis: &ThreatAnalysisResult{
			RequestID:               requestID,
			UserID:                  req.UserID,
			Score:                   additiveScore,
			RiskLevel:               additiveLevel,
			Matches:                 matches,
			Anomalies:               anomalies,
			RequiresImmediateAction: e.aggregator.RequiresImmediateAction(level, matches, anomalies),
			Timestamp:               now,
		},
		Actions:  actions,
		Duration: now.Sub(start),
	}

	e.recordLogin(ctx, req, assessment, fingerprint)
	if assessment.Analysis.RequiresImmediateAction {
		e.raiseAlert(ctx, assessment)
	}

	e.cacheProfile(assessment.Profile)
	e.record(assessment)
	return assessment, nil
}

func (e *Engine) cacheProfile(p *RiskProfile) {
	e.recentMu.Lock()
	e.recent[p.UserID] = p
	e.recentMu.Unlock()
}

// CurrentProfile returns the user's most recent risk profile if it is still
// within its TTL. A profile past ExpiresAt is never reused; callers must run
// a fresh assessment instead.
func (e *Engine) CurrentProfile(userID string) (*RiskProfile, error) {
	e.recentMu.RLock()
	p, ok := e.recent[userID]
	e.recentMu.RUnlock()
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, "no risk profile for user")
	}
	if p.Expired(e.now()) {
		return nil, apperrors.ProfileExpired(userID)
	}
	return p, nil
}

// LoginHistory returns the most recent assessment outcomes for a user
func (e *Engine) LoginHistory(ctx context.Context, userID string, limit int) ([]*LoginRecord, error) {
	if e.logins == nil {
		return nil, apperrors.New(apperrors.ErrOracleUnavailable, "login history is not enabled")
	}
	return e.logins.ListForUser(ctx, userID, limit)
}

// Stats summarizes assessment outcomes by risk level since the given time
func (e *Engine) Stats(ctx context.Context, since time.Time) (*RiskStats, error) {
	if e.logins == nil {
		return nil, apperrors.New(apperrors.ErrOracleUnavailable, "login history is not enabled")
	}
	counts, err := e.logins.CountByLevel(ctx, since)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return &RiskStats{Since: since, Total: total, ByLevel: counts}, nil
}

// OpenAlerts returns unresolved security alerts, newest first
func (e *Engine) OpenAlerts(ctx context.Context, limit int) ([]*SecurityAlert, error) {
	if e.alerts == nil {
		return nil, apperrors.New(apperrors.ErrOracleUnavailable, "alerting is not enabled")
	}
	return e.alerts.ListOpen(ctx, limit)
}

// ResolveAlert marks an alert as resolved
func (e *Engine) ResolveAlert(ctx context.Context, id string) error {
	if e.alerts == nil {
		return apperrors.New(apperrors.ErrOracleUnavailable, "alerting is not enabled")
	}
	return e.alerts.Resolve(ctx, id, e.now())
}

// loadProfile fetches the user's baseline; a missing or unreadable profile
// degrades to a fresh cold-start baseline
func (e *Engine) loadProfile(ctx context.Context, userID string) *BehaviorProfile {
	profile, err := e.profiles.Get(ctx, userID)
	if err != nil {
		if !apperrors.IsErrorCode(err, apperrors.ErrNotFound) {
			e.logger.Warn("Baseline load failed, assessing cold",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		return NewBehaviorProfile(userID)
	}
	return profile
}

// enrichNetwork resolves VPN/Tor/reputation signals for the request IP.
// Oracle failures and timeouts degrade to neutral defaults.
func (e *Engine) enrichNetwork(ctx context.Context, sig *NetworkSignal) (*NetworkContext, *GeoIPResult) {
	if sig == nil || sig.IPAddress == "" {
		return nil, nil
	}

	nc := &NetworkContext{IPAddress: sig.IPAddress}

	var geo *GeoIPResult
	if e.geo != nil {
		octx, cancel := context.WithTimeout(ctx, e.config.OracleTimeout)
		start := time.Now()
		result, err := e.geo.Lookup(octx, sig.IPAddress)
		cancel()
		e.perf.LogOracleLookup("geoip", time.Since(start), err)
		if err != nil {
			metrics.RecordOracleLookup("geoip", oracleOutcome(err))
			e.logger.Debug("GeoIP lookup degraded", zap.String("ip", sig.IPAddress), zap.Error(err))
		} else {
			metrics.RecordOracleLookup("geoip", "ok")
			geo = result
			nc.IsVPN = result.IsVPN
			nc.IsTor = result.IsTor
		}
	}

	if e.reputation != nil {
		octx, cancel := context.WithTimeout(ctx, e.config.OracleTimeout)
		start := time.Now()
		score, err := e.reputation.Score(octx, sig.IPAddress)
		cancel()
		e.perf.LogOracleLookup("reputation", time.Since(start), err)
		if err != nil {
			metrics.RecordOracleLookup("reputation", oracleOutcome(err))
		} else {
			metrics.RecordOracleLookup("reputation", "ok")
			nc.Reputation = score
			nc.ReputationKnown = true
		}
	}

	return nc, geo
}

// enrichLocation backfills a missing location signal from the GeoIP result
func (e *Engine) enrichLocation(req *AssessRequest, geo *GeoIPResult) {
	if geo == nil || req.Location != nil {
		return
	}
	if geo.Latitude == 0 && geo.Longitude == 0 {
		return
	}
	req.Location = &LocationSignal{
		Country:   geo.Country,
		City:      geo.City,
		Latitude:  geo.Latitude,
		Longitude: geo.Longitude,
		IsVPN:     geo.IsVPN,
	}
}

// matchThreats runs the matcher over every live signal value present
func (e *Engine) matchThreats(ctx context.Context, req *AssessRequest, fingerprint string) []ThreatMatch {
	var matches []ThreatMatch

	if req.Network != nil && req.Network.IPAddress != "" {
		matches = append(matches, e.matcher.MatchIP(ctx, req.Network.IPAddress)...)
	}
	if req.Device != nil {
		matches = append(matches, e.matcher.MatchUserAgent(ctx, req.Device.UserAgent)...)
	}
	if fingerprint != "" {
		matches = append(matches, e.matcher.MatchExact(ctx, IndicatorDeviceFingerprint, fingerprint)...)
	}

	for _, m := range matches {
		metrics.RecordThreatMatch(string(m.Indicator.ThreatType), string(m.SeverityAdjusted))
	}
	return matches
}

// evaluateFactors builds the enriched per-category contexts and scores them
func (e *Engine) evaluateFactors(ctx context.Context, req *AssessRequest, profile *BehaviorProfile, fingerprint string, nc *NetworkContext, geo *GeoIPResult, anomalies []BehavioralAnomaly) []RiskFactor {
	var factors []RiskFactor

	if req.Device != nil {
		dc := &DeviceContext{Signal: *req.Device}
		dc.Known = profile.KnowsDevice(fingerprint)
		if rec, err := e.devices.Get(ctx, req.UserID, fingerprint); err == nil {
			dc.Known = true
			dc.Consistent = rec.UserAgent == "" || rec.UserAgent == req.Device.UserAgent
		} else {
			dc.Consistent = true
		}
		if count, err := e.devices.CountForUser(ctx, req.UserID); err == nil {
			dc.HistoryCount = count
		}
		if f, ok := e.evaluator.Device(dc); ok {
			factors = append(factors, f)
		}
	}

	if req.Location != nil {
		lc := &LocationContext{Signal: *req.Location}
		if geo != nil {
			lc.IsTor = geo.IsTor
			lc.HighRiskCountry = e.isHighRiskCountry(geo.CountryCode)
		}
		lc.HighRiskCountry = lc.HighRiskCountry || e.isHighRiskCountry(req.Location.Country)
		if d, ok := profile.NearestKnownKm(req.Location.Latitude, req.Location.Longitude); ok {
			lc.NearestKnownKm = d
			lc.HasHistory = true
		}
		if f, ok := e.evaluator.Location(lc); ok {
			factors = append(factors, f)
		}
	}

	if req.Temporal != nil && !req.Temporal.Timestamp.IsZero() {
		tc := &TemporalContext{
			Timestamp:    req.Temporal.Timestamp,
			TypicalHours: profile.TypicalHours(),
			TypicalDays:  profile.TypicalDays(),
		}
		if f, ok := e.evaluator.Temporal(tc); ok {
			factors = append(factors, f)
		}
	}

	if nc != nil {
		if f, ok := e.evaluator.Network(nc); ok {
			factors = append(factors, f)
		}
	}

	if len(anomalies) > 0 {
		deviations := make(map[string]float64, len(anomalies))
		for _, a := range anomalies {
			if a.DeviationScore > deviations[string(a.Type)] {
				deviations[string(a.Type)] = a.DeviationScore
			}
		}
		if f, ok := e.evaluator.Behavior(&BehaviorContext{DeviationScores: deviations}); ok {
			factors = append(factors, f)
		}
	}

	if req.Biometric != nil {
		bc := &BiometricContext{Matched: req.Biometric.Matched, Confidence: req.Biometric.Confidence}
		if f, ok := e.evaluator.Biometric(bc); ok {
			factors = append(factors, f)
		}
	}

	return factors
}

func (e *Engine) isHighRiskCountry(country string) bool {
	if country == "" {
		return false
	}
	_, ok := e.highRisk[strings.ToUpper(country)]
	return ok
}

// persistOutcome applies the assessment's side effects: matched indicator
// recurrence, detection-sourced indicators for severe anomalies, device
// registry update, and the baseline observation.
func (e *Engine) persistOutcome(ctx context.Context, req *AssessRequest, profile *BehaviorProfile, fingerprint string, anomalies []BehavioralAnomaly, matches []ThreatMatch) {
	var touches []string
	for _, m := range matches {
		if m.Indicator.Source == SourceFeed || strings.HasPrefix(m.Indicator.ID, "builtin:") {
			continue
		}
		touches = append(touches, m.Indicator.ID)
	}

	// One batch per assessment so a cancellation mid-persist never
	// leaves part of the indicator writes committed.
	if err := e.indicators.ApplyAssessment(ctx, touches, detectionIndicators(req, fingerprint, anomalies)); err != nil {
		e.logger.Warn("Indicator batch apply failed", zap.Error(err))
	}

	if req.Device != nil && fingerprint != "" {
		e.upsertDevice(ctx, req, fingerprint)
	}

	e.observeBaseline(ctx, req, profile, fingerprint)
}

// detectionIndicators derives new threat indicators from high and critical
// anomalies. The slice is built in full before any write happens.
func detectionIndicators(req *AssessRequest, fingerprint string, anomalies []BehavioralAnomaly) []*ThreatIndicator {
	var out []*ThreatIndicator
	for _, a := range anomalies {
		if !a.Severity.AtLeast(SeverityHigh) {
			continue
		}
		if req.Network != nil && req.Network.IPAddress != "" {
			out = append(out, &ThreatIndicator{
				ThreatType: ThreatAnomalousBehavior,
				Type:       IndicatorIP,
				Value:      req.Network.IPAddress,
				Level:      a.Severity,
				Confidence: a.Confidence,
				Source:     SourceDetection,
				Metadata:   map[string]string{"anomaly_type": string(a.Type), "user_id": req.UserID},
			})
		}
		if a.Type == AnomalyNewDevice && fingerprint != "" {
			out = append(out, &ThreatIndicator{
				ThreatType: ThreatAnomalousBehavior,
				Type:       IndicatorDeviceFingerprint,
				Value:      fingerprint,
				Level:      a.Severity,
				Confidence: a.Confidence,
				Source:     SourceDetection,
				Metadata:   map[string]string{"user_id": req.UserID},
			})
		}
	}
	return out
}

// recordLogin appends the assessment outcome to the user's login history
func (e *Engine) recordLogin(ctx context.Context, req *AssessRequest, a *Assessment, fingerprint string) {
	if e.logins == nil {
		return
	}
	rec := &LoginRecord{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		RequestID:   a.RequestID,
		Fingerprint: fingerprint,
		RiskLevel:   a.Profile.RiskLevel,
		Score:       a.Profile.Score,
		Timestamp:   a.Profile.Timestamp,
	}
	if req.Network != nil {
		rec.IPAddress = req.Network.IPAddress
	}
	if req.Location != nil {
		rec.Country = req.Location.Country
		rec.City = req.Location.City
	}
	if err := e.logins.Record(ctx, rec); err != nil {
		e.logger.Warn("Login history record failed",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
	}
}

// raiseAlert stores a security alert for an assessment that requires
// immediate action
func (e *Engine) raiseAlert(ctx context.Context, a *Assessment) {
	if e.alerts == nil {
		return
	}
	alert := &SecurityAlert{
		ID:        uuid.New().String(),
		UserID:    a.Profile.UserID,
		RequestID: a.RequestID,
		Severity:  SeverityCritical,
		Title:     "High risk authentication detected",
		Status:    AlertOpen,
		CreatedAt: a.Analysis.Timestamp,
	}
	var parts []string
	for _, m := range a.Analysis.Matches {
		parts = append(parts, "threat indicator match: "+string(m.Indicator.ThreatType))
	}
	for _, an := range a.Analysis.Anomalies {
		if an.Severity.AtLeast(SeverityHigh) {
			parts = append(parts, "behavioral anomaly: "+string(an.Type))
		}
	}
	alert.Description = strings.Join(parts, "; ")

	if err := e.alerts.Create(ctx, alert); err != nil {
		e.logger.Warn("Alert create failed",
			zap.String("user_id", a.Profile.UserID),
			zap.Error(err),
		)
		return
	}
	e.logger.Warn("Security alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("user_id", alert.UserID),
		zap.String("request_id", alert.RequestID),
	)
}

func (e *Engine) upsertDevice(ctx context.Context, req *AssessRequest, fingerprint string) {
	now := e.now()
	rec := &DeviceRecord{
		UserID:      req.UserID,
		Fingerprint: fingerprint,
		UserAgent:   req.Device.UserAgent,
		FirstSeen:   now,
		LastSeen:    now,
		SeenCount:   1,
	}
	if req.Network != nil {
		rec.IPAddress = req.Network.IPAddress
	}
	if existing, err := e.devices.Get(ctx, req.UserID, fingerprint); err == nil {
		rec.ID = existing.ID
		rec.Name = existing.Name
		rec.Trusted = existing.Trusted
		rec.FirstSeen = existing.FirstSeen
		rec.SeenCount = existing.SeenCount + 1
	}
	if err := e.devices.Upsert(ctx, rec); err != nil {
		e.logger.Warn("Device upsert failed",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
	}
}

// observeBaseline folds the request into the baseline with optimistic
// concurrency; a stale version triggers a reload-and-retry.
func (e *Engine) observeBaseline(ctx context.Context, req *AssessRequest, profile *BehaviorProfile, fingerprint string) {
	now := e.now()
	for attempt := 0; attempt < e.config.ProfileSaveRetries; attempt++ {
		profile.Observe(req, fingerprint, now)
		err := e.profiles.Save(ctx, profile)
		if err == nil {
			return
		}
		if !apperrors.IsErrorCode(err, apperrors.ErrConflict) {
			e.logger.Warn("Baseline save failed",
				zap.String("user_id", req.UserID),
				zap.Error(err),
			)
			return
		}
		reloaded, gerr := e.profiles.Get(ctx, req.UserID)
		if gerr != nil {
			e.logger.Warn("Baseline reload after conflict failed",
				zap.String("user_id", req.UserID),
				zap.Error(gerr),
			)
			return
		}
		profile = reloaded
	}
	e.logger.Warn("Baseline save retries exhausted", zap.String("user_id", req.UserID))
}

func (e *Engine) record(a *Assessment) {
	metrics.RecordAssessment("riskd", string(a.Profile.RiskLevel), a.Duration)
	metrics.RecordRiskScore("riskd", "weighted_average", float64(a.Profile.Score))
	metrics.RecordRiskScore("riskd", "additive_severity", float64(a.Analysis.Score))
	for _, action := range a.Actions {
		metrics.RecordAction(string(action.Type))
	}
	for _, an := range a.Analysis.Anomalies {
		metrics.RecordAnomaly(string(an.Type), string(an.Severity))
	}

	e.perf.WarnThreshold("assessment", a.Duration, 500*time.Millisecond,
		zap.String("request_id", a.RequestID))

	e.logger.Debug("Assessment complete",
		zap.String("request_id", a.RequestID),
		zap.String("user_id", a.Profile.UserID),
		zap.Float64("overall_risk", a.Profile.OverallRisk),
		zap.String("risk_level", string(a.Profile.RiskLevel)),
		zap.Int("additive_score", a.Analysis.Score),
		zap.Int("matches", len(a.Analysis.Matches)),
		zap.Int("anomalies", len(a.Analysis.Anomalies)),
		zap.Duration("duration", a.Duration),
	)
}

// oracleOutcome classifies an oracle failure for metrics
func oracleOutcome(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

// hasIPMatch reports whether any match came from an IP or IP-range indicator
func hasIPMatch(matches []ThreatMatch) bool {
	for _, m := range matches {
		if m.Indicator.Type == IndicatorIP || m.Indicator.Type == IndicatorIPRange {
			return true
		}
	}
	return false
}
