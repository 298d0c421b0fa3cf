// Package risk implements continuous, multi-signal risk assessment and
// adaptive authentication decisioning for riskgate services
package risk

import (
	"time"
)

// RiskLevel represents the classification of risk
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// String returns the string representation of RiskLevel
func (r RiskLevel) String() string {
	return string(r)
}

// Severity classifies individual threats, anomalies, and session activities.
// It shares the same vocabulary across the per-login pipeline and the
// privileged session tracker.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank orders severities for comparison and sorting
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// FactorType identifies the signal category a risk factor was derived from
type FactorType string

const (
	FactorDevice    FactorType = "device"
	FactorLocation  FactorType = "location"
	FactorBehavior  FactorType = "behavior"
	FactorNetwork   FactorType = "network"
	FactorTemporal  FactorType = "temporal"
	FactorBiometric FactorType = "biometric"
)

// RiskFactor is a single weighted, confidence-tagged input to the aggregate
// risk computation. Factors are ephemeral and created fresh per assessment.
type RiskFactor struct {
	Type        FactorType `json:"type"`
	Name        string     `json:"name"`
	Value       float64    `json:"value"`      // 0-1, clamped before weighting
	Weight      float64    `json:"weight"`     // fixed per factor type
	Confidence  float64    `json:"confidence"` // 0-1, reflects data sufficiency
	Description string     `json:"description"`
}

// DeviceSignal carries raw device fingerprint attributes collected by the caller
type DeviceSignal struct {
	DeviceID            string `json:"device_id"`
	UserAgent           string `json:"user_agent"`
	ScreenResolution    string `json:"screen_resolution"`
	Timezone            string `json:"timezone"`
	Language            string `json:"language"`
	Platform            string `json:"platform"`
	HardwareConcurrency int    `json:"hardware_concurrency"`
	CookiesEnabled      bool   `json:"cookies_enabled"`
	CanvasHash          string `json:"canvas_hash,omitempty"`
	WebGLHash           string `json:"webgl_hash,omitempty"`
	AudioHash           string `json:"audio_hash,omitempty"`
}

// NetworkSignal carries the network context of the request
type NetworkSignal struct {
	IPAddress string `json:"ip_address"`
}

// LocationSignal carries resolved geolocation for the request
type LocationSignal struct {
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	IsVPN     bool    `json:"is_vpn"`
}

// TemporalSignal carries the timing of the request
type TemporalSignal struct {
	Timestamp time.Time `json:"timestamp"`
}

// BehaviorSignal carries per-session behavioral features extracted upstream
// (keystroke/mouse/navigation event streams reduced to aggregates)
type BehaviorSignal struct {
	NavigationVelocity float64 `json:"navigation_velocity"` // actions per minute
	ClickDepth         float64 `json:"click_depth"`
	SessionDuration    float64 `json:"session_duration_minutes"`
}

// BiometricSignal carries the outcome of an external biometric verification.
// The engine never performs matching itself; it only consumes the confidence.
type BiometricSignal struct {
	Matched    bool    `json:"matched"`
	Confidence float64 `json:"confidence"` // 0-1
}

// AssessRequest is a snapshot of all signals available for one assessment.
// Nil categories are omitted from scoring rather than treated as zero risk.
type AssessRequest struct {
	UserID    string           `json:"user_id"`
	SessionID string           `json:"session_id,omitempty"`
	Device    *DeviceSignal    `json:"device,omitempty"`
	Network   *NetworkSignal   `json:"network,omitempty"`
	Location  *LocationSignal  `json:"location,omitempty"`
	Temporal  *TemporalSignal  `json:"temporal,omitempty"`
	Behavior  *BehaviorSignal  `json:"behavior,omitempty"`
	Biometric *BiometricSignal `json:"biometric,omitempty"`
}

// RiskProfile is the weighted-average view of an assessment. It carries an
// explicit TTL; a profile past ExpiresAt must be recomputed, never reused.
type RiskProfile struct {
	UserID          string       `json:"user_id"`
	OverallRisk     float64      `json:"overall_risk"` // 0-1 weighted average
	Score           int          `json:"risk_score"`   // canonical 0-100 scale
	RiskLevel       RiskLevel    `json:"risk_level"`
	Factors         []RiskFactor `json:"factors"`
	Timestamp       time.Time    `json:"timestamp"`
	ExpiresAt       time.Time    `json:"expires_at"`
	Recommendations []string     `json:"recommendations"`
	RequiredActions []AuthAction `json:"required_actions"`
}

// Expired reports whether the profile may no longer be reused
func (p *RiskProfile) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// ActionType enumerates the concrete authentication actions the engine can require
type ActionType string

const (
	ActionMFA             ActionType = "mfa"
	ActionStepUp          ActionType = "step_up"
	ActionBlock           ActionType = "block"
	ActionMonitor         ActionType = "monitor"
	ActionRestrict        ActionType = "restrict"
	ActionVerifyBiometric ActionType = "verify_biometric"
	ActionQuarantine      ActionType = "quarantine"
	ActionEscalate        ActionType = "escalate"
	ActionInvestigate     ActionType = "investigate"
)

// AuthAction is a concrete action the calling authentication flow must apply
type AuthAction struct {
	Type        ActionType        `json:"type"`
	Priority    Severity          `json:"priority"`
	Description string            `json:"description"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// ThreatAnalysisResult is the additive-severity view of an assessment,
// combining threat matches and behavioral anomalies on a 0-100 scale.
type ThreatAnalysisResult struct {
	RequestID               string              `json:"request_id"`
	UserID                  string              `json:"user_id"`
	Score                   int                 `json:"risk_score"` // 0-100, capped
	RiskLevel               RiskLevel           `json:"risk_level"`
	Matches                 []ThreatMatch       `json:"matches"`
	Anomalies               []BehavioralAnomaly `json:"anomalies"`
	RequiresImmediateAction bool                `json:"requires_immediate_action"`
	Timestamp               time.Time           `json:"timestamp"`
}

// Assessment bundles everything the engine returns to the caller for one
// login/session evaluation. The caller is never left without a decision.
type Assessment struct {
	RequestID string                `json:"request_id"`
	Profile   *RiskProfile          `json:"profile"`
	Analysis  *ThreatAnalysisResult `json:"analysis"`
	Actions   []AuthAction          `json:"actions"`
	Duration  time.Duration         `json:"-"`
}

// GeoPoint represents a geographic location
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country,omitempty"`
	City      string  `json:"city,omitempty"`
}

// LoginRecord is one persisted assessment outcome, kept for history
// lookups and per-level statistics
type LoginRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	RequestID   string    `json:"request_id"`
	IPAddress   string    `json:"ip_address"`
	Country     string    `json:"country,omitempty"`
	City        string    `json:"city,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Score       int       `json:"risk_score"`
	Timestamp   time.Time `json:"timestamp"`
}

// AlertStatus is the lifecycle state of a security alert
type AlertStatus string

const (
	AlertOpen     AlertStatus = "open"
	AlertResolved AlertStatus = "resolved"
)

// SecurityAlert is raised when an assessment requires immediate action.
// Alerts stay open until an operator resolves them.
type SecurityAlert struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	RequestID   string      `json:"request_id"`
	Severity    Severity    `json:"severity"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Status      AlertStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	ResolvedAt  *time.Time  `json:"resolved_at,omitempty"`
}

// RiskStats summarizes assessment outcomes by risk level over a window
type RiskStats struct {
	Since   time.Time         `json:"since"`
	Total   int               `json:"total"`
	ByLevel map[RiskLevel]int `json:"by_level"`
}

// DeviceRecord is a stored known-device entry for a user
type DeviceRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Fingerprint string    `json:"fingerprint"`
	Name        string    `json:"name"`
	IPAddress   string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent"`
	Trusted     bool      `json:"trusted"`
	SeenCount   int       `json:"seen_count"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}
