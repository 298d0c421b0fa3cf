// Package risk provides privileged session risk tracking
package risk

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/riskgate/riskgate/internal/common/errors"
	"github.com/riskgate/riskgate/internal/metrics"
)

// Privileged session scoring constants. The session score only ever goes
// up while the session is open; it is capped at 100.
const (
	sessionScoreCap        = 100
	escalationBonus        = 10
	elevationMarkerBonus   = 5
	reviewScoreThreshold   = 50
	reviewDurationMinutes  = 480
	suspiciousReasonMarker = "suspicious"
)

// severityWeights maps activity severity to score contribution
var severityWeights = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   3,
	SeverityHigh:     7,
	SeverityCritical: 15,
}

// elevationMarkers indicate privilege elevation when they appear anywhere
// in the command or its description
var elevationMarkers = []string{"sudo", "su "}

// ActivityType classifies a recorded privileged session activity
type ActivityType string

const (
	ActivityCommand             ActivityType = "command"
	ActivityFileAccess          ActivityType = "file_access"
	ActivityConfigChange        ActivityType = "config_change"
	ActivityPrivilegeEscalation ActivityType = "privilege_escalation"
	ActivityDataExport          ActivityType = "data_export"
)

// SessionActivity is one recorded action inside a privileged session
type SessionActivity struct {
	ID        string       `json:"id"`
	Type      ActivityType `json:"type"`
	Severity  Severity     `json:"severity"`
	Command   string       `json:"command,omitempty"`
	Target    string       `json:"target,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// PrivilegedSession is a tracked elevated-access session. Its risk score
// accumulates monotonically as activities are recorded and is frozen on close.
type PrivilegedSession struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Source         string            `json:"source,omitempty"` // e.g. ssh, console, api
	RiskScore      int               `json:"risk_score"`       // 0-100, non-decreasing
	Activities     []SessionActivity `json:"activities"`
	StartedAt      time.Time         `json:"started_at"`
	EndedAt        *time.Time        `json:"ended_at,omitempty"`
	CloseReason    string            `json:"close_reason,omitempty"`
	RequiresReview bool              `json:"requires_review"`
}

// Open reports whether the session is still accepting activities
func (s *PrivilegedSession) Open() bool {
	return s.EndedAt == nil
}

// Duration returns the session length, using now for open sessions
func (s *PrivilegedSession) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// SessionTracker manages the lifecycle and risk scoring of privileged
// sessions. Activity recording is serialized per session, so two concurrent
// Record calls for the same session never interleave score updates.
type SessionTracker struct {
	repo   PrivilegedSessionRepository
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-session serialization
}

// NewSessionTracker creates a session tracker backed by the given repository
func NewSessionTracker(repo PrivilegedSessionRepository, logger *zap.Logger) *SessionTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionTracker{
		repo:   repo,
		logger: logger.With(zap.String("component", "session_tracker")),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (t *SessionTracker) sessionLock(id string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	return l
}

func (t *SessionTracker) dropLock(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, id)
}

// Start opens a new privileged session for the user
func (t *SessionTracker) Start(ctx context.Context, userID, source string) (*PrivilegedSession, error) {
	session := &PrivilegedSession{
		ID:        uuid.New().String(),
		UserID:    userID,
		Source:    source,
		StartedAt: t.now(),
	}

	if err := t.repo.Save(ctx, session); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabase, "failed to persist session")
	}

	metrics.IncActivePrivilegedSessions("riskd")
	t.logger.Info("Privileged session started",
		zap.String("session_id", session.ID),
		zap.String("user_id", userID),
		zap.String("source", source),
	)

	return session, nil
}

// Record appends an activity to an open session and raises its risk score.
// Recording against a closed session fails with ErrSessionClosed.
func (t *SessionTracker) Record(ctx context.Context, sessionID string, activity SessionActivity) (*PrivilegedSession, error) {
	lock := t.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := t.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Open() {
		return nil, apperrors.SessionClosed(sessionID)
	}

	if activity.ID == "" {
		activity.ID = uuid.New().String()
	}
	if activity.Timestamp.IsZero() {
		activity.Timestamp = t.now()
	}
	if activity.Severity == "" {
		activity.Severity = SeverityLow
	}

	session.Activities = append(session.Activities, activity)
	session.RiskScore = raiseScore(session.RiskScore, activityPoints(activity))

	if err := t.repo.Save(ctx, session); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabase, "failed to persist session activity")
	}

	if activity.Severity.AtLeast(SeverityHigh) {
		t.logger.Warn("High severity privileged activity",
			zap.String("session_id", sessionID),
			zap.String("user_id", session.UserID),
			zap.String("activity_type", string(activity.Type)),
			zap.String("severity", string(activity.Severity)),
			zap.Int("risk_score", session.RiskScore),
		)
	}

	return session, nil
}

// Close ends the session, freezes its score, and computes whether the
// session needs a manual review.
func (t *SessionTracker) Close(ctx context.Context, sessionID, reason string) (*PrivilegedSession, error) {
	lock := t.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := t.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Open() {
		return nil, apperrors.SessionClosed(sessionID)
	}

	now := t.now()
	session.EndedAt = &now
	session.CloseReason = reason
	session.RequiresReview = t.needsReview(session, reason)

	if err := t.repo.Save(ctx, session); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabase, "failed to persist session close")
	}

	t.dropLock(sessionID)
	metrics.DecActivePrivilegedSessions("riskd")
	metrics.RecordSessionReview(session.RequiresReview)

	t.logger.Info("Privileged session closed",
		zap.String("session_id", sessionID),
		zap.String("user_id", session.UserID),
		zap.Int("risk_score", session.RiskScore),
		zap.Bool("requires_review", session.RequiresReview),
		zap.Duration("duration", session.Duration(now)),
	)

	return session, nil
}

// Get returns the current state of a session
func (t *SessionTracker) Get(ctx context.Context, sessionID string) (*PrivilegedSession, error) {
	return t.repo.Get(ctx, sessionID)
}

// needsReview decides whether a closing session should be flagged for review
func (t *SessionTracker) needsReview(session *PrivilegedSession, reason string) bool {
	if session.RiskScore > reviewScoreThreshold {
		return true
	}
	for _, a := range session.Activities {
		if a.Severity.AtLeast(SeverityHigh) {
			return true
		}
	}
	if strings.Contains(strings.ToLower(reason), suspiciousReasonMarker) {
		return true
	}
	return session.Duration(*session.EndedAt).Minutes() > reviewDurationMinutes
}

// activityPoints computes the score contribution of one activity
func activityPoints(activity SessionActivity) int {
	points := severityWeights[activity.Severity]

	if activity.Type == ActivityPrivilegeEscalation {
		points += escalationBonus
	}

	if containsElevationMarker(activity.Command) || containsElevationMarker(activity.Detail) {
		points += elevationMarkerBonus
	}

	return points
}

func containsElevationMarker(s string) bool {
	s = strings.ToLower(s)
	for _, marker := range elevationMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// raiseScore adds points with the 100 cap; the score never decreases
func raiseScore(current, points int) int {
	next := current + points
	if next > sessionScoreCap {
		return sessionScoreCap
	}
	if next < current {
		return current
	}
	return next
}
