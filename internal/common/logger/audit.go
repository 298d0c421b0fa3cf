// Package logger provides structured logging utilities for riskgate services
package logger

import (
	"time"

	"go.uber.org/zap"
)

// AuditEvent represents an audit log event
type AuditEvent struct {
	EventType  string                 `json:"event_type"`
	Actor      string                 `json:"actor"` // User ID the event is about
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resource_id"`
	Status     string                 `json:"status"` // success, failure, flagged, denied
	Reason     string                 `json:"reason,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// AuditLogger writes the structured audit trail of the risk engine:
// assessments, raised and resolved alerts, indicator lifecycle changes, and
// flagged privileged sessions.
type AuditLogger struct {
	logger *zap.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger.With(zap.String("log_type", "audit")),
	}
}

// Log logs an audit event
func (a *AuditLogger) Log(event *AuditEvent) {
	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.String("actor", event.Actor),
		zap.String("action", event.Action),
		zap.String("resource", event.Resource),
		zap.String("resource_id", event.ResourceID),
		zap.String("status", event.Status),
		zap.Time("timestamp", event.Timestamp),
	}

	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}

	if event.IPAddress != "" {
		fields = append(fields, zap.String("ip_address", event.IPAddress))
	}

	if event.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", event.UserAgent))
	}

	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	// Log at appropriate level based on status
	switch event.Status {
	case "failure", "error":
		a.logger.Error("Audit event", fields...)
	case "flagged", "denied":
		a.logger.Warn("Audit event", fields...)
	default:
		a.logger.Info("Audit event", fields...)
	}
}

// LogAssessment logs one completed risk assessment
func (a *AuditLogger) LogAssessment(userID, requestID, ipAddress, userAgent, riskLevel string, score int) {
	a.Log(&AuditEvent{
		EventType:  "risk.assessment",
		Actor:      userID,
		Action:     "assess",
		Resource:   "assessment",
		ResourceID: requestID,
		Status:     "success",
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Metadata: map[string]interface{}{
			"risk_level": riskLevel,
			"risk_score": score,
		},
		Timestamp: time.Now(),
	})
}

// LogAlertRaised logs a security alert raised on a high risk assessment
func (a *AuditLogger) LogAlertRaised(userID, requestID, severity, title string) {
	a.Log(&AuditEvent{
		EventType:  "risk.alert.raised",
		Actor:      userID,
		Action:     "raise",
		Resource:   "alert",
		ResourceID: requestID,
		Status:     "flagged",
		Reason:     title,
		Metadata:   map[string]interface{}{"severity": severity},
		Timestamp:  time.Now(),
	})
}

// LogAlertResolved logs the resolution of a security alert
func (a *AuditLogger) LogAlertResolved(alertID string) {
	a.Log(&AuditEvent{
		EventType:  "risk.alert.resolved",
		Action:     "resolve",
		Resource:   "alert",
		ResourceID: alertID,
		Status:     "success",
		Timestamp:  time.Now(),
	})
}

// LogIndicatorIngested logs a new threat indicator entering the store
func (a *AuditLogger) LogIndicatorIngested(id, indicatorType, threatType, level string) {
	a.Log(&AuditEvent{
		EventType:  "indicator.ingested",
		Action:     "ingest",
		Resource:   "threat_indicator",
		ResourceID: id,
		Status:     "success",
		Metadata: map[string]interface{}{
			"indicator_type": indicatorType,
			"threat_type":    threatType,
			"threat_level":   level,
		},
		Timestamp: time.Now(),
	})
}

// LogIndicatorDeactivated logs taking a threat indicator out of matching
func (a *AuditLogger) LogIndicatorDeactivated(id string) {
	a.Log(&AuditEvent{
		EventType:  "indicator.deactivated",
		Action:     "deactivate",
		Resource:   "threat_indicator",
		ResourceID: id,
		Status:     "success",
		Timestamp:  time.Now(),
	})
}

// LogSessionFlagged logs a privileged session that closed flagged for review
func (a *AuditLogger) LogSessionFlagged(sessionID, userID, reason string, score int) {
	a.Log(&AuditEvent{
		EventType:  "session.flagged",
		Actor:      userID,
		Action:     "close",
		Resource:   "privileged_session",
		ResourceID: sessionID,
		Status:     "flagged",
		Reason:     reason,
		Metadata:   map[string]interface{}{"risk_score": score},
		Timestamp:  time.Now(),
	})
}

// LogSecurityEvent logs a security-related event
func (a *AuditLogger) LogSecurityEvent(eventType, actor, action, details string, metadata map[string]interface{}) {
	a.Log(&AuditEvent{
		EventType: eventType,
		Actor:     actor,
		Action:    action,
		Resource:  "security",
		Status:    "flagged",
		Reason:    details,
		Metadata:  metadata,
		Timestamp: time.Now(),
	})
}
