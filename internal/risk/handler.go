// Package risk provides HTTP handlers for the assessment and session APIs
package risk

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/riskgate/riskgate/internal/common/errors"
	applogger "github.com/riskgate/riskgate/internal/common/logger"
)

// AssessmentSearcher looks up historical assessment documents for a user
type AssessmentSearcher interface {
	SearchAssessments(userID string, limit int) ([]json.RawMessage, error)
}

// Handler provides HTTP handlers for risk operations
type Handler struct {
	engine   *Engine
	tracker  *SessionTracker
	searcher AssessmentSearcher
	audit    *applogger.AuditLogger
	logger   *zap.Logger

	// onAssessment is invoked for every completed assessment, e.g. to
	// index it into the audit sink
	onAssessment func(*Assessment)
	// onSessionClose is invoked for every closed privileged session
	onSessionClose func(*PrivilegedSession)
}

// NewHandler creates a risk API handler
func NewHandler(engine *Engine, tracker *SessionTracker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:  engine,
		tracker: tracker,
		logger:  logger.With(zap.String("component", "risk_handler")),
	}
}

// OnAssessment registers a callback fired after each completed assessment
func (h *Handler) OnAssessment(fn func(*Assessment)) {
	h.onAssessment = fn
}

// OnSessionClose registers a callback fired after each closed session
func (h *Handler) OnSessionClose(fn func(*PrivilegedSession)) {
	h.onSessionClose = fn
}

// WithSearcher enables the assessment history endpoint
func (h *Handler) WithSearcher(s AssessmentSearcher) {
	h.searcher = s
}

// WithAuditLog enables the structured audit trail for state-changing
// operations
func (h *Handler) WithAuditLog(a *applogger.AuditLogger) {
	h.audit = a
}

// RegisterRoutes registers risk routes with the Gin router
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/assess", h.Assess)

	indicators := r.Group("/indicators")
	{
		indicators.POST("", h.IngestIndicator)
		indicators.POST("/:id/enrich", h.EnrichIndicator)
		indicators.POST("/:id/deactivate", h.DeactivateIndicator)
	}

	sessions := r.Group("/sessions")
	{
		sessions.POST("", h.StartSession)
		sessions.GET("/:id", h.GetSession)
		sessions.POST("/:id/activities", h.RecordActivity)
		sessions.POST("/:id/close", h.CloseSession)
	}

	alerts := r.Group("/alerts")
	{
		alerts.GET("", h.ListAlerts)
		alerts.POST("/:id/resolve", h.ResolveAlert)
	}

	r.GET("/users/:id/assessments", h.ListAssessments)
	r.GET("/users/:id/logins", h.ListLogins)
	r.GET("/users/:id/profile", h.GetProfile)
	r.GET("/stats", h.Stats)
}

// Assess handles POST /api/v1/risk/assess
func (h *Handler) Assess(c *gin.Context) {
	var req AssessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest(err.Error()))
		return
	}

	// Fall back to the transport-level address when the caller did not
	// supply a network signal
	if req.Network == nil {
		req.Network = &NetworkSignal{IPAddress: c.ClientIP()}
	}
	if req.Device != nil && req.Device.UserAgent == "" {
		req.Device.UserAgent = c.GetHeader("User-Agent")
	}

	assessment, err := h.engine.Assess(c.Request.Context(), &req)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	if h.audit != nil {
		ua := ""
		if req.Device != nil {
			ua = req.Device.UserAgent
		}
		h.audit.LogAssessment(req.UserID, assessment.RequestID, req.Network.IPAddress, ua,
			string(assessment.Profile.RiskLevel), assessment.Profile.Score)
		if assessment.Analysis.RequiresImmediateAction {
			h.audit.LogAlertRaised(req.UserID, assessment.RequestID,
				string(assessment.Analysis.RiskLevel), "High risk authentication detected")
		}
	}

	if h.onAssessment != nil {
		h.onAssessment(assessment)
	}

	c.JSON(http.StatusOK, assessment)
}

// IngestIndicator handles POST /api/v1/risk/indicators
func (h *Handler) IngestIndicator(c *gin.Context) {
	var ti ThreatIndicator
	if err := c.ShouldBindJSON(&ti); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest(err.Error()))
		return
	}

	if err := h.engine.Indicators().Ingest(c.Request.Context(), &ti); err != nil {
		apperrors.HandleError(c, err)
		return
	}

	if h.audit != nil {
		h.audit.LogIndicatorIngested(ti.ID, string(ti.Type), string(ti.ThreatType), string(ti.Level))
	}

	c.JSON(http.StatusCreated, ti)
}

// EnrichIndicator handles POST /api/v1/risk/indicators/:id/enrich
func (h *Handler) EnrichIndicator(c *gin.Context) {
	var body struct {
		Metadata map[string]string `json:"metadata" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest(err.Error()))
		return
	}

	if err := h.engine.Indicators().Enrich(c.Request.Context(), c.Param("id"), body.Metadata); err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "enriched"})
}

// DeactivateIndicator handles POST /api/v1/risk/indicators/:id/deactivate
func (h *Handler) DeactivateIndicator(c *gin.Context) {
	if err := h.engine.Indicators().Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		apperrors.HandleError(c, err)
		return
	}

	if h.audit != nil {
		h.audit.LogIndicatorDeactivated(c.Param("id"))
	}

	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

// StartSession handles POST /api/v1/risk/sessions
func (h *Handler) StartSession(c *gin.Context) {
	var body struct {
		UserID string `json:"user_id" binding:"required"`
		Source string `json:"source"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest(err.Error()))
		return
	}

	session, err := h.tracker.Start(c.Request.Context(), body.UserID, body.Source)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// GetSession handles GET /api/v1/risk/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.tracker.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// RecordActivity handles POST /api/v1/risk/sessions/:id/activities
func (h *Handler) RecordActivity(c *gin.Context) {
	var activity SessionActivity
	if err := c.ShouldBindJSON(&activity); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest(err.Error()))
		return
	}

	session, err := h.tracker.Record(c.Request.Context(), c.Param("id"), activity)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": session.ID,
		"risk_score": session.RiskScore,
	})
}

// CloseSession handles POST /api/v1/risk/sessions/:id/close
func (h *Handler) CloseSession(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	// Reason is optional; an empty body closes without one
	_ = c.ShouldBindJSON(&body)

	session, err := h.tracker.Close(c.Request.Context(), c.Param("id"), body.Reason)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	if h.audit != nil && session.RequiresReview {
		h.audit.LogSessionFlagged(session.ID, session.UserID, body.Reason, session.RiskScore)
	}

	if h.onSessionClose != nil {
		h.onSessionClose(session)
	}

	c.JSON(http.StatusOK, session)
}

// ListAssessments handles GET /api/v1/risk/users/:id/assessments
func (h *Handler) ListAssessments(c *gin.Context) {
	if h.searcher == nil {
		apperrors.HandleError(c, apperrors.New(apperrors.ErrOracleUnavailable, "assessment history is not enabled"))
		return
	}

	limit := parseLimit(c, 50, 500)
	docs, err := h.searcher.SearchAssessments(c.Param("id"), limit)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":     c.Param("id"),
		"count":       len(docs),
		"assessments": docs,
	})
}

// ListLogins handles GET /api/v1/risk/users/:id/logins
func (h *Handler) ListLogins(c *gin.Context) {
	limit := parseLimit(c, 50, 500)
	records, err := h.engine.LoginHistory(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": c.Param("id"),
		"count":   len(records),
		"logins":  records,
	})
}

// GetProfile handles GET /api/v1/risk/users/:id/profile. It returns the
// user's most recent risk profile; a profile past its TTL is rejected so
// callers cannot act on stale risk.
func (h *Handler) GetProfile(c *gin.Context) {
	profile, err := h.engine.CurrentProfile(c.Param("id"))
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// ListAlerts handles GET /api/v1/risk/alerts
func (h *Handler) ListAlerts(c *gin.Context) {
	limit := parseLimit(c, 50, 500)
	alerts, err := h.engine.OpenAlerts(c.Request.Context(), limit)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

// ResolveAlert handles POST /api/v1/risk/alerts/:id/resolve
func (h *Handler) ResolveAlert(c *gin.Context) {
	if err := h.engine.ResolveAlert(c.Request.Context(), c.Param("id")); err != nil {
		apperrors.HandleError(c, err)
		return
	}

	if h.audit != nil {
		h.audit.LogAlertResolved(c.Param("id"))
	}

	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

// Stats handles GET /api/v1/risk/stats
func (h *Handler) Stats(c *gin.Context) {
	hours := 24
	if s := c.Query("hours"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			hours = v
		}
	}

	stats, err := h.engine.Stats(c.Request.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// parseLimit parses a limit query parameter with a default and cap
func parseLimit(c *gin.Context, def, max int) int {
	limit := def
	if s := c.Query("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}
