// Package audit indexes assessment outcomes and privileged session reviews
// into Elasticsearch for search and retention.
package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/riskgate/riskgate/internal/common/database"
	"github.com/riskgate/riskgate/internal/risk"
)

// assessmentIndexMapping defines the Elasticsearch mapping for assessment documents
const assessmentIndexMapping = `{
	"mappings": {
		"properties": {
			"request_id":    { "type": "keyword" },
			"user_id":       { "type": "keyword" },
			"timestamp":     { "type": "date" },
			"overall_risk":  { "type": "float" },
			"risk_score":    { "type": "integer" },
			"risk_level":    { "type": "keyword" },
			"additive_score": { "type": "integer" },
			"additive_level": { "type": "keyword" },
			"actions":       { "type": "keyword" },
			"match_count":   { "type": "integer" },
			"anomaly_count": { "type": "integer" },
			"anomaly_types": { "type": "keyword" },
			"immediate_action": { "type": "boolean" }
		}
	}
}`

// sessionIndexMapping defines the Elasticsearch mapping for session review documents
const sessionIndexMapping = `{
	"mappings": {
		"properties": {
			"session_id":      { "type": "keyword" },
			"user_id":         { "type": "keyword" },
			"source":          { "type": "keyword" },
			"risk_score":      { "type": "integer" },
			"activity_count":  { "type": "integer" },
			"started_at":      { "type": "date" },
			"ended_at":        { "type": "date" },
			"duration_minutes": { "type": "float" },
			"close_reason":    { "type": "text", "fields": { "keyword": { "type": "keyword" } } },
			"requires_review": { "type": "boolean" }
		}
	}
}`

// assessmentDoc is the indexed shape of one assessment
type assessmentDoc struct {
	RequestID       string    `json:"request_id"`
	UserID          string    `json:"user_id"`
	Timestamp       time.Time `json:"timestamp"`
	OverallRisk     float64   `json:"overall_risk"`
	RiskScore       int       `json:"risk_score"`
	RiskLevel       string    `json:"risk_level"`
	AdditiveScore   int       `json:"additive_score"`
	AdditiveLevel   string    `json:"additive_level"`
	Actions         []string  `json:"actions"`
	MatchCount      int       `json:"match_count"`
	AnomalyCount    int       `json:"anomaly_count"`
	AnomalyTypes    []string  `json:"anomaly_types"`
	ImmediateAction bool      `json:"immediate_action"`
}

// sessionDoc is the indexed shape of one closed privileged session
type sessionDoc struct {
	SessionID       string     `json:"session_id"`
	UserID          string     `json:"user_id"`
	Source          string     `json:"source"`
	RiskScore       int        `json:"risk_score"`
	ActivityCount   int        `json:"activity_count"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationMinutes float64    `json:"duration_minutes"`
	CloseReason     string     `json:"close_reason"`
	RequiresReview  bool       `json:"requires_review"`
}

// Sink writes assessment and session documents to Elasticsearch.
// Indexing is best-effort: a failed write is logged and dropped, it never
// blocks or fails the assessment path.
type Sink struct {
	es          *database.ElasticsearchClient
	indexPrefix string
	logger      *zap.Logger
}

// NewSink creates an audit sink. A nil Elasticsearch client disables indexing.
func NewSink(es *database.ElasticsearchClient, indexPrefix string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if indexPrefix == "" {
		indexPrefix = "riskgate"
	}
	return &Sink{
		es:          es,
		indexPrefix: indexPrefix,
		logger:      logger.With(zap.String("component", "audit_sink")),
	}
}

func (s *Sink) assessmentIndex() string {
	return s.indexPrefix + "_assessments"
}

func (s *Sink) sessionIndex() string {
	return s.indexPrefix + "_session_reviews"
}

// Init ensures the backing indices exist with their mappings
func (s *Sink) Init() error {
	if s.es == nil {
		return nil
	}
	if err := s.es.EnsureIndex(s.assessmentIndex(), assessmentIndexMapping); err != nil {
		return fmt.Errorf("ensure assessments index: %w", err)
	}
	if err := s.es.EnsureIndex(s.sessionIndex(), sessionIndexMapping); err != nil {
		return fmt.Errorf("ensure session reviews index: %w", err)
	}
	s.logger.Info("Elasticsearch audit indices ready",
		zap.String("assessments", s.assessmentIndex()),
		zap.String("sessions", s.sessionIndex()),
	)
	return nil
}

// IndexAssessment indexes one completed assessment asynchronously
func (s *Sink) IndexAssessment(a *risk.Assessment) {
	if s.es == nil || a == nil {
		return
	}

	doc := assessmentDoc{
		RequestID:       a.RequestID,
		UserID:          a.Profile.UserID,
		Timestamp:       a.Profile.Timestamp,
		OverallRisk:     a.Profile.OverallRisk,
		RiskScore:       a.Profile.Score,
		RiskLevel:       string(a.Profile.RiskLevel),
		AdditiveScore:   a.Analysis.Score,
		AdditiveLevel:   string(a.Analysis.RiskLevel),
		MatchCount:      len(a.Analysis.Matches),
		AnomalyCount:    len(a.Analysis.Anomalies),
		ImmediateAction: a.Analysis.RequiresImmediateAction,
	}
	for _, action := range a.Actions {
		doc.Actions = append(doc.Actions, string(action.Type))
	}
	for _, an := range a.Analysis.Anomalies {
		doc.AnomalyTypes = append(doc.AnomalyTypes, string(an.Type))
	}

	s.index(s.assessmentIndex(), a.RequestID, doc)
}

// IndexSessionReview indexes one closed privileged session asynchronously
func (s *Sink) IndexSessionReview(session *risk.PrivilegedSession) {
	if s.es == nil || session == nil || session.EndedAt == nil {
		return
	}

	doc := sessionDoc{
		SessionID:       session.ID,
		UserID:          session.UserID,
		Source:          session.Source,
		RiskScore:       session.RiskScore,
		ActivityCount:   len(session.Activities),
		StartedAt:       session.StartedAt,
		EndedAt:         session.EndedAt,
		DurationMinutes: session.Duration(*session.EndedAt).Minutes(),
		CloseReason:     session.CloseReason,
		RequiresReview:  session.RequiresReview,
	}

	s.index(s.sessionIndex(), session.ID, doc)
}

func (s *Sink) index(index, docID string, doc any) {
	data, err := json.Marshal(doc)
	if err != nil {
		s.logger.Warn("Audit document marshal failed", zap.String("index", index), zap.Error(err))
		return
	}
	go func() {
		if err := s.es.Index(index, docID, data); err != nil {
			s.logger.Warn("Audit index write failed",
				zap.String("index", index),
				zap.String("doc_id", docID),
				zap.Error(err))
		}
	}()
}

// SearchAssessments runs a term query over the assessments index for a user
// and returns the raw documents, newest first.
func (s *Sink) SearchAssessments(userID string, limit int) ([]json.RawMessage, error) {
	if s.es == nil {
		return nil, fmt.Errorf("elasticsearch is not configured")
	}
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`{
		"query": { "term": { "user_id": %q } },
		"sort": [ { "timestamp": { "order": "desc" } } ],
		"size": %d
	}`, userID, limit)

	body, err := s.es.Search(s.assessmentIndex(), strings.NewReader(query))
	if err != nil {
		return nil, err
	}

	var resp database.EsSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	out := make([]json.RawMessage, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		out = append(out, hit.Source)
	}
	return out, nil
}
