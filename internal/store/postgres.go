// Package store provides PostgreSQL-backed persistence for risk engine state
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/riskgate/riskgate/internal/common/database"
	apperrors "github.com/riskgate/riskgate/internal/common/errors"
	"github.com/riskgate/riskgate/internal/metrics"
	"github.com/riskgate/riskgate/internal/risk"
)

const schema = `
CREATE TABLE IF NOT EXISTS threat_indicators (
	id UUID PRIMARY KEY,
	threat_type TEXT NOT NULL,
	indicator_type TEXT NOT NULL,
	indicator_value TEXT NOT NULL,
	threat_level TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	source TEXT NOT NULL,
	first_seen TIMESTAMPTZ NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL,
	metadata JSONB,
	is_active BOOLEAN NOT NULL DEFAULT true
);
CREATE INDEX IF NOT EXISTS idx_threat_indicators_active ON threat_indicators (is_active) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_threat_indicators_value ON threat_indicators (indicator_type, indicator_value);

CREATE TABLE IF NOT EXISTS behavior_profiles (
	user_id TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	version BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS known_devices (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	trusted BOOLEAN NOT NULL DEFAULT false,
	seen_count INTEGER NOT NULL DEFAULT 1,
	first_seen TIMESTAMPTZ NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, fingerprint)
);

CREATE TABLE IF NOT EXISTS privileged_sessions (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	risk_score INTEGER NOT NULL DEFAULT 0,
	activities JSONB NOT NULL DEFAULT '[]',
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ,
	close_reason TEXT NOT NULL DEFAULT '',
	requires_review BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS idx_privileged_sessions_user ON privileged_sessions (user_id);

CREATE TABLE IF NOT EXISTS login_history (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	ip_address TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	fingerprint TEXT NOT NULL DEFAULT '',
	risk_level TEXT NOT NULL,
	risk_score INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_login_history_user ON login_history (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_login_history_created ON login_history (created_at);

CREATE TABLE IF NOT EXISTS security_alerts (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	severity TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'open',
	created_at TIMESTAMPTZ NOT NULL,
	resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_security_alerts_open ON security_alerts (created_at DESC) WHERE status = 'open';
`

// Migrate creates the store tables if they do not exist
func Migrate(ctx context.Context, db *database.PostgresDB) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store migration failed: %w", err)
	}
	return nil
}

// IndicatorRepository is the PostgreSQL risk.ThreatIndicatorRepository
type IndicatorRepository struct {
	db     *database.PostgresDB
	logger *zap.Logger
}

// NewIndicatorRepository creates a Postgres-backed indicator repository
func NewIndicatorRepository(db *database.PostgresDB, logger *zap.Logger) *IndicatorRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndicatorRepository{db: db, logger: logger.With(zap.String("component", "indicator_repo"))}
}

func (r *IndicatorRepository) Create(ctx context.Context, ti *risk.ThreatIndicator) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "insert", "threat_indicators", time.Since(start)) }()

	metadata, err := json.Marshal(ti.Metadata)
	if err != nil {
		return fmt.Errorf("marshal indicator metadata: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO threat_indicators
		 (id, threat_type, indicator_type, indicator_value, threat_level, confidence, source, first_seen, last_seen, metadata, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET last_seen = EXCLUDED.last_seen, is_active = true`,
		ti.ID, ti.ThreatType, ti.Type, ti.Value, ti.Level, ti.Confidence, ti.Source,
		ti.FirstSeen, ti.LastSeen, metadata, ti.Active)
	if err != nil {
		return apperrors.DatabaseError("indicator insert", err)
	}
	return nil
}

func (r *IndicatorRepository) Update(ctx context.Context, ti *risk.ThreatIndicator) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "update", "threat_indicators", time.Since(start)) }()

	metadata, err := json.Marshal(ti.Metadata)
	if err != nil {
		return fmt.Errorf("marshal indicator metadata: %w", err)
	}

	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE threat_indicators
		 SET threat_type = $2, indicator_type = $3, indicator_value = $4, threat_level = $5,
		     confidence = $6, source = $7, last_seen = $8, metadata = $9, is_active = $10
		 WHERE id = $1`,
		ti.ID, ti.ThreatType, ti.Type, ti.Value, ti.Level,
		ti.Confidence, ti.Source, ti.LastSeen, metadata, ti.Active)
	if err != nil {
		return apperrors.DatabaseError("indicator update", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrIndicatorNotFound, "indicator not found")
	}
	return nil
}

func (r *IndicatorRepository) GetByID(ctx context.Context, id string) (*risk.ThreatIndicator, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "select", "threat_indicators", time.Since(start)) }()

	row := r.db.Pool.QueryRow(ctx,
		`SELECT id, threat_type, indicator_type, indicator_value, threat_level, confidence, source, first_seen, last_seen, metadata, is_active
		 FROM threat_indicators WHERE id = $1`, id)

	ti, err := scanIndicator(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrIndicatorNotFound, "indicator not found")
		}
		return nil, apperrors.DatabaseError("indicator select", err)
	}
	return ti, nil
}

func (r *IndicatorRepository) ListActive(ctx context.Context) ([]*risk.ThreatIndicator, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "select", "threat_indicators", time.Since(start)) }()

	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, threat_type, indicator_type, indicator_value, threat_level, confidence, source, first_seen, last_seen, metadata, is_active
		 FROM threat_indicators WHERE is_active = true`)
	if err != nil {
		return nil, apperrors.DatabaseError("indicator list", err)
	}
	defer rows.Close()

	var out []*risk.ThreatIndicator
	for rows.Next() {
		ti, err := scanIndicator(rows)
		if err != nil {
			r.logger.Warn("Skipping unreadable indicator row", zap.Error(err))
			continue
		}
		out = append(out, ti)
	}
	return out, rows.Err()
}

func (r *IndicatorRepository) Touch(ctx context.Context, id string, seen time.Time) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE threat_indicators SET last_seen = $2 WHERE id = $1`, id, seen)
	if err != nil {
		return apperrors.DatabaseError("indicator touch", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrIndicatorNotFound, "indicator not found")
	}
	return nil
}

// Apply commits one assessment's indicator writes in a single transaction
// so a failure or cancellation mid-batch leaves nothing committed.
func (r *IndicatorRepository) Apply(ctx context.Context, batch *risk.IndicatorBatch) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "tx", "threat_indicators", time.Since(start)) }()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return apperrors.DatabaseError("indicator batch begin", err)
	}
	defer tx.Rollback(ctx)

	for _, id := range batch.Touches {
		tag, err := tx.Exec(ctx,
			`UPDATE threat_indicators SET last_seen = $2 WHERE id = $1`, id, batch.Seen)
		if err != nil {
			return apperrors.DatabaseError("indicator batch touch", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.New(apperrors.ErrIndicatorNotFound, "indicator not found")
		}
	}

	for _, ti := range batch.Creates {
		metadata, err := json.Marshal(ti.Metadata)
		if err != nil {
			return fmt.Errorf("marshal indicator metadata: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO threat_indicators
			 (id, threat_type, indicator_type, indicator_value, threat_level, confidence, source, first_seen, last_seen, metadata, is_active)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO UPDATE SET last_seen = EXCLUDED.last_seen, is_active = true`,
			ti.ID, ti.ThreatType, ti.Type, ti.Value, ti.Level, ti.Confidence, ti.Source,
			ti.FirstSeen, ti.LastSeen, metadata, ti.Active)
		if err != nil {
			return apperrors.DatabaseError("indicator batch insert", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.DatabaseError("indicator batch commit", err)
	}
	return nil
}

func (r *IndicatorRepository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE threat_indicators SET is_active = false WHERE id = $1`, id)
	if err != nil {
		return apperrors.DatabaseError("indicator deactivate", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrIndicatorNotFound, "indicator not found")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIndicator(row rowScanner) (*risk.ThreatIndicator, error) {
	var ti risk.ThreatIndicator
	var metadata []byte
	if err := row.Scan(&ti.ID, &ti.ThreatType, &ti.Type, &ti.Value, &ti.Level,
		&ti.Confidence, &ti.Source, &ti.FirstSeen, &ti.LastSeen, &metadata, &ti.Active); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ti.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal indicator metadata: %w", err)
		}
	}
	return &ti, nil
}

// ProfileRepository is the PostgreSQL risk.BehaviorProfileRepository. The
// profile document is stored as JSONB with an optimistic version column;
// a stale save fails with ErrConflict so the caller can reload and retry.
type ProfileRepository struct {
	db *database.PostgresDB
}

// NewProfileRepository creates a Postgres-backed profile repository
func NewProfileRepository(db *database.PostgresDB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) Get(ctx context.Context, userID string) (*risk.BehaviorProfile, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "select", "behavior_profiles", time.Since(start)) }()

	var data []byte
	var version int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT data, version FROM behavior_profiles WHERE user_id = $1`, userID).
		Scan(&data, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("behavior profile")
		}
		return nil, apperrors.DatabaseError("profile select", err)
	}

	var profile risk.BehaviorProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("unmarshal behavior profile: %w", err)
	}
	profile.Version = version
	return &profile, nil
}

func (r *ProfileRepository) Save(ctx context.Context, profile *risk.BehaviorProfile) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "update", "behavior_profiles", time.Since(start)) }()

	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal behavior profile: %w", err)
	}

	if profile.Version == 0 {
		tag, err := r.db.Pool.Exec(ctx,
			`INSERT INTO behavior_profiles (user_id, data, version, updated_at)
			 VALUES ($1, $2, 1, $3)
			 ON CONFLICT (user_id) DO NOTHING`,
			profile.UserID, data, profile.UpdatedAt)
		if err != nil {
			return apperrors.DatabaseError("profile insert", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.New(apperrors.ErrConflict, "profile already exists")
		}
		profile.Version = 1
		return nil
	}

	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE behavior_profiles SET data = $2, version = version + 1, updated_at = $3
		 WHERE user_id = $1 AND version = $4`,
		profile.UserID, data, profile.UpdatedAt, profile.Version)
	if err != nil {
		return apperrors.DatabaseError("profile update", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrConflict, "profile version is stale")
	}
	profile.Version++
	return nil
}

// DeviceRepository is the PostgreSQL risk.DeviceRepository
type DeviceRepository struct {
	db *database.PostgresDB
}

// NewDeviceRepository creates a Postgres-backed device repository
func NewDeviceRepository(db *database.PostgresDB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

func (r *DeviceRepository) Get(ctx context.Context, userID, fingerprint string) (*risk.DeviceRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "select", "known_devices", time.Since(start)) }()

	var rec risk.DeviceRecord
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, user_id, fingerprint, name, ip_address, user_agent, trusted, seen_count, first_seen, last_seen
		 FROM known_devices WHERE user_id = $1 AND fingerprint = $2`,
		userID, fingerprint).
		Scan(&rec.ID, &rec.UserID, &rec.Fingerprint, &rec.Name, &rec.IPAddress,
			&rec.UserAgent, &rec.Trusted, &rec.SeenCount, &rec.FirstSeen, &rec.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("device")
		}
		return nil, apperrors.DatabaseError("device select", err)
	}
	return &rec, nil
}

func (r *DeviceRepository) Upsert(ctx context.Context, rec *risk.DeviceRecord) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "upsert", "known_devices", time.Since(start)) }()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO known_devices (id, user_id, fingerprint, name, ip_address, user_agent, trusted, seen_count, first_seen, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (user_id, fingerprint) DO UPDATE
		 SET ip_address = EXCLUDED.ip_address,
		     user_agent = EXCLUDED.user_agent,
		     seen_count = known_devices.seen_count + 1,
		     last_seen = EXCLUDED.last_seen`,
		rec.ID, rec.UserID, rec.Fingerprint, rec.Name, rec.IPAddress, rec.UserAgent,
		rec.Trusted, rec.SeenCount, rec.FirstSeen, rec.LastSeen)
	if err != nil {
		return apperrors.DatabaseError("device upsert", err)
	}
	return nil
}

func (r *DeviceRepository) CountForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM known_devices WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, apperrors.DatabaseError("device count", err)
	}
	return count, nil
}

// LoginHistoryRepository is the PostgreSQL risk.LoginHistoryRepository
type LoginHistoryRepository struct {
	db *database.PostgresDB
}

// NewLoginHistoryRepository creates a Postgres-backed login history repository
func NewLoginHistoryRepository(db *database.PostgresDB) *LoginHistoryRepository {
	return &LoginHistoryRepository{db: db}
}

func (r *LoginHistoryRepository) Record(ctx context.Context, rec *risk.LoginRecord) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "insert", "login_history", time.Since(start)) }()

	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO login_history (id, user_id, request_id, ip_address, country, city, fingerprint, risk_level, risk_score, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.UserID, rec.RequestID, rec.IPAddress, rec.Country, rec.City,
		rec.Fingerprint, rec.RiskLevel, rec.Score, rec.Timestamp)
	if err != nil {
		return apperrors.DatabaseError("login history insert", err)
	}
	return nil
}

func (r *LoginHistoryRepository) ListForUser(ctx context.Context, userID string, limit int) ([]*risk.LoginRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "select", "login_history", time.Since(start)) }()

	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, user_id, request_id, ip_address, country, city, fingerprint, risk_level, risk_score, created_at
		 FROM login_history WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, apperrors.DatabaseError("login history list", err)
	}
	defer rows.Close()

	var out []*risk.LoginRecord
	for rows.Next() {
		var rec risk.LoginRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.RequestID, &rec.IPAddress, &rec.Country,
			&rec.City, &rec.Fingerprint, &rec.RiskLevel, &rec.Score, &rec.Timestamp); err != nil {
			return nil, apperrors.DatabaseError("login history scan", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *LoginHistoryRepository) CountByLevel(ctx context.Context, since time.Time) (map[risk.RiskLevel]int, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "select", "login_history", time.Since(start)) }()

	rows, err := r.db.Pool.Query(ctx,
		`SELECT risk_level, COUNT(*) FROM login_history WHERE created_at >= $1 GROUP BY risk_level`, since)
	if err != nil {
		return nil, apperrors.DatabaseError("login history stats", err)
	}
	defer rows.Close()

	counts := make(map[risk.RiskLevel]int)
	for rows.Next() {
		var level risk.RiskLevel
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, apperrors.DatabaseError("login history stats scan", err)
		}
		counts[level] = n
	}
	return counts, rows.Err()
}

// AlertRepository is the PostgreSQL risk.AlertRepository
type AlertRepository struct {
	db *database.PostgresDB
}

// NewAlertRepository creates a Postgres-backed alert repository
func NewAlertRepository(db *database.PostgresDB) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) Create(ctx context.Context, alert *risk.SecurityAlert) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "insert", "security_alerts", time.Since(start)) }()

	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO security_alerts (id, user_id, request_id, severity, title, description, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		alert.ID, alert.UserID, alert.RequestID, alert.Severity, alert.Title,
		alert.Description, alert.Status, alert.CreatedAt)
	if err != nil {
		return apperrors.DatabaseError("alert insert", err)
	}
	return nil
}

func (r *AlertRepository) Get(ctx context.Context, id string) (*risk.SecurityAlert, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "select", "security_alerts", time.Since(start)) }()

	var alert risk.SecurityAlert
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, user_id, request_id, severity, title, description, status, created_at, resolved_at
		 FROM security_alerts WHERE id = $1`, id).
		Scan(&alert.ID, &alert.UserID, &alert.RequestID, &alert.Severity, &alert.Title,
			&alert.Description, &alert.Status, &alert.CreatedAt, &alert.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("alert")
		}
		return nil, apperrors.DatabaseError("alert select", err)
	}
	return &alert, nil
}

func (r *AlertRepository) ListOpen(ctx context.Context, limit int) ([]*risk.SecurityAlert, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "select", "security_alerts", time.Since(start)) }()

	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, user_id, request_id, severity, title, description, status, created_at, resolved_at
		 FROM security_alerts WHERE status = 'open' ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, apperrors.DatabaseError("alert list", err)
	}
	defer rows.Close()

	var out []*risk.SecurityAlert
	for rows.Next() {
		var alert risk.SecurityAlert
		if err := rows.Scan(&alert.ID, &alert.UserID, &alert.RequestID, &alert.Severity, &alert.Title,
			&alert.Description, &alert.Status, &alert.CreatedAt, &alert.ResolvedAt); err != nil {
			return nil, apperrors.DatabaseError("alert scan", err)
		}
		out = append(out, &alert)
	}
	return out, rows.Err()
}

func (r *AlertRepository) Resolve(ctx context.Context, id string, at time.Time) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "update", "security_alerts", time.Since(start)) }()

	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE security_alerts SET status = 'resolved', resolved_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return apperrors.DatabaseError("alert resolve", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("alert")
	}
	return nil
}

// SessionRepository is the PostgreSQL risk.PrivilegedSessionRepository
type SessionRepository struct {
	db *database.PostgresDB
}

// NewSessionRepository creates a Postgres-backed session repository
func NewSessionRepository(db *database.PostgresDB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Save(ctx context.Context, session *risk.PrivilegedSession) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "upsert", "privileged_sessions", time.Since(start)) }()

	acts := session.Activities
	if acts == nil {
		acts = []risk.SessionActivity{}
	}
	activities, err := json.Marshal(acts)
	if err != nil {
		return fmt.Errorf("marshal session activities: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO privileged_sessions (id, user_id, source, risk_score, activities, started_at, ended_at, close_reason, requires_review)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE
		 SET risk_score = EXCLUDED.risk_score,
		     activities = EXCLUDED.activities,
		     ended_at = EXCLUDED.ended_at,
		     close_reason = EXCLUDED.close_reason,
		     requires_review = EXCLUDED.requires_review`,
		session.ID, session.UserID, session.Source, session.RiskScore, activities,
		session.StartedAt, session.EndedAt, session.CloseReason, session.RequiresReview)
	if err != nil {
		return apperrors.DatabaseError("session upsert", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*risk.PrivilegedSession, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("riskd", "select", "privileged_sessions", time.Since(start)) }()

	var session risk.PrivilegedSession
	var activities []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, user_id, source, risk_score, activities, started_at, ended_at, close_reason, requires_review
		 FROM privileged_sessions WHERE id = $1`, id).
		Scan(&session.ID, &session.UserID, &session.Source, &session.RiskScore, &activities,
			&session.StartedAt, &session.EndedAt, &session.CloseReason, &session.RequiresReview)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.SessionNotFound(id)
		}
		return nil, apperrors.DatabaseError("session select", err)
	}
	if err := json.Unmarshal(activities, &session.Activities); err != nil {
		return nil, fmt.Errorf("unmarshal session activities: %w", err)
	}
	return &session, nil
}
