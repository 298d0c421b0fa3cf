// Package risk defines the persistence boundaries of the engine
package risk

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/riskgate/riskgate/internal/common/errors"
)

// IndicatorBatch carries every indicator write produced by one assessment:
// LastSeen bumps for matched indicators and newly minted detections.
type IndicatorBatch struct {
	Seen    time.Time
	Touches []string
	Creates []*ThreatIndicator
}

// Empty reports whether the batch carries no writes
func (b *IndicatorBatch) Empty() bool {
	return len(b.Touches) == 0 && len(b.Creates) == 0
}

// ThreatIndicatorRepository persists threat indicators. Implementations
// must apply updates to a given indicator as atomic read-modify-writes,
// and must apply a batch all-or-nothing.
type ThreatIndicatorRepository interface {
	Create(ctx context.Context, ti *ThreatIndicator) error
	Update(ctx context.Context, ti *ThreatIndicator) error
	GetByID(ctx context.Context, id string) (*ThreatIndicator, error)
	ListActive(ctx context.Context) ([]*ThreatIndicator, error)
	Touch(ctx context.Context, id string, seen time.Time) error
	Deactivate(ctx context.Context, id string) error
	Apply(ctx context.Context, batch *IndicatorBatch) error
}

// BehaviorProfileRepository persists per-user behavioral baselines.
// Save must reject stale versions so concurrent updates cannot silently
// clobber each other; baselines are moving averages, so callers may retry
// or drop a lost update.
type BehaviorProfileRepository interface {
	Get(ctx context.Context, userID string) (*BehaviorProfile, error)
	Save(ctx context.Context, profile *BehaviorProfile) error
}

// DeviceRepository persists known devices per user
type DeviceRepository interface {
	Get(ctx context.Context, userID, fingerprint string) (*DeviceRecord, error)
	Upsert(ctx context.Context, rec *DeviceRecord) error
	CountForUser(ctx context.Context, userID string) (int, error)
}

// PrivilegedSessionRepository persists privileged sessions and their
// recorded activities
type PrivilegedSessionRepository interface {
	Save(ctx context.Context, session *PrivilegedSession) error
	Get(ctx context.Context, id string) (*PrivilegedSession, error)
}

// LoginHistoryRepository persists assessment outcomes per user.
// ListForUser returns records newest first.
type LoginHistoryRepository interface {
	Record(ctx context.Context, rec *LoginRecord) error
	ListForUser(ctx context.Context, userID string, limit int) ([]*LoginRecord, error)
	CountByLevel(ctx context.Context, since time.Time) (map[RiskLevel]int, error)
}

// AlertRepository persists security alerts raised on critical assessments
type AlertRepository interface {
	Create(ctx context.Context, alert *SecurityAlert) error
	Get(ctx context.Context, id string) (*SecurityAlert, error)
	ListOpen(ctx context.Context, limit int) ([]*SecurityAlert, error)
	Resolve(ctx context.Context, id string, at time.Time) error
}

// MemoryIndicatorRepository is an in-memory ThreatIndicatorRepository for
// embedding the engine without external storage and for tests.
type MemoryIndicatorRepository struct {
	mu         sync.RWMutex
	indicators map[string]*ThreatIndicator
}

// NewMemoryIndicatorRepository creates an empty in-memory indicator repository
func NewMemoryIndicatorRepository() *MemoryIndicatorRepository {
	return &MemoryIndicatorRepository{indicators: make(map[string]*ThreatIndicator)}
}

func (r *MemoryIndicatorRepository) Create(_ context.Context, ti *ThreatIndicator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.indicators[ti.ID]; exists {
		return apperrors.New(apperrors.ErrConflict, "indicator already exists")
	}
	cp := *ti
	r.indicators[ti.ID] = &cp
	return nil
}

func (r *MemoryIndicatorRepository) Update(_ context.Context, ti *ThreatIndicator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.indicators[ti.ID]; !exists {
		return apperrors.New(apperrors.ErrNotFound, "indicator not found")
	}
	cp := *ti
	r.indicators[ti.ID] = &cp
	return nil
}

func (r *MemoryIndicatorRepository) GetByID(_ context.Context, id string) (*ThreatIndicator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ti, ok := r.indicators[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, "indicator not found")
	}
	cp := *ti
	return &cp, nil
}

func (r *MemoryIndicatorRepository) ListActive(_ context.Context) ([]*ThreatIndicator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var active []*ThreatIndicator
	for _, ti := range r.indicators {
		if ti.Active {
			cp := *ti
			active = append(active, &cp)
		}
	}
	return active, nil
}

func (r *MemoryIndicatorRepository) Touch(_ context.Context, id string, seen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ti, ok := r.indicators[id]
	if !ok {
		return apperrors.New(apperrors.ErrNotFound, "indicator not found")
	}
	ti.LastSeen = seen
	return nil
}

// Apply commits a batch all-or-nothing: every write is validated against
// the current state before any mutation happens under the lock.
func (r *MemoryIndicatorRepository) Apply(ctx context.Context, batch *IndicatorBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range batch.Touches {
		if _, ok := r.indicators[id]; !ok {
			return apperrors.New(apperrors.ErrNotFound, "indicator not found")
		}
	}
	for _, ti := range batch.Creates {
		if _, exists := r.indicators[ti.ID]; exists {
			return apperrors.New(apperrors.ErrConflict, "indicator already exists")
		}
	}

	for _, id := range batch.Touches {
		r.indicators[id].LastSeen = batch.Seen
	}
	for _, ti := range batch.Creates {
		cp := *ti
		r.indicators[ti.ID] = &cp
	}
	return nil
}

func (r *MemoryIndicatorRepository) Deactivate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ti, ok := r.indicators[id]
	if !ok {
		return apperrors.New(apperrors.ErrNotFound, "indicator not found")
	}
	ti.Active = false
	return nil
}

// MemoryProfileRepository is an in-memory BehaviorProfileRepository with
// optimistic version checks.
type MemoryProfileRepository struct {
	mu       sync.RWMutex
	profiles map[string]*BehaviorProfile
}

// NewMemoryProfileRepository creates an empty in-memory profile repository
func NewMemoryProfileRepository() *MemoryProfileRepository {
	return &MemoryProfileRepository{profiles: make(map[string]*BehaviorProfile)}
}

func (r *MemoryProfileRepository) Get(_ context.Context, userID string) (*BehaviorProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, "profile not found")
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryProfileRepository) Save(_ context.Context, profile *BehaviorProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.profiles[profile.UserID]
	if ok && existing.Version != profile.Version {
		return apperrors.New(apperrors.ErrConflict, "stale profile version")
	}
	cp := *profile
	cp.Version++
	r.profiles[profile.UserID] = &cp
	return nil
}

// MemoryDeviceRepository is an in-memory DeviceRepository
type MemoryDeviceRepository struct {
	mu      sync.RWMutex
	devices map[string]*DeviceRecord // keyed userID+"|"+fingerprint
}

// NewMemoryDeviceRepository creates an empty in-memory device repository
func NewMemoryDeviceRepository() *MemoryDeviceRepository {
	return &MemoryDeviceRepository{devices: make(map[string]*DeviceRecord)}
}

func (r *MemoryDeviceRepository) Get(_ context.Context, userID, fingerprint string) (*DeviceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.devices[userID+"|"+fingerprint]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, "device not found")
	}
	cp := *rec
	return &cp, nil
}

func (r *MemoryDeviceRepository) Upsert(_ context.Context, rec *DeviceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.devices[rec.UserID+"|"+rec.Fingerprint] = &cp
	return nil
}

func (r *MemoryDeviceRepository) CountForUser(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, rec := range r.devices {
		if rec.UserID == userID {
			count++
		}
	}
	return count, nil
}

// MemoryLoginHistoryRepository is an in-memory LoginHistoryRepository
type MemoryLoginHistoryRepository struct {
	mu      sync.RWMutex
	records []*LoginRecord
}

// NewMemoryLoginHistoryRepository creates an empty in-memory login history
func NewMemoryLoginHistoryRepository() *MemoryLoginHistoryRepository {
	return &MemoryLoginHistoryRepository{}
}

func (r *MemoryLoginHistoryRepository) Record(_ context.Context, rec *LoginRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records = append(r.records, &cp)
	return nil
}

func (r *MemoryLoginHistoryRepository) ListForUser(_ context.Context, userID string, limit int) ([]*LoginRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*LoginRecord
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		if r.records[i].UserID == userID {
			cp := *r.records[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryLoginHistoryRepository) CountByLevel(_ context.Context, since time.Time) (map[RiskLevel]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[RiskLevel]int)
	for _, rec := range r.records {
		if rec.Timestamp.Before(since) {
			continue
		}
		counts[rec.RiskLevel]++
	}
	return counts, nil
}

// MemoryAlertRepository is an in-memory AlertRepository
type MemoryAlertRepository struct {
	mu     sync.RWMutex
	alerts map[string]*SecurityAlert
	order  []string
}

// NewMemoryAlertRepository creates an empty in-memory alert repository
func NewMemoryAlertRepository() *MemoryAlertRepository {
	return &MemoryAlertRepository{alerts: make(map[string]*SecurityAlert)}
}

func (r *MemoryAlertRepository) Create(_ context.Context, alert *SecurityAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.alerts[alert.ID]; exists {
		return apperrors.New(apperrors.ErrConflict, "alert already exists")
	}
	cp := *alert
	r.alerts[alert.ID] = &cp
	r.order = append(r.order, alert.ID)
	return nil
}

func (r *MemoryAlertRepository) Get(_ context.Context, id string) (*SecurityAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, apperrors.NotFound("alert")
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryAlertRepository) ListOpen(_ context.Context, limit int) ([]*SecurityAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*SecurityAlert
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		a := r.alerts[r.order[i]]
		if a.Status == AlertOpen {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryAlertRepository) Resolve(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return apperrors.NotFound("alert")
	}
	a.Status = AlertResolved
	a.ResolvedAt = &at
	return nil
}

// MemorySessionRepository is an in-memory PrivilegedSessionRepository
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*PrivilegedSession
}

// NewMemorySessionRepository creates an empty in-memory session repository
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]*PrivilegedSession)}
}

func (r *MemorySessionRepository) Save(_ context.Context, session *PrivilegedSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	cp.Activities = append([]SessionActivity(nil), session.Activities...)
	r.sessions[session.ID] = &cp
	return nil
}

func (r *MemorySessionRepository) Get(_ context.Context, id string) (*PrivilegedSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrSessionNotFound, "session not found")
	}
	cp := *s
	cp.Activities = append([]SessionActivity(nil), s.Activities...)
	return &cp, nil
}
