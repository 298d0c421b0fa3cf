// Package risk provides unit tests for privileged session tracking
package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/riskgate/riskgate/internal/common/errors"
)

func newTestTracker() *SessionTracker {
	return NewSessionTracker(NewMemorySessionRepository(), nil)
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker()

	session, err := tracker.Start(ctx, "user-1", "ssh")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.True(t, session.Open())
	assert.Equal(t, 0, session.RiskScore)

	session, err = tracker.Record(ctx, session.ID, SessionActivity{
		Type:     ActivityCommand,
		Severity: SeverityLow,
		Command:  "ls -la",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, session.RiskScore)
	require.Len(t, session.Activities, 1)
	assert.NotEmpty(t, session.Activities[0].ID)
	assert.False(t, session.Activities[0].Timestamp.IsZero())

	closed, err := tracker.Close(ctx, session.ID, "shift end")
	require.NoError(t, err)
	assert.False(t, closed.Open())
	assert.Equal(t, "shift end", closed.CloseReason)
	assert.False(t, closed.RequiresReview)

	// The frozen session rejects further activity and re-closing
	_, err = tracker.Record(ctx, session.ID, SessionActivity{Type: ActivityCommand})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrSessionClosed))

	_, err = tracker.Close(ctx, session.ID, "again")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrSessionClosed))
}

func TestActivityPoints(t *testing.T) {
	tests := []struct {
		name     string
		activity SessionActivity
		want     int
	}{
		{
			name:     "low severity command",
			activity: SessionActivity{Type: ActivityCommand, Severity: SeverityLow, Command: "ls"},
			want:     1,
		},
		{
			name:     "critical data export",
			activity: SessionActivity{Type: ActivityDataExport, Severity: SeverityCritical},
			want:     15,
		},
		{
			name:     "privilege escalation gets the escalation bonus",
			activity: SessionActivity{Type: ActivityPrivilegeEscalation, Severity: SeverityHigh},
			want:     17,
		},
		{
			name:     "sudo command gets the elevation bonus",
			activity: SessionActivity{Type: ActivityCommand, Severity: SeverityLow, Command: "sudo rm -rf /var/log"},
			want:     6,
		},
		{
			name:     "su counts too",
			activity: SessionActivity{Type: ActivityCommand, Severity: SeverityLow, Command: "su - postgres"},
			want:     6,
		},
		{
			name:     "sudo in the middle of the command counts",
			activity: SessionActivity{Type: ActivityCommand, Severity: SeverityLow, Command: "bash -c 'sudo systemctl stop auditd'"},
			want:     6,
		},
		{
			name:     "marker in the description counts",
			activity: SessionActivity{Type: ActivityCommand, Severity: SeverityLow, Command: "edit-firewall", Detail: "ran sudo to change firewall rules"},
			want:     6,
		},
		{
			name:     "unrelated command and description get no bonus",
			activity: SessionActivity{Type: ActivityCommand, Severity: SeverityLow, Command: "grep root /etc/group", Detail: "membership check"},
			want:     1,
		},
		{
			name:     "escalation and marker bonuses stack",
			activity: SessionActivity{Type: ActivityPrivilegeEscalation, Severity: SeverityCritical, Command: "sudo -i"},
			want:     30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, activityPoints(tt.activity))
		})
	}
}

func TestSessionScoreMonotonicCap(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker()

	session, err := tracker.Start(ctx, "user-1", "console")
	require.NoError(t, err)

	prev := 0
	for i := 0; i < 12; i++ {
		session, err = tracker.Record(ctx, session.ID, SessionActivity{
			Type:     ActivityPrivilegeEscalation,
			Severity: SeverityCritical,
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, session.RiskScore, prev, "score must never decrease")
		prev = session.RiskScore
	}

	assert.Equal(t, 100, session.RiskScore)
}

func TestNeedsReview(t *testing.T) {
	ctx := context.Background()

	t.Run("high score", func(t *testing.T) {
		tracker := newTestTracker()
		session, _ := tracker.Start(ctx, "user-1", "ssh")
		for i := 0; i < 4; i++ {
			_, err := tracker.Record(ctx, session.ID, SessionActivity{
				Type:     ActivityPrivilegeEscalation,
				Severity: SeverityCritical, // 25 points each
			})
			require.NoError(t, err)
		}
		closed, err := tracker.Close(ctx, session.ID, "done")
		require.NoError(t, err)
		assert.True(t, closed.RequiresReview)
	})

	t.Run("single high severity activity with low score", func(t *testing.T) {
		tracker := newTestTracker()
		session, _ := tracker.Start(ctx, "user-1", "ssh")
		_, err := tracker.Record(ctx, session.ID, SessionActivity{
			Type:     ActivityFileAccess,
			Severity: SeverityHigh, // 7 points, well under the threshold
		})
		require.NoError(t, err)
		closed, err := tracker.Close(ctx, session.ID, "done")
		require.NoError(t, err)
		assert.True(t, closed.RequiresReview)
	})

	t.Run("suspicious close reason", func(t *testing.T) {
		tracker := newTestTracker()
		session, _ := tracker.Start(ctx, "user-1", "ssh")
		closed, err := tracker.Close(ctx, session.ID, "Suspicious activity reported by SOC")
		require.NoError(t, err)
		assert.True(t, closed.RequiresReview)
	})

	t.Run("overlong session", func(t *testing.T) {
		tracker := newTestTracker()
		session, _ := tracker.Start(ctx, "user-1", "ssh")

		// Close nine hours later
		tracker.now = func() time.Time { return session.StartedAt.Add(9 * time.Hour) }
		closed, err := tracker.Close(ctx, session.ID, "done")
		require.NoError(t, err)
		assert.True(t, closed.RequiresReview)
	})

	t.Run("clean short session", func(t *testing.T) {
		tracker := newTestTracker()
		session, _ := tracker.Start(ctx, "user-1", "ssh")
		_, err := tracker.Record(ctx, session.ID, SessionActivity{Type: ActivityCommand, Severity: SeverityLow})
		require.NoError(t, err)
		closed, err := tracker.Close(ctx, session.ID, "done")
		require.NoError(t, err)
		assert.False(t, closed.RequiresReview)
	})
}

func TestConcurrentRecording(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker()

	session, err := tracker.Start(ctx, "user-1", "api")
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := tracker.Record(ctx, session.ID, SessionActivity{
				Type:     ActivityCommand,
				Severity: SeverityLow, // 1 point each
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := tracker.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, final.RiskScore, "concurrent updates must not be lost")
	assert.Len(t, final.Activities, workers)
}

func TestSessionDuration(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := &PrivilegedSession{StartedAt: start}

	assert.Equal(t, 2*time.Hour, s.Duration(start.Add(2*time.Hour)))

	ended := start.Add(30 * time.Minute)
	s.EndedAt = &ended
	// A closed session's duration ignores the asked-at time
	assert.Equal(t, 30*time.Minute, s.Duration(start.Add(5*time.Hour)))
}
